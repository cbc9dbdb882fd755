package abtesting

// Rule is a small boolean-expression AST evaluated against a RequestContext,
// grounded on SPEC_FULL.md's supplemented targeting-rule representation
// (equals, in, and, or, not over request context keys).
type Rule interface {
	Evaluate(ctx RequestContext) bool
}

// Equals matches when ctx[Key] equals Value.
type Equals struct {
	Key   string
	Value any
}

func (r Equals) Evaluate(ctx RequestContext) bool {
	v, ok := ctx[r.Key]
	if !ok {
		return false
	}
	return v == r.Value
}

// In matches when ctx[Key] is one of Values.
type In struct {
	Key    string
	Values []any
}

func (r In) Evaluate(ctx RequestContext) bool {
	v, ok := ctx[r.Key]
	if !ok {
		return false
	}
	for _, want := range r.Values {
		if v == want {
			return true
		}
	}
	return false
}

// And matches when every sub-rule matches.
type And []Rule

func (r And) Evaluate(ctx RequestContext) bool {
	for _, sub := range r {
		if !sub.Evaluate(ctx) {
			return false
		}
	}
	return true
}

// Or matches when at least one sub-rule matches.
type Or []Rule

func (r Or) Evaluate(ctx RequestContext) bool {
	for _, sub := range r {
		if sub.Evaluate(ctx) {
			return true
		}
	}
	return false
}

// Not negates a sub-rule.
type Not struct {
	Rule Rule
}

func (r Not) Evaluate(ctx RequestContext) bool {
	return !r.Rule.Evaluate(ctx)
}

// matchesTargeting reports whether rule matches ctx; a nil rule always
// matches (no targeting restriction).
func matchesTargeting(rule Rule, ctx RequestContext) bool {
	if rule == nil {
		return true
	}
	return rule.Evaluate(ctx)
}
