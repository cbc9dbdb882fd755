// Package scorer implements the three scoring strategies the Router
// composes from: Quality, Cost, and LoadBalance. Each scorer returns a
// higher-is-better float64 for a candidate model given a request context.
package scorer

import (
	"math"
	"strings"

	"github.com/corterix/gateway/pkg/modelapi"
)

// QualityTable maps a model ID (or name prefix) to a base quality score in
// [0, 1]. Names absent from the table are "unknown" and receive the size
// bonus instead, per spec.md §4.4.
type QualityTable map[string]float64

const baseQuality = 0.5

// taskModifier multiplies a candidate's base score once its task class has
// been detected from the prompt text, per spec.md §4.4. There is no direct
// teacher analogue for prompt-keyword task-class detection; the keyword
// table and modifiers below are spec-only logic.
var taskModifier = map[string]float64{
	"code":        1.10,
	"creative":    1.05,
	"analysis":    1.05,
	"translation": 1.00,
	"summary":     1.00,
	"general":     1.00,
}

// taskKeywords maps a task class to the prompt substrings that identify it.
// Order matters: classes earlier in classOrder are checked first so a
// prompt matching multiple classes resolves to the more specific one.
var taskKeywords = map[string][]string{
	"code":        {"code", "function", "debug", "compile", "refactor", "algorithm", "bug", "program", "syntax error", "stack trace"},
	"creative":    {"story", "poem", "poetry", "write a", "creative", "fiction", "imagine", "lyrics"},
	"analysis":    {"analyze", "analyse", "compare", "evaluate", "pros and cons", "assess", "explain why"},
	"translation": {"translate", "translation", "in spanish", "in french", "into japanese", "in german"},
	"summary":     {"summarize", "summarise", "summary", "tl;dr", "key points", "condense"},
}

var classOrder = []string{"code", "creative", "analysis", "translation", "summary"}

// detectTaskClass returns the task class a prompt's keywords identify, or
// "general" when none match.
func detectTaskClass(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, class := range classOrder {
		for _, kw := range taskKeywords[class] {
			if strings.Contains(lower, kw) {
				return class
			}
		}
	}
	return "general"
}

// QualityScorer ranks candidates by the blend spec.md §4.4 defines: a
// looked-up (or size-derived) base score, a task-modifier term detected from
// the prompt text, and a context-utilization term.
type QualityScorer struct {
	Table QualityTable
}

func NewQualityScorer(table QualityTable) *QualityScorer {
	if table == nil {
		table = QualityTable{}
	}
	return &QualityScorer{Table: table}
}

// nameScore looks m's id up in the table (exact, then longest matching
// wildcard prefix), reporting whether a match was found at all: callers only
// apply the unknown-model size bonus when known is false.
func (s *QualityScorer) nameScore(id string) (score float64, known bool) {
	idLower := strings.ToLower(id)
	if v, ok := s.Table[id]; ok {
		return v, true
	}
	for pattern, v := range s.Table {
		p := strings.ToLower(pattern)
		if !strings.HasSuffix(p, "*") && p == idLower {
			return v, true
		}
	}
	var best float64 = -1
	var bestLen int
	for pattern, v := range s.Table {
		p := strings.ToLower(strings.TrimSuffix(pattern, "*"))
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(idLower, p) && len(p) > bestLen {
			best = v
			bestLen = len(p)
		}
	}
	if best >= 0 {
		return best, true
	}
	return baseQuality, false
}

// sizeBonus implements spec.md §4.4's log-scaled bonus for models absent
// from the name table: log10(parameterCount / 1e6) / 10, capped at 1.0 and
// floored at 0 so a sub-million-parameter model never scores negative.
func sizeBonus(parameterCount int64) float64 {
	if parameterCount <= 0 {
		return 0
	}
	bonus := math.Log10(float64(parameterCount)/1e6) / 10
	if bonus < 0 {
		bonus = 0
	}
	if bonus > 1 {
		bonus = 1
	}
	return bonus
}

// contextUtilizationScore implements spec.md §4.4's step function: a prompt
// using very little of the window scores 0.9 (too small to judge fit),
// moderate utilization scores 1.0, and heavy utilization is penalized in two
// bands as the prompt approaches exhausting the window.
func contextUtilizationScore(promptTokens, contextWindow int) float64 {
	if contextWindow <= 0 {
		return 1.0
	}
	utilization := float64(promptTokens) / float64(contextWindow)
	switch {
	case utilization < 0.2:
		return 0.9
	case utilization > 0.8:
		return 0.7
	case utilization > 0.6:
		return 0.85
	default:
		return 1.0
	}
}

// Score implements spec.md §4.4's Quality scorer: 0.5*base + 0.3*task +
// 0.2*context, clamped to 1.0. prompt is the raw request prompt text (task
// class is detected from it, not from a caller-declared task string);
// promptTokens is the estimated prompt length used for the context term.
func (s *QualityScorer) Score(m modelapi.Model, prompt string, promptTokens int) float64 {
	params := m.Parameters()

	base, known := s.nameScore(m.ID())
	if !known {
		base += sizeBonus(params.Count)
		if base > 1 {
			base = 1
		}
	}

	class := detectTaskClass(prompt)
	task := base * taskModifier[class]

	context := contextUtilizationScore(promptTokens, params.ContextWindow)

	score := 0.5*base + 0.3*task + 0.2*context
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
