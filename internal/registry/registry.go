// Package registry implements the Model Registry: an LRU-evicted catalog of
// loaded models indexed by format (capability lookups scan every entry), with atomic snapshot
// save/load. Grounded on internal/provider/registry.go's single-writer
// registration pattern, generalized to LRU-by-lastUsed per SPEC_FULL.md §4.3
// (which calls for an index + recency list instead of the teacher's linear
// scans).
package registry

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/corterix/gateway/pkg/ferrors"
	"github.com/corterix/gateway/pkg/modelapi"
)

// entry is the registry's bookkeeping record for one model.
type entry struct {
	model    modelapi.Model
	lastUsed time.Time
	elem     *list.Element // position in the recency list
}

// Registry is the concurrency-safe catalog of loaded models.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*entry
	recency  *list.List // front = most recently used
	capacity int

	formatIndex map[string]map[string]struct{}
}

// New creates a Registry bounded to capacity models (0 = unbounded).
func New(capacity int) *Registry {
	return &Registry{
		byID:        make(map[string]*entry),
		recency:     list.New(),
		capacity:    capacity,
		formatIndex: make(map[string]map[string]struct{}),
	}
}

// Register adds (or replaces) a model, enforcing capacity by evicting the
// least-recently-used entry when full. This is the single-writer path;
// callers must not call Register concurrently from multiple goroutines
// without external serialization beyond what Registry itself provides (the
// mutex here only protects the map/list, not load/unload of evicted models).
func (r *Registry) Register(m modelapi.Model) (evicted modelapi.Model, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byID[m.ID()]; ok {
		r.recency.Remove(old.elem)
		r.removeFromFormatIndex(old.model)
		delete(r.byID, m.ID())
	}

	if r.capacity > 0 && len(r.byID) >= r.capacity {
		evicted = r.evictLRULocked()
	}

	e := &entry{model: m, lastUsed: time.Now()}
	e.elem = r.recency.PushFront(m.ID())
	r.byID[m.ID()] = e
	r.addToFormatIndex(m)

	return evicted, nil
}

func (r *Registry) evictLRULocked() modelapi.Model {
	back := r.recency.Back()
	if back == nil {
		return nil
	}
	id := back.Value.(string)
	e := r.byID[id]
	r.recency.Remove(back)
	delete(r.byID, id)
	if e != nil {
		r.removeFromFormatIndex(e.model)
		return e.model
	}
	return nil
}

func (r *Registry) addToFormatIndex(m modelapi.Model) {
	set, ok := r.formatIndex[m.Format()]
	if !ok {
		set = make(map[string]struct{})
		r.formatIndex[m.Format()] = set
	}
	set[m.ID()] = struct{}{}
}

func (r *Registry) removeFromFormatIndex(m modelapi.Model) {
	if set, ok := r.formatIndex[m.Format()]; ok {
		delete(set, m.ID())
		if len(set) == 0 {
			delete(r.formatIndex, m.Format())
		}
	}
}

// Get returns the model by ID, bumping its recency, or
// ferrors.NewNoCandidateError if absent.
func (r *Registry) Get(id string) (modelapi.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, ferrors.NewNoCandidateError("model not registered: " + id)
	}
	e.lastUsed = time.Now()
	r.recency.MoveToFront(e.elem)
	return e.model, nil
}

// Unregister removes a model from the catalog without unloading it; callers
// are responsible for Unload before or after removal as appropriate.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return
	}
	r.recency.Remove(e.elem)
	r.removeFromFormatIndex(e.model)
	delete(r.byID, id)
}

// ByFormat returns all model IDs registered under a format tag.
func (r *Registry) ByFormat(format string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.formatIndex[format]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ByCapability returns all registered models whose Capabilities satisfy
// pred, used by the Router's CapabilityMatch strategy.
func (r *Registry) ByCapability(pred func(modelapi.Capabilities) bool) []modelapi.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []modelapi.Model
	for _, e := range r.byID {
		if pred(e.model.Capabilities()) {
			out = append(out, e.model)
		}
	}
	return out
}

// All returns a snapshot slice of every registered model.
func (r *Registry) All() []modelapi.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]modelapi.Model, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.model)
	}
	return out
}

// Len reports the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// snapshotEntry is the serializable shape of one registry entry.
type snapshotEntry struct {
	ID       string    `json:"id"`
	Format   string    `json:"format"`
	LastUsed time.Time `json:"last_used"`
}

// Snapshot is the full serializable registry state. It records membership
// and recency only — concrete Model/backend wiring is re-established by the
// caller (via the same Loaders) on Load, matching the teacher's config-driven
// re-registration flow rather than trying to serialize live backends.
type Snapshot struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Entries   []snapshotEntry `json:"entries"`
}

// Save writes a Snapshot of the current membership/recency to path using a
// write-temp-then-rename sequence for atomicity, grounded on the hot-reload
// atomicity discipline in internal/config/manager.go.
func (r *Registry) Save(path string) error {
	r.mu.RLock()
	snap := Snapshot{ID: uuid.NewString(), CreatedAt: time.Now()}
	for e := r.recency.Front(); e != nil; e = e.Next() {
		id := e.Value.(string)
		ent := r.byID[id]
		snap.Entries = append(snap.Entries, snapshotEntry{ID: id, Format: ent.model.Format(), LastUsed: ent.lastUsed})
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename registry snapshot into place: %w", err)
	}
	return nil
}

// LoadSnapshot reads a Snapshot from path without re-populating the
// Registry itself — the caller re-loads each entry's ID through its Loader
// to rebuild live Model instances, then Registers them in the snapshot's
// recency order.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal registry snapshot: %w", err)
	}
	return snap, nil
}

// Restore rebuilds the Registry from a Snapshot using the given loader
// function (typically *loader.Registry.Load), preserving recency order.
func Restore(ctx context.Context, snap Snapshot, load func(ctx context.Context, source modelapi.Source) (modelapi.Model, error)) (*Registry, error) {
	r := New(0)
	// Walk oldest-to-newest so the final PushFront order matches recency.
	for i := len(snap.Entries) - 1; i >= 0; i-- {
		se := snap.Entries[i]
		m, err := load(ctx, modelapi.Source{ExplicitFormat: se.Format, ID: se.ID})
		if err != nil {
			return nil, fmt.Errorf("restore model %s: %w", se.ID, err)
		}
		if _, err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}
