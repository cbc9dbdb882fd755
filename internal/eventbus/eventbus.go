// Package eventbus delivers lifecycle events (tenant changes, quota breaches,
// routing decisions, experiment transitions) to registered observers, grounded
// on internal/observability/callback.go's CallbackManager registration pattern.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Well-known event names, matching spec.md §6's emitted-events list.
const (
	EventRegistered       = "registered"
	EventEvicted          = "evicted"
	EventModelSelected    = "model-selected"
	EventProcessed        = "processed"
	EventStreamComplete   = "stream-complete"
	EventTenantCreated    = "tenant-created"
	EventTenantUpdated    = "tenant-updated"
	EventTenantDeleted    = "tenant-deleted"
	EventQuotaExceeded    = "quota-exceeded"
	EventUsageRecorded    = "usage-recorded"
	EventExperimentStart  = "experiment-started"
	EventExperimentStop   = "experiment-stopped"
	EventAssignmentTrack  = "assignment-tracked"
	EventTracked          = "event-tracked"
)

// Event is a single occurrence delivered to every registered Observer.
type Event struct {
	Name     string
	At       time.Time
	TenantID string
	Fields   map[string]any
}

// Observer receives Events. Implementations must not block the publisher for
// long; Bus.Publish calls observers synchronously and logs, rather than
// propagates, observer errors.
type Observer interface {
	Name() string
	HandleEvent(ctx context.Context, ev Event) error
}

// Bus fans out Events to registered Observers, grounded on
// observability.CallbackManager.
type Bus struct {
	mu        sync.RWMutex
	observers []Observer
	log       *slog.Logger
}

// New constructs an empty Bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

// Register adds an Observer to the bus.
func (b *Bus) Register(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Unregister removes the Observer with the given name, if present.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, o := range b.observers {
		if o.Name() == name {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every registered Observer. Observer errors are
// logged, not returned, so one misbehaving sink cannot block the others or the
// caller.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	for _, o := range observers {
		if err := o.HandleEvent(ctx, ev); err != nil {
			b.log.WarnContext(ctx, "eventbus observer failed", "observer", o.Name(), "event", ev.Name, "error", err)
		}
	}
}
