package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	name     string
	received []Event
	err      error
}

func (r *recordingObserver) Name() string { return r.name }
func (r *recordingObserver) HandleEvent(ctx context.Context, ev Event) error {
	r.received = append(r.received, ev)
	return r.err
}

func TestBus_PublishDeliversToAllObservers(t *testing.T) {
	b := New(nil)
	a := &recordingObserver{name: "a"}
	c := &recordingObserver{name: "b"}
	b.Register(a)
	b.Register(c)

	b.Publish(context.Background(), Event{Name: EventTenantCreated, TenantID: "t1"})

	require.Len(t, a.received, 1)
	require.Len(t, c.received, 1)
	require.Equal(t, EventTenantCreated, a.received[0].Name)
}

func TestBus_UnregisterStopsDelivery(t *testing.T) {
	b := New(nil)
	a := &recordingObserver{name: "a"}
	b.Register(a)
	b.Unregister("a")

	b.Publish(context.Background(), Event{Name: EventUsageRecorded})
	require.Empty(t, a.received)
}

func TestBus_ObserverErrorDoesNotBlockOthers(t *testing.T) {
	b := New(nil)
	failing := &recordingObserver{name: "failing", err: errors.New("boom")}
	ok := &recordingObserver{name: "ok"}
	b.Register(failing)
	b.Register(ok)

	b.Publish(context.Background(), Event{Name: EventQuotaExceeded})

	require.Len(t, failing.received, 1)
	require.Len(t, ok.received, 1)
}
