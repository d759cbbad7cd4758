package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesEveryListener(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	a := n.Listen()
	defer a.Close()
	b := n.Listen()
	defer b.Close()
	assert.Equal(t, 2, n.ListenerCount())

	n.Publish(Event{Kind: CheckpointAdvanced, GroupID: 1, Checkpoint: 7})

	got := <-a.C
	assert.Equal(t, CheckpointAdvanced, got.Kind)
	assert.Equal(t, uint64(7), got.Checkpoint)
	assert.False(t, got.At.IsZero())

	got = <-b.C
	assert.Equal(t, uint64(7), got.Checkpoint)
}

func TestSlowListenerSeesOnlyLatestEvent(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	l := n.Listen()
	defer l.Close()

	// Three checkpoints land before the listener wakes up; the pending
	// event is replaced each time.
	n.Publish(Event{Kind: CheckpointAdvanced, Checkpoint: 1})
	n.Publish(Event{Kind: CheckpointAdvanced, Checkpoint: 2})
	n.Publish(Event{Kind: CheckpointAdvanced, Checkpoint: 3})

	got := <-l.C
	assert.Equal(t, uint64(3), got.Checkpoint)

	select {
	case e, ok := <-l.C:
		require.False(t, ok, "no further event expected, got %+v", e)
	default:
	}
}

func TestListenerCloseStopsDelivery(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	l := n.Listen()
	l.Close()
	assert.Zero(t, n.ListenerCount())

	// Closed channel: receive yields the zero value immediately.
	_, ok := <-l.C
	assert.False(t, ok)

	// Publishing after the close must not panic on the closed channel.
	n.Publish(Event{Kind: Keepalive})

	// Close is idempotent.
	l.Close()
}

func TestNotifierClose(t *testing.T) {
	n := NewNotifier()
	l := n.Listen()

	n.Close()
	_, ok := <-l.C
	assert.False(t, ok)

	// Publish and a late Listen are harmless after close.
	n.Publish(Event{Kind: CheckpointAdvanced})
	late := n.Listen()
	_, ok = <-late.C
	assert.False(t, ok)

	// Close is idempotent.
	n.Close()
}
