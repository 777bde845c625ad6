package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(8, nil, nil)

	s1 := b.Attach()
	s2 := b.Attach()
	require.Equal(t, 2, b.Observers())

	b.Publish(NewDemoToggled(true))

	for _, sub := range []*Subscription{s1, s2} {
		select {
		case ev := <-sub.C:
			assert.Equal(t, EventDemoToggled, ev.Type())
		case <-time.After(time.Second):
			t.Fatalf("observer %s did not receive the event", sub.ID)
		}
	}
}

func TestBroadcaster_StampsSequenceAndTime(t *testing.T) {
	b := NewBroadcaster(8, nil, nil)
	sub := b.Attach()

	b.Publish(NewTurnCombined(1, "one"))
	b.Publish(NewTurnCombined(2, "two"))

	first := (<-sub.C).(*TurnCombinedEvent)
	second := (<-sub.C).(*TurnCombinedEvent)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.False(t, first.Timestamp().IsZero())
	assert.False(t, second.Timestamp().Before(first.Timestamp()))
}

func TestBroadcaster_ZeroObserversNoOp(t *testing.T) {
	b := NewBroadcaster(8, nil, nil)
	assert.NotPanics(t, func() {
		b.Publish(NewDemoToggled(false))
	})
}

func TestBroadcaster_SlowObserverDropsOldest(t *testing.T) {
	b := NewBroadcaster(2, nil, nil)
	sub := b.Attach()

	// Queue size 2, publish 4 without draining: the two oldest go.
	for i := 1; i <= 4; i++ {
		b.Publish(NewTurnCombined(i, "x"))
	}

	var got []int
	for {
		select {
		case ev := <-sub.C:
			got = append(got, ev.(*TurnCombinedEvent).Turn)
			continue
		default:
		}
		break
	}

	assert.Equal(t, []int{3, 4}, got, "newest events survive overflow")
}

func TestBroadcaster_SlowObserverDoesNotBlockOthers(t *testing.T) {
	b := NewBroadcaster(1, nil, nil)
	_ = b.Attach() // never drained
	fast := b.Attach()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			b.Publish(NewTurnCombined(i, "x"))
			// Keep the fast observer drained.
			select {
			case <-fast.C:
			default:
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow observer")
	}
}

func TestBroadcaster_DetachClosesChannel(t *testing.T) {
	b := NewBroadcaster(8, nil, nil)
	sub := b.Attach()

	b.Detach(sub.ID)
	_, open := <-sub.C
	assert.False(t, open)
	assert.Zero(t, b.Observers())

	assert.NotPanics(t, func() { b.Detach(sub.ID) }, "double detach is harmless")
}

func TestBroadcaster_NoReplayForLateObservers(t *testing.T) {
	b := NewBroadcaster(8, nil, nil)
	b.Publish(NewTurnCombined(1, "before attach"))

	sub := b.Attach()
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected replayed event: %v", ev.Type())
	case <-time.After(50 * time.Millisecond):
	}
}
