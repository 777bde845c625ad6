package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/twomile/harmonics/internal/metrics"
)

// DefaultQueueSize bounds each observer's event queue.
const DefaultQueueSize = 256

// Subscription is one attached observer. Events arrive on C until
// Detach closes it.
type Subscription struct {
	ID string
	C  <-chan Event

	ch chan Event
}

// Broadcaster fans events out to all attached observers. Publication is
// fire-and-forget per observer: a full queue drops its oldest event so a
// slow or disconnected observer never blocks delivery to others or the
// orchestration pipeline. Publishing to zero observers is a no-op.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[string]*Subscription
	queueSize int
	seq       atomic.Uint64
	nextID    atomic.Int64
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewBroadcaster creates a broadcaster with the given per-observer queue
// size (0 selects DefaultQueueSize). The collector is optional.
func NewBroadcaster(queueSize int, logger *zap.Logger, collector *metrics.Collector) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		observers: make(map[string]*Subscription),
		queueSize: queueSize,
		logger:    logger.With(zap.String("component", "broadcaster")),
		collector: collector,
	}
}

// Attach registers a new observer. Events published before attachment
// are not replayed.
func (b *Broadcaster) Attach() *Subscription {
	ch := make(chan Event, b.queueSize)
	sub := &Subscription{
		ID: fmt.Sprintf("obs-%d", b.nextID.Add(1)),
		C:  ch,
		ch: ch,
	}

	b.mu.Lock()
	b.observers[sub.ID] = sub
	b.mu.Unlock()

	if b.collector != nil {
		b.collector.Observers.Inc()
	}
	b.logger.Debug("observer attached", zap.String("observer", sub.ID))
	return sub
}

// Detach removes an observer and closes its channel. Detaching twice is
// harmless.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	sub, ok := b.observers[id]
	if ok {
		delete(b.observers, id)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	close(sub.ch)
	if b.collector != nil {
		b.collector.Observers.Dec()
	}
	b.logger.Debug("observer detached", zap.String("observer", id))
}

// Publish stamps the event with the next sequence number and emission
// time and delivers it to every observer, dropping each full queue's
// oldest event first.
func (b *Broadcaster) Publish(ev Event) {
	if s, ok := ev.(stampable); ok {
		s.stamp(b.seq.Add(1), time.Now())
	}
	if b.collector != nil {
		b.collector.EventsPublished.WithLabelValues(string(ev.Type())).Inc()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.observers {
		select {
		case sub.ch <- ev:
		default:
			// Queue full: drop the oldest, then retry once. The second
			// send can still lose a race with another publisher; the
			// event is dropped for this observer in that case.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
			if b.collector != nil {
				b.collector.EventsDropped.Inc()
			}
			b.logger.Debug("observer queue overflow",
				zap.String("observer", sub.ID),
				zap.String("event", string(ev.Type())),
			)
		}
	}
}

// Observers returns the number of currently attached observers.
func (b *Broadcaster) Observers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}
