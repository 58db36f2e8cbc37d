package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/warden-dev/warden/pkg/metrics"
)

// subscriberQueueSize bounds each subscriber's live queue. A subscriber
// that cannot drain this many events is disconnected with a terminal
// overflow frame rather than silently dropping events.
const subscriberQueueSize = 1024

// ErrOverflow is returned from Subscription.Run when the subscriber's
// queue overflowed and it was detached.
var ErrOverflow = errors.New("subscriber queue overflow")

// CatchupQuerier reads persisted events for replay. Implemented by Store.
type CatchupQuerier interface {
	EventsSince(ctx context.Context, workspaceID, streamType, streamID string, fromSeq int64) ([]*Event, error)
}

// Broker fans committed events out to live subscribers. Streams are
// independent: each has its own subscriber list, so a slow room does not
// stall unrelated rooms.
type Broker struct {
	mu      sync.RWMutex
	streams map[string]map[*Subscription]struct{}
	catchup CatchupQuerier

	// orderMu serializes commit+publish so the order in which events
	// become visible to subscribers equals transaction commit order.
	orderMu sync.Mutex
}

// NewBroker creates a Broker backed by the given catch-up querier.
func NewBroker(catchup CatchupQuerier) *Broker {
	return &Broker{
		streams: make(map[string]map[*Subscription]struct{}),
		catchup: catchup,
	}
}

// Subscribe attaches a subscriber to (streamType, streamID), replaying
// persisted events with stream_seq > fromSeq before live delivery. The
// subscriber is registered before the catch-up read, so events committed
// during the read land in the live queue; Run deduplicates by stream_seq.
func (b *Broker) Subscribe(ctx context.Context, workspaceID, streamType, streamID string, fromSeq int64) (*Subscription, error) {
	sub := &Subscription{
		broker:      b,
		workspaceID: workspaceID,
		key:         StreamKey(streamType, streamID),
		live:        make(chan *Event, subscriberQueueSize),
		overflow:    make(chan struct{}),
	}

	b.mu.Lock()
	if _, ok := b.streams[sub.key]; !ok {
		b.streams[sub.key] = make(map[*Subscription]struct{})
	}
	b.streams[sub.key][sub] = struct{}{}
	b.mu.Unlock()
	metrics.SSESubscribers.Inc()

	catchup, err := b.catchup.EventsSince(ctx, workspaceID, streamType, streamID, fromSeq)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.catchup = catchup
	sub.lastSeq = fromSeq

	return sub, nil
}

// PublishCommitted runs commit under the broker's order lock and, on
// success, publishes evts in append order. Holding the lock across both
// steps guarantees subscriber visibility order equals commit order even
// when two transactions race on the same stream.
func (b *Broker) PublishCommitted(commit func() error, evts []*Event) error {
	if len(evts) == 0 {
		return commit()
	}
	b.orderMu.Lock()
	defer b.orderMu.Unlock()
	if err := commit(); err != nil {
		return err
	}
	for _, e := range evts {
		b.publish(e)
	}
	return nil
}

// publish delivers one committed event to every live subscriber of its
// stream. A subscriber whose queue is full is detached and notified via
// its overflow channel.
func (b *Broker) publish(e *Event) {
	key := StreamKey(e.StreamType, e.StreamID)

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.streams[key]))
	for sub := range b.streams[key] {
		if sub.workspaceID == e.WorkspaceID {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.live <- e:
		default:
			slog.Warn("Subscriber queue overflow, detaching",
				"stream", key, "stream_seq", e.StreamSeq)
			metrics.SubscriberOverflowsTotal.Inc()
			b.detach(sub)
			sub.overflowOnce.Do(func() { close(sub.overflow) })
		}
	}
	metrics.EventsPublishedTotal.WithLabelValues(e.EventType).Inc()
}

// SubscriberCount returns the number of live subscribers for a stream.
// Used by tests to poll instead of sleeping.
func (b *Broker) SubscriberCount(streamType, streamID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams[StreamKey(streamType, streamID)])
}

// detach removes a subscriber from the registry.
func (b *Broker) detach(sub *Subscription) {
	b.mu.Lock()
	if subs, ok := b.streams[sub.key]; ok {
		if _, present := subs[sub]; present {
			delete(subs, sub)
			metrics.SSESubscribers.Dec()
			if len(subs) == 0 {
				delete(b.streams, sub.key)
			}
		}
	}
	b.mu.Unlock()
}

// Subscription is one attached subscriber. Not safe for concurrent Run
// calls; the owning handler drives delivery on a single goroutine.
type Subscription struct {
	broker       *Broker
	workspaceID  string
	key          string
	catchup      []*Event
	lastSeq      int64
	live         chan *Event
	overflow     chan struct{}
	overflowOnce sync.Once
	closeOnce    sync.Once
}

// Run delivers catch-up events then live events through deliver, skipping
// any live event already delivered from catch-up (dedup by stream_seq).
// Returns nil on context cancellation, ErrOverflow if the queue
// overflowed, or the first deliver error.
func (s *Subscription) Run(ctx context.Context, deliver func(*Event) error) error {
	defer s.Close()

	for _, e := range s.catchup {
		if e.StreamSeq <= s.lastSeq {
			continue
		}
		if err := deliver(e); err != nil {
			return err
		}
		s.lastSeq = e.StreamSeq
	}
	s.catchup = nil

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.overflow:
			return ErrOverflow
		case e := <-s.live:
			if e.StreamSeq <= s.lastSeq {
				continue
			}
			if err := deliver(e); err != nil {
				return err
			}
			s.lastSeq = e.StreamSeq
		}
	}
}

// Close detaches the subscription from the broker. Safe to call multiple
// times.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.broker.detach(s)
	})
}
