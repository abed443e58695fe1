package event

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the subscription channel size used when Subscribe is
// given a non-positive buffer.
const DefaultBuffer = 64

// Feed fans published events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event and its lag counter
// is incremented. Observers that fall behind can re-read the session log.
type Feed struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]*Subscription)}
}

// Subscription is one observer's view of a Feed.
type Subscription struct {
	id        uint64
	feed      *Feed
	ch        chan Event
	lagged    atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
}

// Subscribe registers a new observer. Subscribing to a closed feed returns
// an already-closed subscription.
func (f *Feed) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{feed: f, ch: make(chan Event, buffer)}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		s.close()
		return s
	}
	f.nextID++
	s.id = f.nextID
	f.subs[s.id] = s
	return s
}

// Publish delivers events, in order, to every subscriber.
func (f *Feed) Publish(events ...Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		for _, e := range events {
			s.trySend(e)
		}
	}
}

// Len returns the number of live subscriptions.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close closes every subscription and rejects new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, s := range f.subs {
		s.close()
		delete(f.subs, id)
	}
}

func (f *Feed) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

// Events returns the delivery channel. It is closed when the subscription
// or the feed is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Lagged returns how many events were dropped because the buffer was full.
func (s *Subscription) Lagged() int64 { return s.lagged.Load() }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	if s.id != 0 {
		s.feed.remove(s.id)
	}
	s.close()
}

func (s *Subscription) trySend(e Event) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.lagged.Add(1)
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.ch)
	})
}
