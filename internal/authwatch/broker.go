// Package authwatch propagates session-change notifications so cached
// auth-dependent state can be invalidated when the session actually changed.
package authwatch

import (
	"sync"
	"time"

	"github.com/Aecotyle/authgate/internal/log"
)

// Session change events, mirrored from the auth provider's vocabulary.
const (
	EventSignedIn       = "signed_in"
	EventTokenRefreshed = "token_refreshed"
	EventSignedOut      = "signed_out"
)

// Notification describes one observed session change. Expiry is the new
// session's expiry; zero for sign-out.
type Notification struct {
	Event  string    `json:"event"`
	Expiry time.Time `json:"expiry,omitempty"`
}

// subscriberBuffer absorbs short bursts; publishers never block on slow
// subscribers, they drop instead.
const subscriberBuffer = 8

// Broker fans session-change notifications out to subscribers.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Notification)}
}

// Subscribe registers a new subscriber and returns its channel together
// with an unsubscribe function. Unsubscribing closes the channel; callers
// must unsubscribe on teardown or the subscription leaks across re-mounts.
func (b *Broker) Subscribe() (<-chan Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Notification, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, unsubscribe
}

// Publish delivers a notification to every subscriber without blocking.
func (b *Broker) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			log.LogWarnWithFields("authwatch", "Dropping notification for slow subscriber", map[string]any{
				"subscriber": id,
				"event":      n.Event,
			})
		}
	}
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
