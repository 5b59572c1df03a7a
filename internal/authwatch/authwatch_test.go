package authwatch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	ch1, unsub1 := broker.Subscribe()
	ch2, unsub2 := broker.Subscribe()
	defer unsub1()
	defer unsub2()

	broker.Publish(Notification{Event: EventSignedIn})

	for _, ch := range []<-chan Notification{ch1, ch2} {
		select {
		case n := <-ch:
			assert.Equal(t, EventSignedIn, n.Event)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive notification")
		}
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	ch, unsub := broker.Subscribe()
	unsub()
	unsub() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic
	broker.Publish(Notification{Event: EventSignedOut})
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	ch, unsub := broker.Subscribe()
	defer unsub()

	// Overfill the buffer without draining; Publish must never block.
	for i := 0; i < subscriberBuffer+5; i++ {
		broker.Publish(Notification{Event: EventTokenRefreshed})
	}

	assert.Len(t, ch, subscriberBuffer)
}

func TestBrokerCloseTerminatesSubscribers(t *testing.T) {
	broker := NewBroker()
	ch, _ := broker.Subscribe()

	broker.Close()
	broker.Close() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Subscribing after close yields a closed channel
	late, _ := broker.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestWatcherInvalidatesOnlyOnExpiryChange(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	var calls []string
	w := NewWatcher(broker, "auth", func(dep string, n Notification) {
		calls = append(calls, dep+":"+n.Event)
	})
	defer w.Close()

	expiry1 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expiry2 := expiry1.Add(time.Hour)

	// Drive the expiry-diff rule directly; the goroutine path is covered
	// by the end-to-end test below.
	w.handle(Notification{Event: EventSignedIn, Expiry: expiry1})
	w.handle(Notification{Event: EventTokenRefreshed, Expiry: expiry1}) // same expiry: no-op
	w.handle(Notification{Event: EventTokenRefreshed, Expiry: expiry2})
	w.handle(Notification{Event: EventSignedOut}) // zero expiry differs

	assert.Equal(t, []string{"auth:signed_in", "auth:token_refreshed", "auth:signed_out"}, calls)
}

func TestWatcherZeroExpiryTwiceInvalidatesOnce(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	var calls int
	w := NewWatcher(broker, "", func(string, Notification) { calls++ })
	defer w.Close()

	w.handle(Notification{Event: EventSignedOut})
	w.handle(Notification{Event: EventSignedOut})

	assert.Equal(t, 0, calls, "initial expiry is already zero")
}

func TestWatcherDefaultDependency(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	var got string
	w := NewWatcher(broker, "", func(dep string, _ Notification) { got = dep })
	defer w.Close()

	w.handle(Notification{Event: EventSignedIn, Expiry: time.Now()})
	assert.Equal(t, DefaultDependency, got)
}

func TestWatcherEndToEnd(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	var invalidations atomic.Int32
	w := NewWatcher(broker, "auth", func(string, Notification) { invalidations.Add(1) })

	expiry := time.Now().Add(time.Hour)
	broker.Publish(Notification{Event: EventSignedIn, Expiry: expiry})
	broker.Publish(Notification{Event: EventTokenRefreshed, Expiry: expiry})

	require.Eventually(t, func() bool {
		return invalidations.Load() == 1
	}, time.Second, 10*time.Millisecond)

	// Close unsubscribes; later publishes are not observed
	w.Close()
	w.Close() // idempotent
	broker.Publish(Notification{Event: EventSignedOut})

	assert.Equal(t, int32(1), invalidations.Load())
}

func TestWatcherDoneOnBrokerClose(t *testing.T) {
	broker := NewBroker()
	w := NewWatcher(broker, "auth", func(string, Notification) {})

	broker.Close()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop when the broker closed")
	}
	w.Close()
}
