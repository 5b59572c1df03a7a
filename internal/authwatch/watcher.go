package authwatch

import (
	"sync"

	"time"

	"github.com/Aecotyle/authgate/internal/log"
)

// DefaultDependency is the dependency name invalidated when auth state
// changes, matching what data loaders depend on.
const DefaultDependency = "auth"

// Watcher subscribes once to a broker and marks a named dependency stale
// whenever a notification carries a different session expiry than the one
// previously known. Equal expiry means the session itself did not change,
// so dependent data stays warm.
type Watcher struct {
	dependency string
	invalidate func(dependency string, n Notification)

	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once

	mu         sync.Mutex
	lastExpiry time.Time
}

// NewWatcher subscribes to the broker and starts watching. invalidate is
// called with the dependency name and the notification that changed the
// expiry, exactly once per observed change. Callers must Close the watcher
// on teardown.
func NewWatcher(broker *Broker, dependency string, invalidate func(string, Notification)) *Watcher {
	if dependency == "" {
		dependency = DefaultDependency
	}

	notifications, unsubscribe := broker.Subscribe()
	w := &Watcher{
		dependency:  dependency,
		invalidate:  invalidate,
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}

	go func() {
		defer close(w.done)
		for n := range notifications {
			w.handle(n)
		}
	}()

	return w
}

// handle applies the expiry-diff rule to one notification.
func (w *Watcher) handle(n Notification) {
	w.mu.Lock()
	changed := !n.Expiry.Equal(w.lastExpiry)
	if changed {
		w.lastExpiry = n.Expiry
	}
	w.mu.Unlock()

	if !changed {
		log.LogTraceWithFields("authwatch", "Session expiry unchanged, keeping caches", map[string]any{
			"event": n.Event,
		})
		return
	}

	log.LogDebugWithFields("authwatch", "Session changed, invalidating dependency", map[string]any{
		"event":      n.Event,
		"dependency": w.dependency,
	})
	w.invalidate(w.dependency, n)
}

// Done is closed when the watch goroutine ends, either through Close or
// because the broker shut down.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Close unsubscribes from the broker and waits for the watch goroutine to
// finish. Safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.unsubscribe()
		<-w.done
	})
}
