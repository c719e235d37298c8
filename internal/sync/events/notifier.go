// Package events provides fan-out of sync lifecycle events to subscribers.
// Each callback runs isolated: a panicking subscriber is logged and never
// prevents the remaining subscribers from being notified.
package events

import (
	"sync"

	"github.com/openpharm/posync/internal/logging"
	"github.com/openpharm/posync/internal/models"
)

// CompletedFunc receives an item that was delivered to the server.
type CompletedFunc func(item *models.SyncItem)

// FailedFunc receives an item whose retries are exhausted.
type FailedFunc func(item *models.SyncItem)

// QueueEmptyFunc fires once per transition into the empty-queue state.
type QueueEmptyFunc func()

// ConflictFunc receives a conflicted item and the server's version.
type ConflictFunc func(item *models.SyncItem, serverData map[string]interface{})

// OnlineChangedFunc receives connectivity transitions.
type OnlineChangedFunc func(online bool)

// Notifier fans sync events out to registered subscribers.
type Notifier struct {
	mu           sync.RWMutex
	onCompleted  []CompletedFunc
	onFailed     []FailedFunc
	onQueueEmpty []QueueEmptyFunc
	onConflict   []ConflictFunc
	onOnline     []OnlineChangedFunc
}

// NewNotifier creates a Notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// OnItemCompleted registers a completion subscriber.
func (n *Notifier) OnItemCompleted(fn CompletedFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onCompleted = append(n.onCompleted, fn)
}

// OnItemFailed registers a terminal-failure subscriber.
func (n *Notifier) OnItemFailed(fn FailedFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onFailed = append(n.onFailed, fn)
}

// OnQueueEmpty registers a queue-empty subscriber.
func (n *Notifier) OnQueueEmpty(fn QueueEmptyFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onQueueEmpty = append(n.onQueueEmpty, fn)
}

// OnConflict registers a conflict subscriber.
func (n *Notifier) OnConflict(fn ConflictFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onConflict = append(n.onConflict, fn)
}

// OnOnlineChanged registers a connectivity-transition subscriber.
func (n *Notifier) OnOnlineChanged(fn OnlineChangedFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onOnline = append(n.onOnline, fn)
}

// ItemCompleted notifies all completion subscribers.
func (n *Notifier) ItemCompleted(item *models.SyncItem) {
	n.mu.RLock()
	subs := append([]CompletedFunc(nil), n.onCompleted...)
	n.mu.RUnlock()
	for _, fn := range subs {
		fn := fn
		safeCall("item_completed", func() { fn(item) })
	}
}

// ItemFailed notifies all terminal-failure subscribers.
func (n *Notifier) ItemFailed(item *models.SyncItem) {
	n.mu.RLock()
	subs := append([]FailedFunc(nil), n.onFailed...)
	n.mu.RUnlock()
	for _, fn := range subs {
		fn := fn
		safeCall("item_failed", func() { fn(item) })
	}
}

// QueueEmpty notifies all queue-empty subscribers.
func (n *Notifier) QueueEmpty() {
	n.mu.RLock()
	subs := append([]QueueEmptyFunc(nil), n.onQueueEmpty...)
	n.mu.RUnlock()
	for _, fn := range subs {
		fn := fn
		safeCall("queue_empty", func() { fn() })
	}
}

// Conflict notifies all conflict subscribers.
func (n *Notifier) Conflict(item *models.SyncItem, serverData map[string]interface{}) {
	n.mu.RLock()
	subs := append([]ConflictFunc(nil), n.onConflict...)
	n.mu.RUnlock()
	for _, fn := range subs {
		fn := fn
		safeCall("conflict", func() { fn(item, serverData) })
	}
}

// OnlineChanged notifies all connectivity subscribers.
func (n *Notifier) OnlineChanged(online bool) {
	n.mu.RLock()
	subs := append([]OnlineChangedFunc(nil), n.onOnline...)
	n.mu.RUnlock()
	for _, fn := range subs {
		fn := fn
		safeCall("online_changed", func() { fn(online) })
	}
}

// safeCall invokes a subscriber and absorbs any panic.
func safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("Sync event subscriber panicked",
				map[string]interface{}{"event": event, "panic": r})
		}
	}()
	fn()
}
