// Package sync coordinates the offline-first mutation queue: a
// concurrency-bounded dispatcher drains the durable store whenever the
// terminal is online, failed deliveries back off exponentially, and
// conflicts follow the configured resolution policy. All outcomes are
// asynchronous; callers observe them through the event notifier.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/openpharm/posync/internal/config"
	"github.com/openpharm/posync/internal/errors"
	"github.com/openpharm/posync/internal/logging"
	"github.com/openpharm/posync/internal/models"
	"github.com/openpharm/posync/internal/sync/backoff"
	"github.com/openpharm/posync/internal/sync/conflict"
	"github.com/openpharm/posync/internal/sync/events"
	"github.com/openpharm/posync/internal/sync/queue"
	"github.com/openpharm/posync/internal/sync/transport"
)

// Connectivity is the injected online/offline signal gating dispatch.
type Connectivity interface {
	IsOnline() bool
	OnChange(fn func(online bool))
}

// settings is the hot-reconfigurable subset of the configuration.
type settings struct {
	maxConcurrent int
	maxRetries    int
	retryDelay    time.Duration
	retryJitter   float64
	priorityBoost bool
	periodic      time.Duration
}

// Manager owns the dispatch loop and exposes the sync collaborator
// surface: enqueue, status, manual retry and conflict resolution.
type Manager struct {
	store    *queue.Store
	sender   transport.Sender
	resolver *conflict.Resolver
	notifier *events.Notifier
	timers   *backoff.Scheduler
	conn     Connectivity

	mu          sync.Mutex
	cfg         settings
	ongoing     int
	dispatching bool
	wasEmpty    bool
	running     bool

	baseCtx context.Context
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Status is the queue summary exposed to callers.
type Status struct {
	QueueLength         int  `json:"queue_length"`
	InProgress          int  `json:"in_progress"`
	Online              bool `json:"online"`
	HighPriorityPending int  `json:"high_priority_pending"`
	ParkedFailed        int  `json:"parked_failed"`
	ParkedConflicts     int  `json:"parked_conflicts"`
}

// NewManager wires the dispatcher to its injected collaborators.
func NewManager(cfg *config.Config, store *queue.Store, sender transport.Sender,
	resolver *conflict.Resolver, notifier *events.Notifier, conn Connectivity) *Manager {

	m := &Manager{
		store:    store,
		sender:   sender,
		resolver: resolver,
		notifier: notifier,
		timers:   backoff.NewScheduler(),
		conn:     conn,
		cfg:      settingsFrom(cfg),
		baseCtx:  context.Background(),
		stopCh:   make(chan struct{}),
	}

	conn.OnChange(func(online bool) {
		m.notifier.OnlineChanged(online)
		if online {
			m.dispatch()
		}
	})

	return m
}

func settingsFrom(cfg *config.Config) settings {
	return settings{
		maxConcurrent: cfg.MaxConcurrent,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay(),
		retryJitter:   cfg.RetryJitter,
		priorityBoost: cfg.PriorityBoost,
		periodic:      cfg.PeriodicSyncInterval(),
	}
}

// Start begins dispatching. The periodic wake-up re-triggers dispatch
// even with no new enqueues, picking up items whose backoff elapsed
// while the terminal was offline.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.baseCtx = ctx
	m.stopCh = make(chan struct{})
	m.wasEmpty = m.store.IsEmpty()
	m.mu.Unlock()

	m.wg.Add(1)
	go m.periodicLoop(ctx)

	logging.Info("Sync manager started", nil)
	m.dispatch()
}

// Stop halts dispatching, cancels pending backoff timers and waits for
// in-flight sends to finish. In-flight network calls are never
// interrupted; unobserved outcomes are retried on the next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.timers.CancelAll()
	m.wg.Wait()
	logging.Info("Sync manager stopped", nil)
}

func (m *Manager) periodicLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-time.After(m.snapshot().periodic):
			m.dispatch()
		}
	}
}

// Enqueue accepts a mutation locally and returns its assigned ID. It
// never fails and never blocks on the network; delivery outcomes are
// observed through the event subscriptions.
func (m *Manager) Enqueue(op models.OperationType, endpoint string,
	payload, metadata map[string]interface{}, priority models.Priority) string {

	item := &models.SyncItem{
		Operation:  op,
		Endpoint:   endpoint,
		Payload:    payload,
		Metadata:   metadata,
		Priority:   priority,
		MaxRetries: m.snapshot().maxRetries,
	}
	id := m.store.Enqueue(item)

	m.checkEmpty()
	m.dispatch()
	return id
}

// Notifier returns the event notifier for subscription registration.
func (m *Manager) Notifier() *events.Notifier {
	return m.notifier
}

// GetStatus returns the live queue summary.
func (m *Manager) GetStatus() Status {
	failed, conflicts := m.store.ParkedCounts()
	return Status{
		QueueLength:         m.store.PendingCount(),
		InProgress:          m.store.InProgressCount(),
		Online:              m.conn.IsOnline(),
		HighPriorityPending: m.store.HighPriorityPending(),
		ParkedFailed:        failed,
		ParkedConflicts:     conflicts,
	}
}

// ListItems returns copies of every item the store holds.
func (m *Manager) ListItems() []*models.SyncItem {
	return m.store.List()
}

// GetItem returns a copy of one item by ID.
func (m *Manager) GetItem(id string) (*models.SyncItem, bool) {
	return m.store.Get(id)
}

// RetryItem manually re-admits a failed or conflicted item with a fresh
// retry budget.
func (m *Manager) RetryItem(id string) error {
	if err := m.store.RetryParked(id); err != nil {
		return err
	}
	m.checkEmpty()
	m.dispatch()
	return nil
}

// ResolveConflict settles a manually parked conflict. "client" re-queues
// the item with the force-override flag for one more delivery; "server"
// discards it, accepting the server's version.
func (m *Manager) ResolveConflict(id, winner string) error {
	switch winner {
	case "client":
		item, err := m.store.TakeParked(id, models.StatusConflict)
		if err != nil {
			return err
		}
		conflict.ForceOverride(item)
		m.store.Readmit(item)
		m.checkEmpty()
		m.dispatch()
		return nil

	case "server":
		item, err := m.store.TakeParked(id, models.StatusConflict)
		if err != nil {
			return err
		}
		logging.Info("Conflict resolved with server version", map[string]interface{}{
			"item_id":  item.ID,
			"endpoint": item.Endpoint,
		})
		return nil

	default:
		return errors.New(errors.ErrInvalid, "winner must be \"client\" or \"server\"")
	}
}

// ClearFailedItems drops all terminally failed items and returns how
// many were removed.
func (m *Manager) ClearFailedItems() int {
	return m.store.ClearFailed()
}

// ClearQueue drops all pending and parked items and cancels their
// backoff timers. In-flight sends finish on their own.
func (m *Manager) ClearQueue() {
	for _, id := range m.timers.PendingIDs() {
		if m.timers.Cancel(id) {
			if _, err := m.store.RemoveInFlight(id); err != nil {
				logging.Debug("Backoff item already gone during clear",
					map[string]interface{}{"item_id": id})
			}
		}
	}
	count := len(m.store.Clear())
	logging.Info("Sync queue cleared", map[string]interface{}{"dropped": count})
	m.checkEmpty()
}

// ApplyConfig applies a new configuration without restart.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = settingsFrom(cfg)
	m.mu.Unlock()

	if policy, err := conflict.ParsePolicy(cfg.ConflictResolution); err == nil {
		m.resolver.SetPolicy(policy)
	}
	m.store.SetMaxSize(cfg.MaxQueueSize)
	m.dispatch()
}

func (m *Manager) snapshot() settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// dispatch drives the queue: while online with spare capacity it claims
// pending items and starts send tasks. Only one drive loop runs at a
// time; concurrent triggers collapse into the active loop, which
// re-checks for missed work before retiring.
func (m *Manager) dispatch() {
	m.mu.Lock()
	if !m.running || m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	m.mu.Unlock()

	for {
		m.drive()

		m.mu.Lock()
		again := m.running && m.conn.IsOnline() &&
			m.ongoing < m.cfg.maxConcurrent && m.store.PendingCount() > 0
		if !again {
			m.dispatching = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
	}
}

func (m *Manager) drive() {
	for {
		if !m.conn.IsOnline() {
			return
		}
		m.mu.Lock()
		if !m.running || m.ongoing >= m.cfg.maxConcurrent {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		item := m.store.DequeueNext()
		if item == nil {
			return
		}

		m.mu.Lock()
		m.ongoing++
		m.mu.Unlock()

		m.wg.Add(1)
		go m.send(item)
	}
}

// send executes one delivery attempt and routes the classified outcome.
func (m *Manager) send(item *models.SyncItem) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.baseCtx, 60*time.Second)
	defer cancel()

	res := m.sender.Send(ctx, item)

	switch res.Outcome {
	case transport.OutcomeSuccess:
		done, err := m.store.MarkCompleted(item.ID)
		if err == nil {
			logging.Debug("Sync item delivered", map[string]interface{}{
				"item_id":  done.ID,
				"endpoint": done.Endpoint,
			})
			m.notifier.ItemCompleted(done)
		}

	case transport.OutcomeConflict:
		m.handleConflict(item, res.ServerData)

	case transport.OutcomeFailure:
		m.handleFailure(item, res)
	}

	m.taskDone()
}

// handleConflict applies the configured policy to a 409 response. The
// conflict event fires under every policy; the server's version rides
// along for the UI.
func (m *Manager) handleConflict(item *models.SyncItem, serverData map[string]interface{}) {
	switch m.resolver.Resolve() {
	case conflict.ActionComplete:
		// Server wins: the item completes and the server version is
		// informational only; local state is not overwritten here.
		done, err := m.store.MarkCompleted(item.ID)
		if err != nil {
			return
		}
		m.notifier.Conflict(done, serverData)

	case conflict.ActionResend:
		// Client wins: one forced resend, not counted against retries.
		m.notifier.Conflict(item.Clone(), serverData)
		if err := m.store.ResendConflict(item.ID, conflict.ForceOverride); err != nil {
			return
		}

	case conflict.ActionPark:
		parked, err := m.store.ParkConflict(item.ID)
		if err != nil {
			return
		}
		logging.Warn("Sync conflict parked for manual resolution", map[string]interface{}{
			"item_id":  parked.ID,
			"endpoint": parked.Endpoint,
		})
		m.notifier.Conflict(parked.Clone(), serverData)
	}
}

// handleFailure counts the attempt and either reports exhaustion or arms
// the backoff timer that re-admits the item.
func (m *Manager) handleFailure(item *models.SyncItem, res transport.Result) {
	msg := "send failed"
	if res.Err != nil {
		msg = res.Err.Error()
	}

	failed, exhausted, err := m.store.RecordFailure(item.ID, msg)
	if err != nil {
		return
	}

	if exhausted {
		logging.ErrorWithCode("Sync item failed permanently",
			string(errors.ErrRetriesExhausted), res.Err, map[string]interface{}{
				"item_id":     failed.ID,
				"endpoint":    failed.Endpoint,
				"retry_count": failed.RetryCount,
			})
		m.notifier.ItemFailed(failed)
		return
	}

	cfg := m.snapshot()
	delay := backoff.WithJitter(backoff.Delay(cfg.retryDelay, failed.RetryCount), cfg.retryJitter)
	logging.Warn("Sync item delivery failed, backing off", map[string]interface{}{
		"item_id":     failed.ID,
		"endpoint":    failed.Endpoint,
		"retry_count": failed.RetryCount,
		"max_retries": failed.MaxRetries,
		"delay_ms":    delay.Milliseconds(),
		"status_code": res.StatusCode,
	})

	id := item.ID
	m.timers.Schedule(id, delay, func() {
		if err := m.store.Requeue(id, cfg.priorityBoost); err != nil {
			return
		}
		m.dispatch()
	})
}

// taskDone releases the worker slot, reports the empty transition and
// looks for more work.
func (m *Manager) taskDone() {
	m.mu.Lock()
	m.ongoing--
	m.mu.Unlock()

	m.checkEmpty()
	m.dispatch()
}

// checkEmpty fires the queue-empty event exactly once per transition
// into the empty state.
func (m *Manager) checkEmpty() {
	empty := m.store.IsEmpty()

	m.mu.Lock()
	fire := empty && !m.wasEmpty
	m.wasEmpty = empty
	m.mu.Unlock()

	if fire {
		m.notifier.QueueEmpty()
	}
}
