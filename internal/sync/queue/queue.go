// Package queue provides the durable, priority-ordered store of pending
// sync items. It is the single source of truth for what must still be
// sent: a pending list in strict priority-then-FIFO order, an in-progress
// set, and a parked set for items awaiting operator action.
package queue

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openpharm/posync/internal/errors"
	"github.com/openpharm/posync/internal/logging"
	"github.com/openpharm/posync/internal/models"
	"github.com/openpharm/posync/internal/storage"
)

// Store holds the live queue. Every structural mutation persists a full
// snapshot; persistence failures are logged and never block the mutation.
type Store struct {
	mu         sync.Mutex
	pending    []*models.SyncItem          // sorted: priority rank, createdAt, seq
	inProgress map[string]*models.SyncItem // claimed items, including those awaiting backoff
	parked     map[string]*models.SyncItem // terminal failed + manual conflicts
	seq        uint64
	maxSize    int
	blobs      storage.BlobStore
	key        string
}

// NewStore creates a Store bound to a snapshot key and restores any
// previously persisted state. Items that were in progress when the
// process died are re-admitted as pending: an in-flight request whose
// outcome was never observed is treated as failed-safe and retried.
func NewStore(blobs storage.BlobStore, key string, maxSize int) *Store {
	s := &Store{
		inProgress: make(map[string]*models.SyncItem),
		parked:     make(map[string]*models.SyncItem),
		maxSize:    maxSize,
		blobs:      blobs,
		key:        key,
	}
	s.restore()
	return s
}

// restore loads the persisted snapshot. A read failure or corrupt blob
// degrades to an empty queue with a logged warning, never a crash.
func (s *Store) restore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.blobs.Get(s.key)
	if err != nil {
		logging.ErrorWithCode("Failed to read queue snapshot, starting empty",
			string(errors.ErrStorage), err, map[string]interface{}{"key": s.key})
		return
	}
	if data == nil {
		return
	}

	var state models.QueueState
	if err := json.Unmarshal(data, &state); err != nil {
		logging.ErrorWithCode("Corrupt queue snapshot, starting empty",
			string(errors.ErrSnapshotCorrupt), err, map[string]interface{}{"key": s.key})
		return
	}

	now := time.Now().UnixMilli()
	s.pending = state.Pending
	for _, item := range state.InProgress {
		item.Status = models.StatusPending
		item.UpdatedAt = now
		s.pending = append(s.pending, item)
	}
	for _, item := range s.pending {
		item.Status = models.StatusPending
		if item.Seq >= s.seq {
			s.seq = item.Seq + 1
		}
	}
	s.sortLocked()
	if len(state.InProgress) > 0 {
		logging.Info("Re-admitted in-flight items from previous session",
			map[string]interface{}{"count": len(state.InProgress)})
	}
	s.persistLocked()
}

// Enqueue admits a mutation into the pending list. It always succeeds
// locally; over capacity the lowest-priority, oldest items are evicted
// until the queue is back at the cap. Returns the assigned item ID.
func (s *Store) Enqueue(item *models.SyncItem) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.Status = models.StatusPending
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Seq = s.seq
	s.seq++
	if !item.Priority.Valid() {
		item.Priority = models.PriorityMedium
	}

	s.pending = append(s.pending, item)
	s.sortLocked()
	s.evictLocked()
	s.persistLocked()

	logging.Debug("Enqueued sync item", map[string]interface{}{
		"item_id":   item.ID,
		"operation": string(item.Operation),
		"endpoint":  item.Endpoint,
		"priority":  string(item.Priority),
	})

	return item.ID
}

// DequeueNext claims the head of the pending list, marks it in progress
// and returns it. Returns nil when nothing is pending. The claim is
// atomic with respect to concurrent claims.
func (s *Store) DequeueNext() *models.SyncItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	item := s.pending[0]
	s.pending = s.pending[1:]
	item.Status = models.StatusInProgress
	item.UpdatedAt = time.Now().UnixMilli()
	s.inProgress[item.ID] = item
	s.persistLocked()

	return item
}

// MarkCompleted removes a delivered item from the in-progress set.
func (s *Store) MarkCompleted(id string) (*models.SyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inProgress[id]
	if !ok {
		return nil, errors.New(errors.ErrItemNotInFlight, "item "+id+" is not in progress")
	}
	delete(s.inProgress, id)
	item.Status = models.StatusCompleted
	item.UpdatedAt = time.Now().UnixMilli()
	s.persistLocked()

	return item, nil
}

// RecordFailure counts a failed delivery attempt. The item stays in the
// in-progress set while it waits out its backoff delay; once the retry
// ceiling is reached it moves to the parked set as terminally failed and
// exhausted is true.
func (s *Store) RecordFailure(id string, errMsg string) (item *models.SyncItem, exhausted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inProgress[id]
	if !ok {
		return nil, false, errors.New(errors.ErrItemNotInFlight, "item "+id+" is not in progress")
	}

	item.RetryCount++
	item.LastError = errMsg
	item.UpdatedAt = time.Now().UnixMilli()

	if item.RetryCount >= item.MaxRetries {
		delete(s.inProgress, id)
		item.Status = models.StatusFailed
		s.parked[id] = item
		s.persistLocked()
		return item, true, nil
	}

	s.persistLocked()
	return item, false, nil
}

// Requeue moves an in-progress item back to pending after its backoff
// delay. With boost set, an item past its second failure is escalated one
// priority tier; high is the ceiling and the retry counter never resets.
func (s *Store) Requeue(id string, boost bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inProgress[id]
	if !ok {
		return errors.New(errors.ErrItemNotInFlight, "item "+id+" is not in progress")
	}
	delete(s.inProgress, id)

	if boost && item.RetryCount > 1 {
		item.Priority = item.Priority.Escalate()
	}
	item.Status = models.StatusPending
	item.UpdatedAt = time.Now().UnixMilli()
	s.pending = append(s.pending, item)
	s.sortLocked()
	s.persistLocked()

	return nil
}

// ResendConflict re-queues an in-progress item for exactly one more
// delivery attempt without consuming retry budget. mutate runs on the
// item under the store lock, typically to set the force-override flag.
func (s *Store) ResendConflict(id string, mutate func(*models.SyncItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inProgress[id]
	if !ok {
		return errors.New(errors.ErrItemNotInFlight, "item "+id+" is not in progress")
	}
	delete(s.inProgress, id)

	if mutate != nil {
		mutate(item)
	}
	item.Status = models.StatusPending
	item.UpdatedAt = time.Now().UnixMilli()
	s.pending = append(s.pending, item)
	s.sortLocked()
	s.persistLocked()

	return nil
}

// ParkConflict removes an in-progress item from the dispatch path and
// holds it for manual resolution.
func (s *Store) ParkConflict(id string) (*models.SyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inProgress[id]
	if !ok {
		return nil, errors.New(errors.ErrItemNotInFlight, "item "+id+" is not in progress")
	}
	delete(s.inProgress, id)
	item.Status = models.StatusConflict
	item.UpdatedAt = time.Now().UnixMilli()
	s.parked[id] = item
	s.persistLocked()

	return item, nil
}

// TakeParked removes and returns a parked item, which must currently be
// in the wanted status (failed or conflict).
func (s *Store) TakeParked(id string, want models.SyncStatus) (*models.SyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.parked[id]
	if !ok {
		return nil, errors.New(errors.ErrItemNotParked, "item "+id+" is not parked")
	}
	if item.Status != want {
		return nil, errors.New(errors.ErrInvalid,
			"item "+id+" is "+string(item.Status)+", expected "+string(want))
	}
	delete(s.parked, id)
	return item, nil
}

// RetryParked re-admits a parked item (failed or conflict) as pending
// with a reset retry counter.
func (s *Store) RetryParked(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.parked[id]
	if !ok {
		return errors.New(errors.ErrItemNotParked, "item "+id+" is not parked")
	}
	delete(s.parked, id)

	item.Status = models.StatusPending
	item.RetryCount = 0
	item.LastError = ""
	item.UpdatedAt = time.Now().UnixMilli()
	s.pending = append(s.pending, item)
	s.sortLocked()
	s.persistLocked()

	return nil
}

// Readmit inserts a previously removed item back into the pending list,
// keeping its retry counter. Used for client-side manual conflict
// resolution.
func (s *Store) Readmit(item *models.SyncItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.Status = models.StatusPending
	item.UpdatedAt = time.Now().UnixMilli()
	s.pending = append(s.pending, item)
	s.sortLocked()
	s.persistLocked()
}

// RemoveInFlight drops an in-progress item whose pending backoff timer
// was cancelled. Returns the removed item.
func (s *Store) RemoveInFlight(id string) (*models.SyncItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.inProgress[id]
	if !ok {
		return nil, errors.New(errors.ErrItemNotInFlight, "item "+id+" is not in progress")
	}
	delete(s.inProgress, id)
	s.persistLocked()
	return item, nil
}

// ClearFailed drops all terminally failed items from the parked set and
// returns how many were removed.
func (s *Store) ClearFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, item := range s.parked {
		if item.Status == models.StatusFailed {
			delete(s.parked, id)
			count++
		}
	}
	return count
}

// Clear drops all pending and parked items and returns their IDs.
// In-progress items are untouched; the caller reconciles those against
// its own timers.
func (s *Store) Clear() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pending)+len(s.parked))
	for _, item := range s.pending {
		ids = append(ids, item.ID)
	}
	for id := range s.parked {
		ids = append(ids, id)
	}
	s.pending = nil
	s.parked = make(map[string]*models.SyncItem)
	s.persistLocked()
	return ids
}

// Get returns a copy of the item with the given ID from any set.
func (s *Store) Get(id string) (*models.SyncItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.inProgress[id]; ok {
		return item.Clone(), true
	}
	if item, ok := s.parked[id]; ok {
		return item.Clone(), true
	}
	for _, item := range s.pending {
		if item.ID == id {
			return item.Clone(), true
		}
	}
	return nil, false
}

// List returns copies of every item the store holds, pending first in
// dispatch order, then in-progress, then parked.
func (s *Store) List() []*models.SyncItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]*models.SyncItem, 0, len(s.pending)+len(s.inProgress)+len(s.parked))
	for _, item := range s.pending {
		items = append(items, item.Clone())
	}
	for _, item := range s.inProgress {
		items = append(items, item.Clone())
	}
	for _, item := range s.parked {
		items = append(items, item.Clone())
	}
	return items
}

// PendingCount returns the number of pending items.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// InProgressCount returns the number of claimed items.
func (s *Store) InProgressCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inProgress)
}

// HighPriorityPending returns the number of pending high-priority items.
func (s *Store) HighPriorityPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, item := range s.pending {
		if item.Priority == models.PriorityHigh {
			count++
		}
	}
	return count
}

// ParkedCounts returns the number of parked failed and conflict items.
func (s *Store) ParkedCounts() (failed, conflicts int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.parked {
		switch item.Status {
		case models.StatusFailed:
			failed++
		case models.StatusConflict:
			conflicts++
		}
	}
	return failed, conflicts
}

// IsEmpty reports whether both the pending list and in-progress set are
// empty. Parked items do not count; they are outside the live queue.
func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0 && len(s.inProgress) == 0
}

// SetMaxSize applies a new capacity bound and evicts down to it.
func (s *Store) SetMaxSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 1 {
		return
	}
	s.maxSize = n
	if s.evictLocked() {
		s.persistLocked()
	}
}

// sortLocked orders the pending list: strict priority precedence, then
// ascending creation time, then enqueue sequence. A continuous stream of
// high items can starve low items indefinitely; that is the contract.
func (s *Store) sortLocked() {
	sort.SliceStable(s.pending, func(i, j int) bool {
		a, b := s.pending[i], s.pending[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.Seq < b.Seq
	})
}

// evictLocked removes the oldest low items, then the oldest medium items,
// until the pending list is back at or under the capacity bound. High
// items are never evicted, so an all-high queue may exceed the bound.
// Reports whether anything was removed.
func (s *Store) evictLocked() bool {
	evicted := false
	for len(s.pending) > s.maxSize {
		idx := -1
		worst := 0
		for i, item := range s.pending {
			if rank := item.Priority.Rank(); rank > worst {
				worst = rank
				idx = i
				// The list is sorted, so the first item of the lowest
				// tier present is the oldest of that tier.
			}
		}
		if idx < 0 {
			break
		}
		victim := s.pending[idx]
		s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
		evicted = true
		logging.Warn("Evicted sync item over queue capacity", map[string]interface{}{
			"item_id":  victim.ID,
			"priority": string(victim.Priority),
			"endpoint": victim.Endpoint,
			"max_size": s.maxSize,
		})
	}
	return evicted
}

// persistLocked writes the full queue snapshot. Best effort: a storage
// failure is logged and the in-memory state stands, accepting a narrow
// loss window over blocking user-facing operations on durability I/O.
func (s *Store) persistLocked() {
	state := models.QueueState{
		Pending:    s.pending,
		InProgress: make([]*models.SyncItem, 0, len(s.inProgress)),
	}
	if state.Pending == nil {
		state.Pending = []*models.SyncItem{}
	}
	for _, item := range s.inProgress {
		state.InProgress = append(state.InProgress, item)
	}

	data, err := json.Marshal(&state)
	if err != nil {
		logging.ErrorWithCode("Failed to encode queue snapshot",
			string(errors.ErrStorage), err, nil)
		return
	}
	if err := s.blobs.Set(s.key, data); err != nil {
		logging.ErrorWithCode("Failed to persist queue snapshot",
			string(errors.ErrStorage), err, map[string]interface{}{"key": s.key})
	}
}
