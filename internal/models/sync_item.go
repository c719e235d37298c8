// Package models provides data model definitions for the posync core.
package models

// OperationType classifies a queued mutation and determines the wire method.
type OperationType string

const (
	OpCreate  OperationType = "create"
	OpUpdate  OperationType = "update"
	OpDelete  OperationType = "delete"
	OpPrint   OperationType = "print"
	OpPayment OperationType = "payment"
	OpCustom  OperationType = "custom"
)

// Valid reports whether o is a known operation type.
func (o OperationType) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete, OpPrint, OpPayment, OpCustom:
		return true
	}
	return false
}

// Priority is the scheduling class of a sync item. Ordering is strict:
// every high item dispatches before any medium item, and so on.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank of a priority tier (lower dispatches first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Escalate bumps a priority one tier up. High is the ceiling.
func (p Priority) Escalate() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityHigh
	}
}

// Valid reports whether p is a known priority tier.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// SyncStatus represents the lifecycle state of a sync item.
type SyncStatus string

const (
	StatusPending    SyncStatus = "pending"
	StatusInProgress SyncStatus = "in_progress"
	StatusCompleted  SyncStatus = "completed"
	StatusFailed     SyncStatus = "failed"
	StatusConflict   SyncStatus = "conflict"
)

// SyncItem is one queued mutation awaiting delivery to the server.
type SyncItem struct {
	ID         string                 `json:"id"`
	Operation  OperationType          `json:"operation"`
	Endpoint   string                 `json:"endpoint"`
	Payload    map[string]interface{} `json:"payload"`
	Status     SyncStatus             `json:"status"`
	Priority   Priority               `json:"priority"`
	CreatedAt  int64                  `json:"created_at"` // unix millis, immutable after enqueue
	UpdatedAt  int64                  `json:"updated_at"` // unix millis
	Seq        uint64                 `json:"seq"`        // enqueue order, tie-break within a tier
	RetryCount int                    `json:"retry_count"`
	MaxRetries int                    `json:"max_retries"`
	LastError  string                 `json:"last_error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a copy of the item with its own payload and metadata maps.
// Nested values are shared; the core never mutates below the top level.
func (i *SyncItem) Clone() *SyncItem {
	if i == nil {
		return nil
	}
	c := *i
	if i.Payload != nil {
		c.Payload = make(map[string]interface{}, len(i.Payload))
		for k, v := range i.Payload {
			c.Payload[k] = v
		}
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// QueueState is the persisted snapshot of the live queue. On restart,
// in-progress items are re-admitted as pending (at-least-once delivery).
type QueueState struct {
	Pending    []*SyncItem `json:"pending"`
	InProgress []*SyncItem `json:"inProgress"`
}
