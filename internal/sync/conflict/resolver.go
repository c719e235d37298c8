// Package conflict applies the configured resolution policy when the
// server reports divergent state for a queued mutation.
package conflict

import (
	"fmt"
	"sync"

	"github.com/openpharm/posync/internal/models"
)

// Policy defines how 409 conflicts are resolved. It is a static
// configuration choice, not a per-item one.
type Policy string

const (
	// PolicyClientWins resends the mutation with the force-override flag.
	PolicyClientWins Policy = "client_wins"
	// PolicyServerWins accepts the server's version and completes the item.
	PolicyServerWins Policy = "server_wins"
	// PolicyManual parks the item until an operator resolves it.
	PolicyManual Policy = "manual"
)

// ParsePolicy validates a policy string from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyClientWins, PolicyServerWins, PolicyManual:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown conflict resolution policy %q", s)
	}
}

// Action is the dispatch consequence of a resolved conflict.
type Action int

const (
	// ActionComplete discards the item; the server's version stands.
	ActionComplete Action = iota
	// ActionResend re-queues the item for exactly one forced delivery.
	ActionResend
	// ActionPark removes the item from the dispatch path for manual review.
	ActionPark
)

// Resolver decides the action for each reported conflict.
type Resolver struct {
	mu     sync.RWMutex
	policy Policy
}

// NewResolver creates a Resolver with the given policy.
func NewResolver(policy Policy) *Resolver {
	return &Resolver{policy: policy}
}

// Policy returns the active policy.
func (r *Resolver) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// SetPolicy swaps the active policy. Applies to conflicts reported after
// the call; parked items keep waiting for manual resolution.
func (r *Resolver) SetPolicy(policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

// Resolve maps the active policy to a dispatch action.
func (r *Resolver) Resolve() Action {
	switch r.Policy() {
	case PolicyClientWins:
		return ActionResend
	case PolicyManual:
		return ActionPark
	default:
		return ActionComplete
	}
}

// forceUpdateKey marks a payload so the server overwrites its version
// instead of rejecting the write again.
const forceUpdateKey = "_forceUpdate"

// ForceOverride sets the force-override flag on the item's payload.
func ForceOverride(item *models.SyncItem) {
	if item.Payload == nil {
		item.Payload = make(map[string]interface{}, 1)
	}
	item.Payload[forceUpdateKey] = true
}

// IsForced reports whether the item carries the force-override flag.
func IsForced(item *models.SyncItem) bool {
	if item.Payload == nil {
		return false
	}
	forced, ok := item.Payload[forceUpdateKey].(bool)
	return ok && forced
}
