// Package transport translates sync items into server requests and
// classifies the responses. The _syncMetadata envelope it attaches is the
// only place offline-specific information crosses the wire.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openpharm/posync/internal/models"
	"github.com/openpharm/posync/internal/session"
)

// Outcome classifies a delivery attempt.
type Outcome int

const (
	// OutcomeSuccess means the server accepted the mutation (2xx).
	OutcomeSuccess Outcome = iota
	// OutcomeConflict means the server's state diverged (409 with body).
	OutcomeConflict
	// OutcomeFailure covers transport errors and any other status.
	OutcomeFailure
)

// Result is the classified outcome of one delivery attempt.
type Result struct {
	Outcome    Outcome
	StatusCode int
	// ServerData is the server's version of the resource on a 409.
	ServerData map[string]interface{}
	Err        error
}

// Sender delivers a sync item to the server.
type Sender interface {
	Send(ctx context.Context, item *models.SyncItem) Result
}

// HTTPAdapter is the Sender backed by the platform's REST API.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
	session session.Provider
}

// NewHTTPAdapter creates an HTTPAdapter for the given server base URL.
func NewHTTPAdapter(baseURL string, sess session.Provider) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		session: sess,
	}
}

// methodFor maps an operation type to its transport verb. Print, payment
// and custom operations are side-effecting creates.
func methodFor(op models.OperationType) string {
	switch op {
	case models.OpUpdate:
		return http.MethodPut
	case models.OpDelete:
		return http.MethodDelete
	default:
		return http.MethodPost
	}
}

// Send delivers the item and classifies the response.
func (a *HTTPAdapter) Send(ctx context.Context, item *models.SyncItem) Result {
	body, err := json.Marshal(a.envelope(item))
	if err != nil {
		return Result{Outcome: OutcomeFailure, Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	url := a.baseURL + "/" + strings.TrimLeft(item.Endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, methodFor(item.Operation), url, bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: OutcomeFailure, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sync-Client", "posync/"+a.session.TerminalID())

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{Outcome: OutcomeFailure, Err: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{Outcome: OutcomeSuccess, StatusCode: resp.StatusCode}

	case resp.StatusCode == http.StatusConflict:
		var serverData map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&serverData); err != nil {
			// A 409 without a readable body carries no server version to
			// resolve against; treat it as an ordinary failure.
			return Result{
				Outcome:    OutcomeFailure,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("conflict response with unreadable body: %w", err),
			}
		}
		return Result{Outcome: OutcomeConflict, StatusCode: resp.StatusCode, ServerData: serverData}

	default:
		return Result{
			Outcome:    OutcomeFailure,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server returned status %d", resp.StatusCode),
		}
	}
}

// envelope merges the item payload with the _syncMetadata object.
func (a *HTTPAdapter) envelope(item *models.SyncItem) map[string]interface{} {
	body := make(map[string]interface{}, len(item.Payload)+1)
	for k, v := range item.Payload {
		body[k] = v
	}
	body["_syncMetadata"] = map[string]interface{}{
		"clientTimestamp": time.Now().UnixMilli(),
		"operationType":   string(item.Operation),
		"isOfflineSync":   true,
		"branchId":        a.session.BranchID(),
		"branchCode":      a.session.BranchCode(),
	}
	return body
}
