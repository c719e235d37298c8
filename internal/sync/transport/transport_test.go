// Package transport provides unit tests for the HTTP sender.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openpharm/posync/internal/models"
	"github.com/openpharm/posync/internal/session"
)

func testSession() *session.Static {
	return &session.Static{
		Branch:   "branch-1",
		Code:     "BR001",
		Terminal: "till-7",
	}
}

func testItem(op models.OperationType, endpoint string) *models.SyncItem {
	return &models.SyncItem{
		ID:        "item-1",
		Operation: op,
		Endpoint:  endpoint,
		Payload:   map[string]interface{}{"total": 1250.0},
	}
}

// TestSendMethodMapping tests the operation-to-verb mapping.
func TestSendMethodMapping(t *testing.T) {
	cases := []struct {
		op   models.OperationType
		want string
	}{
		{models.OpCreate, http.MethodPost},
		{models.OpUpdate, http.MethodPut},
		{models.OpDelete, http.MethodDelete},
		{models.OpPrint, http.MethodPost},
		{models.OpPayment, http.MethodPost},
		{models.OpCustom, http.MethodPost},
	}

	for _, c := range cases {
		var gotMethod string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			w.WriteHeader(http.StatusOK)
		}))

		a := NewHTTPAdapter(srv.URL, testSession())
		res := a.Send(context.Background(), testItem(c.op, "/sales"))
		srv.Close()

		if res.Outcome != OutcomeSuccess {
			t.Errorf("%s: expected success, got outcome %d err %v", c.op, res.Outcome, res.Err)
		}
		if gotMethod != c.want {
			t.Errorf("%s: expected method %s, got %s", c.op, c.want, gotMethod)
		}
	}
}

// TestSendEnvelope tests the _syncMetadata envelope and client header.
func TestSendEnvelope(t *testing.T) {
	var gotHeader string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Sync-Client")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, testSession())
	res := a.Send(context.Background(), testItem(models.OpPayment, "/sales"))

	if res.Outcome != OutcomeSuccess || res.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 success, got outcome %d status %d", res.Outcome, res.StatusCode)
	}
	if gotHeader != "posync/till-7" {
		t.Errorf("Expected X-Sync-Client posync/till-7, got %q", gotHeader)
	}
	if gotBody["total"] != 1250.0 {
		t.Errorf("Expected payload field to pass through, got %v", gotBody["total"])
	}

	meta, ok := gotBody["_syncMetadata"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected _syncMetadata object in body")
	}
	if meta["operationType"] != "payment" {
		t.Errorf("Expected operationType payment, got %v", meta["operationType"])
	}
	if meta["isOfflineSync"] != true {
		t.Errorf("Expected isOfflineSync true, got %v", meta["isOfflineSync"])
	}
	if meta["branchId"] != "branch-1" || meta["branchCode"] != "BR001" {
		t.Errorf("Expected branch identity in metadata, got %v", meta)
	}
	if _, ok := meta["clientTimestamp"].(float64); !ok {
		t.Errorf("Expected numeric clientTimestamp, got %v", meta["clientTimestamp"])
	}
}

// TestSendConflictWithBody tests that a 409 with a JSON body classifies
// as a conflict carrying the server version.
func TestSendConflictWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "p-1",
			"stock": 4,
		})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, testSession())
	res := a.Send(context.Background(), testItem(models.OpUpdate, "/products/p-1"))

	if res.Outcome != OutcomeConflict {
		t.Fatalf("Expected conflict outcome, got %d err %v", res.Outcome, res.Err)
	}
	if res.ServerData["id"] != "p-1" {
		t.Errorf("Expected server version in result, got %v", res.ServerData)
	}
}

// TestSendConflictWithoutBody tests that a 409 with an unreadable body
// degrades to an ordinary failure.
func TestSendConflictWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, testSession())
	res := a.Send(context.Background(), testItem(models.OpUpdate, "/products/p-1"))

	if res.Outcome != OutcomeFailure {
		t.Errorf("Expected failure outcome for bodyless 409, got %d", res.Outcome)
	}
	if res.Err == nil {
		t.Error("Expected a classification error")
	}
}

// TestSendServerError tests classification of a 5xx response.
func TestSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, testSession())
	res := a.Send(context.Background(), testItem(models.OpCreate, "/sales"))

	if res.Outcome != OutcomeFailure || res.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500 failure, got outcome %d status %d", res.Outcome, res.StatusCode)
	}
}

// TestSendTransportError tests classification when the server is
// unreachable.
func TestSendTransportError(t *testing.T) {
	a := NewHTTPAdapter("http://127.0.0.1:1", testSession())
	res := a.Send(context.Background(), testItem(models.OpCreate, "/sales"))

	if res.Outcome != OutcomeFailure {
		t.Errorf("Expected failure outcome, got %d", res.Outcome)
	}
	if res.Err == nil {
		t.Error("Expected a transport error")
	}
}
