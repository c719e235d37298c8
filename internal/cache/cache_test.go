// Package cache provides unit tests for the reference-data cache.
package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/openpharm/posync/internal/errors"
	"github.com/openpharm/posync/internal/models"
	"github.com/openpharm/posync/internal/storage"
)

type fakeOnline bool

func (o fakeOnline) IsOnline() bool { return bool(o) }

// fakeEnqueuer records enqueued mutations.
type fakeEnqueuer struct {
	items []*models.SyncItem
}

func (e *fakeEnqueuer) Enqueue(op models.OperationType, endpoint string,
	payload, metadata map[string]interface{}, priority models.Priority) string {

	e.items = append(e.items, &models.SyncItem{
		ID:        "queued-1",
		Operation: op,
		Endpoint:  endpoint,
		Payload:   payload,
		Metadata:  metadata,
		Priority:  priority,
	})
	return "queued-1"
}

func newTestCache(t *testing.T, baseURL string, online bool) (*Cache, *fakeEnqueuer) {
	t.Helper()
	blobs, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { blobs.Close() })

	q := &fakeEnqueuer{}
	c, err := New(blobs.DB(), baseURL, fakeOnline(online), q)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, q
}

// TestGetProductOfflineFallback tests serving the local copy when the
// terminal is offline.
func TestGetProductOfflineFallback(t *testing.T) {
	c, _ := newTestCache(t, "http://127.0.0.1:1", false)

	err := c.UpsertProduct(&models.Product{
		ID: "p-1", SKU: "ASP-500", Name: "Aspirin 500mg", PriceCents: 499, Stock: 12,
	})
	if err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}

	p, err := c.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.Name != "Aspirin 500mg" || p.PriceCents != 499 {
		t.Errorf("Unexpected cached product %+v", p)
	}
}

// TestGetProductMiss tests the cache-miss error for an unknown product
// while offline.
func TestGetProductMiss(t *testing.T) {
	c, _ := newTestCache(t, "http://127.0.0.1:1", false)

	_, err := c.GetProduct(context.Background(), "ghost")
	if err == nil {
		t.Fatal("Expected cache miss error")
	}
	if !apperrors.Is(err, apperrors.ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

// TestGetProductOnlineRefreshes tests the read-through path: the server
// version lands in the local cache.
func TestGetProductOnlineRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/p-1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"p-1","sku":"ASP-500","name":"Aspirin 500mg","price_cents":549,"stock":30,"updated_at":1}`))
	}))
	defer srv.Close()

	c, _ := newTestCache(t, srv.URL, true)

	p, err := c.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.PriceCents != 549 {
		t.Errorf("Expected server price, got %d", p.PriceCents)
	}

	// With the server gone, the fetched version serves from the local
	// cache.
	srv.Close()
	cached, err := c.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("Cached read: %v", err)
	}
	if cached.PriceCents != 549 {
		t.Errorf("Expected cached server price, got %d", cached.PriceCents)
	}
}

// TestGetProductOnlineFetchFailureFallsBack tests falling back to the
// local copy when the server errors mid-session.
func TestGetProductOnlineFetchFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestCache(t, srv.URL, true)
	c.UpsertProduct(&models.Product{ID: "p-1", Name: "Aspirin", PriceCents: 499})

	p, err := c.GetProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.PriceCents != 499 {
		t.Errorf("Expected local copy on fetch failure, got %+v", p)
	}
}

// TestGetCustomerOfflineFallback tests the customer read path.
func TestGetCustomerOfflineFallback(t *testing.T) {
	c, _ := newTestCache(t, "http://127.0.0.1:1", false)

	c.UpsertCustomer(&models.Customer{ID: "c-1", Code: "CUST-7", Name: "Fatima", Phone: "555-0101"})
	cu, err := c.GetCustomer(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if cu.Code != "CUST-7" {
		t.Errorf("Unexpected customer %+v", cu)
	}

	if _, err := c.GetCustomer(context.Background(), "ghost"); !apperrors.Is(err, apperrors.ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

// TestRecordSaleQueuesPayment tests that a sale lands locally and as a
// high-priority payment mutation.
func TestRecordSaleQueuesPayment(t *testing.T) {
	c, q := newTestCache(t, "http://127.0.0.1:1", false)

	saleID, itemID, err := c.RecordSale(map[string]interface{}{
		"total": 1250,
		"items": []interface{}{"p-1"},
	})
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if saleID == "" || itemID == "" {
		t.Fatal("Expected sale and item IDs")
	}

	if len(q.items) != 1 {
		t.Fatalf("Expected 1 queued mutation, got %d", len(q.items))
	}
	queued := q.items[0]
	if queued.Operation != models.OpPayment {
		t.Errorf("Expected payment operation, got %s", queued.Operation)
	}
	if queued.Priority != models.PriorityHigh {
		t.Errorf("Expected high priority, got %s", queued.Priority)
	}
	if queued.Endpoint != "/sales" {
		t.Errorf("Expected /sales endpoint, got %s", queued.Endpoint)
	}
	if queued.Payload["saleId"] != saleID {
		t.Errorf("Expected saleId in payload, got %v", queued.Payload)
	}
}

// TestRefreshProducts tests bulk refresh from the server list endpoint.
func TestRefreshProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"p-1","name":"Aspirin","price_cents":499},
			{"id":"p-2","name":"Ibuprofen","price_cents":650}
		]`))
	}))
	defer srv.Close()

	c, _ := newTestCache(t, srv.URL, true)
	n, err := c.RefreshProducts(context.Background())
	if err != nil {
		t.Fatalf("RefreshProducts: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 refreshed products, got %d", n)
	}

	p, err := c.GetProduct(context.Background(), "p-2")
	if err != nil {
		t.Fatalf("GetProduct after refresh: %v", err)
	}
	if p.Name != "Ibuprofen" {
		t.Errorf("Unexpected product %+v", p)
	}
}
