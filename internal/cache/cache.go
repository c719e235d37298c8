// Package cache provides the offline reference-data cache: a read-mostly
// local copy of products and customers feeding the POS UI, and the sale
// capture path that hands completed sales to the sync queue instead of
// implementing its own retry logic.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openpharm/posync/internal/errors"
	"github.com/openpharm/posync/internal/logging"
	"github.com/openpharm/posync/internal/models"
)

// Enqueuer is the slice of the sync manager the cache depends on.
type Enqueuer interface {
	Enqueue(op models.OperationType, endpoint string,
		payload, metadata map[string]interface{}, priority models.Priority) string
}

// Online reports current connectivity; the cache skips server lookups
// while offline.
type Online interface {
	IsOnline() bool
}

// Cache is the SQLite-backed reference-data store.
type Cache struct {
	db      *sql.DB
	baseURL string
	client  *http.Client
	conn    Online
	queue   Enqueuer
}

// New creates a Cache over the shared terminal database and ensures its
// tables exist.
func New(db *sql.DB, baseURL string, conn Online, queue Enqueuer) (*Cache, error) {
	c := &Cache{
		db:      db,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		conn:  conn,
		queue: queue,
	}
	if err := c.migrate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id          TEXT PRIMARY KEY,
		sku         TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL DEFAULT '',
		price_cents INTEGER NOT NULL DEFAULT 0,
		stock       INTEGER NOT NULL DEFAULT 0,
		updated_at  INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS customers (
		id         TEXT PRIMARY KEY,
		code       TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL DEFAULT '',
		phone      TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS sales (
		id         TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create cache tables: %w", err)
	}
	return nil
}

// GetProduct returns a product, read-through: when online it refreshes
// from the server first; offline or on a fetch failure it serves the
// local copy.
func (c *Cache) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if c.conn.IsOnline() {
		if p, err := c.fetchProduct(ctx, id); err == nil {
			if err := c.UpsertProduct(p); err != nil {
				logging.Warn("Failed to cache product", map[string]interface{}{
					"product_id": id, "error": err.Error(),
				})
			}
			return p, nil
		}
	}

	var p models.Product
	err := c.db.QueryRowContext(ctx,
		"SELECT id, sku, name, price_cents, stock, updated_at FROM products WHERE id = ?", id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.Stock, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCacheMiss, "product "+id+" not cached")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to read cached product", err)
	}
	return &p, nil
}

// GetCustomer returns a customer with the same read-through behavior as
// GetProduct.
func (c *Cache) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	if c.conn.IsOnline() {
		if cu, err := c.fetchCustomer(ctx, id); err == nil {
			if err := c.UpsertCustomer(cu); err != nil {
				logging.Warn("Failed to cache customer", map[string]interface{}{
					"customer_id": id, "error": err.Error(),
				})
			}
			return cu, nil
		}
	}

	var cu models.Customer
	err := c.db.QueryRowContext(ctx,
		"SELECT id, code, name, phone, updated_at FROM customers WHERE id = ?", id).
		Scan(&cu.ID, &cu.Code, &cu.Name, &cu.Phone, &cu.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCacheMiss, "customer "+id+" not cached")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to read cached customer", err)
	}
	return &cu, nil
}

// UpsertProduct stores or replaces a product row.
func (c *Cache) UpsertProduct(p *models.Product) error {
	query := `
	INSERT INTO products (id, sku, name, price_cents, stock, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		sku = excluded.sku, name = excluded.name,
		price_cents = excluded.price_cents, stock = excluded.stock,
		updated_at = excluded.updated_at
	`
	_, err := c.db.Exec(query, p.ID, p.SKU, p.Name, p.PriceCents, p.Stock, p.UpdatedAt)
	return err
}

// UpsertCustomer stores or replaces a customer row.
func (c *Cache) UpsertCustomer(cu *models.Customer) error {
	query := `
	INSERT INTO customers (id, code, name, phone, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		code = excluded.code, name = excluded.name,
		phone = excluded.phone, updated_at = excluded.updated_at
	`
	_, err := c.db.Exec(query, cu.ID, cu.Code, cu.Name, cu.Phone, cu.UpdatedAt)
	return err
}

// RecordSale persists a completed sale locally and enqueues it for
// delivery as a high-priority payment mutation. Returns the sale ID and
// the sync item ID. The sale is accepted regardless of connectivity.
func (c *Cache) RecordSale(payload map[string]interface{}) (saleID, itemID string, err error) {
	saleID = uuid.New().String()

	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", errors.Wrap(errors.ErrInvalid, "failed to encode sale payload", err)
	}
	_, err = c.db.Exec("INSERT INTO sales (id, payload, created_at) VALUES (?, ?, ?)",
		saleID, string(data), time.Now().UnixMilli())
	if err != nil {
		return "", "", errors.Wrap(errors.ErrStorage, "failed to record sale", err)
	}

	enriched := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		enriched[k] = v
	}
	enriched["saleId"] = saleID

	itemID = c.queue.Enqueue(models.OpPayment, "/sales", enriched, nil, models.PriorityHigh)
	logging.Info("Sale recorded and queued", map[string]interface{}{
		"sale_id": saleID,
		"item_id": itemID,
	})
	return saleID, itemID, nil
}

// RefreshProducts pulls the product list from the server into the local
// cache. Called opportunistically when connectivity returns.
func (c *Cache) RefreshProducts(ctx context.Context) (int, error) {
	var products []*models.Product
	if err := c.fetchJSON(ctx, "/products", &products); err != nil {
		return 0, err
	}
	count := 0
	for _, p := range products {
		if err := c.UpsertProduct(p); err != nil {
			logging.Warn("Failed to cache product during refresh", map[string]interface{}{
				"product_id": p.ID, "error": err.Error(),
			})
			continue
		}
		count++
	}
	return count, nil
}

// RefreshCustomers pulls the customer list from the server into the
// local cache.
func (c *Cache) RefreshCustomers(ctx context.Context) (int, error) {
	var customers []*models.Customer
	if err := c.fetchJSON(ctx, "/customers", &customers); err != nil {
		return 0, err
	}
	count := 0
	for _, cu := range customers {
		if err := c.UpsertCustomer(cu); err != nil {
			logging.Warn("Failed to cache customer during refresh", map[string]interface{}{
				"customer_id": cu.ID, "error": err.Error(),
			})
			continue
		}
		count++
	}
	return count, nil
}

func (c *Cache) fetchProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if err := c.fetchJSON(ctx, "/products/"+id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Cache) fetchCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var cu models.Customer
	if err := c.fetchJSON(ctx, "/customers/"+id, &cu); err != nil {
		return nil, err
	}
	return &cu, nil
}

func (c *Cache) fetchJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
