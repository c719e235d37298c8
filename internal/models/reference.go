// Package models provides data model definitions for the posync core.
package models

// Product is a cached reference-data row used by the POS UI while offline.
type Product struct {
	ID         string `db:"id" json:"id"`
	SKU        string `db:"sku" json:"sku"`
	Name       string `db:"name" json:"name"`
	PriceCents int64  `db:"price_cents" json:"price_cents"`
	Stock      int64  `db:"stock" json:"stock"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Product.
func (Product) TableName() string {
	return "products"
}

// Customer is a cached reference-data row used by the POS UI while offline.
type Customer struct {
	ID        string `db:"id" json:"id"`
	Code      string `db:"code" json:"code"`
	Name      string `db:"name" json:"name"`
	Phone     string `db:"phone" json:"phone"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Customer.
func (Customer) TableName() string {
	return "customers"
}
