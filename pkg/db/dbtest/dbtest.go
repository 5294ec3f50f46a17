// Package dbtest opens isolated in-memory sqlite databases carrying the
// fulfillment schema for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE tax_profiles (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  rate_bps INTEGER NOT NULL,
  is_default BOOLEAN NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE tax_profile_assignments (
  id TEXT PRIMARY KEY,
  tax_profile_id TEXT NOT NULL,
  scope TEXT NOT NULL,
  subject_id TEXT NOT NULL,
  created_at DATETIME,
  UNIQUE (scope, subject_id)
)`,
	`CREATE TABLE vendor_payment_accounts (
  id TEXT PRIMARY KEY,
  vendor_id TEXT NOT NULL UNIQUE,
  square_location_id TEXT NOT NULL,
  payable BOOLEAN NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE client_payment_methods (
  id TEXT PRIMARY KEY,
  client_id TEXT NOT NULL,
  square_customer_id TEXT NOT NULL,
  square_card_id TEXT NOT NULL,
  is_default BOOLEAN NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  client_id TEXT NOT NULL,
  submitted_by TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending_confirmation',
  currency TEXT NOT NULL,
  total_cents INTEGER NOT NULL,
  pricing_convention TEXT NOT NULL,
  delivery_address TEXT NOT NULL,
  assigned_agent_id TEXT,
  cancel_reason TEXT,
  confirmed_at DATETIME,
  canceled_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  deleted_at DATETIME
)`,
	`CREATE TABLE sub_orders (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  vendor_id TEXT NOT NULL,
  currency TEXT NOT NULL,
  subtotal_cents INTEGER NOT NULL,
  net_total_cents INTEGER NOT NULL,
  vat_total_cents INTEGER NOT NULL,
  gross_total_cents INTEGER NOT NULL,
  vat_rate_bps INTEGER NOT NULL,
  tax_profile_id TEXT,
  fee_rate_bps INTEGER NOT NULL,
  fee_cents INTEGER NOT NULL,
  payment_hold_ref TEXT,
  payment_status TEXT NOT NULL DEFAULT 'none',
  payment_attempt_count INTEGER NOT NULL DEFAULT 0,
  authorization_seq INTEGER NOT NULL DEFAULT 0,
  last_payment_error_code TEXT,
  last_payment_error_message TEXT,
  last_payment_attempt_at DATETIME,
  next_payment_retry_at DATETIME,
  requires_client_update BOOLEAN NOT NULL DEFAULT 0,
  authorized_at DATETIME,
  authorization_expires_at DATETIME,
  captured_at DATETIME,
  settlement_ref TEXT,
  settled_at DATETIME,
  released_at DATETIME,
  fulfillment_status TEXT NOT NULL DEFAULT 'pending',
  delivered_at DATETIME,
  locked_by TEXT,
  locked_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  deleted_at DATETIME,
  CHECK (net_total_cents + vat_total_cents = gross_total_cents)
)`,
	`CREATE UNIQUE INDEX ux_sub_orders_order_vendor ON sub_orders (order_id, vendor_id) WHERE deleted_at IS NULL`,
	`CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  sub_order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  category_id TEXT,
  name TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  net_cents INTEGER NOT NULL,
  vat_cents INTEGER NOT NULL,
  gross_cents INTEGER NOT NULL,
  vat_rate_bps INTEGER NOT NULL,
  tax_profile_id TEXT NOT NULL,
  created_at DATETIME,
  deleted_at DATETIME,
  CHECK (net_cents + vat_cents = gross_cents)
)`,
	`CREATE TABLE deliveries (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  sub_order_id TEXT,
  courier_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'assigned',
  notes TEXT,
  exception_reason TEXT,
  assigned_at DATETIME NOT NULL,
  picked_up_at DATETIME,
  in_transit_at DATETIME,
  delivered_at DATETIME,
  exception_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE UNIQUE INDEX ux_deliveries_active_sub_order ON deliveries (sub_order_id) WHERE sub_order_id IS NOT NULL AND status <> 'exception'`,
	`CREATE TABLE ledger_events (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  sub_order_id TEXT NOT NULL,
  vendor_id TEXT NOT NULL,
  actor_id TEXT,
  type TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  gateway_ref TEXT,
  metadata TEXT,
  created_at DATETIME
)`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
)`,
}

// Open returns a fresh database with every table created. Each call gets its
// own named in-memory database so tests never share rows.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ffe_%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// a single connection serializes writers the way row locks would
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}
