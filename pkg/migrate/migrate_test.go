package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateFS(Migrations()); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestOrdersMigrationEnforcesMoneyInvariants(t *testing.T) {
	matches, err := fs.Glob(Migrations(), "*_create_orders.sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one orders migration, got %v", matches)
	}
	data, err := fs.ReadFile(Migrations(), matches[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS sub_orders",
		"CHECK (net_total_cents + vat_total_cents = gross_total_cents)",
		"CHECK (net_cents + vat_cents = gross_cents)",
		"order_number text NOT NULL UNIQUE",
		"deleted_at timestamptz",
		"DROP TABLE IF EXISTS orders",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateDir(dir); err == nil {
		t.Fatalf("expected invalid filename error")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Courier Notes")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !strings.HasSuffix(path, "_add_courier_notes.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestCreateSQLMigrationRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := createSQLMigration(dir, "capture lease index", at); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := createSQLMigration(dir, "capture lease index", at); err == nil {
		t.Fatalf("expected second create with the same version to fail")
	}
}

func TestMigrationSlug(t *testing.T) {
	cases := map[string]string{
		"  Add -- Courier   Notes ": "add_courier_notes",
		"sub_orders.next_retry_at":  "sub_orders_next_retry_at",
		"!!!":                       "",
	}
	for in, want := range cases {
		if got := migrationSlug(in); got != want {
			t.Errorf("migrationSlug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheckAnnotations(t *testing.T) {
	cases := map[string]string{
		"missing down":    "-- +goose Up\nSELECT 1;\n",
		"down before up":  "-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n",
		"unbalanced body": "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\nSELECT 1;\n",
	}
	for name, txt := range cases {
		if err := checkAnnotations(name+".sql", txt); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	ok := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose StatementEnd\n-- +goose Down\nSELECT 1;\n"
	if err := checkAnnotations("ok.sql", ok); err != nil {
		t.Fatalf("expected valid migration, got %v", err)
	}
}
