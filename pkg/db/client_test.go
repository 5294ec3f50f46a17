package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type testModel struct {
	ID   int
	Name string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:db_client_test?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.Migrator().DropTable(&testModel{}); err != nil {
		t.Fatalf("failed to reset sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			if err := tx.Create(&testModel{Name: "panicked"}).Error; err != nil {
				return err
			}
			panic("invariant")
		})
	}()

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected panic rollback, got %d rows", count)
	}
}

func TestPing(t *testing.T) {
	client := Wrap(newTestDB(t))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&testModel{Name: "dup"}).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	err := db.Create(&testModel{Name: "dup"}).Error
	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected sqlite unique violation, got %v", err)
	}

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"}
	if !IsUniqueViolation(pgErr, "orders_order_number_key") {
		t.Fatalf("expected pg unique violation")
	}
	if IsUniqueViolation(pgErr, "other_key") {
		t.Fatalf("constraint name should narrow the match")
	}
	if IsUniqueViolation(errors.New("boom"), "") {
		t.Fatalf("plain errors are not unique violations")
	}
}

type casModel struct {
	ID     uuid.UUID `gorm:"type:text;primaryKey"`
	Status string
}

func TestCompareAndSwap(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&casModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	row := casModel{ID: uuid.New(), Status: "a"}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx := context.Background()
	if err := CompareAndSwap(ctx, db, &casModel{}, row.ID, "status", []string{"a"}, map[string]any{"status": "b"}); err != nil {
		t.Fatalf("first swap: %v", err)
	}
	err := CompareAndSwap(ctx, db, &casModel{}, row.ID, "status", []string{"a"}, map[string]any{"status": "c"})
	if !IsTransitionConflict(err) {
		t.Fatalf("expected transition conflict, got %v", err)
	}

	var got casModel
	if err := db.First(&got, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != "b" {
		t.Fatalf("expected status b, got %s", got.Status)
	}
}

func TestWithStatementTimeout(t *testing.T) {
	cases := []struct {
		name, dsn, want string
		timeout         time.Duration
	}{
		{"url", "postgres://u:p@db:5432/ffe?sslmode=disable", "postgres://u:p@db:5432/ffe?sslmode=disable&statement_timeout=15000", 15 * time.Second},
		{"keyword", "host=db user=u dbname=ffe", "host=db user=u dbname=ffe statement_timeout=2500", 2500 * time.Millisecond},
		{"explicit wins", "postgres://db/ffe?statement_timeout=100", "postgres://db/ffe?statement_timeout=100", time.Second},
		{"disabled", "postgres://db/ffe", "postgres://db/ffe", 0},
	}
	for _, tc := range cases {
		got, err := withStatementTimeout(tc.dsn, tc.timeout)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestQueryLoggerSkipsNotFound(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: &buf})
	ql := newQueryLogger(logg, time.Hour)

	ql.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("record-not-found should not be logged: %s", buf.String())
	}

	ql.Trace(context.Background(), time.Now(), func() (string, int64) { return "UPDATE sub_orders", 0 }, errors.New("deadlock detected"))
	if !strings.Contains(buf.String(), "UPDATE sub_orders") {
		t.Fatalf("expected failed statement logged, got %s", buf.String())
	}

	buf.Reset()
	ql.Trace(context.Background(), time.Now().Add(-2*time.Hour), func() (string, int64) { return "SELECT slow", 1 }, nil)
	if !strings.Contains(buf.String(), "slow query") {
		t.Fatalf("expected slow query warning, got %s", buf.String())
	}
}
