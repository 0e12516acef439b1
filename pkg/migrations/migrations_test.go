package migrations

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"github.com/chainsafe/stake-ledger/pkg/ledgerstore"
	"github.com/chainsafe/stake-ledger/pkg/migrations/ledgerdb"
	mghelper "github.com/chainsafe/stake-ledger/pkg/pgutil"
	runner "github.com/chainsafe/stake-ledger/pkg/pgutil/migrations"
)

func requireDockerAccess(t *testing.T) {
	t.Helper()
	for _, sock := range []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	} {
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		conn, err := (&net.Dialer{}).DialContext(context.Background(), "unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}
	t.Skip("docker daemon socket is not accessible; skipping testcontainer-backed migration tests")
}

func migrated(t *testing.T) (*bun.DB, *migrate.Migrator) {
	t.Helper()
	requireDockerAccess(t)

	db, cleanup := mghelper.SetupTestDB(t)
	t.Cleanup(cleanup)
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, ledgerdb.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if group.IsZero() {
		t.Fatal("Expected migrations to run, but none were applied")
	}
	return db, migrator
}

func TestLedgerDBMigrations_Apply(t *testing.T) {
	db, _ := migrated(t)

	for _, table := range []string{"users", "stakes", "transactions", "bun_migrations"} {
		mghelper.AssertTableExists(t, db, table)
	}

	mghelper.AssertIndexExists(t, db, "idx_stakes_user_id")
	mghelper.AssertIndexExists(t, db, "idx_transactions_user_id")
	mghelper.AssertIndexExists(t, db, "idx_transactions_stake_id")
	mghelper.AssertIndexExists(t, db, "idx_transactions_created_at")
	mghelper.AssertIndexExists(t, db, ledgerdb.OpenStakesIndex)

	mghelper.AssertColumnType(t, db, "users", "balance", "numeric")
	mghelper.AssertColumnType(t, db, "stakes", "last_accrued_at", "timestamp with time zone")
	mghelper.AssertColumnType(t, db, "transactions", "amount", "numeric")
}

func TestLedgerDBMigrations_Idempotency(t *testing.T) {
	db, migrator := migrated(t)

	group, err := migrator.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Second Migrate() failed: %v", err)
	}
	if !group.IsZero() {
		t.Error("Expected no new migrations on second run")
	}
	mghelper.AssertTableExists(t, db, "stakes")
}

func TestLedgerDBMigrations_Rollback(t *testing.T) {
	db, migrator := migrated(t)

	group, err := migrator.Rollback(context.Background())
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("Expected rollback to process a migration")
	}

	mghelper.AssertTableNotExists(t, db, "transactions")
	mghelper.AssertTableNotExists(t, db, "stakes")
	mghelper.AssertTableNotExists(t, db, "users")
}

func TestLedgerDBMigrations_Constraints(t *testing.T) {
	db, _ := migrated(t)
	ctx := context.Background()
	now := time.Now().UTC()

	usr := &ledgerstore.UserDao{ID: uuid.NewString(), Email: "alice@example.com", Name: "Alice", CreatedAt: now}
	if _, err := db.NewInsert().Model(usr).Exec(ctx); err != nil {
		t.Fatalf("insert user failed: %v", err)
	}
	mghelper.AssertRowCount(t, db, "users", 1)

	dup := &ledgerstore.UserDao{ID: uuid.NewString(), Email: "alice@example.com", Name: "Alice Again", CreatedAt: now}
	if _, err := db.NewInsert().Model(dup).Exec(ctx); err == nil {
		t.Error("Expected duplicate email insert to fail")
	}

	ref := "pay-1"
	for i := 0; i < 2; i++ {
		txn := &ledgerstore.TransactionDao{
			ID:          uuid.NewString(),
			UserID:      usr.ID,
			Kind:        "deposit",
			Status:      "pending",
			ExternalRef: &ref,
			CreatedAt:   now,
		}
		_, err := db.NewInsert().Model(txn).Exec(ctx)
		if i == 0 && err != nil {
			t.Fatalf("insert transaction failed: %v", err)
		}
		if i == 1 && err == nil {
			t.Error("Expected duplicate payment reference insert to fail")
		}
	}
	mghelper.AssertRowCount(t, db, "transactions", 1)
}

func TestRunMigrations_Commands(t *testing.T) {
	requireDockerAccess(t)
	db, cleanup := mghelper.SetupTestDB(t)
	t.Cleanup(cleanup)
	ctx := context.Background()
	logger := zap.NewNop()

	migrator := migrate.NewMigrator(db, ledgerdb.Migrations)

	if err := runner.RunMigrations(ctx, migrator, logger); err == nil {
		t.Error("RunMigrations() without a command should fail")
	}
	if err := runner.RunMigrations(ctx, migrator, logger, "sideways"); err == nil {
		t.Error("RunMigrations() with an unknown command should fail")
	}

	for _, cmd := range []string{"init", "up", "status"} {
		if err := runner.RunMigrations(ctx, migrator, logger, cmd); err != nil {
			t.Fatalf("RunMigrations(%s) failed: %v", cmd, err)
		}
	}
	mghelper.AssertTableExists(t, db, "stakes")

	if err := runner.RunMigrations(ctx, migrator, logger, "down"); err != nil {
		t.Fatalf("RunMigrations(down) failed: %v", err)
	}
	mghelper.AssertTableNotExists(t, db, "stakes")
}
