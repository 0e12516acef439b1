package pgutil

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/chainsafe/stake-ledger/pkg/config"
)

const (
	testImage      = "postgres:15-alpine"
	testDatabase   = "stake_ledger_test"
	testCredential = "ledger"
	connectRetries = 8
)

// SetupTestDB starts a PostgreSQL container and returns a connection to it
// along with a cleanup that closes the connection and removes the container.
func SetupTestDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		testImage,
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(testCredential),
		postgres.WithPassword(testCredential),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	terminate := func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	cfg, err := containerConfig(ctx, container)
	if err != nil {
		terminate()
		t.Fatalf("failed to resolve container address: %v", err)
	}

	db, err := connectWithRetry(ctx, cfg)
	if err != nil {
		terminate()
		t.Fatalf("failed to connect to test database after %d attempts: %v", connectRetries, err)
	}

	return db, func() {
		_ = db.Close()
		terminate()
	}
}

func containerConfig(ctx context.Context, container *postgres.PostgresContainer) (*config.DatabaseConfig, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, err
	}
	return &config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     testCredential,
		Password: testCredential,
		Database: testDatabase,
		SSLMode:  "disable",
	}, nil
}

// connectWithRetry backs off exponentially; the container can report ready
// before it accepts connections.
func connectWithRetry(ctx context.Context, cfg *config.DatabaseConfig) (*bun.DB, error) {
	var err error
	for i := 0; i < connectRetries; i++ {
		var db *bun.DB
		if db, err = ConnectDB(ctx, cfg, zap.NewNop()); err == nil {
			return db, nil
		}
		time.Sleep(time.Duration(100*(1<<uint(i))) * time.Millisecond)
	}
	return nil, err
}

func catalogHas(t *testing.T, db *bun.DB, what, query string, args ...any) bool {
	t.Helper()
	var exists bool
	if err := db.NewSelect().ColumnExpr("EXISTS ("+query+")", args...).Scan(context.Background(), &exists); err != nil {
		t.Fatalf("failed to look up %s: %v", what, err)
	}
	return exists
}

func tableExists(t *testing.T, db *bun.DB, tableName string) bool {
	return catalogHas(t, db, "table "+tableName,
		"SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = ?", tableName)
}

// AssertTableExists checks if a table exists in the database
func AssertTableExists(t *testing.T, db *bun.DB, tableName string) {
	t.Helper()
	if !tableExists(t, db, tableName) {
		t.Errorf("table %s does not exist", tableName)
	}
}

// AssertTableNotExists checks if a table does not exist in the database
func AssertTableNotExists(t *testing.T, db *bun.DB, tableName string) {
	t.Helper()
	if tableExists(t, db, tableName) {
		t.Errorf("table %s should not exist but it does", tableName)
	}
}

// AssertIndexExists checks if an index exists in the database
func AssertIndexExists(t *testing.T, db *bun.DB, indexName string) {
	t.Helper()
	if !catalogHas(t, db, "index "+indexName,
		"SELECT 1 FROM pg_indexes WHERE schemaname = 'public' AND indexname = ?", indexName) {
		t.Errorf("index %s does not exist", indexName)
	}
}

// AssertColumnType checks a column's information_schema data type, e.g. "numeric".
func AssertColumnType(t *testing.T, db *bun.DB, tableName, column, dataType string) {
	t.Helper()
	if !catalogHas(t, db, "column "+tableName+"."+column,
		"SELECT 1 FROM information_schema.columns WHERE table_schema = 'public' AND table_name = ? AND column_name = ? AND data_type = ?",
		tableName, column, dataType) {
		t.Errorf("column %s.%s is missing or not of type %s", tableName, column, dataType)
	}
}

// AssertRowCount checks if a table has the expected number of rows
func AssertRowCount(t *testing.T, db *bun.DB, tableName string, expected int) {
	t.Helper()
	var count int
	err := db.NewSelect().
		TableExpr("?", bun.Ident(tableName)).
		ColumnExpr("COUNT(*)").
		Scan(context.Background(), &count)
	if err != nil {
		t.Fatalf("failed to count rows in table %s: %v", tableName, err)
	}
	if count != expected {
		t.Errorf("table %s: expected %d rows, got %d", tableName, expected, count)
	}
}
