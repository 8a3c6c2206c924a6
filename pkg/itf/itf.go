// Package itf provides integration-test fixtures backed by real postgres and redis.
package itf

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/org-import/pkg/configuration"
)

const (
	maxDBNameLength  = 63
	hashSuffixLength = 9
)

// Database reads DB_* from the environment with the same defaults as the app.
func Database() configuration.DatabaseOptions {
	var d configuration.DatabaseOptions
	if err := env.Parse(&d); err != nil {
		panic(err)
	}
	return d
}

func InCI() bool {
	return strings.TrimSpace(os.Getenv("CI")) != "" || strings.EqualFold(strings.TrimSpace(os.Getenv("GITHUB_ACTIONS")), "true")
}

func CanDial(tb testing.TB, addr string) bool {
	tb.Helper()

	dialer := &net.Dialer{Timeout: 250 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// RequirePostgres skips the test when postgres is down, except on CI where it fails.
func RequirePostgres(tb testing.TB) {
	tb.Helper()
	d := Database()
	if CanDial(tb, net.JoinHostPort(d.Host, d.Port)) {
		return
	}
	if InCI() {
		tb.Fatalf("postgres is not reachable (DB_HOST/DB_PORT)")
	}
	tb.Skip("postgres is not reachable; skipping integration test")
}

// RequireRedis returns REDIS_ADDR, skipping like RequirePostgres when redis is down.
func RequireRedis(tb testing.TB) string {
	tb.Helper()
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		addr = "localhost:6379"
	}
	if CanDial(tb, addr) {
		return addr
	}
	if InCI() {
		tb.Fatalf("redis is not reachable (REDIS_ADDR)")
	}
	tb.Skip("redis is not reachable; skipping integration test")
	return ""
}

// CreateDB drops and recreates a database named after name.
func CreateDB(ctx context.Context, name string) error {
	d := Database()
	admin := d
	admin.Name = "postgres"

	conn, err := pgx.Connect(ctx, admin.ConnectionString())
	if err != nil {
		return fmt.Errorf("connect admin db: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	ident := pgx.Identifier{SanitizeDBName(name)}.Sanitize()
	if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS "+ident+" WITH (FORCE)"); err != nil {
		return fmt.Errorf("drop database: %w", err)
	}
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+ident); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}

func DbOpts(name string) string {
	d := Database()
	d.Name = SanitizeDBName(name)
	return d.ConnectionString()
}

func NewPool(dbOpts string) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dbOpts)
	if err != nil {
		panic(err)
	}
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		panic(fmt.Errorf("failed to create database pool: %w", err))
	}
	return pool
}

// DatabaseManager owns a throwaway database for one test.
type DatabaseManager struct {
	pool   *pgxpool.Pool
	dbName string
}

// NewDatabaseManager creates a database named after the test and closes its pool on
// cleanup. The test is skipped when postgres is unreachable.
func NewDatabaseManager(t *testing.T) *DatabaseManager {
	t.Helper()
	RequirePostgres(t)

	dbName := t.Name()
	if err := CreateDB(context.Background(), dbName); err != nil {
		t.Fatalf("create test database: %v", err)
	}
	dm := &DatabaseManager{
		pool:   NewPool(DbOpts(dbName)),
		dbName: dbName,
	}
	t.Cleanup(dm.Close)
	return dm
}

func (dm *DatabaseManager) Pool() *pgxpool.Pool {
	return dm.pool
}

func (dm *DatabaseManager) Close() {
	if dm.pool != nil {
		dm.pool.Close()
		dm.pool = nil
	}
}

var dbNameReplacer = strings.NewReplacer("/", "_", " ", "_", "-", "_", ".", "_", "(", "_", ")", "_", "[", "_", "]", "_")

// SanitizeDBName lowercases name, maps punctuation to underscores and keeps it within
// postgres' 63 byte identifier limit.
func SanitizeDBName(name string) string {
	sanitized := dbNameReplacer.Replace(strings.ToLower(name))
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "test_db"
	}
	if len(sanitized) <= maxDBNameLength {
		return sanitized
	}
	sum := sha256.Sum256([]byte(name))
	return fmt.Sprintf("%s_%x", sanitized[:maxDBNameLength-hashSuffixLength], sum[:4])
}
