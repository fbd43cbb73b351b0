package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	ErrDuplicateCheckout      = errors.New("order for this idempotency key already exists")
	ErrPaymentNotFound        = errors.New("payment attempt not found")
	ErrPaymentAlreadyAttached = errors.New("order already has a payment attempt")
	ErrCartChanged            = errors.New("cart changed during checkout")
)

type Credentials struct {
	Driver            string
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	Path              string // sqlite only
	MigrationsDirPath string
}

type Repository struct {
	db     *sql.DB
	driver string
}

func NewRepository(cred *Credentials) (*Repository, error) {
	driver := cred.Driver
	if driver == "" {
		driver = DriverPostgres
	}

	var dsn string
	switch driver {
	case DriverPostgres:
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cred.Host,
			cred.Port,
			cred.User,
			cred.Password,
			cred.DBName)
	case DriverSQLite:
		dsn = cred.Path
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	if driver == DriverSQLite {
		// one connection: sqlite serializes writers anyway and :memory: is per connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, e3 := db.Exec("PRAGMA foreign_keys = ON"); e3 != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", e3)
		}
	} else {
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(10)
	}
	return &Repository{db: db, driver: driver}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	var (
		driver database.Driver
		err    error
	)
	switch r.driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{})
	default:
		driver, err = postgres.WithInstance(r.db, &postgres.Config{
			MigrationsTable: "store_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", filepath.Join(cred.MigrationsDirPath, r.driver)),
		r.driver,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// no-op once committed
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// q rewrites ? placeholders into $n for postgres. Queries never contain a
// literal question mark.
func (r *Repository) q(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr interface{ Code() int }
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
