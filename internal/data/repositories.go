package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Open connects to the database named by url. A postgres:// URL uses lib/pq;
// anything else is treated as a sqlite file path (an optional sqlite:// prefix
// is stripped). Returns the handle and the driver name it picked.
func Open(url string) (*sql.DB, string, error) {
	driver := "sqlite"
	dsn := url

	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		driver = "postgres"
	case strings.HasPrefix(url, "sqlite://"):
		dsn = strings.TrimPrefix(url, "sqlite://")
	}

	if driver == "sqlite" {
		// Single writer keeps the conditional-update path serialized;
		// modernc/sqlite returns SQLITE_BUSY under concurrent writers otherwise.
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, driver, nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure,
// for either backend. lib/pq uses SQLSTATE 23505; modernc/sqlite surfaces
// SQLITE_CONSTRAINT_UNIQUE (2067) in the error text.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed (2067)")
}

// Stats is the database summary reported by the health endpoint.
type Stats struct {
	Floors int `json:"floors"`
	Events int `json:"events"`
}

func GetStats(ctx context.Context, db DBTX) (*Stats, error) {
	var s Stats
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM floors`).Scan(&s.Floors); err != nil {
		return nil, err
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&s.Events); err != nil {
		return nil, err
	}
	return &s, nil
}
