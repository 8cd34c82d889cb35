package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteTableName        = "genrelay_kv"
	sqliteOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// SQLiteAdapter stores one row per key. It opens the database lazily so
// constructing an adapter never touches the filesystem.
type SQLiteAdapter struct {
	path   string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	mu sync.Mutex
}

func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLiteAdapter{path: path, openDB: sql.Open}, nil
}

func (a *SQLiteAdapter) ensureReady() error {
	if a == nil {
		return ErrInvalidInput
	}
	a.initOnce.Do(func() {
		db, err := a.openDB("sqlite", a.path)
		if err != nil {
			a.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
		defer cancel()
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'))
			)`, sqliteTableName)
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			a.initErr = err
			return
		}
		a.db = db
	})
	return a.initErr
}

func (a *SQLiteAdapter) Get(key string) (string, bool) {
	if a == nil || strings.TrimSpace(key) == "" {
		return "", false
	}
	if err := a.ensureReady(); err != nil {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()
	var value string
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", sqliteTableName)
	if err := a.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		return "", false
	}
	return value, true
}

func (a *SQLiteAdapter) Set(key, value string) error {
	if a == nil || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	if err := a.ensureReady(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value,
			updated_at = strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now')`, sqliteTableName)
	_, err := a.db.ExecContext(ctx, query, key, value)
	return err
}

func (a *SQLiteAdapter) Remove(key string) error {
	if a == nil {
		return ErrInvalidInput
	}
	if err := a.ensureReady(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", sqliteTableName)
	_, err := a.db.ExecContext(ctx, query, key)
	return err
}

func (a *SQLiteAdapter) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
