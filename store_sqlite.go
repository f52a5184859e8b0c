package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps each room as one JSON document in a room table. The DSN
// forces _txlock=immediate, so every mutating transaction opens as BEGIN
// IMMEDIATE and takes the write lock up front; read-modify-write is atomic
// without optimistic retries.
type SQLiteStore struct {
	db *sqlx.DB
}

// sqliteDSN makes transactions start as BEGIN IMMEDIATE unless the caller
// already chose a lock mode.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_txlock=immediate"
	}
	return dsn + "?_txlock=immediate"
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY between our own
	// transactions.
	db.SetMaxOpenConns(1)

	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS room (
		code TEXT PRIMARY KEY,
		doc TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init sqlite store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}

func (ss *SQLiteStore) Read(ctx context.Context, roomID, path string) (json.RawMessage, error) {
	var data []byte
	err := ss.db.GetContext(ctx, &data, "SELECT doc FROM room WHERE code = ?", roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal room %s: %w", roomID, err)
	}
	return marshalNode(docGet(doc, path))
}

func (ss *SQLiteStore) Write(ctx context.Context, roomID, path string, v any) error {
	return ss.MultiUpdate(ctx, roomID, map[string]any{path: v})
}

func (ss *SQLiteStore) MultiUpdate(ctx context.Context, roomID string, updates map[string]any) error {
	return ss.transact(ctx, roomID, func(doc any) (any, error) {
		return applyDocUpdates(doc, updates)
	})
}

func (ss *SQLiteStore) CompareAndSwap(ctx context.Context, roomID, path string, fn func(old json.RawMessage) (any, error)) error {
	return ss.transact(ctx, roomID, func(doc any) (any, error) {
		old, err := marshalNode(docGet(doc, path))
		if err != nil {
			return nil, err
		}
		next, err := fn(old)
		if err != nil {
			return nil, err
		}
		jv, err := toJSONValue(next)
		if err != nil {
			return nil, err
		}
		return docSet(doc, path, jv), nil
	})
}

func (ss *SQLiteStore) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := ss.db.ExecContext(ctx, "DELETE FROM room WHERE code = ?", roomID)
	return err
}

func (ss *SQLiteStore) transact(ctx context.Context, roomID string, mutate func(doc any) (any, error)) error {
	tx, err := ss.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var doc any
	var data []byte
	err = tx.GetContext(ctx, &data, "SELECT doc FROM room WHERE code = ?", roomID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err == nil {
		if uerr := json.Unmarshal(data, &doc); uerr != nil {
			return fmt.Errorf("unmarshal room %s: %w", roomID, uerr)
		}
	}

	next, err := mutate(doc)
	if err != nil {
		return err
	}

	if next == nil {
		if _, err := tx.ExecContext(ctx, "DELETE FROM room WHERE code = ?", roomID); err != nil {
			return err
		}
		return tx.Commit()
	}

	out, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", roomID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO room (code, doc) VALUES (?, ?)
		ON CONFLICT(code) DO UPDATE SET doc = excluded.doc`, roomID, string(out))
	if err != nil {
		return err
	}
	return tx.Commit()
}
