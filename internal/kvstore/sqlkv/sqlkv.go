// Package sqlkv implements kvstore.KV on top of a SQL table reachable via
// database/sql, so a `(key VARBINARY PRIMARY KEY, value LONGBLOB)` table in
// an ordinary SQL database can stand in for the distributed KV cluster
// spec §4.2 assumes.
//
// Grounded on the teacher's internal/apply.Applier, which opens a
// *sql.DB from a DSN and wraps statement execution in a *sql.Tx
// (options.Transaction / options.DryRun mirrors this package's use of
// `SELECT ... FOR UPDATE` inside a database/sql transaction for the
// pessimistic-lock contract). The MySQL driver
// (github.com/go-sql-driver/mysql) is registered by callers exactly as
// cmd/smf/main.go did with `_ "github.com/go-sql-driver/mysql"`.
package sqlkv

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"

	"pgkv/internal/kvstore"
)

const createTableDDL = `CREATE TABLE IF NOT EXISTS %s (
	kv_key VARBINARY(3072) PRIMARY KEY,
	kv_value LONGBLOB NOT NULL
)`

// Store is a kvstore.KV backed by a SQL table.
type Store struct {
	db    *sql.DB
	table string
}

// Open creates (if needed) the backing table and returns a Store. dsn is a
// database/sql data source name for the `mysql` driver registered by the
// caller.
func Open(ctx context.Context, db *sql.DB, table string) (*Store, error) {
	if table == "" {
		table = "pgkv_store"
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(createTableDDL, table)); err != nil {
		return nil, fmt.Errorf("sqlkv: create table: %w", err)
	}
	return &Store{db: db, table: table}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Begin(ctx context.Context) (kvstore.Txn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txn{store: s, tx: tx, locked: make(map[string]bool)}, nil
}

type txn struct {
	store  *Store
	tx     *sql.Tx
	locked map[string]bool
	done   bool
}

func (t *txn) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	row := t.tx.QueryRowContext(ctx, fmt.Sprintf("SELECT kv_value FROM %s WHERE kv_key = ?", t.store.table), key)
	var val []byte
	if err := row.Scan(&val); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

func (t *txn) Scan(ctx context.Context, start, end []byte, limit int) ([]kvstore.KeyValue, error) {
	query := fmt.Sprintf("SELECT kv_key, kv_value FROM %s WHERE kv_key >= ?", t.store.table)
	args := []any{start}
	if end != nil {
		query += " AND kv_key < ?"
		args = append(args, end)
	}
	query += " ORDER BY kv_key"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []kvstore.KeyValue
	for rows.Next() {
		var kv kvstore.KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, rows.Err()
}

func (t *txn) Put(ctx context.Context, key, val []byte) error {
	_, err := t.tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (kv_key, kv_value) VALUES (?, ?) ON DUPLICATE KEY UPDATE kv_value = VALUES(kv_value)", t.store.table),
		key, val)
	return err
}

func (t *txn) Delete(ctx context.Context, key []byte) error {
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE kv_key = ?", t.store.table), key)
	return err
}

// Lock acquires row locks via SELECT ... FOR UPDATE, the same mechanism the
// teacher's apply package relies on for safe concurrent DSN access.
func (t *txn) Lock(ctx context.Context, keys [][]byte) error {
	for _, k := range keys {
		if t.locked[string(k)] {
			continue
		}
		row := t.tx.QueryRowContext(ctx, fmt.Sprintf("SELECT kv_key FROM %s WHERE kv_key = ? FOR UPDATE", t.store.table), k)
		var got []byte
		if err := row.Scan(&got); err != nil && err != sql.ErrNoRows {
			return err
		}
		t.locked[string(k)] = true
	}
	return nil
}

func (t *txn) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", kvstore.ErrConflict, err)
	}
	return nil
}

func (t *txn) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
