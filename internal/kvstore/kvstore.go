// Package kvstore defines the contract the rest of the engine uses against
// the external distributed KV client (spec §4.2), plus the pluggable
// backend implementations that satisfy it.
//
// The interface names (begin/get/put/delete/scan/lock/commit/rollback)
// follow spec §4.2 verbatim; this package owns nothing about SQL — it is
// the thin facade every other component programs against.
package kvstore

import "context"

// KV is the top-level handle obtained for a keyspace; it opens Txns.
type KV interface {
	Begin(ctx context.Context) (Txn, error)
	Close() error
}

// KeyValue is one (key, value) pair returned by Scan.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Txn is a single pessimistic transaction, started at a read timestamp.
// Every method may suspend awaiting the backend (spec §5's suspension
// points) and must be safe to call from one goroutine at a time.
type Txn interface {
	// Get performs a point read honoring locks held by this transaction;
	// it returns ok=false if the key does not exist.
	Get(ctx context.Context, key []byte) (val []byte, ok bool, err error)

	// Scan returns key/value pairs in the half-open range [start, end)
	// ordered by key, honoring limit (0 means unbounded).
	Scan(ctx context.Context, start, end []byte, limit int) ([]KeyValue, error)

	// Put buffers a write, visible to later reads in this transaction but
	// not committed until Commit.
	Put(ctx context.Context, key, val []byte) error

	// Delete buffers a delete.
	Delete(ctx context.Context, key []byte) error

	// Lock acquires exclusive pessimistic locks on keys, held until Commit
	// or Rollback. Used by SELECT ... FOR UPDATE and by every UPDATE/DELETE
	// on the rows it touches.
	Lock(ctx context.Context, keys [][]byte) error

	// Commit attempts to make buffered writes durable. ErrConflict signals
	// a retryable write-write conflict; any other error is terminal.
	Commit(ctx context.Context) error

	// Rollback discards buffered writes and releases locks. Always
	// succeeds; safe to call more than once.
	Rollback(ctx context.Context) error
}

// Conflict and Aborted are sentinel error kinds a Txn.Commit may return;
// backends wrap them with errs.Conflict / errs.Internal respectively at
// the call site so the rest of the engine never imports a backend package.
type sentinel string

func (s sentinel) Error() string { return string(s) }

const (
	ErrConflict sentinel = "kvstore: write-write conflict"
	ErrAborted  sentinel = "kvstore: transaction aborted"
)
