// Package session implements the per-connection state machine of spec
// §4.3: autocommit vs explicit transaction, current user, keyspace
// binding, and lock discipline. There is no teacher analogue for a
// wire-protocol session; this package follows the texture of the
// teacher's internal/apply.Options/Applier (a small struct of mode flags
// driving one method that opens/executes/closes) generalized from "one
// DSN, one migration file" to "one connection, many statements".
package session

import (
	"context"
	"sync"

	"pgkv/internal/errs"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
)

// State is one of the three states in spec §4.3's diagram.
type State int

const (
	Idle State = iota
	InTxn
	InTxnError
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InTxn:
		return "in-transaction"
	case InTxnError:
		return "in-failed-transaction"
	default:
		return "unknown"
	}
}

// Session carries the authenticated user, selected keyspace, and explicit
// transaction state for one connection. mu guards the state fields only;
// it is released before a statement's fn runs, so it does not stop two
// statements from running at once on the same Session.
type Session struct {
	mu sync.Mutex

	KV        kvstore.KV
	Namespace keycodec.Namespace

	User       string
	Keyspace   string
	SearchPath string

	state State
	txn   kvstore.Txn
}

func New(kv kvstore.KV, ns keycodec.Namespace, user, keyspace string) *Session {
	return &Session{KV: kv, Namespace: ns, User: user, Keyspace: keyspace, state: Idle}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin starts an explicit transaction. Rejected if one is already open.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return errs.New(errs.Internal, "BEGIN issued while already in a transaction")
	}
	txn, err := s.KV.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "begin transaction")
	}
	s.txn = txn
	s.state = InTxn
	return nil
}

// Commit ends an explicit transaction. Per spec §4.3, COMMIT/ROLLBACK are
// accepted from InTxnError too (that's the only way out of it).
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle {
		return errs.New(errs.Internal, "COMMIT issued outside a transaction")
	}
	txn := s.txn
	wasError := s.state == InTxnError
	s.txn = nil
	s.state = Idle
	if wasError {
		return txn.Rollback(ctx)
	}
	if err := txn.Commit(ctx); err != nil {
		return classifyCommitErr(err)
	}
	return nil
}

func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle {
		return errs.New(errs.Internal, "ROLLBACK issued outside a transaction")
	}
	txn := s.txn
	s.txn = nil
	s.state = Idle
	return txn.Rollback(ctx)
}

// WithStatement runs fn under a Txn according to the session's current
// mode: a fresh autocommit transaction, committed on success and rolled
// back on error, or the session's shared explicit transaction. On error
// inside an explicit transaction, the session moves to InTxnError and
// every subsequent statement is rejected until ROLLBACK (spec §4.3, §7).
func (s *Session) WithStatement(ctx context.Context, fn func(ctx context.Context, txn kvstore.Txn) error) error {
	s.mu.Lock()
	if s.state == InTxnError {
		s.mu.Unlock()
		return errs.New(errs.Internal, "current transaction is aborted, commands ignored until end of transaction block")
	}
	if s.state == InTxn {
		txn := s.txn
		s.mu.Unlock()
		if err := fn(ctx, txn); err != nil {
			s.mu.Lock()
			s.state = InTxnError
			s.mu.Unlock()
			return err
		}
		return nil
	}
	s.mu.Unlock()

	// Autocommit: open/exec/commit-or-rollback a fresh transaction.
	txn, err := s.KV.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "begin autocommit transaction")
	}
	if err := fn(ctx, txn); err != nil {
		if rbErr := txn.Rollback(ctx); rbErr != nil {
			logDroppedTxnWarning(rbErr)
		}
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return classifyCommitErr(err)
	}
	return nil
}

// Close rolls back any open transaction. A connection dropped mid-
// transaction must never leave the KV facade's lock held indefinitely, and
// must never panic the process (spec §5's fatal invariant).
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn != nil {
		if err := s.txn.Rollback(ctx); err != nil {
			logDroppedTxnWarning(err)
		}
		s.txn = nil
	}
	s.state = Idle
}

func classifyCommitErr(err error) error {
	if errIsConflict(err) {
		return errs.Wrap(errs.Conflict, err, "could not serialize access due to concurrent update")
	}
	return errs.Wrap(errs.Internal, err, "commit failed")
}

func errIsConflict(err error) bool {
	for err != nil {
		if err == kvstore.ErrConflict {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return false
}

// logDroppedTxnWarning is the single place a transaction that was never
// committed/rolled-back by its owner gets rolled back implicitly. Spec §4.2
// requires this to log, never panic.
var droppedTxnLogger = func(err error) {}

func SetDroppedTxnLogger(f func(err error)) { droppedTxnLogger = f }

func logDroppedTxnWarning(err error) {
	if droppedTxnLogger != nil {
		droppedTxnLogger(err)
	}
}
