// Package memkv is an in-memory implementation of kvstore.KV, used by unit
// tests that don't need a real backend.
//
// It is grounded on the copy-on-write MVCC transaction pattern in
// other_examples' in-memory resource datasource (per-transaction snapshot,
// row-level copy-on-write, commit that merges modified rows back into the
// shared table), simplified from MVCC to spec §4.2's pessimistic-lock
// contract: every buffered write acquires an exclusive key lock, so a
// second writer blocks until the first transaction commits or rolls back
// rather than racing to a commit-time conflict.
package memkv

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"pgkv/internal/kvstore"
)

// Store is a process-local, lock-guarded sorted key/value map.
type Store struct {
	mu   sync.Mutex
	cond *sync.Cond
	data map[string][]byte
	lock map[string]int64 // key -> owning txn id, 0 = unlocked
	next int64
}

func New() *Store {
	s := &Store{data: make(map[string][]byte), lock: make(map[string]int64)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Store) Close() error { return nil }

func (s *Store) Begin(ctx context.Context) (kvstore.Txn, error) {
	s.mu.Lock()
	s.next++
	id := s.next
	s.mu.Unlock()
	return &txn{store: s, id: id, writes: make(map[string]*[]byte)}, nil
}

type txn struct {
	store      *Store
	id         int64
	mu         sync.Mutex
	writes     map[string]*[]byte // nil value = delete
	lockedKeys [][]byte
	done       bool
}

func (t *txn) acquire(ctx context.Context, key []byte) error {
	k := string(key)
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		owner, locked := s.lock[k]
		if !locked || owner == t.id {
			s.lock[k] = t.id
			t.lockedKeys = append(t.lockedKeys, append([]byte(nil), key...))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cond.Wait()
	}
}

func (t *txn) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	if w, ok := t.writes[string(key)]; ok {
		t.mu.Unlock()
		if w == nil {
			return nil, false, nil
		}
		return *w, true, nil
	}
	t.mu.Unlock()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *txn) Scan(ctx context.Context, start, end []byte, limit int) ([]kvstore.KeyValue, error) {
	s := t.store
	s.mu.Lock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []kvstore.KeyValue
	for _, k := range keys {
		kb := []byte(k)
		if bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			break
		}
		out = append(out, kvstore.KeyValue{Key: append([]byte(nil), kb...), Value: append([]byte(nil), s.data[k]...)})
	}
	s.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	for k, w := range t.writes {
		kb := []byte(k)
		if bytes.Compare(kb, start) < 0 || (end != nil && bytes.Compare(kb, end) >= 0) {
			continue
		}
		replaced := false
		for i := range out {
			if bytes.Equal(out[i].Key, kb) {
				if w == nil {
					out = append(out[:i], out[i+1:]...)
				} else {
					out[i].Value = append([]byte(nil), *w...)
				}
				replaced = true
				break
			}
		}
		if !replaced && w != nil {
			out = append(out, kvstore.KeyValue{Key: kb, Value: append([]byte(nil), *w...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txn) Put(ctx context.Context, key, val []byte) error {
	if err := t.acquire(ctx, key); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	v := append([]byte(nil), val...)
	t.writes[string(key)] = &v
	return nil
}

func (t *txn) Delete(ctx context.Context, key []byte) error {
	if err := t.acquire(ctx, key); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes[string(key)] = nil
	return nil
}

func (t *txn) Lock(ctx context.Context, keys [][]byte) error {
	for _, k := range keys {
		if err := t.acquire(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) Commit(ctx context.Context) error {
	s := t.store
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.cond.Broadcast()
	}()
	if t.done {
		return nil
	}
	t.mu.Lock()
	for k, w := range t.writes {
		if w == nil {
			delete(s.data, k)
		} else {
			s.data[k] = *w
		}
	}
	t.mu.Unlock()
	t.releaseLocked(s)
	t.done = true
	return nil
}

func (t *txn) Rollback(ctx context.Context) error {
	s := t.store
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.cond.Broadcast()
	}()
	if t.done {
		return nil
	}
	t.releaseLocked(s)
	t.done = true
	return nil
}

// releaseLocked must be called with s.mu held.
func (t *txn) releaseLocked(s *Store) {
	for _, k := range t.lockedKeys {
		if s.lock[string(k)] == t.id {
			delete(s.lock, string(k))
		}
	}
}
