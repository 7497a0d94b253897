package catalog

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"pgkv/internal/errs"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
)

// Store reads and writes catalog records within one transaction. A fresh
// Store is created per transaction and discarded at commit/rollback — spec
// §5 requires catalog cache entries never survive a transaction.
type Store struct {
	ns  keycodec.Namespace
	txn kvstore.Txn
}

func NewStore(ns keycodec.Namespace, txn kvstore.Txn) *Store {
	return &Store{ns: ns, txn: txn}
}

// --- table schema ---

func (s *Store) GetTable(ctx context.Context, name string) (*TableSchema, error) {
	raw, ok, err := s.txn.Get(ctx, s.ns.SchemaKey(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.UndefinedTable, "relation %q does not exist", name).WithObject(name)
	}
	var schema TableSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "corrupt schema record for %q", name)
	}
	return &schema, nil
}

// TableExists reports presence without raising UndefinedTable.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	_, ok, err := s.txn.Get(ctx, s.ns.SchemaKey(name))
	return ok, err
}

func (s *Store) PutTable(ctx context.Context, schema *TableSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "encode schema for %q", schema.Name)
	}
	return s.txn.Put(ctx, s.ns.SchemaKey(schema.Name), raw)
}

func (s *Store) DeleteTable(ctx context.Context, name string) error {
	return s.txn.Delete(ctx, s.ns.SchemaKey(name))
}

// ListTables scans every schema record in the keyspace/namespace.
func (s *Store) ListTables(ctx context.Context) ([]*TableSchema, error) {
	prefix := s.ns.SchemaPrefix()
	kvs, err := s.txn.Scan(ctx, prefix, prefixEnd(prefix), 0)
	if err != nil {
		return nil, err
	}
	out := make([]*TableSchema, 0, len(kvs))
	for _, kv := range kvs {
		var schema TableSchema
		if err := json.Unmarshal(kv.Value, &schema); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "corrupt schema record")
		}
		out = append(out, &schema)
	}
	return out, nil
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // unbounded
}

// --- next table id: monotonic counter CAS-guarded by the transaction ---

func (s *Store) AllocateTableID(ctx context.Context) (uint64, error) {
	key := s.ns.NextTableIDKey()
	raw, ok, err := s.txn.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if ok {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := s.txn.Put(ctx, key, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// --- sequences ---

// NextSequenceValue allocates (and persists) the next value for a
// per-(table,column) sequence. Reservation happens under the current
// transaction; a rolled-back transaction need not reclaim it (gaps are
// permitted per spec §3).
func (s *Store) NextSequenceValue(ctx context.Context, tableID uint64, col int) (uint64, error) {
	key := s.ns.SequenceKey(tableID, col)
	raw, ok, err := s.txn.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if ok {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := s.txn.Put(ctx, key, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// ResetSequence deletes a per-(table,column) sequence counter so the next
// NextSequenceValue call restarts from 1, as TRUNCATE does for every SERIAL
// column (spec §4.8).
func (s *Store) ResetSequence(ctx context.Context, tableID uint64, col int) error {
	return s.txn.Delete(ctx, s.ns.SequenceKey(tableID, col))
}

// --- views ---

func (s *Store) GetView(ctx context.Context, name string) (*View, error) {
	raw, ok, err := s.txn.Get(ctx, s.ns.ViewKey(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.UndefinedTable, "view %q does not exist", name).WithObject(name)
	}
	return &View{Name: name, QueryText: string(raw)}, nil
}

func (s *Store) PutView(ctx context.Context, v *View) error {
	return s.txn.Put(ctx, s.ns.ViewKey(v.Name), []byte(v.QueryText))
}

func (s *Store) DeleteView(ctx context.Context, name string) error {
	return s.txn.Delete(ctx, s.ns.ViewKey(name))
}

// --- materialized views ---

func (s *Store) GetMatview(ctx context.Context, name string) (*MaterializedView, error) {
	raw, ok, err := s.txn.Get(ctx, s.ns.MatviewKey(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.UndefinedTable, "materialized view %q does not exist", name).WithObject(name)
	}
	var mv MaterializedView
	if err := json.Unmarshal(raw, &mv); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "corrupt matview record for %q", name)
	}
	return &mv, nil
}

func (s *Store) PutMatview(ctx context.Context, mv *MaterializedView) error {
	raw, err := json.Marshal(mv)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "encode matview for %q", mv.Name)
	}
	return s.txn.Put(ctx, s.ns.MatviewKey(mv.Name), raw)
}

func (s *Store) DeleteMatview(ctx context.Context, name string) error {
	return s.txn.Delete(ctx, s.ns.MatviewKey(name))
}

// --- procedures ---

func (s *Store) GetProcedure(ctx context.Context, name string) (*Procedure, error) {
	raw, ok, err := s.txn.Get(ctx, s.ns.ProcKey(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.UndefinedFunction, "procedure %q does not exist", name).WithObject(name)
	}
	var p Procedure
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "corrupt procedure record for %q", name)
	}
	return &p, nil
}

func (s *Store) PutProcedure(ctx context.Context, p *Procedure) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "encode procedure for %q", p.Name)
	}
	return s.txn.Put(ctx, s.ns.ProcKey(p.Name), raw)
}

func (s *Store) DeleteProcedure(ctx context.Context, name string) error {
	return s.txn.Delete(ctx, s.ns.ProcKey(name))
}
