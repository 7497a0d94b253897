package dmlexec

import "context"

// Truncate deletes every row and index entry of table by key-range and
// resets its per-column sequences (spec §4.8) — unlike a scanned DELETE,
// it never evaluates row-level CHECK/trigger logic.
func (e *Executor) Truncate(ctx context.Context, table string) error {
	schema, err := e.Store.GetTable(ctx, table)
	if err != nil {
		return err
	}
	if err := e.deleteRangePrefix(ctx, e.NS.RowPrefix(schema.TableID)); err != nil {
		return err
	}
	for _, idx := range schema.Indexes {
		if err := e.deleteRangePrefix(ctx, e.NS.IndexPrefix(schema.TableID, idx.IndexID, nil)); err != nil {
			return err
		}
	}
	for i, col := range schema.Columns {
		if col.IsSerial {
			if err := e.Store.ResetSequence(ctx, schema.TableID, i); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executor) deleteRangePrefix(ctx context.Context, prefix []byte) error {
	end := prefixEnd(prefix)
	for {
		kvs, err := e.Txn.Scan(ctx, prefix, end, 1000)
		if err != nil {
			return err
		}
		if len(kvs) == 0 {
			return nil
		}
		for _, kv := range kvs {
			if err := e.Txn.Delete(ctx, kv.Key); err != nil {
				return err
			}
		}
		if len(kvs) < 1000 {
			return nil
		}
	}
}
