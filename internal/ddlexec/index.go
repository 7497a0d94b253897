package ddlexec

import (
	"context"

	"pgkv/internal/catalog"
	"pgkv/internal/errs"
	"pgkv/internal/keycodec"
	"pgkv/internal/value"
)

// CreateIndex backfills an index over every existing row inside the current
// transaction, verifying uniqueness as it goes, then makes the index
// visible in the schema only once the backfill completes without error
// (spec §4.7: "the index is visible to readers starting with the
// transaction that created it, never partially").
func (e *Executor) CreateIndex(ctx context.Context, tableName, indexName string, colNames []string, unique, ifNotExists bool) error {
	schema, err := e.Store.GetTable(ctx, tableName)
	if err != nil {
		return err
	}
	for _, idx := range schema.Indexes {
		if idx.Name == indexName {
			if ifNotExists {
				return nil
			}
			return errs.New(errs.Internal, "index %q already exists", indexName).WithObject(tableName)
		}
	}
	cols := make([]int, len(colNames))
	for i, name := range colNames {
		idx := schema.ColumnIndex(name)
		if idx < 0 {
			return errs.New(errs.UndefinedColumn, "column %q does not exist", name).WithObject(tableName)
		}
		cols[i] = idx
	}
	indexID := nextIndexID(schema)

	if err := e.backfillIndex(ctx, schema, indexID, cols, unique); err != nil {
		return err
	}

	schema.Indexes = append(schema.Indexes, catalog.IndexDef{
		IndexID: indexID,
		Name:    indexName,
		Columns: cols,
		Unique:  unique,
	})
	return e.Store.PutTable(ctx, schema)
}

func nextIndexID(schema *catalog.TableSchema) uint16 {
	var max uint16
	for _, idx := range schema.Indexes {
		if idx.IndexID > max {
			max = idx.IndexID
		}
	}
	return max + 1
}

func (e *Executor) backfillIndex(ctx context.Context, schema *catalog.TableSchema, indexID uint16, cols []int, unique bool) error {
	prefix := e.NS.RowPrefix(schema.TableID)
	kvs, err := e.Txn.Scan(ctx, prefix, prefixEnd(prefix), 0)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, kv := range kvs {
		row, err := catalog.DecodeRow(kv.Value, schema, nil)
		if err != nil {
			return err
		}
		vals := make([]value.Value, len(cols))
		for i, c := range cols {
			vals[i] = row[c]
		}
		keyBytes, err := keycodec.EncodeKey(vals)
		if err != nil {
			return err
		}
		pk := pkSuffix(kv.Key, e.NS, schema.TableID)
		entryKey := e.NS.IndexEntryKey(schema.TableID, indexID, keyBytes, indexPK(unique, keycodec.AnyNull(vals), pk))
		if unique {
			sig := string(keyBytes)
			if !keycodec.AnyNull(vals) {
				if seen[sig] {
					return errs.New(errs.UniqueViolation, "could not create unique index: duplicate values exist").WithObject(schema.Name)
				}
				seen[sig] = true
			}
		}
		if err := e.Txn.Put(ctx, entryKey, pk); err != nil {
			return err
		}
	}
	return nil
}

// pkSuffix extracts the PK byte suffix from a full row key
// (`t_{table_id}_{pk}`), used as the index entry's disambiguating suffix.
func pkSuffix(rowKey []byte, ns keycodec.Namespace, tableID uint64) []byte {
	prefix := ns.RowPrefix(tableID)
	if len(rowKey) < len(prefix) {
		return nil
	}
	return rowKey[len(prefix):]
}

// indexPK returns the PK suffix to append to an index entry key: nil for a
// unique index whose key bytes contain no NULL (spec §4.1's omission rule),
// else the row's PK bytes so non-unique entries and NULL-bearing unique
// entries stay distinguishable.
func indexPK(unique, anyNull bool, pk []byte) []byte {
	if unique && !anyNull {
		return nil
	}
	return pk
}
