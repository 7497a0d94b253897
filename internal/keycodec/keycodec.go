// Package keycodec encodes/decodes every catalog, row, index, and system key
// the engine writes to the KV store, and enforces the namespace/keyspace
// prefixing discipline of spec §4.1.
//
// Encoding discipline is grounded on the row-identity handling in
// other_examples' in-memory MVCC datasource (row copy keyed by a stable
// per-row identity under COW snapshots) generalized here to byte-level
// keys whose shared prefixes keep prefix range scans valid.
package keycodec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"pgkv/internal/value"
)

// Namespace layers an optional intra-keyspace prefix on top of whatever
// keyspace prefix the KV facade's client applies transparently (spec §4.1:
// KS_PREFIX is supplied by the facade, NS_PREFIX is ours to add).
type Namespace struct {
	Name string // empty means no namespace prefix
}

func (n Namespace) prefix() string {
	if n.Name == "" {
		return ""
	}
	return "n_" + n.Name + "_"
}

func (n Namespace) key(parts ...string) []byte {
	return []byte(n.prefix() + strings.Join(parts, ""))
}

// --- system keys ---

func (n Namespace) NextTableIDKey() []byte { return n.key("_sys_next_table_id") }

func (n Namespace) SequenceKey(tableID uint64, col int) []byte {
	return n.key("_sys_seq_", itoa(tableID), "_", strconv.Itoa(col))
}

func (n Namespace) SchemaKey(tableName string) []byte {
	return n.key("_sys_schema_", tableName)
}

func (n Namespace) SchemaPrefix() []byte { return n.key("_sys_schema_") }

func (n Namespace) ViewKey(viewName string) []byte { return n.key("_sys_view_", viewName) }

func (n Namespace) MatviewKey(name string) []byte { return n.key("_sys_matview_", name) }

func (n Namespace) ProcKey(name string) []byte { return n.key("_sys_proc_", name) }

func (n Namespace) UserKey(name string) []byte { return n.key("_sys_user_", name) }

func (n Namespace) UserPrefix() []byte { return n.key("_sys_user_") }

func (n Namespace) RoleGrantKey(role, member string) []byte {
	return n.key("_sys_rolegrant_", role, "_", member)
}

func (n Namespace) RoleGrantPrefix(role string) []byte {
	return n.key("_sys_rolegrant_", role, "_")
}

func (n Namespace) PrivilegeKey(grantee, object, priv string) []byte {
	return n.key("_sys_priv_", grantee, "_", object, "_", priv)
}

func (n Namespace) PrivilegePrefix(grantee string) []byte {
	return n.key("_sys_priv_", grantee, "_")
}

// --- row and index keys ---

func itoa(u uint64) string { return strconv.FormatUint(u, 10) }

// RowKey builds `t_{table_id}_{pk_bytes}`.
func (n Namespace) RowKey(tableID uint64, pk []byte) []byte {
	return append(n.key("t_", itoa(tableID), "_"), pk...)
}

// RowPrefix returns the prefix whose range scan yields every row of a table
// in PK byte order (spec §8 invariant).
func (n Namespace) RowPrefix(tableID uint64) []byte {
	return n.key("t_", itoa(tableID), "_")
}

// IndexEntryKey builds `i_{table_id}_{index_id}_{key_bytes}_{pk_bytes}`.
// Per spec §4.1, unique indexes may omit the pk suffix when the encoded key
// bytes contain no NULL column; callers pass pk=nil in that case.
func (n Namespace) IndexEntryKey(tableID uint64, indexID uint16, keyBytes, pk []byte) []byte {
	base := n.key("i_", itoa(tableID), "_", strconv.Itoa(int(indexID)), "_")
	base = append(base, keyBytes...)
	if pk != nil {
		base = append(base, 0) // separator before the pk suffix; key bytes may themselves contain 0x00
		base = append(base, pk...)
	}
	return base
}

// IndexPrefix returns the range-scan prefix for an index, optionally
// restricted to a leading-column equality prefix (keyPrefix), enabling
// IndexPointLookup / prefix range scans (spec §4.6).
func (n Namespace) IndexPrefix(tableID uint64, indexID uint16, keyPrefix []byte) []byte {
	base := n.key("i_", itoa(tableID), "_", strconv.Itoa(int(indexID)), "_")
	return append(base, keyPrefix...)
}

// EncodeComponent encodes one column value as part of a composite key.
// Bool, int, float/numeric, timestamp and uuid encode order-preservingly.
// Text, json and bytes are length-prefixed so no encoded value can spill
// into the next component (spec §4.1 delimiter discipline); because the
// length comes first, those components sort by length and only then
// bytewise, not lexicographically ("b" encodes below "aa").
func EncodeComponent(v value.Value) ([]byte, error) {
	if v.IsNull() {
		// A single tag byte distinct from every other tag's leading byte,
		// sorting NULLs first.
		return []byte{0x00}, nil
	}
	var buf []byte
	switch v.Kind {
	case value.KindBool:
		b := byte(0x02)
		if v.Bool {
			b = 0x03
		}
		buf = []byte{b}
	case value.KindInt:
		buf = make([]byte, 9)
		buf[0] = 0x10
		u := uint64(v.Int) ^ (1 << 63)
		binary.BigEndian.PutUint64(buf[1:], u)
	case value.KindFloat, value.KindNumeric:
		f := v.Float
		if v.Kind == value.KindNumeric {
			f = v.Numeric.Float64()
		}
		bits := floatSortBits(f)
		buf = make([]byte, 9)
		buf[0] = 0x11
		binary.BigEndian.PutUint64(buf[1:], bits)
	case value.KindText, value.KindJSON, value.KindJSONB:
		buf = lengthPrefixed(0x20, []byte(v.Text))
	case value.KindBytes:
		buf = lengthPrefixed(0x21, v.Bytes)
	case value.KindTimestamp:
		buf = make([]byte, 9)
		buf[0] = 0x30
		binary.BigEndian.PutUint64(buf[1:], uint64(v.Time.UnixMicro())^(1<<63))
	case value.KindUUID:
		buf = append([]byte{0x31}, v.UUID[:]...)
	default:
		return nil, fmt.Errorf("keycodec: type %s cannot appear in a key", v.Kind)
	}
	return buf, nil
}

func floatSortBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if f < 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// lengthPrefixed tags buf with a 1-byte kind tag and a big-endian uint32
// length prefix, guaranteeing the delimiter discipline spec §4.1 requires:
// no encoded component can be mistaken for the start of the next one.
func lengthPrefixed(tag byte, data []byte) []byte {
	out := make([]byte, 0, 5+len(data))
	out = append(out, tag)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(data)))
	out = append(out, lb[:]...)
	out = append(out, data...)
	return out
}

// EncodeKey concatenates the EncodeComponent encoding of each column in
// order, used for both PK bytes and index key bytes.
func EncodeKey(cols []value.Value) ([]byte, error) {
	var out []byte
	for _, c := range cols {
		enc, err := EncodeComponent(c)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

// AnyNull reports whether any column in cols is NULL, used to decide
// whether a unique index entry must carry the PK suffix (spec §4.1).
func AnyNull(cols []value.Value) bool {
	for _, c := range cols {
		if c.IsNull() {
			return true
		}
	}
	return false
}
