package pgwire

import "pgkv/internal/value"

// PostgreSQL type OIDs for the scalar kinds value.Kind distinguishes.
// These are the well-known, stable OIDs from PostgreSQL's pg_type catalog;
// a real client (psql, lib/pq) uses them to pick a text/binary decoder, so
// RowDescription must report the closest match even though pgkv has no
// pg_type catalog of its own.
const (
	oidBool      = 16
	oidBytea     = 17
	oidInt8      = 20
	oidInt4      = 23
	oidInt2      = 21
	oidText      = 25
	oidJSON      = 114
	oidFloat4    = 700
	oidFloat8    = 701
	oidUnknown   = 705
	oidJSONB     = 3802
	oidUUID      = 2950
	oidNumeric   = 1700
	oidTimestamp = 1114
	oidInterval  = 1186
	oidTextArray = 1009
)

// oidFor maps a runtime value kind to the OID reported in RowDescription.
// Arrays and vectors are both reported as a text array since pgkv encodes
// both as text on the wire (spec §6 does not require binary-format
// COPY/DataRow support).
func oidFor(k value.Kind) int32 {
	switch k {
	case value.KindBool:
		return oidBool
	case value.KindInt:
		return oidInt8
	case value.KindFloat:
		return oidFloat8
	case value.KindNumeric:
		return oidNumeric
	case value.KindText:
		return oidText
	case value.KindBytes:
		return oidBytea
	case value.KindTimestamp:
		return oidTimestamp
	case value.KindInterval:
		return oidInterval
	case value.KindUUID:
		return oidUUID
	case value.KindJSON:
		return oidJSON
	case value.KindJSONB:
		return oidJSONB
	case value.KindArray, value.KindVector:
		return oidTextArray
	default:
		return oidUnknown
	}
}
