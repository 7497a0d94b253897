package catalog

import (
	"encoding/binary"

	"pgkv/internal/errs"
	"pgkv/internal/value"
)

// Row is an ordered sequence of Values whose length and types match its
// TableSchema.Columns at read time (spec §3).
type Row []value.Value

// EncodeRow serializes a full (all-columns, including dropped) row as a
// self-describing record: a column count followed by, per column, a
// one-byte type tag (tagNull for NULL, with no payload) and its payload:
// fixed-width for bool/int/float/timestamp/interval/uuid, length-prefixed
// for numeric/text/bytes/json, and element-counted for arrays and vectors.
// This lets a later ALTER TABLE ADD COLUMN grow
// the schema without rewriting existing rows: DecodeRow synthesizes
// defaults for any column beyond what was stored (spec §4.7).
func EncodeRow(row Row) []byte {
	var buf []byte
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(row)))
	buf = append(buf, countBuf[:]...)
	for _, v := range row {
		buf = append(buf, encodeValueTagged(v)...)
	}
	return buf
}

// DecodeRow reads a stored record against schema, synthesizing defaults for
// any column added after the row was written (online ADD COLUMN semantics).
// defaultEval evaluates a column's default expression when one is present
// and the stored row doesn't carry a value for that slot.
func DecodeRow(data []byte, schema *TableSchema, defaultEval func(col ColumnDef) (value.Value, error)) (Row, error) {
	if len(data) < 4 {
		return nil, errs.New(errs.Internal, "truncated row record")
	}
	stored := int(binary.BigEndian.Uint32(data[:4]))
	data = data[4:]
	row := make(Row, len(schema.Columns))
	for i := range schema.Columns {
		if i < stored {
			v, rest, err := decodeValueTagged(data)
			if err != nil {
				return nil, err
			}
			row[i] = v
			data = rest
			continue
		}
		col := schema.Columns[i]
		if col.DefaultExpr != "" && defaultEval != nil {
			v, err := defaultEval(col)
			if err != nil {
				return nil, err
			}
			row[i] = v
		} else {
			row[i] = value.Null()
		}
	}
	// Skip any trailing columns present in the stored record but no longer
	// in schema.Columns' length (should not happen: DROP COLUMN tombstones
	// rather than shrinking, but guard against corrupt records).
	return row, nil
}

const (
	tagNull byte = iota
	tagBool
	tagInt
	tagFloat
	tagNumeric
	tagText
	tagBytes
	tagTimestamp
	tagInterval
	tagUUID
	tagJSON
	tagJSONB
	tagArray
	tagVector
)

func encodeValueTagged(v value.Value) []byte {
	var buf []byte
	switch v.Kind {
	case value.KindNull:
		return []byte{tagNull}
	case value.KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{tagBool, b}
	case value.KindInt:
		buf = make([]byte, 9)
		buf[0] = tagInt
		binary.BigEndian.PutUint64(buf[1:], uint64(v.Int))
		return buf
	case value.KindFloat:
		buf = make([]byte, 9)
		buf[0] = tagFloat
		binary.BigEndian.PutUint64(buf[1:], mathFloatBits(v.Float))
		return buf
	case value.KindNumeric:
		return lengthPrefix(tagNumeric, []byte(v.Numeric.String()))
	case value.KindText:
		return lengthPrefix(tagText, []byte(v.Text))
	case value.KindBytes:
		return lengthPrefix(tagBytes, v.Bytes)
	case value.KindTimestamp:
		buf = make([]byte, 9)
		buf[0] = tagTimestamp
		binary.BigEndian.PutUint64(buf[1:], uint64(v.Time.UnixMicro()))
		return buf
	case value.KindInterval:
		buf = make([]byte, 17)
		buf[0] = tagInterval
		binary.BigEndian.PutUint32(buf[1:5], uint32(v.Interval.Months))
		binary.BigEndian.PutUint32(buf[5:9], uint32(v.Interval.Days))
		binary.BigEndian.PutUint64(buf[9:17], uint64(v.Interval.Micros))
		return buf
	case value.KindUUID:
		return append([]byte{tagUUID}, v.UUID[:]...)
	case value.KindJSON:
		return lengthPrefix(tagJSON, []byte(v.Text))
	case value.KindJSONB:
		return lengthPrefix(tagJSONB, []byte(v.Text))
	case value.KindArray:
		out := []byte{tagArray, byte(v.ElemKind)}
		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(v.Array)))
		out = append(out, countBuf[:]...)
		for _, e := range v.Array {
			out = append(out, encodeValueTagged(e)...)
		}
		return out
	case value.KindVector:
		out := []byte{tagVector}
		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(v.Vector)))
		out = append(out, countBuf[:]...)
		for _, f := range v.Vector {
			var fb [8]byte
			binary.BigEndian.PutUint64(fb[:], mathFloatBits(f))
			out = append(out, fb[:]...)
		}
		return out
	default:
		return []byte{tagNull}
	}
}

func decodeValueTagged(data []byte) (value.Value, []byte, error) {
	if len(data) == 0 {
		return value.Value{}, nil, errs.New(errs.Internal, "truncated value record")
	}
	tag := data[0]
	data = data[1:]
	switch tag {
	case tagNull:
		return value.Null(), data, nil
	case tagBool:
		if len(data) < 1 {
			return value.Value{}, nil, errs.New(errs.Internal, "truncated bool")
		}
		return value.Bool(data[0] == 1), data[1:], nil
	case tagInt:
		if len(data) < 8 {
			return value.Value{}, nil, errs.New(errs.Internal, "truncated int")
		}
		return value.Int(int64(binary.BigEndian.Uint64(data[:8]))), data[8:], nil
	case tagFloat:
		if len(data) < 8 {
			return value.Value{}, nil, errs.New(errs.Internal, "truncated float")
		}
		return value.Float(mathFloatFromBits(binary.BigEndian.Uint64(data[:8]))), data[8:], nil
	case tagNumeric:
		s, rest, err := readLengthPrefixed(data)
		if err != nil {
			return value.Value{}, nil, err
		}
		n, err := value.Cast(value.Text(string(s)), value.TNumeric)
		if err != nil {
			return value.Value{}, nil, err
		}
		return n, rest, nil
	case tagText:
		s, rest, err := readLengthPrefixed(data)
		if err != nil {
			return value.Value{}, nil, err
		}
		return value.Text(string(s)), rest, nil
	case tagBytes:
		b, rest, err := readLengthPrefixed(data)
		if err != nil {
			return value.Value{}, nil, err
		}
		return value.Bytea(b), rest, nil
	case tagTimestamp:
		if len(data) < 8 {
			return value.Value{}, nil, errs.New(errs.Internal, "truncated timestamp")
		}
		micros := int64(binary.BigEndian.Uint64(data[:8]))
		return value.Timestamp(microsToTime(micros)), data[8:], nil
	case tagInterval:
		if len(data) < 16 {
			return value.Value{}, nil, errs.New(errs.Internal, "truncated interval")
		}
		months := int32(binary.BigEndian.Uint32(data[:4]))
		days := int32(binary.BigEndian.Uint32(data[4:8]))
		micros := int64(binary.BigEndian.Uint64(data[8:16]))
		return value.IntervalVal(value.Interval{Months: months, Days: days, Micros: micros}), data[16:], nil
	case tagUUID:
		if len(data) < 16 {
			return value.Value{}, nil, errs.New(errs.Internal, "truncated uuid")
		}
		var u [16]byte
		copy(u[:], data[:16])
		return value.UUIDVal(u), data[16:], nil
	case tagJSON:
		s, rest, err := readLengthPrefixed(data)
		if err != nil {
			return value.Value{}, nil, err
		}
		return value.JSONVal(string(s)), rest, nil
	case tagJSONB:
		s, rest, err := readLengthPrefixed(data)
		if err != nil {
			return value.Value{}, nil, err
		}
		return value.JSONBVal(string(s)), rest, nil
	case tagArray:
		if len(data) < 5 {
			return value.Value{}, nil, errs.New(errs.Internal, "truncated array")
		}
		elemKind := value.Kind(data[0])
		count := int(binary.BigEndian.Uint32(data[1:5]))
		data = data[5:]
		items := make([]value.Value, count)
		for i := 0; i < count; i++ {
			v, rest, err := decodeValueTagged(data)
			if err != nil {
				return value.Value{}, nil, err
			}
			items[i] = v
			data = rest
		}
		return value.ArrayVal(elemKind, items), data, nil
	case tagVector:
		if len(data) < 4 {
			return value.Value{}, nil, errs.New(errs.Internal, "truncated vector")
		}
		count := int(binary.BigEndian.Uint32(data[:4]))
		data = data[4:]
		out := make([]float64, count)
		for i := 0; i < count; i++ {
			if len(data) < 8 {
				return value.Value{}, nil, errs.New(errs.Internal, "truncated vector element")
			}
			out[i] = mathFloatFromBits(binary.BigEndian.Uint64(data[:8]))
			data = data[8:]
		}
		return value.VectorVal(out), data, nil
	default:
		return value.Value{}, nil, errs.New(errs.Internal, "unknown value tag %d", tag)
	}
}

func lengthPrefix(tag byte, data []byte) []byte {
	out := make([]byte, 0, 5+len(data))
	out = append(out, tag)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(data)))
	out = append(out, lb[:]...)
	out = append(out, data...)
	return out
}

func readLengthPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errs.New(errs.Internal, "truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(data[:4]))
	data = data[4:]
	if len(data) < n {
		return nil, nil, errs.New(errs.Internal, "truncated payload")
	}
	return data[:n], data[n:], nil
}
