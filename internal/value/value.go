// Package value implements the tagged scalar union every SQL value maps to,
// along with the three-valued-logic comparison and coercion rules the rest
// of the engine relies on.
//
// The type classification (numeric / string / temporal / special) follows
// the grouping the teacher uses for its per-dialect raw-type tables in
// internal/core/raw_types.go, generalized from "is this type name valid for
// dialect D" to "what runtime Value variant backs this type".
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a Value's variant. Like the teacher's core.DataType, this
// is a closed, data-driven tag consumed by case analysis — never by type
// assertion chains or inheritance.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindNumeric
	KindText
	KindBytes
	KindTimestamp
	KindInterval
	KindUUID
	KindJSON
	KindJSONB
	KindArray
	KindVector
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindTimestamp:
		return "timestamp"
	case KindInterval:
		return "interval"
	case KindUUID:
		return "uuid"
	case KindJSON:
		return "json"
	case KindJSONB:
		return "jsonb"
	case KindArray:
		return "array"
	case KindVector:
		return "vector"
	default:
		return "unknown"
	}
}

// Interval stores months/days/microseconds the way PostgreSQL's wire type
// does, keeping calendar components (months, days) distinct from the
// absolute microsecond component so that "1 month" stays correct across
// months of different lengths.
type Interval struct {
	Months int32
	Days   int32
	Micros int64
}

// Numeric is a fixed-precision decimal represented as an unscaled integer
// plus a scale, avoiding the binary-float rounding that would otherwise
// leak into monetary/quantity columns.
type Numeric struct {
	Unscaled int64
	Scale    int32
}

func (n Numeric) Float64() float64 {
	return float64(n.Unscaled) / math.Pow10(int(n.Scale))
}

func (n Numeric) String() string {
	s := strconv.FormatInt(n.Unscaled, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if n.Scale <= 0 {
		if neg {
			return "-" + s
		}
		return s
	}
	for int32(len(s)) <= n.Scale {
		s = "0" + s
	}
	cut := int32(len(s)) - n.Scale
	out := s[:cut] + "." + s[cut:]
	if neg {
		out = "-" + out
	}
	return out
}

// Value is the tagged union every SQL scalar maps to exactly once.
type Value struct {
	Kind Kind

	Bool    bool
	Int     int64
	Float   float64
	Numeric Numeric
	Text    string
	Bytes   []byte
	Time    time.Time // always stored UTC
	Interval Interval
	UUID    uuid.UUID

	// Array holds element values when Kind == KindArray; ElemKind records
	// the declared homogeneous element kind.
	Array    []Value
	ElemKind Kind

	// Vector holds a fixed-length float slice when Kind == KindVector.
	Vector []float64
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value          { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value      { return Value{Kind: KindFloat, Float: f} }
func Text(s string) Value        { return Value{Kind: KindText, Text: s} }
func Bytea(b []byte) Value       { return Value{Kind: KindBytes, Bytes: b} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTimestamp, Time: t.UTC()} }
func NumericVal(n Numeric) Value { return Value{Kind: KindNumeric, Numeric: n} }
func IntervalVal(iv Interval) Value { return Value{Kind: KindInterval, Interval: iv} }
func UUIDVal(u uuid.UUID) Value  { return Value{Kind: KindUUID, UUID: u} }
func JSONVal(raw string) Value   { return Value{Kind: KindJSON, Text: raw} }
func JSONBVal(raw string) Value  { return Value{Kind: KindJSONB, Text: NormalizeJSONB(raw)} }
func ArrayVal(elemKind Kind, items []Value) Value {
	return Value{Kind: KindArray, ElemKind: elemKind, Array: items}
}
func VectorVal(dims []float64) Value { return Value{Kind: KindVector, Vector: dims} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal is raw identity equality of the tagged union (used by dedup / GROUP
// BY key comparison, where SQL's NULL-distinctness for DISTINCT/GROUP BY
// purposes differs from the three-valued `=` operator below).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindNumeric:
		return v.Numeric == o.Numeric
	case KindText, KindJSON, KindJSONB:
		return v.Text == o.Text
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	case KindTimestamp:
		return v.Time.Equal(o.Time)
	case KindInterval:
		return v.Interval == o.Interval
	case KindUUID:
		return v.UUID == o.UUID
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	case KindVector:
		if len(v.Vector) != len(o.Vector) {
			return false
		}
		for i := range v.Vector {
			if v.Vector[i] != o.Vector[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SortKey returns a byte string such that SortKey(a) < SortKey(b) iff a
// sorts before b: values of one kind compare by value (text and bytes
// bytewise, intervals by their span with a month counted as 30 days),
// NULL sorts before every non-NULL value, and values of different kinds
// order by Kind. Used by ORDER BY, window-frame peer detection, and
// DISTINCT ON.
func (v Value) SortKey() []byte {
	var buf bytes.Buffer
	writeSortKey(&buf, v)
	return buf.Bytes()
}

func writeSortKey(buf *bytes.Buffer, v Value) {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindInt:
		var b [8]byte
		u := uint64(v.Int) ^ (1 << 63)
		for i := 7; i >= 0; i-- {
			b[i] = byte(u)
			u >>= 8
		}
		buf.Write(b[:])
	case KindFloat, KindNumeric:
		f := v.Float
		if v.Kind == KindNumeric {
			f = v.Numeric.Float64()
		}
		bits := math.Float64bits(f)
		if f < 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		var b [8]byte
		for i := 7; i >= 0; i-- {
			b[i] = byte(bits)
			bits >>= 8
		}
		buf.Write(b[:])
	case KindText, KindJSON, KindJSONB:
		buf.WriteString(v.Text)
	case KindBytes:
		buf.Write(v.Bytes)
	case KindTimestamp, KindInterval:
		var n int64
		if v.Kind == KindTimestamp {
			n = v.Time.UnixMicro()
		} else {
			n = (int64(v.Interval.Months)*30+int64(v.Interval.Days))*86_400_000_000 + v.Interval.Micros
		}
		var b [8]byte
		u := uint64(n) ^ (1 << 63)
		for i := 7; i >= 0; i-- {
			b[i] = byte(u)
			u >>= 8
		}
		buf.Write(b[:])
	case KindUUID:
		buf.Write(v.UUID[:])
	case KindArray:
		for _, e := range v.Array {
			writeSortKey(buf, e)
			buf.WriteByte(0)
		}
	case KindVector:
		for _, f := range v.Vector {
			writeSortKey(buf, Float(f))
		}
	}
}

// Compare performs a two-valued ordering comparison, returning -1/0/1. It is
// only meaningful when neither operand is NULL; callers needing SQL's
// three-valued semantics should use CompareSQL.
func (v Value) Compare(o Value) int {
	return bytes.Compare(v.SortKey(), o.SortKey())
}

// TriBool is a three-valued logic result: Unknown represents SQL NULL.
type TriBool int

const (
	False TriBool = iota
	True
	Unknown
)

func BoolOf(b bool) TriBool {
	if b {
		return True
	}
	return False
}

func (t TriBool) AsValue() Value {
	switch t {
	case True:
		return Bool(true)
	case False:
		return Bool(false)
	default:
		return Null()
	}
}

// And implements NULL-short-circuited AND: false dominates.
func (t TriBool) And(o TriBool) TriBool {
	if t == False || o == False {
		return False
	}
	if t == Unknown || o == Unknown {
		return Unknown
	}
	return True
}

// Or implements NULL-short-circuited OR: true dominates.
func (t TriBool) Or(o TriBool) TriBool {
	if t == True || o == True {
		return True
	}
	if t == Unknown || o == Unknown {
		return Unknown
	}
	return False
}

func (t TriBool) Not() TriBool {
	switch t {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

// CompareSQL implements `=`/`<`/etc with three-valued NULL propagation: any
// NULL operand yields Unknown, never True or False.
func CompareSQL(a, b Value, op string) (TriBool, error) {
	if a.IsNull() || b.IsNull() {
		return Unknown, nil
	}
	a2, b2, err := unifyNumeric(a, b)
	if err != nil {
		return Unknown, err
	}
	c := a2.Compare(b2)
	switch op {
	case "=":
		return BoolOf(c == 0), nil
	case "<>", "!=":
		return BoolOf(c != 0), nil
	case "<":
		return BoolOf(c < 0), nil
	case "<=":
		return BoolOf(c <= 0), nil
	case ">":
		return BoolOf(c > 0), nil
	case ">=":
		return BoolOf(c >= 0), nil
	default:
		return Unknown, fmt.Errorf("unsupported comparison operator %q", op)
	}
}

// unifyNumeric widens Int<->Float<->Numeric pairs so Compare's byte-key
// comparison is meaningful across mixed numeric kinds, per spec §4.4's
// "integer <-> float widening for arithmetic" coercion rule.
func unifyNumeric(a, b Value) (Value, Value, error) {
	if a.Kind == b.Kind {
		return a, b, nil
	}
	numeric := func(v Value) (float64, bool) {
		switch v.Kind {
		case KindInt:
			return float64(v.Int), true
		case KindFloat:
			return v.Float, true
		case KindNumeric:
			return v.Numeric.Float64(), true
		default:
			return 0, false
		}
	}
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		return Float(af), Float(bf), nil
	}
	return a, b, nil
}

// NormalizeJSONB sorts object keys and strips insignificant whitespace, per
// spec §3's Jsonb normalization requirement. It assumes raw is already
// validated JSON text.
func NormalizeJSONB(raw string) string {
	var anyVal any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&anyVal); err != nil {
		return raw
	}
	var buf bytes.Buffer
	writeNormalizedJSON(&buf, anyVal)
	return buf.String()
}

func writeNormalizedJSON(buf *bytes.Buffer, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			writeNormalizedJSON(buf, val[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeNormalizedJSON(buf, e)
		}
		buf.WriteByte(']')
	default:
		b, _ := json.Marshal(val)
		buf.Write(b)
	}
}
