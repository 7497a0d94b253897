package value

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"pgkv/internal/errs"
)

// TypeName is a catalog column type name, matching the portable categories
// the teacher's core.DataType enumerates (teacher classifies SQL type
// *strings* per dialect; here it classifies runtime Values).
type TypeName string

const (
	TBool      TypeName = "bool"
	TInt       TypeName = "int"
	TFloat     TypeName = "float"
	TNumeric   TypeName = "numeric"
	TText      TypeName = "text"
	TBytes     TypeName = "bytea"
	TTimestamp TypeName = "timestamp"
	TInterval  TypeName = "interval"
	TUUID      TypeName = "uuid"
	TJSON      TypeName = "json"
	TJSONB     TypeName = "jsonb"
	TArray     TypeName = "array"
	TVector    TypeName = "vector"
)

// ToText renders v the way `CAST(v AS text)` / `::text` would, matching the
// round-trip law `CAST(v AS T)::text = to_text(v)`.
func ToText(v Value) string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindBool:
		if v.Bool {
			return "t"
		}
		return "f"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindNumeric:
		return v.Numeric.String()
	case KindText, KindJSON, KindJSONB:
		return v.Text
	case KindBytes:
		return "\\x" + fmt.Sprintf("%x", v.Bytes)
	case KindTimestamp:
		return v.Time.UTC().Format("2006-01-02 15:04:05.999999")
	case KindInterval:
		return formatInterval(v.Interval)
	case KindUUID:
		return v.UUID.String()
	case KindArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = ToText(e)
		}
		return "{" + strings.Join(parts, ",") + "}"
	case KindVector:
		parts := make([]string, len(v.Vector))
		for i, f := range v.Vector {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return ""
	}
}

func formatInterval(iv Interval) string {
	years := iv.Months / 12
	months := iv.Months % 12
	var b strings.Builder
	if years != 0 {
		fmt.Fprintf(&b, "%d years ", years)
	}
	if months != 0 {
		fmt.Fprintf(&b, "%d mons ", months)
	}
	if iv.Days != 0 {
		fmt.Fprintf(&b, "%d days ", iv.Days)
	}
	secs := iv.Micros / 1_000_000
	micros := iv.Micros % 1_000_000
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	if h != 0 || m != 0 || s != 0 || micros != 0 || b.Len() == 0 {
		if micros != 0 {
			fmt.Fprintf(&b, "%02d:%02d:%02d.%06d", h, m, s, micros)
		} else {
			fmt.Fprintf(&b, "%02d:%02d:%02d", h, m, s)
		}
	}
	return strings.TrimSpace(b.String())
}

// Cast converts v to the target type, implementing the spec §4.4 coercion
// rules. Implicit coercions the engine performs automatically (Int<->Float
// widening) are a strict subset of what Cast allows explicitly.
func Cast(v Value, target TypeName) (Value, error) {
	if v.IsNull() {
		return Null(), nil
	}
	switch target {
	case TBool:
		return castBool(v)
	case TInt:
		return castInt(v)
	case TFloat:
		return castFloat(v)
	case TNumeric:
		return castNumeric(v)
	case TText:
		return Text(ToText(v)), nil
	case TBytes:
		if v.Kind == KindBytes {
			return v, nil
		}
		return Bytea([]byte(ToText(v))), nil
	case TTimestamp:
		return castTimestamp(v)
	case TInterval:
		return castInterval(v)
	case TUUID:
		return castUUID(v)
	case TJSON:
		return JSONVal(ToText(v)), nil
	case TJSONB:
		return JSONBVal(ToText(v)), nil
	default:
		return Value{}, errs.New(errs.TypeError, "unsupported cast target %q", target)
	}
}

func castBool(v Value) (Value, error) {
	switch v.Kind {
	case KindBool:
		return v, nil
	case KindText:
		switch strings.ToLower(strings.TrimSpace(v.Text)) {
		case "t", "true", "yes", "y", "1", "on":
			return Bool(true), nil
		case "f", "false", "no", "n", "0", "off":
			return Bool(false), nil
		}
	case KindInt:
		return Bool(v.Int != 0), nil
	}
	return Value{}, errs.New(errs.TypeError, "cannot cast %s to bool", v.Kind)
}

func castInt(v Value) (Value, error) {
	switch v.Kind {
	case KindInt:
		return v, nil
	case KindFloat:
		return Int(int64(v.Float)), nil
	case KindNumeric:
		return Int(int64(v.Numeric.Float64())), nil
	case KindBool:
		if v.Bool {
			return Int(1), nil
		}
		return Int(0), nil
	case KindText:
		i, err := strconv.ParseInt(strings.TrimSpace(v.Text), 10, 64)
		if err != nil {
			return Value{}, errs.Wrap(errs.TypeError, err, "invalid input syntax for integer: %q", v.Text)
		}
		return Int(i), nil
	}
	return Value{}, errs.New(errs.TypeError, "cannot cast %s to int", v.Kind)
}

func castFloat(v Value) (Value, error) {
	switch v.Kind {
	case KindFloat:
		return v, nil
	case KindInt:
		return Float(float64(v.Int)), nil
	case KindNumeric:
		return Float(v.Numeric.Float64()), nil
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
		if err != nil {
			return Value{}, errs.Wrap(errs.TypeError, err, "invalid input syntax for double precision: %q", v.Text)
		}
		return Float(f), nil
	}
	return Value{}, errs.New(errs.TypeError, "cannot cast %s to float", v.Kind)
}

func castNumeric(v Value) (Value, error) {
	switch v.Kind {
	case KindNumeric:
		return v, nil
	case KindInt:
		return NumericVal(Numeric{Unscaled: v.Int, Scale: 0}), nil
	case KindFloat:
		return NumericVal(floatToNumeric(v.Float, 6)), nil
	case KindText:
		return parseNumericText(v.Text)
	}
	return Value{}, errs.New(errs.TypeError, "cannot cast %s to numeric", v.Kind)
}

func floatToNumeric(f float64, scale int32) Numeric {
	mul := 1.0
	for i := int32(0); i < scale; i++ {
		mul *= 10
	}
	return Numeric{Unscaled: int64(f*mul + signOf(f)*0.5), Scale: scale}
}

func signOf(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

func parseNumericText(s string) (Value, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg || strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	dot := strings.IndexByte(s, '.')
	scale := int32(0)
	digits := s
	if dot >= 0 {
		scale = int32(len(s) - dot - 1)
		digits = s[:dot] + s[dot+1:]
	}
	unscaled, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Value{}, errs.Wrap(errs.TypeError, err, "invalid input syntax for numeric: %q", s)
	}
	if neg {
		unscaled = -unscaled
	}
	return NumericVal(Numeric{Unscaled: unscaled, Scale: scale}), nil
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func castTimestamp(v Value) (Value, error) {
	switch v.Kind {
	case KindTimestamp:
		return v, nil
	case KindText:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(v.Text)); err == nil {
				return Timestamp(t), nil
			}
		}
		return Value{}, errs.New(errs.TypeError, "invalid input syntax for timestamp: %q", v.Text)
	}
	return Value{}, errs.New(errs.TypeError, "cannot cast %s to timestamp", v.Kind)
}

func castInterval(v Value) (Value, error) {
	switch v.Kind {
	case KindInterval:
		return v, nil
	case KindText:
		iv, err := ParseInterval(v.Text)
		if err != nil {
			return Value{}, err
		}
		return IntervalVal(iv), nil
	}
	return Value{}, errs.New(errs.TypeError, "cannot cast %s to interval", v.Kind)
}

// ParseInterval parses a PostgreSQL-style interval literal such as
// "1 year 2 mons 3 days 04:05:06".
func ParseInterval(s string) (Interval, error) {
	var iv Interval
	fields := strings.Fields(strings.ToLower(s))
	i := 0
	for i < len(fields) {
		tok := fields[i]
		if strings.Contains(tok, ":") {
			parts := strings.Split(tok, ":")
			if len(parts) != 3 {
				return Interval{}, errs.New(errs.TypeError, "invalid interval: %q", s)
			}
			h, _ := strconv.Atoi(parts[0])
			m, _ := strconv.Atoi(parts[1])
			secf, _ := strconv.ParseFloat(parts[2], 64)
			iv.Micros += int64(h)*3600_000_000 + int64(m)*60_000_000 + int64(secf*1_000_000)
			i++
			continue
		}
		if i+1 >= len(fields) {
			return Interval{}, errs.New(errs.TypeError, "invalid interval: %q", s)
		}
		n, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return Interval{}, errs.Wrap(errs.TypeError, err, "invalid interval: %q", s)
		}
		unit := strings.TrimSuffix(fields[i+1], "s")
		switch unit {
		case "year":
			iv.Months += int32(n * 12)
		case "mon", "month":
			iv.Months += int32(n)
		case "week":
			iv.Days += int32(n * 7)
		case "day":
			iv.Days += int32(n)
		case "hour":
			iv.Micros += int64(n * 3600_000_000)
		case "minute", "min":
			iv.Micros += int64(n * 60_000_000)
		case "second", "sec":
			iv.Micros += int64(n * 1_000_000)
		default:
			return Interval{}, errs.New(errs.TypeError, "unknown interval unit %q", unit)
		}
		i += 2
	}
	return iv, nil
}

func castUUID(v Value) (Value, error) {
	switch v.Kind {
	case KindUUID:
		return v, nil
	case KindText:
		u, err := uuid.Parse(strings.TrimSpace(v.Text))
		if err != nil {
			return Value{}, errs.Wrap(errs.TypeError, err, "invalid input syntax for uuid: %q", v.Text)
		}
		return UUIDVal(u), nil
	}
	return Value{}, errs.New(errs.TypeError, "cannot cast %s to uuid", v.Kind)
}
