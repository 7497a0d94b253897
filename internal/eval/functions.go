package eval

import (
	"crypto/rand"
	"math"
	mrand "math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"pgkv/internal/errs"
	"pgkv/internal/value"
)

// Fn is a built-in scalar function. Arguments are already evaluated; a Fn
// decides NULL propagation itself since some functions (COALESCE, NULLIF)
// are NULL-aware rather than NULL-propagating.
type Fn func(args []value.Value) (value.Value, error)

// Builtins is the dispatch table backing FuncCall.Eval; names are matched
// case-insensitively by normalizeFuncName.
var Builtins map[string]Fn

func normalizeFuncName(name string) string { return strings.ToLower(name) }

func init() {
	Builtins = map[string]Fn{
		// string functions
		"upper":       fn1Text(strings.ToUpper),
		"lower":       fn1Text(strings.ToLower),
		"length":      strLength,
		"concat":      concatFn,
		"left":        leftFn,
		"right":       rightFn,
		"substring":   substringFn,
		"trim":        trimFn,
		"ltrim":       ltrimFn,
		"rtrim":       rtrimFn,
		"lpad":        lpadFn,
		"rpad":        rpadFn,
		"replace":     replaceFn,
		"reverse":     reverseFn,
		"repeat":      repeatFn,
		"split_part":  splitPartFn,
		"initcap":     initcapFn,
		"position":    positionFn,

		// math functions
		"abs":    absFn,
		"ceil":   ceilFn,
		"ceiling": ceilFn,
		"floor":  floorFn,
		"round":  roundFn,
		"trunc":  truncFn,
		"sqrt":   sqrtFn,
		"power":  powerFn,
		"exp":    expFn,
		"ln":     lnFn,
		"log":    logFn,
		"sign":   signFn,
		"mod":    modFn,
		"pi":     piFn,
		"random": randomFn,

		// date/time functions
		"now":                nowFn,
		"current_timestamp":  nowFn,
		"current_date":       currentDateFn,
		"date_trunc":         dateTruncFn,
		"extract":            extractFn,
		"to_char":            toCharFn,
		"age":                ageFn,

		// conditional / comparison
		"greatest": greatestFn,
		"least":    leastFn,
		"coalesce": coalesceFn,
		"nullif":   nullifFn,

		// uuid
		"gen_random_uuid": genRandomUUIDFn,

		// vector
		"l2_distance":     l2Distance,
		"cosine_distance": cosineDistance,
		"inner_product":   innerProduct,
		"vector_dims":     vectorDims,
		"vector_norm":     vectorNorm,

		// array
		"array_length":   arrayLength,
		"array_upper":    arrayUpperFn,
		"array_lower":    arrayLowerFn,
		"cardinality":    cardinality,
		"array_cat":      arrayCat,
		"array_append":   arrayAppend,
		"array_prepend":  arrayPrepend,
		"array_remove":   arrayRemove,
		"array_position": arrayPosition,
	}
}

func fn1Text(f func(string) string) Fn {
	return func(args []value.Value) (value.Value, error) {
		if args[0].IsNull() {
			return value.Null(), nil
		}
		return value.Text(f(value.ToText(args[0]))), nil
	}
}

func strLength(args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Null(), nil
	}
	return value.Int(int64(len([]rune(value.ToText(args[0]))))), nil
}

func concatFn(args []value.Value) (value.Value, error) {
	var b strings.Builder
	for _, a := range args {
		if !a.IsNull() {
			b.WriteString(value.ToText(a))
		}
	}
	return value.Text(b.String()), nil
}

func leftFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return value.Null(), nil
	}
	r := []rune(value.ToText(args[0]))
	n := int(args[1].Int)
	if n < 0 {
		n = len(r) + n
	}
	if n < 0 {
		n = 0
	}
	if n > len(r) {
		n = len(r)
	}
	return value.Text(string(r[:n])), nil
}

func rightFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return value.Null(), nil
	}
	r := []rune(value.ToText(args[0]))
	n := int(args[1].Int)
	if n < 0 {
		n = len(r) + n
	}
	if n < 0 {
		n = 0
	}
	if n > len(r) {
		n = len(r)
	}
	return value.Text(string(r[len(r)-n:])), nil
}

func substringFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Null(), nil
	}
	r := []rune(value.ToText(args[0]))
	start := 1
	if len(args) > 1 && !args[1].IsNull() {
		start = int(args[1].Int)
	}
	length := len(r) - start + 1
	if len(args) > 2 && !args[2].IsNull() {
		length = int(args[2].Int)
	}
	if start < 1 {
		length += start - 1
		start = 1
	}
	if start-1 >= len(r) || length <= 0 {
		return value.Text(""), nil
	}
	end := start - 1 + length
	if end > len(r) {
		end = len(r)
	}
	return value.Text(string(r[start-1 : end])), nil
}

func trimCutset(args []value.Value) (string, string, bool) {
	if args[0].IsNull() {
		return "", "", false
	}
	s := value.ToText(args[0])
	cutset := " "
	if len(args) > 1 && !args[1].IsNull() {
		cutset = value.ToText(args[1])
	}
	return s, cutset, true
}

func trimFn(args []value.Value) (value.Value, error) {
	s, cutset, ok := trimCutset(args)
	if !ok {
		return value.Null(), nil
	}
	return value.Text(strings.Trim(s, cutset)), nil
}

func ltrimFn(args []value.Value) (value.Value, error) {
	s, cutset, ok := trimCutset(args)
	if !ok {
		return value.Null(), nil
	}
	return value.Text(strings.TrimLeft(s, cutset)), nil
}

func rtrimFn(args []value.Value) (value.Value, error) {
	s, cutset, ok := trimCutset(args)
	if !ok {
		return value.Null(), nil
	}
	return value.Text(strings.TrimRight(s, cutset)), nil
}

func padFn(args []value.Value, left bool) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return value.Null(), nil
	}
	s := []rune(value.ToText(args[0]))
	length := int(args[1].Int)
	fill := " "
	if len(args) > 2 && !args[2].IsNull() {
		fill = value.ToText(args[2])
	}
	if length <= len(s) {
		if left {
			return value.Text(string(s[:length])), nil
		}
		return value.Text(string(s[len(s)-length:])), nil
	}
	if fill == "" {
		return value.Text(string(s)), nil
	}
	fr := []rune(fill)
	pad := make([]rune, 0, length-len(s))
	for len(pad) < length-len(s) {
		pad = append(pad, fr[len(pad)%len(fr)])
	}
	if left {
		return value.Text(string(pad) + string(s)), nil
	}
	return value.Text(string(s) + string(pad)), nil
}

func lpadFn(args []value.Value) (value.Value, error) { return padFn(args, true) }
func rpadFn(args []value.Value) (value.Value, error) { return padFn(args, false) }

func replaceFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() || args[2].IsNull() {
		return value.Null(), nil
	}
	return value.Text(strings.ReplaceAll(value.ToText(args[0]), value.ToText(args[1]), value.ToText(args[2]))), nil
}

func reverseFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Null(), nil
	}
	r := []rune(value.ToText(args[0]))
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return value.Text(string(r)), nil
}

func repeatFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return value.Null(), nil
	}
	n := int(args[1].Int)
	if n < 0 {
		n = 0
	}
	return value.Text(strings.Repeat(value.ToText(args[0]), n)), nil
}

func splitPartFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() || args[2].IsNull() {
		return value.Null(), nil
	}
	parts := strings.Split(value.ToText(args[0]), value.ToText(args[1]))
	n := int(args[2].Int)
	if n < 1 || n > len(parts) {
		return value.Text(""), nil
	}
	return value.Text(parts[n-1]), nil
}

func initcapFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Null(), nil
	}
	s := value.ToText(args[0])
	var b strings.Builder
	prevWordChar := false
	for _, r := range s {
		isWordChar := unicode.IsLetter(r) || unicode.IsDigit(r)
		if isWordChar && !prevWordChar {
			b.WriteRune(unicode.ToUpper(r))
		} else if isWordChar {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
		prevWordChar = isWordChar
	}
	return value.Text(b.String()), nil
}

func positionFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return value.Null(), nil
	}
	sub, s := value.ToText(args[0]), value.ToText(args[1])
	idx := strings.Index(s, sub)
	if idx < 0 {
		return value.Int(0), nil
	}
	return value.Int(int64(len([]rune(s[:idx])) + 1)), nil
}

// --- math ---

func numArg(v value.Value) (float64, bool, error) {
	if v.IsNull() {
		return 0, false, nil
	}
	f, err := toFloat(v)
	return f, true, err
}

func absFn(args []value.Value) (value.Value, error) {
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	if v.Kind == value.KindInt {
		if v.Int < 0 {
			return value.Int(-v.Int), nil
		}
		return v, nil
	}
	f, _, err := numArg(v)
	if err != nil {
		return value.Value{}, err
	}
	return value.Float(math.Abs(f)), nil
}

func mathFn1(f func(float64) float64) Fn {
	return func(args []value.Value) (value.Value, error) {
		x, ok, err := numArg(args[0])
		if err != nil {
			return value.Value{}, err
		}
		if !ok {
			return value.Null(), nil
		}
		return value.Float(f(x)), nil
	}
}

var ceilFn = mathFn1(math.Ceil)
var floorFn = mathFn1(math.Floor)
var sqrtFn = mathFn1(math.Sqrt)
var expFn = mathFn1(math.Exp)
var lnFn = mathFn1(math.Log)

func roundFn(args []value.Value) (value.Value, error) {
	x, ok, err := numArg(args[0])
	if err != nil {
		return value.Value{}, err
	}
	if !ok {
		return value.Null(), nil
	}
	digits := 0
	if len(args) > 1 && !args[1].IsNull() {
		digits = int(args[1].Int)
	}
	mul := math.Pow(10, float64(digits))
	return value.Float(math.Round(x*mul) / mul), nil
}

func truncFn(args []value.Value) (value.Value, error) {
	x, ok, err := numArg(args[0])
	if err != nil {
		return value.Value{}, err
	}
	if !ok {
		return value.Null(), nil
	}
	digits := 0
	if len(args) > 1 && !args[1].IsNull() {
		digits = int(args[1].Int)
	}
	mul := math.Pow(10, float64(digits))
	return value.Float(math.Trunc(x*mul) / mul), nil
}

func powerFn(args []value.Value) (value.Value, error) {
	x, ok1, err := numArg(args[0])
	if err != nil {
		return value.Value{}, err
	}
	y, ok2, err := numArg(args[1])
	if err != nil {
		return value.Value{}, err
	}
	if !ok1 || !ok2 {
		return value.Null(), nil
	}
	return value.Float(math.Pow(x, y)), nil
}

func logFn(args []value.Value) (value.Value, error) {
	if len(args) == 1 {
		x, ok, err := numArg(args[0])
		if err != nil {
			return value.Value{}, err
		}
		if !ok {
			return value.Null(), nil
		}
		return value.Float(math.Log10(x)), nil
	}
	base, ok1, err := numArg(args[0])
	if err != nil {
		return value.Value{}, err
	}
	x, ok2, err := numArg(args[1])
	if err != nil {
		return value.Value{}, err
	}
	if !ok1 || !ok2 {
		return value.Null(), nil
	}
	return value.Float(math.Log(x) / math.Log(base)), nil
}

func signFn(args []value.Value) (value.Value, error) {
	x, ok, err := numArg(args[0])
	if err != nil {
		return value.Value{}, err
	}
	if !ok {
		return value.Null(), nil
	}
	switch {
	case x > 0:
		return value.Int(1), nil
	case x < 0:
		return value.Int(-1), nil
	default:
		return value.Int(0), nil
	}
}

func modFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return value.Null(), nil
	}
	return arith(args[0], args[1], "%")
}

func piFn(args []value.Value) (value.Value, error) { return value.Float(math.Pi), nil }

func randomFn(args []value.Value) (value.Value, error) { return value.Float(mrand.Float64()), nil }

// --- date/time ---

func nowFn(args []value.Value) (value.Value, error) { return value.Timestamp(time.Now()), nil }

func currentDateFn(args []value.Value) (value.Value, error) {
	now := time.Now().UTC()
	return value.Timestamp(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)), nil
}

var truncUnits = map[string]func(time.Time) time.Time{
	"year":   func(t time.Time) time.Time { return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC) },
	"month":  func(t time.Time) time.Time { return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC) },
	"day":    func(t time.Time) time.Time { return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC) },
	"hour":   func(t time.Time) time.Time { return t.Truncate(time.Hour) },
	"minute": func(t time.Time) time.Time { return t.Truncate(time.Minute) },
	"second": func(t time.Time) time.Time { return t.Truncate(time.Second) },
}

func dateTruncFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return value.Null(), nil
	}
	unit := strings.ToLower(value.ToText(args[0]))
	f, ok := truncUnits[unit]
	if !ok {
		return value.Value{}, errs.New(errs.TypeError, "date_trunc: unknown unit %q", unit)
	}
	return value.Timestamp(f(args[1].Time)), nil
}

func extractFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return value.Null(), nil
	}
	field := strings.ToLower(value.ToText(args[0]))
	t := args[1].Time
	switch field {
	case "year":
		return value.Float(float64(t.Year())), nil
	case "month":
		return value.Float(float64(t.Month())), nil
	case "day":
		return value.Float(float64(t.Day())), nil
	case "hour":
		return value.Float(float64(t.Hour())), nil
	case "minute":
		return value.Float(float64(t.Minute())), nil
	case "second":
		return value.Float(float64(t.Second()) + float64(t.Nanosecond())/1e9), nil
	case "dow":
		return value.Float(float64(t.Weekday())), nil
	case "doy":
		return value.Float(float64(t.YearDay())), nil
	case "epoch":
		return value.Float(float64(t.UnixNano()) / 1e9), nil
	default:
		return value.Value{}, errs.New(errs.TypeError, "extract: unknown field %q", field)
	}
}

func toCharFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Null(), nil
	}
	format := "2006-01-02 15:04:05"
	if len(args) > 1 && !args[1].IsNull() {
		format = pgToGoLayout(value.ToText(args[1]))
	}
	return value.Text(args[0].Time.Format(format)), nil
}

// pgToGoLayout maps the handful of PostgreSQL to_char tokens the engine
// supports to Go's reference-time layout.
func pgToGoLayout(pg string) string {
	replacer := strings.NewReplacer(
		"YYYY", "2006", "MM", "01", "DD", "02",
		"HH24", "15", "MI", "04", "SS", "05",
	)
	return replacer.Replace(pg)
}

func ageFn(args []value.Value) (value.Value, error) {
	var t1, t2 time.Time
	if len(args) == 1 {
		if args[0].IsNull() {
			return value.Null(), nil
		}
		t1, t2 = time.Now().UTC(), args[0].Time
	} else {
		if args[0].IsNull() || args[1].IsNull() {
			return value.Null(), nil
		}
		t1, t2 = args[0].Time, args[1].Time
	}
	d := t1.Sub(t2)
	return value.IntervalVal(value.Interval{Micros: d.Microseconds()}), nil
}

// --- conditional / comparison ---

func greatestFn(args []value.Value) (value.Value, error) { return extremeFn(args, true) }
func leastFn(args []value.Value) (value.Value, error)    { return extremeFn(args, false) }

func extremeFn(args []value.Value, greatest bool) (value.Value, error) {
	var best value.Value
	have := false
	for _, a := range args {
		if a.IsNull() {
			continue
		}
		if !have {
			best, have = a, true
			continue
		}
		c := a.Compare(best)
		if (greatest && c > 0) || (!greatest && c < 0) {
			best = a
		}
	}
	if !have {
		return value.Null(), nil
	}
	return best, nil
}

func coalesceFn(args []value.Value) (value.Value, error) {
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return value.Null(), nil
}

func nullifFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || args[1].IsNull() {
		return args[0], nil
	}
	if args[0].Equal(args[1]) {
		return value.Null(), nil
	}
	return args[0], nil
}

func genRandomUUIDFn(args []value.Value) (value.Value, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return value.Value{}, errs.Wrap(errs.Internal, err, "generate uuid")
	}
	u, err := uuid.FromBytes(b[:])
	if err != nil {
		return value.Value{}, errs.Wrap(errs.Internal, err, "build uuid")
	}
	// RFC 4122 version 4 / variant bits.
	u[6] = (u[6] & 0x0f) | 0x40
	u[8] = (u[8] & 0x3f) | 0x80
	return value.UUIDVal(u), nil
}

func arrayUpperFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Null(), nil
	}
	return value.Int(int64(len(args[0].Array))), nil
}

func arrayLowerFn(args []value.Value) (value.Value, error) {
	if args[0].IsNull() || len(args[0].Array) == 0 {
		return value.Null(), nil
	}
	return value.Int(1), nil
}
