package eval

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"pgkv/internal/errs"
	"pgkv/internal/value"
)

// jsonExtract implements `->`/`->>` (spec §4.4): text key or numeric
// subscript against Json/Jsonb, chains left-associative because each is
// just a Binary node wrapping the previous one. asText selects `->>`.
func jsonExtract(container, key value.Value, asText bool) (value.Value, error) {
	if container.IsNull() || key.IsNull() {
		return value.Null(), nil
	}
	if container.Kind != value.KindJSON && container.Kind != value.KindJSONB {
		return value.Value{}, errs.New(errs.TypeError, "operator does not exist: %s -> %s", container.Kind, key.Kind)
	}
	var doc any
	dec := json.NewDecoder(strings.NewReader(container.Text))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return value.Value{}, errs.Wrap(errs.Internal, err, "corrupt json value")
	}

	var result any
	var found bool
	switch k := doc.(type) {
	case map[string]any:
		if key.Kind != value.KindText {
			return value.Null(), nil
		}
		result, found = k[key.Text]
	case []any:
		idx, err := subscriptIndex(key)
		if err != nil {
			return value.Value{}, err
		}
		if idx < 0 || idx >= len(k) {
			return value.Null(), nil
		}
		result, found = k[idx], true
	default:
		return value.Null(), nil
	}
	if !found {
		return value.Null(), nil
	}
	return jsonValueToValue(result, container.Kind, asText)
}

func subscriptIndex(key value.Value) (int, error) {
	switch key.Kind {
	case value.KindInt:
		return int(key.Int), nil
	case value.KindText:
		i, err := strconv.Atoi(key.Text)
		if err != nil {
			return 0, errs.Wrap(errs.TypeError, err, "invalid array subscript %q", key.Text)
		}
		return i, nil
	default:
		return 0, errs.New(errs.TypeError, "invalid array subscript type %s", key.Kind)
	}
}

func jsonValueToValue(v any, containerKind value.Kind, asText bool) (value.Value, error) {
	if asText {
		if v == nil {
			return value.Null(), nil
		}
		if s, ok := v.(string); ok {
			return value.Text(s), nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return value.Value{}, errs.Wrap(errs.Internal, err, "re-encode json fragment")
		}
		return value.Text(string(b)), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return value.Value{}, errs.Wrap(errs.Internal, err, "re-encode json fragment")
	}
	if containerKind == value.KindJSONB {
		return value.JSONBVal(string(b)), nil
	}
	return value.JSONVal(string(b)), nil
}

// jsonbContains implements deep `@>` containment over Jsonb (spec §4.4):
// every key/element of b must be present and equal (recursively) in a.
func jsonbContains(a, b value.Value) (value.Value, error) {
	if a.IsNull() || b.IsNull() {
		return value.Null(), nil
	}
	if a.Kind != value.KindJSONB || b.Kind != value.KindJSONB {
		return value.Value{}, errs.New(errs.TypeError, "operator @>/<@ is only defined for jsonb")
	}
	var av, bv any
	if err := json.Unmarshal([]byte(a.Text), &av); err != nil {
		return value.Value{}, errs.Wrap(errs.Internal, err, "corrupt jsonb value")
	}
	if err := json.Unmarshal([]byte(b.Text), &bv); err != nil {
		return value.Value{}, errs.Wrap(errs.Internal, err, "corrupt jsonb value")
	}
	return value.Bool(jsonContains(av, bv)), nil
}

func jsonContains(a, b any) bool {
	switch bt := b.(type) {
	case map[string]any:
		at, ok := a.(map[string]any)
		if !ok {
			return false
		}
		for k, bv := range bt {
			av, ok := at[k]
			if !ok || !jsonContains(av, bv) {
				return false
			}
		}
		return true
	case []any:
		at, ok := a.([]any)
		if !ok {
			return false
		}
		for _, bElem := range bt {
			found := false
			for _, aElem := range at {
				if jsonContains(aElem, bElem) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		ab, _ := json.Marshal(a)
		bb, _ := json.Marshal(b)
		return bytes.Equal(ab, bb)
	}
}

// --- array functions (spec §4.4, glossary) ---

func arrayLength(args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Null(), nil
	}
	if args[0].Kind != value.KindArray {
		return value.Value{}, errs.New(errs.TypeError, "array_length: not an array")
	}
	return value.Int(int64(len(args[0].Array))), nil
}

func arrayPosition(args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Null(), nil
	}
	for i, e := range args[0].Array {
		if e.Equal(args[1]) {
			return value.Int(int64(i + 1)), nil
		}
	}
	return value.Null(), nil
}

func arrayCat(args []value.Value) (value.Value, error) {
	a, b := args[0], args[1]
	if a.IsNull() {
		return b, nil
	}
	if b.IsNull() {
		return a, nil
	}
	out := append(append([]value.Value{}, a.Array...), b.Array...)
	return value.ArrayVal(a.ElemKind, out), nil
}

func arrayAppend(args []value.Value) (value.Value, error) {
	a := args[0]
	out := append(append([]value.Value{}, a.Array...), args[1])
	return value.ArrayVal(a.ElemKind, out), nil
}

func arrayPrepend(args []value.Value) (value.Value, error) {
	a := args[1]
	out := append([]value.Value{args[0]}, a.Array...)
	return value.ArrayVal(a.ElemKind, out), nil
}

func arrayRemove(args []value.Value) (value.Value, error) {
	a := args[0]
	out := make([]value.Value, 0, len(a.Array))
	for _, e := range a.Array {
		if !e.Equal(args[1]) {
			out = append(out, e)
		}
	}
	return value.ArrayVal(a.ElemKind, out), nil
}

func cardinality(args []value.Value) (value.Value, error) {
	if args[0].IsNull() {
		return value.Int(0), nil
	}
	return value.Int(int64(len(args[0].Array))), nil
}

// arraySubscript implements 1-indexed array element access.
func arraySubscript(arr value.Value, idx int64) (value.Value, error) {
	if arr.IsNull() {
		return value.Null(), nil
	}
	if idx < 1 || int(idx) > len(arr.Array) {
		return value.Null(), nil
	}
	return arr.Array[idx-1], nil
}

// --- vector functions (spec §4.4, glossary) ---

func vectorDims(args []value.Value) (value.Value, error) {
	return value.Int(int64(len(args[0].Vector))), nil
}

func vectorNorm(args []value.Value) (value.Value, error) {
	var sum float64
	for _, f := range args[0].Vector {
		sum += f * f
	}
	return value.Float(math.Sqrt(sum)), nil
}

func requireEqualDims(a, b value.Value) error {
	if len(a.Vector) != len(b.Vector) {
		return errs.New(errs.TypeError, "vectors must have the same dimension (%d vs %d)", len(a.Vector), len(b.Vector))
	}
	return nil
}

func l2Distance(args []value.Value) (value.Value, error) {
	a, b := args[0], args[1]
	if err := requireEqualDims(a, b); err != nil {
		return value.Value{}, err
	}
	var sum float64
	for i := range a.Vector {
		d := a.Vector[i] - b.Vector[i]
		sum += d * d
	}
	return value.Float(math.Sqrt(sum)), nil
}

func innerProduct(args []value.Value) (value.Value, error) {
	a, b := args[0], args[1]
	if err := requireEqualDims(a, b); err != nil {
		return value.Value{}, err
	}
	var sum float64
	for i := range a.Vector {
		sum += a.Vector[i] * b.Vector[i]
	}
	return value.Float(sum), nil
}

func cosineDistance(args []value.Value) (value.Value, error) {
	a, b := args[0], args[1]
	if err := requireEqualDims(a, b); err != nil {
		return value.Value{}, err
	}
	var dot, na, nb float64
	for i := range a.Vector {
		dot += a.Vector[i] * b.Vector[i]
		na += a.Vector[i] * a.Vector[i]
		nb += b.Vector[i] * b.Vector[i]
	}
	if na == 0 || nb == 0 {
		return value.Value{}, errs.New(errs.TypeError, "cosine_distance: zero vector")
	}
	return value.Float(1 - dot/(math.Sqrt(na)*math.Sqrt(nb))), nil
}
