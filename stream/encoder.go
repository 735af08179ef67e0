package stream

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// =============================================================================
// ENCODER - JSON written to a TextSink fragment by fragment
// =============================================================================

// Encoder writes compact JSON documents to a TextSink.
//
// Containers (structs, maps, slices, arrays) are walked and their punctuation,
// keys and elements are written as separate fragments, so the document is
// never held in memory as a whole. Sequences (iter.Seq and any func with its
// shape) are written as arrays while they are being produced. Leaf values are
// rendered with encoding/json and follow its escaping rules.
//
// Differences from encoding/json: embedded structs of unexported types are
// skipped instead of flattened, and sequences are accepted. Reference cycles
// are reported as *json.UnsupportedValueError, as encoding/json does.
type Encoder struct {
	sink TextSink

	depth int
	seen  map[cycleKey]struct{}
}

// Past this many nested references the encoder starts looking for cycles.
const cycleCheckDepth = 1000

type cycleKey struct {
	ptr uintptr
	len int
}

// NewEncoder returns an encoder writing to sink.
func NewEncoder(sink TextSink) *Encoder {
	return &Encoder{sink: sink}
}

// Encode writes v followed by exactly one "\n" fragment. The first sink error
// stops encoding and is returned as is; whatever was written stays written.
func (e *Encoder) Encode(v any) error {
	e.depth, e.seen = 0, nil
	if err := e.value(reflect.ValueOf(v)); err != nil {
		return err
	}
	return e.sink.WriteString("\n")
}

var (
	marshalerType     = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

func (e *Encoder) value(v reflect.Value) error {
	if !v.IsValid() {
		return e.sink.WriteString("null")
	}

	t := v.Type()
	if t.Implements(marshalerType) || t.Implements(textMarshalerType) {
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			return e.sink.WriteString("null")
		}
		return e.leaf(v.Interface())
	}
	if v.Kind() != reflect.Pointer && v.CanAddr() {
		pt := reflect.PointerTo(t)
		if pt.Implements(marshalerType) || pt.Implements(textMarshalerType) {
			return e.leaf(v.Addr().Interface())
		}
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return e.sink.WriteString("null")
		}
		return e.value(v.Elem())
	case reflect.Pointer:
		if v.IsNil() {
			return e.sink.WriteString("null")
		}
		leave, err := e.enter(v)
		if err != nil {
			return err
		}
		defer leave()
		return e.value(v.Elem())
	case reflect.Struct:
		return e.object(v)
	case reflect.Map:
		if v.IsNil() {
			return e.sink.WriteString("null")
		}
		leave, err := e.enter(v)
		if err != nil {
			return err
		}
		defer leave()
		return e.mapping(v)
	case reflect.Slice:
		if v.IsNil() {
			return e.sink.WriteString("null")
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return e.leaf(v.Interface()) // base64, as encoding/json does
		}
		leave, err := e.enter(v)
		if err != nil {
			return err
		}
		defer leave()
		return e.array(v)
	case reflect.Array:
		return e.array(v)
	case reflect.Func:
		if !isSeq(t) {
			return e.leaf(v.Interface())
		}
		if v.IsNil() {
			return e.sink.WriteString("null")
		}
		return e.sequence(v)
	default:
		return e.leaf(v.Interface())
	}
}

// enter tracks one more level of references below v and fails once a
// reference repeats deep in the walk.
func (e *Encoder) enter(v reflect.Value) (leave func(), err error) {
	e.depth++
	if e.depth <= cycleCheckDepth {
		return e.exit, nil
	}
	key := cycleKey{ptr: v.Pointer()}
	if v.Kind() == reflect.Slice {
		key.len = v.Len()
	}
	if _, ok := e.seen[key]; ok {
		e.depth--
		return nil, fmt.Errorf("stream: encode %s: %w", v.Type(), &json.UnsupportedValueError{
			Value: v,
			Str:   "encountered a cycle via " + v.Type().String(),
		})
	}
	if e.seen == nil {
		e.seen = make(map[cycleKey]struct{})
	}
	e.seen[key] = struct{}{}
	return func() {
		delete(e.seen, key)
		e.exit()
	}, nil
}

func (e *Encoder) exit() { e.depth-- }

func (e *Encoder) leaf(x any) error {
	b, err := json.Marshal(x)
	if err != nil {
		return fmt.Errorf("stream: encode %T: %w", x, err)
	}
	return e.sink.WriteString(string(b))
}

func (e *Encoder) array(v reflect.Value) error {
	if err := e.sink.WriteString("["); err != nil {
		return err
	}
	for i := range v.Len() {
		if i > 0 {
			if err := e.sink.WriteString(","); err != nil {
				return err
			}
		}
		if err := e.value(v.Index(i)); err != nil {
			return err
		}
	}
	return e.sink.WriteString("]")
}

// isSeq reports whether t has the shape of iter.Seq: func(yield func(V) bool).
func isSeq(t reflect.Type) bool {
	if t.NumIn() != 1 || t.NumOut() != 0 {
		return false
	}
	yield := t.In(0)
	return yield.Kind() == reflect.Func &&
		yield.NumIn() == 1 && yield.NumOut() == 1 &&
		yield.Out(0).Kind() == reflect.Bool
}

// sequence writes each yielded value as an array element. A failed write
// stops the sequence by returning false from yield.
func (e *Encoder) sequence(v reflect.Value) error {
	if err := e.sink.WriteString("["); err != nil {
		return err
	}
	var (
		err   error
		first = true
	)
	yieldType := v.Type().In(0)
	yield := reflect.MakeFunc(yieldType, func(args []reflect.Value) []reflect.Value {
		if !first {
			err = e.sink.WriteString(",")
		}
		first = false
		if err == nil {
			err = e.value(args[0])
		}
		return []reflect.Value{reflect.ValueOf(err == nil).Convert(yieldType.Out(0))}
	})
	v.Call([]reflect.Value{yield})
	if err != nil {
		return err
	}
	return e.sink.WriteString("]")
}

func (e *Encoder) object(v reflect.Value) error {
	if err := e.sink.WriteString("{"); err != nil {
		return err
	}
	first := true
	for _, f := range cachedFields(v.Type()) {
		fv, err := v.FieldByIndexErr(f.index)
		if err != nil {
			continue // behind a nil embedded pointer
		}
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		if !first {
			if err := e.sink.WriteString(","); err != nil {
				return err
			}
		}
		first = false
		if err := e.sink.WriteString(f.key); err != nil {
			return err
		}
		if err := e.sink.WriteString(":"); err != nil {
			return err
		}
		if err := e.value(fv); err != nil {
			return err
		}
	}
	return e.sink.WriteString("}")
}

func (e *Encoder) mapping(v reflect.Value) error {
	if v.IsNil() {
		return e.sink.WriteString("null")
	}

	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := mapKey(iter.Key())
		if err != nil {
			return err
		}
		entries = append(entries, entry{key: k, val: iter.Value()})
	}
	slices.SortFunc(entries, func(a, b entry) int { return strings.Compare(a.key, b.key) })

	if err := e.sink.WriteString("{"); err != nil {
		return err
	}
	for i, en := range entries {
		if i > 0 {
			if err := e.sink.WriteString(","); err != nil {
				return err
			}
		}
		if err := e.leaf(en.key); err != nil {
			return err
		}
		if err := e.sink.WriteString(":"); err != nil {
			return err
		}
		if err := e.value(en.val); err != nil {
			return err
		}
	}
	return e.sink.WriteString("}")
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if k.Kind() == reflect.Pointer && k.IsNil() {
			return "", nil
		}
		b, err := tm.MarshalText()
		if err != nil {
			return "", fmt.Errorf("stream: encode map key: %w", err)
		}
		return string(b), nil
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("stream: encode map key: %w", &json.UnsupportedTypeError{Type: k.Type()})
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

// =============================================================================
// STRUCT FIELDS - declared order, json tags, embedded structs flattened
// =============================================================================

type field struct {
	name      string
	key       string // quoted name, ready to write
	index     []int
	depth     int
	omitEmpty bool
}

var fieldCache sync.Map // reflect.Type -> []field

func cachedFields(t reflect.Type) []field {
	if fs, ok := fieldCache.Load(t); ok {
		return fs.([]field)
	}
	fs, _ := fieldCache.LoadOrStore(t, dominantFields(typeFields(t, nil, 0, nil)))
	return fs.([]field)
}

// typeFields lists exported fields in declaration order. Exported embedded
// structs and struct pointers without a json name are flattened.
func typeFields(t reflect.Type, parent []int, depth int, path []reflect.Type) []field {
	path = append(slices.Clone(path), t)
	var out []field
	for i := range t.NumField() {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		index := append(slices.Clone(parent), i)

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if sf.IsExported() && !slices.Contains(path, ft) {
					out = append(out, typeFields(ft, index, depth+1, path)...)
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		key, _ := json.Marshal(name)
		out = append(out, field{
			name:      name,
			key:       string(key),
			index:     index,
			depth:     depth,
			omitEmpty: slices.Contains(strings.Split(opts, ","), "omitempty"),
		})
	}
	return out
}

// dominantFields keeps, for each name, the shallowest field. Names that tie
// at the shallowest depth are dropped, as encoding/json does.
func dominantFields(fs []field) []field {
	shallowest := make(map[string]int)
	count := make(map[string]int)
	for _, f := range fs {
		d, ok := shallowest[f.name]
		switch {
		case !ok || f.depth < d:
			shallowest[f.name] = f.depth
			count[f.name] = 1
		case f.depth == d:
			count[f.name]++
		}
	}
	out := fs[:0:0]
	for _, f := range fs {
		if f.depth == shallowest[f.name] && count[f.name] == 1 {
			out = append(out, f)
		}
	}
	return out
}
