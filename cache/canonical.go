package cache

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"time"
)

const maxCanonicalDepth = 32

// ErrNotSerializable indicates a value cannot be rendered as canonical JSON.
var ErrNotSerializable = errors.New("value is not JSON serializable")

var (
	timeType        = reflect.TypeOf(time.Time{})
	bigIntType      = reflect.TypeOf(big.Int{})
	bigFloatType    = reflect.TypeOf(big.Float{})
	bigRatType      = reflect.TypeOf(big.Rat{})
	jsonNumberType  = reflect.TypeOf(json.Number(""))
	jsonMarshalType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// CanonicalJSON renders v as compact JSON with sorted object keys.
//
// Timestamps become RFC 3339 UTC strings, arbitrary-precision numbers and
// json.Number become strings, byte slices become standard base64 and
// structs become objects keyed by their json tag names. Two values that
// differ only in map insertion order always render identically.
func CanonicalJSON(v any) ([]byte, error) {
	n, err := normalize(reflect.ValueOf(v), 0)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func normalize(rv reflect.Value, depth int) (any, error) {
	if depth > maxCanonicalDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrNotSerializable)
	}
	if !rv.IsValid() {
		return nil, nil
	}

	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		// big.* values are only usable through their pointer methods.
		if rv.Kind() == reflect.Pointer {
			if s, ok := bigString(rv); ok {
				return s, nil
			}
		}
		rv = rv.Elem()
	}

	switch rv.Type() {
	case timeType:
		return rv.Interface().(time.Time).UTC().Format(time.RFC3339Nano), nil
	case jsonNumberType:
		return rv.String(), nil
	case bigIntType, bigFloatType, bigRatType:
		if rv.CanAddr() {
			if s, ok := bigString(rv.Addr()); ok {
				return s, nil
			}
		}
		cp := reflect.New(rv.Type())
		cp.Elem().Set(rv)
		s, _ := bigString(cp)
		return s, nil
	}

	if rv.Type().Implements(jsonMarshalType) && rv.Kind() != reflect.Struct {
		return viaMarshaler(rv, depth)
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(rv.Bytes()), nil
		}
		return normalizeList(rv, depth)
	case reflect.Array:
		return normalizeList(rv, depth)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := mapKey(iter.Key())
			if err != nil {
				return nil, err
			}
			v, err := normalize(iter.Value(), depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case reflect.Struct:
		if rv.Type().Implements(jsonMarshalType) {
			return viaMarshaler(rv, depth)
		}
		out := make(map[string]any)
		if err := normalizeStruct(rv, out, depth); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrNotSerializable, rv.Kind())
	}
}

func normalizeList(rv reflect.Value, depth int) (any, error) {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := normalize(rv.Index(i), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func normalizeStruct(rv reflect.Value, out map[string]any, depth int) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		name, omitEmpty, skip := jsonFieldName(f)
		if skip {
			continue
		}

		if !f.IsExported() {
			continue
		}

		fv := rv.Field(i)
		if f.Anonymous && name == "" {
			inner := fv
			for inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					break
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				if err := normalizeStruct(inner, out, depth+1); err != nil {
					return err
				}
				continue
			}
		}
		if name == "" {
			name = f.Name
		}
		if omitEmpty && fv.IsZero() {
			continue
		}

		v, err := normalize(fv, depth+1)
		if err != nil {
			return err
		}
		out[name] = v
	}
	return nil
}

func jsonFieldName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return parts[0], omitEmpty, false
}

func mapKey(k reflect.Value) (string, error) {
	for k.Kind() == reflect.Interface {
		k = k.Elem()
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprint(k.Interface()), nil
	case reflect.Bool, reflect.Float32, reflect.Float64:
		return fmt.Sprint(k.Interface()), nil
	default:
		return "", fmt.Errorf("%w: unsupported map key %s", ErrNotSerializable, k.Kind())
	}
}

func bigString(ptr reflect.Value) (string, bool) {
	switch v := ptr.Interface().(type) {
	case *big.Int:
		return v.String(), true
	case *big.Float:
		return v.Text('g', -1), true
	case *big.Rat:
		return v.RatString(), true
	}
	return "", false
}

func viaMarshaler(rv reflect.Value, depth int) (any, error) {
	raw, err := rv.Interface().(json.Marshaler).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return normalize(reflect.ValueOf(decoded), depth+1)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
