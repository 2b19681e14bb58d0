package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrFloatNotAllowed = errors.New("float values are not allowed")
	ErrNonStringMapKey = errors.New("map keys must be strings")
	ErrUnsupportedType = errors.New("unsupported type for canonicalization")
	ErrKeyCollision    = errors.New("normalized map key collision")
)

// Canonicalize encodes v as canonical JSON: NFC-normalized strings, sorted
// object keys, nulls stripped from objects, floats rejected. Equal values
// always canonicalize to the same bytes, which is what keeps evidence digests
// and decision IDs stable across runs.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}

	if n, ok := v.(json.Number); ok {
		return encodeNumber(buf, n)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return encodeString(buf, rv.String())
	case reflect.Bool:
		buf.WriteString(strconv.FormatBool(rv.Bool()))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		return ErrFloatNotAllowed
	case reflect.Map:
		return encodeMap(buf, rv)
	case reflect.Slice, reflect.Array:
		return encodeSlice(buf, rv)
	case reflect.Invalid:
		buf.WriteString("null")
		return nil
	default:
		return ErrUnsupportedType
	}
}

func encodeString(buf *bytes.Buffer, s string) error {
	encoded, err := json.Marshal(norm.NFC.String(s))
	if err != nil {
		return err
	}
	buf.Write(encoded)
	return nil
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	value, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return ErrFloatNotAllowed
	}
	buf.WriteString(strconv.FormatInt(value, 10))
	return nil
}

func encodeMap(buf *bytes.Buffer, rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return ErrNonStringMapKey
	}

	type entry struct {
		key   string
		value any
	}
	entries := make([]entry, 0, rv.Len())
	seen := map[string]struct{}{}

	for _, key := range rv.MapKeys() {
		normalized := norm.NFC.String(key.String())
		if _, dup := seen[normalized]; dup {
			return ErrKeyCollision
		}
		seen[normalized] = struct{}{}

		value := rv.MapIndex(key).Interface()
		if isNil(value) {
			continue
		}
		entries = append(entries, entry{key: normalized, value: value})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, e.key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, e.value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeSlice(buf *bytes.Buffer, rv reflect.Value) error {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		buf.WriteString("null")
		return nil
	}

	buf.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}
