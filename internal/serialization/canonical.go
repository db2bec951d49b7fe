package serialization

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// ErrUnsupportedValue is returned for values that have no JSON representation (NaN, Inf, channels, ...).
var ErrUnsupportedValue = errors.New("unsupported value for canonical JSON")

// Canonical encodes v exactly as Python's json.dumps(v, sort_keys=True) would.
//
// The output is the byte sequence that signatures are computed over, so every
// detail matters: object keys sorted by code point, ", " and ": " separators,
// non-ASCII escaped as \uXXXX (surrogate pairs above the BMP), floats in Python
// repr form ("6.5", "1.0", "1e+16") and integers without a fractional part.
//
// Values decoded with Decode keep integer/float literals distinct; values decoded
// by encoding/json into float64 always render as floats.
func Canonical(v any) (string, error) {
	var b strings.Builder
	if err := writeValue(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Decode parses JSON preserving number literals as json.Number so that Canonical
// can tell 1 from 1.0.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to decode JSON: trailing data after value")
	}
	return v, nil
}

func writeValue(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		writeString(b, val)
	case json.Number:
		return writeNumber(b, val)
	case float64:
		return writeFloat(b, val)
	case float32:
		return writeFloat(b, float64(val))
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int8:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int16:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case uint:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
	case map[string]any:
		return writeObject(b, val)
	case []any:
		return writeArray(b, val)
	case json.RawMessage:
		decoded, err := Decode(val)
		if err != nil {
			return err
		}
		return writeValue(b, decoded)
	default:
		return writeReflected(b, v)
	}
	return nil
}

// writeReflected routes structs, typed maps and typed slices through encoding/json
// so their json tags are honoured, then canonicalizes the generic form.
func writeReflected(b *strings.Builder, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedValue, err)
	}
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	return writeValue(b, decoded)
}

func writeObject(b *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		writeString(b, k)
		b.WriteString(": ")
		if err := writeValue(b, m[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeArray(b *strings.Builder, items []any) error {
	b.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := writeValue(b, item); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func writeNumber(b *strings.Builder, n json.Number) error {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		i, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("%w: invalid number literal %q", ErrUnsupportedValue, s)
		}
		b.WriteString(i.String())
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid number literal %q", ErrUnsupportedValue, s)
	}
	return writeFloat(b, f)
}

// writeFloat renders f like Python's float.__repr__.
func writeFloat(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: %v", ErrUnsupportedValue, f)
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		b.WriteString(strconv.FormatFloat(f, 'e', -1, 64))
		return nil
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	b.WriteString(s)
	return nil
}

// writeString escapes like json.dumps with ensure_ascii=True.
func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r <= 0x7e:
				b.WriteRune(r)
			case r < 0x10000:
				fmt.Fprintf(b, `\u%04x`, r)
			default:
				r1, r2 := utf16.EncodeRune(r)
				fmt.Fprintf(b, `\u%04x\u%04x`, r1, r2)
			}
		}
	}
	b.WriteByte('"')
}
