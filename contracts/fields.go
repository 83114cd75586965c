package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/teamsquad/eventbus-go/internal/jsoncodec"
)

// Field is a single payload entry.
type Field struct {
	Key   string
	Value any
}

// Fields is an ordered key/value payload. JSON encoding preserves insertion
// order; nested objects decode into Fields as well.
type Fields []Field

// With sets key to value and returns the updated list. An existing key keeps
// its position.
func (f Fields) With(key string, value any) Fields {
	for i := range f {
		if f[i].Key == key {
			f[i].Value = value
			return f
		}
	}
	return append(f, Field{Key: key, Value: value})
}

// Get returns the value stored under key.
func (f Fields) Get(key string) (any, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (f Fields) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

// Keys returns the keys in order.
func (f Fields) Keys() []string {
	keys := make([]string, len(f))
	for i, field := range f {
		keys[i] = field.Key
	}
	return keys
}

// Clone returns a shallow copy that can be modified independently.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	copy(out, f)
	return out
}

// String returns the string stored under key.
func (f Fields) String(key string) (string, error) {
	v, ok := f.Get(key)
	if !ok {
		return "", &FieldError{Key: key, Err: ErrFieldMissing}
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldError{Key: key, Err: fmt.Errorf("%w: want string, got %T", ErrFieldType, v)}
	}
	return s, nil
}

// StringOr returns the string stored under key or def when absent or not a string.
func (f Fields) StringOr(key, def string) string {
	s, err := f.String(key)
	if err != nil {
		return def
	}
	return s
}

// Int returns the integer stored under key. Decoded JSON numbers and
// integral floats are accepted.
func (f Fields) Int(key string) (int64, error) {
	v, ok := f.Get(key)
	if !ok {
		return 0, &FieldError{Key: key, Err: ErrFieldMissing}
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case float64:
		if n == math.Trunc(n) {
			return int64(n), nil
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, nil
		}
	}
	return 0, &FieldError{Key: key, Err: fmt.Errorf("%w: want integer, got %T", ErrFieldType, v)}
}

// Float returns the number stored under key.
func (f Fields) Float(key string) (float64, error) {
	v, ok := f.Get(key)
	if !ok {
		return 0, &FieldError{Key: key, Err: ErrFieldMissing}
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		if x, err := n.Float64(); err == nil {
			return x, nil
		}
	}
	return 0, &FieldError{Key: key, Err: fmt.Errorf("%w: want number, got %T", ErrFieldType, v)}
}

// Bool returns the boolean stored under key.
func (f Fields) Bool(key string) (bool, error) {
	v, ok := f.Get(key)
	if !ok {
		return false, &FieldError{Key: key, Err: ErrFieldMissing}
	}
	b, ok := v.(bool)
	if !ok {
		return false, &FieldError{Key: key, Err: fmt.Errorf("%w: want bool, got %T", ErrFieldType, v)}
	}
	return b, nil
}

// MarshalJSON encodes the fields as a JSON object in insertion order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := jsoncodec.Marshal(field.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := jsoncodec.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order. Numbers decode as
// json.Number so integers survive without float rounding.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrInvalidFields
	}
	out, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*f = out
	return nil
}

func decodeObject(dec *json.Decoder) (Fields, error) {
	out := Fields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("contracts: unexpected object key %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, Field{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		return decodeObject(dec)
	case '[':
		list := []any{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return list, nil
	}
	return nil, fmt.Errorf("contracts: unexpected delimiter %v", delim)
}
