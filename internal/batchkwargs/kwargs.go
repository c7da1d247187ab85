package batchkwargs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Well-known keys.
const (
	KeyPath        = "path"
	KeyS3          = "s3"
	KeyDataFrame   = "df"
	KeyQuery       = "query"
	KeyTable       = "table"
	KeySchema      = "schema"
	KeyTimestamp   = "timestamp"
	KeyLimit       = "limit"
	KeyPartitionID = "partition_id"
)

// Kwargs is an insertion-ordered mapping describing how to materialize one batch.
// The zero value is ready to use.
type Kwargs struct {
	keys   []string
	values map[string]any
}

func New() *Kwargs {
	return &Kwargs{values: map[string]any{}}
}

// FromMap copies m into a new Kwargs. Keys are inserted in sorted order.
func FromMap(m map[string]any) *Kwargs {
	k := New()
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		k.Set(key, m[key])
	}
	return k
}

func (k *Kwargs) Set(key string, value any) {
	if k.values == nil {
		k.values = map[string]any{}
	}
	if _, ok := k.values[key]; !ok {
		k.keys = append(k.keys, key)
	}
	k.values[key] = value
}

func (k *Kwargs) Get(key string) (any, bool) {
	if k == nil || k.values == nil {
		return nil, false
	}
	value, ok := k.values[key]
	return value, ok
}

// GetString returns the value for key when it is a string.
func (k *Kwargs) GetString(key string) (string, bool) {
	value, ok := k.Get(key)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

func (k *Kwargs) Has(key string) bool {
	_, ok := k.Get(key)
	return ok
}

func (k *Kwargs) Delete(key string) {
	if k == nil || k.values == nil {
		return
	}
	if _, ok := k.values[key]; !ok {
		return
	}
	delete(k.values, key)
	for i, existing := range k.keys {
		if existing == key {
			k.keys = append(k.keys[:i], k.keys[i+1:]...)
			break
		}
	}
}

// Pop removes key and returns its previous value.
func (k *Kwargs) Pop(key string) (any, bool) {
	value, ok := k.Get(key)
	if ok {
		k.Delete(key)
	}
	return value, ok
}

func (k *Kwargs) Keys() []string {
	if k == nil {
		return nil
	}
	out := make([]string, len(k.keys))
	copy(out, k.keys)
	return out
}

func (k *Kwargs) Len() int {
	if k == nil {
		return 0
	}
	return len(k.keys)
}

// Copy returns a shallow copy.
func (k *Kwargs) Copy() *Kwargs {
	out := New()
	if k == nil {
		return out
	}
	for _, key := range k.keys {
		out.Set(key, k.values[key])
	}
	return out
}

// Update sets every key of other on k, in other's order.
func (k *Kwargs) Update(other *Kwargs) {
	if other == nil {
		return
	}
	for _, key := range other.keys {
		k.Set(key, other.values[key])
	}
}

// UpdateMap sets every key of m on k in sorted key order.
func (k *Kwargs) UpdateMap(m map[string]any) {
	k.Update(FromMap(m))
}

// Map returns an unordered copy of the mapping.
func (k *Kwargs) Map() map[string]any {
	out := make(map[string]any, k.Len())
	if k == nil {
		return out
	}
	for _, key := range k.keys {
		out[key] = k.values[key]
	}
	return out
}

func (k *Kwargs) String() string {
	raw, err := k.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", k.Map())
	}
	return string(raw)
}

func (k *Kwargs) MarshalJSON() ([]byte, error) {
	buf := bytes.NewBufferString("{")
	if k != nil {
		for i, key := range k.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			rawKey, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			rawValue, err := json.Marshal(k.values[key])
			if err != nil {
				return nil, fmt.Errorf("marshal batch kwarg %q: %w", key, err)
			}
			buf.Write(rawKey)
			buf.WriteByte(':')
			buf.Write(rawValue)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (k *Kwargs) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("batch kwargs must be a JSON object")
	}
	k.keys = nil
	k.values = map[string]any{}
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		key, ok := token.(string)
		if !ok {
			return fmt.Errorf("invalid batch kwargs key %v", token)
		}
		var value any
		if err := decoder.Decode(&value); err != nil {
			return fmt.Errorf("decode batch kwarg %q: %w", key, err)
		}
		k.Set(key, normalizeJSON(value))
	}
	if _, err := decoder.Token(); err != nil {
		return err
	}
	return nil
}

func normalizeJSON(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case []any:
		for i := range typed {
			typed[i] = normalizeJSON(typed[i])
		}
		return typed
	case map[string]any:
		for key := range typed {
			typed[key] = normalizeJSON(typed[key])
		}
		return typed
	default:
		return value
	}
}

// Timestamp renders t as fractional unix seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}
