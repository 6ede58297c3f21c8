// Package store provides the keyed, typed persistence layer used to save and
// restore the interpolation database. Values are grouped in scoped child
// databases and written through a pluggable byte-level Backend.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrTypeMismatch is returned when a key holds a value of another type.
	ErrTypeMismatch = errors.New("stored value has a different type")

	// ErrInvalidKey is returned for empty keys or keys containing the scope separator.
	ErrInvalidKey = errors.New("invalid key")
)

const separator = "/"

// Backend stores opaque byte values under flat string keys.
type Backend interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	// Keys returns every key starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
	Close() error
}

// Kind identifies the element type of a stored value
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindChar
	KindInt
	KindFloat
	KindDouble
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindChar:
		return "char"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// record is the envelope written for every key. Scalars are stored as
// single-element arrays with Array unset.
type record struct {
	Kind    Kind      `json:"k"`
	Array   bool      `json:"a,omitempty"`
	Bools   []bool    `json:"b,omitempty"`
	Chars   []byte    `json:"c,omitempty"`
	Ints    []int64   `json:"i,omitempty"`
	Floats  []float32 `json:"f,omitempty"`
	Doubles []float64 `json:"d,omitempty"`
	Strings []string  `json:"s,omitempty"`
}

// Database is a scoped view over a Backend with typed accessors.
type Database struct {
	backend     Backend
	prefix      string
	compression CompressionType
}

// New creates the root database over a backend.
func New(backend Backend, compression CompressionType) *Database {
	return &Database{backend: backend, compression: compression}
}

// NewMemory creates a root database over a fresh in-memory backend.
func NewMemory() *Database {
	return New(NewMemoryBackend(), CompressionNone)
}

// Close closes the underlying backend
func (db *Database) Close() error { return db.backend.Close() }

// Child returns the nested database stored under name.
func (db *Database) Child(name string) (*Database, error) {
	if err := validateKey(name); err != nil {
		return nil, err
	}
	return &Database{
		backend:     db.backend,
		prefix:      db.prefix + name + separator,
		compression: db.compression,
	}, nil
}

// Keys returns the value keys stored directly in this scope.
func (db *Database) Keys() ([]string, error) {
	keys, _, err := db.list()
	return keys, err
}

// Children returns the names of the nested databases of this scope.
func (db *Database) Children() ([]string, error) {
	_, children, err := db.list()
	return children, err
}

func (db *Database) list() ([]string, []string, error) {
	all, err := db.backend.Keys(db.prefix)
	if err != nil {
		return nil, nil, err
	}
	var keys []string
	seen := make(map[string]bool)
	var children []string
	for _, k := range all {
		rest := strings.TrimPrefix(k, db.prefix)
		if i := strings.Index(rest, separator); i >= 0 {
			name := rest[:i]
			if !seen[name] {
				seen[name] = true
				children = append(children, name)
			}
			continue
		}
		keys = append(keys, rest)
	}
	sort.Strings(children)
	return keys, children, nil
}

// KeyExists reports whether a value is stored under key in this scope.
func (db *Database) KeyExists(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	_, err := db.backend.Get(db.prefix + key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func validateKey(key string) error {
	if key == "" || strings.Contains(key, separator) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func (db *Database) put(key string, r record) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	block, err := encodeBlock(data, db.compression)
	if err != nil {
		return fmt.Errorf("compressing %q: %w", key, err)
	}
	return db.backend.Put(db.prefix+key, block)
}

func (db *Database) get(key string, kind Kind, array bool) (record, error) {
	var r record
	if err := validateKey(key); err != nil {
		return r, err
	}
	block, err := db.backend.Get(db.prefix + key)
	if err != nil {
		return r, fmt.Errorf("%s%s: %w", db.prefix, key, err)
	}
	data, err := decodeBlock(block)
	if err != nil {
		return r, fmt.Errorf("decompressing %q: %w", key, err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decoding %q: %w", key, err)
	}
	if r.Kind != kind || r.Array != array {
		return r, fmt.Errorf("%w: %q holds %s (array=%t), want %s (array=%t)",
			ErrTypeMismatch, key, r.Kind, r.Array, kind, array)
	}
	return r, nil
}

func scalar[T any](values []T, key string) (T, error) {
	var zero T
	if len(values) != 1 {
		return zero, fmt.Errorf("%w: %q scalar has %d elements", ErrTypeMismatch, key, len(values))
	}
	return values[0], nil
}

// PutBool stores a bool.
func (db *Database) PutBool(key string, v bool) error {
	return db.put(key, record{Kind: KindBool, Bools: []bool{v}})
}

// GetBool reads a bool.
func (db *Database) GetBool(key string) (bool, error) {
	r, err := db.get(key, KindBool, false)
	if err != nil {
		return false, err
	}
	return scalar(r.Bools, key)
}

// PutBoolArray stores a bool array.
func (db *Database) PutBoolArray(key string, v []bool) error {
	return db.put(key, record{Kind: KindBool, Array: true, Bools: v})
}

// GetBoolArray reads a bool array.
func (db *Database) GetBoolArray(key string) ([]bool, error) {
	r, err := db.get(key, KindBool, true)
	return r.Bools, err
}

// PutChar stores a single character.
func (db *Database) PutChar(key string, v byte) error {
	return db.put(key, record{Kind: KindChar, Chars: []byte{v}})
}

// GetChar reads a single character.
func (db *Database) GetChar(key string) (byte, error) {
	r, err := db.get(key, KindChar, false)
	if err != nil {
		return 0, err
	}
	return scalar(r.Chars, key)
}

// PutCharArray stores a character array.
func (db *Database) PutCharArray(key string, v []byte) error {
	return db.put(key, record{Kind: KindChar, Array: true, Chars: v})
}

// GetCharArray reads a character array.
func (db *Database) GetCharArray(key string) ([]byte, error) {
	r, err := db.get(key, KindChar, true)
	return r.Chars, err
}

// PutInt stores an int.
func (db *Database) PutInt(key string, v int) error {
	return db.put(key, record{Kind: KindInt, Ints: []int64{int64(v)}})
}

// GetInt reads an int.
func (db *Database) GetInt(key string) (int, error) {
	r, err := db.get(key, KindInt, false)
	if err != nil {
		return 0, err
	}
	v, err := scalar(r.Ints, key)
	return int(v), err
}

// PutIntArray stores an int array.
func (db *Database) PutIntArray(key string, v []int) error {
	ints := make([]int64, len(v))
	for i, x := range v {
		ints[i] = int64(x)
	}
	return db.put(key, record{Kind: KindInt, Array: true, Ints: ints})
}

// GetIntArray reads an int array.
func (db *Database) GetIntArray(key string) ([]int, error) {
	r, err := db.get(key, KindInt, true)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(r.Ints))
	for i, x := range r.Ints {
		out[i] = int(x)
	}
	return out, nil
}

// PutFloat stores a float32.
func (db *Database) PutFloat(key string, v float32) error {
	return db.put(key, record{Kind: KindFloat, Floats: []float32{v}})
}

// GetFloat reads a float32.
func (db *Database) GetFloat(key string) (float32, error) {
	r, err := db.get(key, KindFloat, false)
	if err != nil {
		return 0, err
	}
	return scalar(r.Floats, key)
}

// PutFloatArray stores a float32 array.
func (db *Database) PutFloatArray(key string, v []float32) error {
	return db.put(key, record{Kind: KindFloat, Array: true, Floats: v})
}

// GetFloatArray reads a float32 array.
func (db *Database) GetFloatArray(key string) ([]float32, error) {
	r, err := db.get(key, KindFloat, true)
	return r.Floats, err
}

// PutDouble stores a float64.
func (db *Database) PutDouble(key string, v float64) error {
	return db.put(key, record{Kind: KindDouble, Doubles: []float64{v}})
}

// GetDouble reads a float64.
func (db *Database) GetDouble(key string) (float64, error) {
	r, err := db.get(key, KindDouble, false)
	if err != nil {
		return 0, err
	}
	return scalar(r.Doubles, key)
}

// PutDoubleArray stores a float64 array.
func (db *Database) PutDoubleArray(key string, v []float64) error {
	return db.put(key, record{Kind: KindDouble, Array: true, Doubles: v})
}

// GetDoubleArray reads a float64 array.
func (db *Database) GetDoubleArray(key string) ([]float64, error) {
	r, err := db.get(key, KindDouble, true)
	return r.Doubles, err
}

// PutString stores a string.
func (db *Database) PutString(key string, v string) error {
	return db.put(key, record{Kind: KindString, Strings: []string{v}})
}

// GetString reads a string.
func (db *Database) GetString(key string) (string, error) {
	r, err := db.get(key, KindString, false)
	if err != nil {
		return "", err
	}
	return scalar(r.Strings, key)
}

// PutStringArray stores a string array.
func (db *Database) PutStringArray(key string, v []string) error {
	return db.put(key, record{Kind: KindString, Array: true, Strings: v})
}

// GetStringArray reads a string array.
func (db *Database) GetStringArray(key string) ([]string, error) {
	r, err := db.get(key, KindString, true)
	return r.Strings, err
}
