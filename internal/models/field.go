package models

import (
	"bytes"
	"encoding/json"
)

type fieldState uint8

const (
	fieldUnchanged fieldState = iota
	fieldSet
	fieldClear
)

// Field is an optional update value: unchanged, set to a value, or cleared.
// In JSON an absent key leaves it unchanged and null clears it.
type Field[T any] struct {
	state fieldState
	value T
}

// Set returns a field holding v.
func Set[T any](v T) Field[T] {
	return Field[T]{state: fieldSet, value: v}
}

// Clear returns a field that removes the stored value.
func Clear[T any]() Field[T] {
	return Field[T]{state: fieldClear}
}

func (f Field[T]) IsUnchanged() bool { return f.state == fieldUnchanged }
func (f Field[T]) IsSet() bool       { return f.state == fieldSet }
func (f Field[T]) IsClear() bool     { return f.state == fieldClear }

// Value returns the held value and whether the field is set.
func (f Field[T]) Value() (T, bool) {
	return f.value, f.state == fieldSet
}

// Apply writes the field onto dst. Clearing stores the zero value.
func (f Field[T]) Apply(dst *T) {
	switch f.state {
	case fieldSet:
		*dst = f.value
	case fieldClear:
		var zero T
		*dst = zero
	}
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Clear[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Set(v)
	return nil
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != fieldSet {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}
