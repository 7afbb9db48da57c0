package models

import (
	"bytes"
	"encoding/json"
)

// Nullable is a partial-update field that tells an absent key from an explicit null.
// Set is true whenever the key was present; Value is nil for null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func Some[T any](v T) Nullable[T] { return Nullable[T]{Set: true, Value: &v} }

func Null[T any]() Nullable[T] { return Nullable[T]{Set: true} }

// Clears reports an explicit null.
func (n Nullable[T]) Clears() bool { return n.Set && n.Value == nil }

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Value)
}

// clone copies the pointed-to value so the patch and its target never share memory.
func (n Nullable[T]) clone() *T {
	if n.Value == nil {
		return nil
	}
	v := *n.Value
	return &v
}
