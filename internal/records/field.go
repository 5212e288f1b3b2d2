package records

import (
	"bytes"
	"encoding/json"
)

// Field is an optional update value that tells "omitted" apart from
// "explicitly null".
type Field[T any] struct {
	Set   bool
	Value *T
}

// SetTo returns a field that assigns value.
func SetTo[T any](value T) Field[T] {
	return Field[T]{Set: true, Value: &value}
}

// Clear returns a field that sets the column to NULL.
func Clear[T any]() Field[T] {
	return Field[T]{Set: true}
}

// UnmarshalJSON is only invoked for keys present in the document, so a
// decoded Field is Set exactly when the caller sent it.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Value = nil
		return nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	f.Value = &value
	return nil
}

// Put writes the field into changes under column when it was set.
func (f Field[T]) Put(changes Changes, column string) {
	if !f.Set {
		return
	}
	if f.Value == nil {
		changes[column] = nil
		return
	}
	changes[column] = *f.Value
}

// Cleared reports whether the field explicitly asks for NULL.
func (f Field[T]) Cleared() bool {
	return f.Set && f.Value == nil
}
