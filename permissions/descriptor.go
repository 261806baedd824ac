// Package permissions resolves layered permission configuration: ordered
// layers are overlaid into one mapping, later layers winning ties, and
// values are read through typed descriptors with validation at the read
// boundary.
package permissions

import (
	"encoding/json"

	"conference-lab/errors"
)

// Value constrains the scalar shapes a permission value may take. Stored
// layer values are type-erased (any) and checked against the descriptor at
// read time.
type Value interface {
	~bool | ~float64 | ~string
}

// Descriptor is a typed, stable permission key. The key strings are
// externally referenced identifiers and must not change.
type Descriptor[T Value] struct {
	Key     string
	Default T
}

func NewDescriptor[T Value](key string) Descriptor[T] {
	return Descriptor[T]{Key: key}
}

func NewDescriptorWithDefault[T Value](key string, def T) Descriptor[T] {
	return Descriptor[T]{Key: key, Default: def}
}

// Configure pairs the descriptor's key with a validated value, for
// building layer contents.
func (d Descriptor[T]) Configure(value T) (string, any) {
	return d.Key, any(value)
}

// Definition is the type-erased view of a descriptor, used to vet
// externally supplied values before they enter a layer.
type Definition struct {
	Key      string
	Validate func(value any) bool
}

func (d Descriptor[T]) Definition() Definition {
	return Definition{
		Key: d.Key,
		Validate: func(value any) bool {
			_, ok := coerce[T](value)
			return ok
		},
	}
}

// coerce converts a stored layer value to the descriptor's declared type.
// JSON decoding widens all numbers to float64; integer values are accepted
// for numeric descriptors.
func coerce[T Value](value any) (T, bool) {
	var zero T
	if typed, ok := value.(T); ok {
		return typed, true
	}
	switch any(zero).(type) {
	case float64:
		switch n := value.(type) {
		case int:
			return any(float64(n)).(T), true
		case int64:
			return any(float64(n)).(T), true
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return zero, false
			}
			return any(f).(T), true
		}
	}
	return zero, false
}

// GetPermissionValue resolves the descriptor against the stack: the value
// of the highest layer defining the key, or the descriptor's default if no
// layer does. A stored value that cannot be coerced to the declared type
// yields a validation error, not a crash.
func GetPermissionValue[T Value](s *Stack, d Descriptor[T]) (T, error) {
	raw, ok := s.Flatten()[d.Key]
	if !ok {
		return d.Default, nil
	}
	value, ok := coerce[T](raw)
	if !ok {
		var zero T
		return zero, errors.NewValidation(d.Key, "stored value %v (%T) does not match the descriptor type", raw, raw)
	}
	return value, nil
}
