package config

import "math/rand"

// Supplier produces a value each time it is called. It backs the fields that
// may either be fixed or rotate.
type Supplier[T any] func() T

// Fixed returns a supplier that always yields v.
func Fixed[T any](v T) Supplier[T] {
	return func() T { return v }
}

// RandomFrom returns a supplier that picks a random element of list on every
// call. It returns nil for an empty list.
func RandomFrom[T any](list []T) Supplier[T] {
	if len(list) == 0 {
		return nil
	}
	items := append([]T(nil), list...)
	return func() T { return items[rand.Intn(len(items))] }
}
