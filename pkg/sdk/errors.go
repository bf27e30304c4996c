package sdk

import (
	"errors"
	"fmt"
)

var (
	// ErrNotEnumerable is returned by Enumerate for types that cannot list
	// their live instances.
	ErrNotEnumerable = errors.New("type is not enumerable")

	// ErrUnknownType is returned when a provider is asked about a type it
	// does not serve.
	ErrUnknownType = errors.New("unknown resource type")
)

// UnknownType returns an error wrapping ErrUnknownType for typ.
func UnknownType(typ string) error {
	return fmt.Errorf("%w: %s", ErrUnknownType, typ)
}
