package purge

import (
	"errors"
	"fmt"

	"github.com/picklr-io/sweep/internal/ir"
)

var (
	// ErrPurgeUnsupported is returned when purge is requested on a type that
	// cannot be enumerated or cannot be set absent.
	ErrPurgeUnsupported = errors.New("purge unsupported")

	// ErrEnumerationUnsupported is returned when live instances of a type
	// cannot be listed.
	ErrEnumerationUnsupported = errors.New("enumeration unsupported")

	// ErrEnumerationFailed wraps collaborator failures while listing live
	// instances.
	ErrEnumerationFailed = errors.New("enumeration failed")

	// ErrInvalidExclusionConfig is returned for malformed unlessSystemPrincipal
	// or unlessIdentifier values.
	ErrInvalidExclusionConfig = errors.New("invalid exclusion config")

	// ErrUnknownType is returned when no provider serves the requested type.
	ErrUnknownType = errors.New("unknown resource type")

	// ErrUnknownAccount is returned when a policy names an undeclared credential.
	ErrUnknownAccount = errors.New("unknown account")
)

// ConfigurationError reports an invalid purge declaration. It is raised
// before any remote call is made.
type ConfigurationError struct {
	Type   string
	Param  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("purge %s", e.Type)
	if e.Param != "" {
		msg += fmt.Sprintf(" (%s)", e.Param)
	}
	msg += ": " + e.Err.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ValidationFailure reports that a single instance cannot be marked absent.
// It excludes the instance from the purge set without aborting the pass.
type ValidationFailure struct {
	Ref ir.Reference
	Err error
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("%s cannot be set absent: %v", e.Ref, e.Err)
}

func (e *ValidationFailure) Unwrap() error {
	return e.Err
}
