// Package sdk defines the contract between the engine and resource providers.
package sdk

import (
	"context"

	"github.com/picklr-io/sweep/internal/ir"
)

// Provider manages the resource types it declares in Types.
type Provider interface {
	Name() string
	Types() []ir.ResourceType

	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)

	// Enumerate lists live instances. Providers return ErrNotEnumerable for
	// types without the Enumerable capability.
	Enumerate(ctx context.Context, req *EnumerateRequest) (*EnumerateResponse, error)
}

// AbsenceValidator is implemented by providers that can reject deleting a
// particular live instance. ValidateAbsent must not have side effects.
type AbsenceValidator interface {
	ValidateAbsent(typ string, inst ir.LiveInstance) error
}

// KeepFunc reports whether a live instance must survive a purge.
type KeepFunc func(inst ir.LiveInstance) bool

// Checker is implemented by providers contributing type-specific purge
// exclusions, keyed by type name.
type Checker interface {
	Checks() map[string]KeepFunc
}

type PlanRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
	Credential        *ir.Credential
}

type PlanResponse struct {
	Action            string
	ChangedAttributes []string
}

type ApplyRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
	Credential        *ir.Credential
}

type ApplyResponse struct {
	NewStateJSON []byte
}

// DeleteRequest carries everything known about the instance: the last
// recorded state for managed resources, the observed attributes for
// purged ones.
type DeleteRequest struct {
	Type             string
	Name             string
	ID               string
	CurrentStateJSON []byte
	Credential       *ir.Credential
}

type DeleteResponse struct{}

type EnumerateRequest struct {
	Type       string
	Credential *ir.Credential
}

type EnumerateResponse struct {
	Instances []ir.LiveInstance
}
