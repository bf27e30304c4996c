// Package purge computes which live resources are unmanaged and safe to
// delete. A Generator enumerates the live instances of a type, filters them
// through an ordered exclusion chain and marks the survivors absent.
package purge

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
)

// Enumerator lists the live instances of a resource type.
type Enumerator interface {
	Enumerate(ctx context.Context, typ ir.ResourceType, cred *ir.Credential) ([]ir.LiveInstance, error)
}

// AbsenceValidator is optionally implemented by enumerators that can tell,
// without side effects, whether a live instance may be set absent.
type AbsenceValidator interface {
	ValidateAbsent(typ ir.ResourceType, inst ir.LiveInstance) error
}

// Observer receives per-pass counters.
type Observer interface {
	Enumerated(typ string, n int)
	Excluded(typ, rule string)
	Marked(typ string)
}

// Exclusion rule names reported to the Observer.
const (
	RuleCatalog   = "catalog"
	RuleCheck     = "check"
	RuleAbsence   = "absence"
	RulePrincipal = "principal"
)

// Request is one generation pass for a single purge policy.
type Request struct {
	Policy  *Policy
	Catalog *Catalog
}

// Generator produces purge-originated resources.
type Generator struct {
	enumerator Enumerator
	checks     *CheckRegistry
	observer   Observer
}

// Option configures a Generator.
type Option func(*Generator)

// WithChecks sets the registry of type-specific checks.
func WithChecks(r *CheckRegistry) Option {
	return func(g *Generator) { g.checks = r }
}

// WithObserver sets the observer notified during generation.
func WithObserver(o Observer) Option {
	return func(g *Generator) { g.observer = o }
}

func NewGenerator(e Enumerator, opts ...Option) *Generator {
	g := &Generator{enumerator: e}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the resources to delete for req, sorted by address.
// An empty result is common. Enumeration failures abort the pass and no
// partial result is returned.
func (g *Generator) Generate(ctx context.Context, req Request) ([]*ir.Resource, error) {
	p := req.Policy
	if p == nil || !p.Purge {
		return nil, nil
	}
	if !p.Type.Capabilities.Enumerable {
		return nil, fmt.Errorf("%w: %s", ErrEnumerationUnsupported, p.Type.Name)
	}

	live, err := g.enumerator.Enumerate(ctx, p.Type, p.Credential)
	if err != nil {
		if errors.Is(err, ErrEnumerationUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrEnumerationFailed, p.Type.Name, err)
	}
	g.observe(func(o Observer) { o.Enumerated(p.Type.Name, len(live)) })
	logging.Debug("enumerated live instances", "type", p.Type.Name, "count", len(live))

	seen := make(map[ir.Reference]struct{}, len(live))
	var out []*ir.Resource
	for _, inst := range live {
		if inst.Ref.Type == "" {
			inst.Ref.Type = p.Type.Name
		}
		if _, dup := seen[inst.Ref]; dup {
			continue
		}
		seen[inst.Ref] = struct{}{}

		if rule, keep := g.keep(p, req.Catalog, inst); keep {
			g.observe(func(o Observer) { o.Excluded(p.Type.Name, rule) })
			continue
		}
		out = append(out, g.mark(p, inst))
		g.observe(func(o Observer) { o.Marked(p.Type.Name) })
	}

	slices.SortFunc(out, func(a, b *ir.Resource) int {
		return strings.Compare(a.Ref().String(), b.Ref().String())
	})
	return out, nil
}

// keep runs the exclusion chain and returns the first rule that keeps inst.
func (g *Generator) keep(p *Policy, catalog *Catalog, inst ir.LiveInstance) (string, bool) {
	if catalog.Contains(inst.Ref) {
		return RuleCatalog, true
	}

	if check, ok := g.checks.Lookup(p.Type.Name); ok && check(inst, p) {
		logging.Debug("kept by type check", "instance", inst.Ref.String())
		return RuleCheck, true
	}

	if v, ok := g.enumerator.(AbsenceValidator); ok {
		if err := v.ValidateAbsent(p.Type, inst); err != nil {
			failure := &ValidationFailure{Ref: inst.Ref, Err: err}
			logging.Warn("excluding instance from purge", "instance", inst.Ref.String(), "error", failure.Error())
			return RuleAbsence, true
		}
	}

	if p.Type.Capabilities.IdentityProtected && PrincipalCheck(inst, p) {
		logging.Debug("kept as system principal", "instance", inst.Ref.String())
		return RulePrincipal, true
	}

	return "", false
}

// mark turns inst into a declared-absent resource carrying the policy's
// metaparameters and the ordering hint for the apply engine.
func (g *Generator) mark(p *Policy, inst ir.LiveInstance) *ir.Resource {
	res := &ir.Resource{
		Type:       p.Type.Name,
		Name:       inst.Ref.Name,
		Provider:   p.Type.Provider,
		Ensure:     ir.EnsureAbsent,
		DependsOn:  slices.Clone(p.DependsOn),
		Tags:       maps.Clone(p.Tags),
		Properties: maps.Clone(inst.Attributes),
		Purging:    true,
		Ordering:   &ir.Ordering{AfterDeclaredOfType: p.Type.Name},
	}
	if p.Credential != nil {
		res.Account = p.Credential.Name
	}
	return res
}

func (g *Generator) observe(fn func(Observer)) {
	if g.observer != nil {
		fn(g.observer)
	}
}
