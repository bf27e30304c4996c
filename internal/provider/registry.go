package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/purge"
	"github.com/picklr-io/sweep/pkg/sdk"
	"github.com/picklr-io/sweep/providers/aws"
	"github.com/picklr-io/sweep/providers/docker"
	"github.com/picklr-io/sweep/providers/null"
	"github.com/picklr-io/sweep/providers/system"
)

// Builtin lists the providers that can be loaded by name.
var Builtin = []string{"aws", "docker", "null", "system"}

// Registry manages the lifecycle of providers and indexes the resource
// types they serve.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]sdk.Provider
	types     map[string]ir.ResourceType
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]sdk.Provider),
		types:     make(map[string]ir.ResourceType),
	}
}

// LoadProvider initializes and registers a built-in provider.
func (r *Registry) LoadProvider(name string) error {
	r.mu.RLock()
	_, exists := r.providers[name]
	r.mu.RUnlock()
	if exists {
		return nil
	}

	var p sdk.Provider
	switch name {
	case "aws":
		p = aws.New()
	case "docker":
		p = docker.New()
	case "null":
		p = null.New()
	case "system":
		p = system.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	return r.Register(p)
}

// LoadAll loads every built-in provider.
func (r *Registry) LoadAll() error {
	for _, name := range Builtin {
		if err := r.LoadProvider(name); err != nil {
			return err
		}
	}
	return nil
}

// Register adds p and its types. A type already served by another provider
// is rejected.
func (r *Registry) Register(p sdk.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.Name()]; exists {
		return nil
	}
	for _, typ := range p.Types() {
		if owner, taken := r.types[typ.Name]; taken {
			return fmt.Errorf("type %s already served by provider %s", typ.Name, owner.Provider)
		}
	}
	for _, typ := range p.Types() {
		typ.Provider = p.Name()
		r.types[typ.Name] = typ
	}
	r.providers[p.Name()] = p
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (sdk.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}

// ResourceType returns the descriptor of a registered type. Unknown names
// trigger loading of the built-in providers once.
func (r *Registry) ResourceType(name string) (ir.ResourceType, bool) {
	if typ, ok := r.lookup(name); ok {
		return typ, true
	}
	if err := r.LoadAll(); err != nil {
		return ir.ResourceType{}, false
	}
	return r.lookup(name)
}

func (r *Registry) lookup(name string) (ir.ResourceType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	typ, ok := r.types[name]
	return typ, ok
}

// Types returns all registered types sorted by name.
func (r *Registry) Types() []ir.ResourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ir.ResourceType, 0, len(r.types))
	for _, typ := range r.types {
		out = append(out, typ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ProviderFor returns the provider serving typ.
func (r *Registry) ProviderFor(typ string) (sdk.Provider, error) {
	desc, ok := r.ResourceType(typ)
	if !ok {
		return nil, sdk.UnknownType(typ)
	}
	return r.Get(desc.Provider)
}

// Enumerate implements purge.Enumerator by dispatching to the owning provider.
func (r *Registry) Enumerate(ctx context.Context, typ ir.ResourceType, cred *ir.Credential) ([]ir.LiveInstance, error) {
	if !typ.Capabilities.Enumerable {
		return nil, fmt.Errorf("%w: %s", purge.ErrEnumerationUnsupported, typ.Name)
	}
	p, err := r.Get(typ.Provider)
	if err != nil {
		return nil, err
	}

	resp, err := p.Enumerate(ctx, &sdk.EnumerateRequest{Type: typ.Name, Credential: cred})
	if err != nil {
		if errors.Is(err, sdk.ErrNotEnumerable) {
			return nil, fmt.Errorf("%w: %s", purge.ErrEnumerationUnsupported, typ.Name)
		}
		return nil, err
	}
	return resp.Instances, nil
}

// ValidateAbsent implements purge.AbsenceValidator for providers that
// support per-instance checks.
func (r *Registry) ValidateAbsent(typ ir.ResourceType, inst ir.LiveInstance) error {
	p, err := r.Get(typ.Provider)
	if err != nil {
		return err
	}
	if v, ok := p.(sdk.AbsenceValidator); ok {
		return v.ValidateAbsent(typ.Name, inst)
	}
	return nil
}

// Checks collects the type-specific purge exclusions of loaded providers.
func (r *Registry) Checks() *purge.CheckRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	checks := purge.NewCheckRegistry()
	for _, p := range r.providers {
		c, ok := p.(sdk.Checker)
		if !ok {
			continue
		}
		for typ, keep := range c.Checks() {
			checks.Register(typ, func(inst ir.LiveInstance, _ *purge.Policy) bool {
				return keep(inst)
			})
		}
	}
	return checks
}
