package purge

import (
	"slices"
	"sync"

	"github.com/picklr-io/sweep/internal/ir"
)

// Check is a type-specific exclusion rule. It reports whether inst must be
// kept.
type Check func(inst ir.LiveInstance, p *Policy) bool

// CheckRegistry maps resource type names to their custom checks.
type CheckRegistry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewCheckRegistry() *CheckRegistry {
	return &CheckRegistry{checks: make(map[string]Check)}
}

// Register installs c for typ, replacing any previous check.
func (r *CheckRegistry) Register(typ string, c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[typ] = c
}

// Lookup returns the check registered for typ.
func (r *CheckRegistry) Lookup(typ string) (Check, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[typ]
	return c, ok
}

// systemPrincipals are never purged from identity-protected types.
var systemPrincipals = []string{"root", "nobody", "bin", "noaccess", "daemon", "sys"}

// PrincipalCheck protects well-known system accounts, identifiers listed in
// the policy's unless set, and identifiers at or below its threshold.
// Instances without an identifier cannot be evaluated and are kept.
func PrincipalCheck(inst ir.LiveInstance, p *Policy) bool {
	if slices.Contains(systemPrincipals, inst.Ref.Name) {
		return true
	}
	if inst.Identifier == nil {
		return true
	}
	id := *inst.Identifier
	if p.Unless != nil && p.Unless.Contains(id) {
		return true
	}
	return p.Threshold.Protects(id)
}
