package ir

import (
	"fmt"
	"strings"
)

// Capabilities describe what the engine may do with a resource type.
type Capabilities struct {
	// Enumerable types can list their live instances.
	Enumerable bool
	// Absentable types accept ensure=absent.
	Absentable bool
	// IdentityProtected types are account-like and carry numeric
	// identifiers that are shielded from purging below a threshold.
	IdentityProtected bool
}

// ResourceType is the capability descriptor attached to every type a
// provider serves.
type ResourceType struct {
	Name         string
	Provider     string
	Capabilities Capabilities
}

// Purgeable reports whether unmanaged instances of the type can be removed.
func (t ResourceType) Purgeable() bool {
	return t.Capabilities.Enumerable && t.Capabilities.Absentable
}

// Reference identifies a resource instance within its type.
type Reference struct {
	Type string
	Name string
}

func (r Reference) String() string {
	return fmt.Sprintf("%s.%s", r.Type, r.Name)
}

// ParseReference splits a "type.name" address. Names may themselves contain
// dots (DNS names), so only the first dot separates the type.
func ParseReference(addr string) (Reference, error) {
	typ, name, ok := strings.Cut(addr, ".")
	if !ok || typ == "" || name == "" {
		return Reference{}, fmt.Errorf("invalid resource address %q: expected <type>.<name>", addr)
	}
	return Reference{Type: typ, Name: name}, nil
}

// LiveInstance is one resource observed on the live system.
type LiveInstance struct {
	Ref Reference
	// Identifier is the numeric id of account-like resources (uid).
	Identifier *int
	Attributes map[string]any
}

// NewLiveInstance builds an instance of typ named name.
func NewLiveInstance(typ, name string, attrs map[string]any) LiveInstance {
	return LiveInstance{
		Ref:        Reference{Type: typ, Name: name},
		Attributes: attrs,
	}
}

// WithIdentifier returns a copy of the instance carrying id.
func (i LiveInstance) WithIdentifier(id int) LiveInstance {
	i.Identifier = &id
	return i
}
