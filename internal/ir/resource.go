package ir

// Ensure values accepted on a resource.
const (
	EnsurePresent = "present"
	EnsureAbsent  = "absent"
)

// Resource represents a single managed resource.
type Resource struct {
	Type       string            `pkl:"type" yaml:"type" validate:"required"` // e.g., "aws_rrset"
	Name       string            `pkl:"name" yaml:"name" validate:"required"`
	Provider   string            `pkl:"provider" yaml:"provider"`
	Ensure     string            `pkl:"ensure" yaml:"ensure,omitempty" validate:"omitempty,oneof=present absent"`
	Account    string            `pkl:"account" yaml:"account,omitempty"`
	Lifecycle  *Lifecycle        `pkl:"lifecycle" yaml:"lifecycle,omitempty"`
	DependsOn  []string          `pkl:"dependsOn" yaml:"dependsOn,omitempty"`
	Tags       map[string]string `pkl:"tags" yaml:"tags,omitempty"`
	Timeout    string            `pkl:"timeout" yaml:"timeout,omitempty"`
	Count      int               `pkl:"count" yaml:"-" validate:"gte=0"`
	ForEach    map[string]any    `pkl:"forEach" yaml:"-"`
	Properties map[string]any    `pkl:"properties" yaml:"properties,omitempty"` // Dynamic properties

	// Purging is set on resources synthesized by a purge policy rather than
	// declared by the operator.
	Purging  bool      `pkl:"-" yaml:"purging,omitempty"`
	Ordering *Ordering `pkl:"-" yaml:"ordering,omitempty"`
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy" yaml:"createBeforeDestroy,omitempty"`
	PreventDestroy      bool     `pkl:"preventDestroy" yaml:"preventDestroy,omitempty"`
	IgnoreChanges       []string `pkl:"ignoreChanges" yaml:"ignoreChanges,omitempty"`
}

// Ordering carries scheduling hints for the apply engine.
type Ordering struct {
	// AfterDeclaredOfType makes the resource wait for every declared
	// (non-purge) change of the named type.
	AfterDeclaredOfType string `yaml:"afterDeclaredOfType,omitempty"`
}

// Ref returns the catalog reference of the resource.
func (r *Resource) Ref() Reference {
	return Reference{Type: r.Type, Name: r.Name}
}

// Absent reports whether the resource is declared absent.
func (r *Resource) Absent() bool {
	return r.Ensure == EnsureAbsent
}
