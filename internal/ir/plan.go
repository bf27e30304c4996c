package ir

// Change actions.
const (
	ActionCreate  = "CREATE"
	ActionUpdate  = "UPDATE"
	ActionReplace = "REPLACE"
	ActionDelete  = "DELETE"
	ActionNoop    = "NOOP"
)

// Plan represents a calculated execution plan.
type Plan struct {
	Metadata *PlanMetadata     `yaml:"metadata"`
	Changes  []*ResourceChange `yaml:"changes"`
	Summary  *PlanSummary      `yaml:"summary"`
	Outputs  map[string]any    `yaml:"outputs,omitempty"`
}

type PlanMetadata struct {
	ID        string `yaml:"id"`
	Timestamp string `yaml:"timestamp"`
}

type ResourceChange struct {
	Address string                   `yaml:"address"`
	Action  string                   `yaml:"action"` // "CREATE", "UPDATE", "DELETE", "REPLACE"
	Purge   bool                     `yaml:"purge,omitempty"`
	Desired *Resource                `yaml:"resource,omitempty"`
	Prior   *Resource                `yaml:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `yaml:"diff,omitempty"`
}

// Resource returns whichever side of the change is populated, desired first.
func (c *ResourceChange) Resource() *Resource {
	if c.Desired != nil {
		return c.Desired
	}
	return c.Prior
}

type PropertyDiff struct {
	Before any    `yaml:"before,omitempty"`
	After  any    `yaml:"after,omitempty"`
	Action string `yaml:"action"` // "create", "update", "delete"
}

type PlanSummary struct {
	Create  int `yaml:"create"`
	Update  int `yaml:"update"`
	Delete  int `yaml:"delete"`
	Purge   int `yaml:"purge"`
	Replace int `yaml:"replace"`
	NoOp    int `yaml:"noop"`
}
