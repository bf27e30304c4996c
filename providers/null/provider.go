package null

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/pkg/sdk"
)

const ResourceType = "null_resource"

// Provider keeps null_resource instances in memory. It supports the full
// purge contract and backs tests and dry runs.
type Provider struct {
	mu        sync.RWMutex
	instances map[string]map[string]string
}

func New() *Provider {
	return &Provider{instances: make(map[string]map[string]string)}
}

func (p *Provider) Name() string { return "null" }

func (p *Provider) Types() []ir.ResourceType {
	return []ir.ResourceType{{
		Name:         ResourceType,
		Provider:     "null",
		Capabilities: ir.Capabilities{Enumerable: true, Absentable: true},
	}}
}

// Seed registers a live instance that no configuration manages.
func (p *Provider) Seed(name string, triggers map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[name] = maps.Clone(triggers)
}

// Exists reports whether name is currently live.
func (p *Provider) Exists(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.instances[name]
	return ok
}

func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	if req.Type != ResourceType {
		return nil, sdk.UnknownType(req.Type)
	}
	if req.DesiredConfigJSON == nil && req.PriorStateJSON != nil {
		return &sdk.PlanResponse{Action: ir.ActionDelete}, nil
	}

	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if len(req.PriorStateJSON) == 0 {
		return &sdk.PlanResponse{Action: ir.ActionCreate}, nil
	}

	var prior State
	if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	if !maps.Equal(desired.Triggers, prior.Triggers) {
		return &sdk.PlanResponse{
			Action:            ir.ActionReplace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}
	return &sdk.PlanResponse{Action: ir.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	p.Seed(req.Name, desired.Triggers)

	stateJSON, err := json.Marshal(State{
		ID:       "null-" + req.Name,
		Triggers: desired.Triggers,
	})
	if err != nil {
		return nil, err
	}
	return &sdk.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) Delete(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.instances, req.Name)
	return &sdk.DeleteResponse{}, nil
}

func (p *Provider) Enumerate(ctx context.Context, req *sdk.EnumerateRequest) (*sdk.EnumerateResponse, error) {
	if req.Type != ResourceType {
		return nil, sdk.UnknownType(req.Type)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.instances))
	for name := range p.instances {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ir.LiveInstance, 0, len(names))
	for _, name := range names {
		triggers := make(map[string]any, len(p.instances[name]))
		for k, v := range p.instances[name] {
			triggers[k] = v
		}
		out = append(out, ir.NewLiveInstance(ResourceType, name, map[string]any{"triggers": triggers}))
	}
	return &sdk.EnumerateResponse{Instances: out}, nil
}

type Config struct {
	Triggers map[string]string `json:"triggers"`
}

type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}
