package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
	"github.com/picklr-io/sweep/internal/provider"
	"github.com/picklr-io/sweep/internal/purge"
	"github.com/picklr-io/sweep/pkg/sdk"
)

// Recorder receives purge and apply outcomes.
type Recorder interface {
	purge.Observer
	Applied(typ, action string, purge bool, err error)
}

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry        *provider.Registry
	credentials     purge.CredentialSource
	recorder        Recorder
	ContinueOnError bool // If true, apply continues past failures instead of stopping
}

// Option configures an Engine.
type Option func(*Engine)

// WithCredentials sets where account names on resources are resolved.
func WithCredentials(c purge.CredentialSource) Option {
	return func(e *Engine) { e.credentials = c }
}

// WithRecorder reports purge decisions and applied changes to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func NewEngine(registry *provider.Registry, opts ...Option) *Engine {
	e := &Engine{registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreatePlan generates an execution plan by comparing desired config with
// current state and the live instances of purged types.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource addresses.
// If targets is nil or empty, all resources are planned.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "purges", len(cfg.Purges), "state_resources", len(state.Resources), "targets", len(targets))

	policies, err := e.Policies(cfg)
	if err != nil {
		return nil, err
	}

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	cfg.Resources = ExpandForEach(cfg.Resources)

	dag, err := BuildDAG(cfg.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		stateMap[res.Address()] = res
	}

	configByAddr := make(map[string]*ir.Resource)
	for _, res := range cfg.Resources {
		configByAddr[resourceAddr(res)] = res
	}

	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	planned := make(map[string]bool)
	add := func(change *ir.ResourceChange) {
		if planned[change.Address] {
			return
		}
		planned[change.Address] = true
		plan.Changes = append(plan.Changes, change)
		switch {
		case change.Purge:
			plan.Summary.Purge++
		case change.Action == ir.ActionCreate:
			plan.Summary.Create++
		case change.Action == ir.ActionUpdate:
			plan.Summary.Update++
		case change.Action == ir.ActionReplace:
			plan.Summary.Replace++
		case change.Action == ir.ActionDelete:
			plan.Summary.Delete++
		}
	}

	// Declared resources, in dependency order.
	live := newLiveIndex(e.registry)
	for _, addr := range dag.CreationOrder() {
		res := configByAddr[addr]
		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		change, err := e.planDeclared(ctx, res, stateMap[addr], live, cfg)
		if err != nil {
			return nil, err
		}
		if change == nil {
			plan.Summary.NoOp++
			continue
		}
		add(change)
	}

	// Unmanaged live instances of purged types.
	if targetSet == nil {
		catalog := purge.CatalogFromResources(cfg.Resources)
		gen := e.generator()
		for _, p := range policies {
			marked, err := gen.Generate(ctx, purge.Request{Policy: p, Catalog: catalog})
			if err != nil {
				return nil, err
			}
			for _, res := range marked {
				addr := resourceAddr(res)
				if prior, ok := stateMap[addr]; ok && prior.Outputs != nil {
					res.Properties = mergeObserved(prior.Outputs, res.Properties)
				}
				add(&ir.ResourceChange{
					Address: addr,
					Action:  ir.ActionDelete,
					Purge:   true,
					Desired: res,
					Diff:    buildDeleteDiff(res.Properties),
				})
			}
			if len(marked) > 0 {
				logging.Info("purge candidates", "type", p.Type.Name, "count", len(marked))
			}
		}
	}

	// Resources in state but no longer in config.
	for _, res := range state.Resources {
		addr := res.Address()
		if _, declared := configByAddr[addr]; declared {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		add(&ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionDelete,
			Prior: &ir.Resource{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				Properties: res.Inputs,
			},
			Diff: buildDeleteDiff(res.Inputs),
		})
	}

	return plan, nil
}

// Policies validates every purge declaration in cfg. No provider is
// contacted beyond loading type descriptors.
func (e *Engine) Policies(cfg *ir.Config) ([]*purge.Policy, error) {
	var (
		policies []*purge.Policy
		errs     []error
	)
	for _, decl := range cfg.Purges {
		p, err := purge.NewPolicy(decl, e.registry, cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		policies = append(policies, p)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return policies, nil
}

func (e *Engine) generator() *purge.Generator {
	opts := []purge.Option{purge.WithChecks(e.registry.Checks())}
	if e.recorder != nil {
		opts = append(opts, purge.WithObserver(e.recorder))
	}
	return purge.NewGenerator(e.registry, opts...)
}

func (e *Engine) planDeclared(ctx context.Context, res *ir.Resource, prior *ir.ResourceState, live *liveIndex, cfg *ir.Config) (*ir.ResourceChange, error) {
	addr := resourceAddr(res)

	prov, provName, err := e.providerFor(res.Provider, res.Type)
	if err != nil {
		return nil, err
	}
	res.Provider = provName
	cred := e.credentialFor(cfg)(res.Account)

	if res.Absent() {
		return e.planAbsent(ctx, res, prior, live, cred)
	}

	props := normalizeValue(res.Properties)
	desiredJSON, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties for %s: %w", res.Name, err)
	}

	var priorJSON []byte
	if prior != nil {
		priorJSON, _ = json.Marshal(prior.Outputs)
	}

	resp, err := prov.Plan(ctx, &sdk.PlanRequest{
		Type:              res.Type,
		Name:              res.Name,
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    priorJSON,
		Credential:        cred,
	})
	if err != nil {
		return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
	}

	action := resp.Action
	if action == ir.ActionNoop {
		return nil, nil
	}
	if err := enforceLifecycle(res, action, addr); err != nil {
		return nil, err
	}
	if action == ir.ActionUpdate && res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 {
		action = filterIgnoredChanges(res, resp, prior)
	}
	if action == ir.ActionNoop {
		return nil, nil
	}

	change := &ir.ResourceChange{
		Address: addr,
		Action:  action,
		Desired: res,
	}
	if prior != nil {
		change.Prior = &ir.Resource{
			Type:       prior.Type,
			Name:       prior.Name,
			Provider:   prior.Provider,
			Properties: prior.Inputs,
		}
		change.Diff = buildPropertyDiff(prior.Inputs, res.Properties)
	} else {
		change.Diff = buildCreateDiff(res.Properties)
	}
	return change, nil
}

// planAbsent plans a resource declared with ensure=absent. Without a state
// entry the live system decides whether anything needs removing.
func (e *Engine) planAbsent(ctx context.Context, res *ir.Resource, prior *ir.ResourceState, live *liveIndex, cred *ir.Credential) (*ir.ResourceChange, error) {
	addr := resourceAddr(res)

	typ, ok := e.registry.ResourceType(res.Type)
	if !ok {
		return nil, sdk.UnknownType(res.Type)
	}
	if !typ.Capabilities.Absentable {
		return nil, fmt.Errorf("resource %s: type %s does not accept ensure=absent", addr, res.Type)
	}
	if err := enforceLifecycle(res, ir.ActionDelete, addr); err != nil {
		return nil, err
	}

	change := &ir.ResourceChange{
		Address: addr,
		Action:  ir.ActionDelete,
		Desired: res,
	}

	switch {
	case prior != nil:
		res.Properties = mergeObserved(prior.Outputs, res.Properties)
	case typ.Capabilities.Enumerable:
		inst, found, err := live.find(ctx, typ, cred, res.Ref())
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		res.Properties = mergeObserved(inst.Attributes, res.Properties)
	default:
		logging.Debug("absent resource has no state and cannot be enumerated", "address", addr)
		return nil, nil
	}

	change.Diff = buildDeleteDiff(res.Properties)
	return change, nil
}

// providerFor loads the provider named on a resource, or the one serving
// its type when no provider is named.
func (e *Engine) providerFor(name, typ string) (sdk.Provider, string, error) {
	if name == "" {
		prov, err := e.registry.ProviderFor(typ)
		if err != nil {
			return nil, "", err
		}
		return prov, prov.Name(), nil
	}
	if err := e.registry.LoadProvider(name); err != nil {
		return nil, "", fmt.Errorf("failed to load provider %s: %w", name, err)
	}
	prov, err := e.registry.Get(name)
	if err != nil {
		return nil, "", err
	}
	return prov, name, nil
}

// credentialFor resolves accounts against cfg, falling back to the engine's
// credential source.
func (e *Engine) credentialFor(cfg *ir.Config) func(account string) *ir.Credential {
	return func(account string) *ir.Credential {
		if account == "" {
			return nil
		}
		if cred := cfg.Credential(account); cred != nil {
			return cred
		}
		return e.credential(account)
	}
}

func (e *Engine) credential(account string) *ir.Credential {
	if account == "" || e.credentials == nil {
		return nil
	}
	return e.credentials.Credential(account)
}

// liveIndex caches enumerations made while planning absent resources.
type liveIndex struct {
	enum      purge.Enumerator
	instances map[string]map[ir.Reference]ir.LiveInstance
}

func newLiveIndex(enum purge.Enumerator) *liveIndex {
	return &liveIndex{
		enum:      enum,
		instances: make(map[string]map[ir.Reference]ir.LiveInstance),
	}
}

func (l *liveIndex) find(ctx context.Context, typ ir.ResourceType, cred *ir.Credential, ref ir.Reference) (ir.LiveInstance, bool, error) {
	key := typ.Name
	if cred != nil {
		key += "@" + cred.Name
	}
	byRef, ok := l.instances[key]
	if !ok {
		list, err := l.enum.Enumerate(ctx, typ, cred)
		if err != nil {
			return ir.LiveInstance{}, false, fmt.Errorf("failed to list %s: %w", typ.Name, err)
		}
		byRef = make(map[ir.Reference]ir.LiveInstance, len(list))
		for _, inst := range list {
			if inst.Ref.Type == "" {
				inst.Ref.Type = typ.Name
			}
			byRef[inst.Ref] = inst
		}
		l.instances[key] = byRef
	}
	inst, found := byRef[ref]
	return inst, found, nil
}

// mergeObserved overlays declared properties on observed attributes.
func mergeObserved(observed, declared map[string]any) map[string]any {
	if len(observed) == 0 {
		return declared
	}
	out := make(map[string]any, len(observed)+len(declared))
	for k, v := range observed {
		out[k] = v
	}
	for k, v := range declared {
		out[k] = v
	}
	return out
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action string, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}

	if res.Lifecycle.PreventDestroy && (action == ir.ActionDelete || action == ir.ActionReplace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}

	return nil
}

// filterIgnoredChanges downgrades an update to NOOP when every changed
// attribute is listed in IgnoreChanges.
func filterIgnoredChanges(res *ir.Resource, resp *sdk.PlanResponse, prior *ir.ResourceState) string {
	if prior == nil || res.Lifecycle == nil || len(resp.ChangedAttributes) == 0 {
		return resp.Action
	}

	ignoreSet := make(map[string]bool)
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignoreSet[attr] = true
	}
	for _, attr := range resp.ChangedAttributes {
		if !ignoreSet[attr] {
			return resp.Action
		}
	}
	return ir.ActionNoop
}

// buildPropertyDiff compares prior and desired properties.
func buildPropertyDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	for k, desiredVal := range desired {
		priorVal, inPrior := prior[k]
		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: desiredVal, Action: "create"}
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			diff[k] = &ir.PropertyDiff{Before: priorVal, After: desiredVal, Action: "update"}
		}
	}
	for k, priorVal := range prior {
		if _, inDesired := desired[k]; !inDesired {
			diff[k] = &ir.PropertyDiff{Before: priorVal, Action: "delete"}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{After: v, Action: "create"}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{Before: v, Action: "delete"}
	}
	return diff
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
