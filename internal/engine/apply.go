package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
	"github.com/picklr-io/sweep/pkg/sdk"
)

const defaultParallelism = 10

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan and updates the state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// It applies resources in parallel respecting dependency ordering.
// If e.ContinueOnError is true, apply will continue past individual resource
// failures and return an aggregated error at the end. A change whose
// dependency failed in any phase is skipped.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	var mu sync.Mutex

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	stateIndex := indexState(state)

	deps, destroyOrder, err := changeDeps(plan.Changes)
	if err != nil {
		return state, err
	}

	// Creates and updates run before any deletion
	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == ir.ActionDelete {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}
	deletes = inDestructionOrder(deletes, destroyOrder)

	tracker := newApplyTracker()
	var failures []error
	for _, phase := range [][]*ir.ResourceChange{createUpdates, deletes} {
		if len(phase) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("apply cancelled: %w", err)
		}
		errs := e.applyParallel(ctx, phase, deps, tracker, state, &stateIndex, &mu, emit)
		if len(errs) == 0 {
			continue
		}
		if !e.ContinueOnError {
			return state, errs[0]
		}
		failures = append(failures, errs...)
	}

	state.Serial++
	state.Outputs = plan.Outputs

	if len(failures) > 0 {
		return state, fmt.Errorf("%d resource(s) failed: %w", len(failures), errors.Join(failures...))
	}

	return state, nil
}

// changeDeps maps every change address to the addresses it waits for,
// across the whole plan. Creates and updates wait for what they reference.
// A purge delete waits for its dependencies and for every declared change
// of its type. Other deletes wait for the creates and updates they
// reference, and among themselves run in destruction order: a resource is
// deleted before the resources it depends on. Nothing waits on a later
// phase. The destruction order is returned alongside.
func changeDeps(changes []*ir.ResourceChange) (map[string]map[string]bool, []string, error) {
	byAddr := make(map[string]*ir.ResourceChange, len(changes))
	declaredByType := make(map[string][]string)
	var doomed []*ir.Resource
	for _, c := range changes {
		byAddr[c.Address] = c
		if c.Desired == nil || c.Purge {
			continue
		}
		declaredByType[c.Desired.Type] = append(declaredByType[c.Desired.Type], c.Address)
		if c.Action == ir.ActionDelete {
			res := *c.Desired
			res.Ordering = nil
			doomed = append(doomed, &res)
		}
	}

	deps := make(map[string]map[string]bool, len(changes))
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
	}
	link := func(from, to string) {
		target, ok := byAddr[to]
		if !ok || from == to {
			return
		}
		if byAddr[from].Action != ir.ActionDelete && target.Action == ir.ActionDelete {
			return
		}
		deps[from][to] = true
	}

	for _, c := range changes {
		if c.Desired == nil {
			continue
		}
		pairedDelete := c.Action == ir.ActionDelete && !c.Purge
		for _, d := range referenceDeps(c.Desired) {
			if target, ok := byAddr[d]; ok && pairedDelete && target.Action == ir.ActionDelete {
				continue
			}
			link(c.Address, d)
		}
		for _, d := range hintDeps(c.Desired, declaredByType) {
			link(c.Address, d)
		}
	}

	dag, err := BuildDAG(doomed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to order deletions: %w", err)
	}
	order := dag.DestructionOrder()
	for _, addr := range order {
		for _, dependent := range dag.Dependents(addr) {
			link(addr, dependent)
		}
	}
	return deps, order, nil
}

// inDestructionOrder moves the changes named in order to the front, sorted
// by it. The rest keep their plan order.
func inDestructionOrder(changes []*ir.ResourceChange, order []string) []*ir.ResourceChange {
	rank := make(map[string]int, len(order))
	for i, addr := range order {
		rank[addr] = i
	}
	sorted := slices.Clone(changes)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, iok := rank[sorted[i].Address]
		rj, jok := rank[sorted[j].Address]
		if iok && jok {
			return ri < rj
		}
		return iok && !jok
	})
	return sorted
}

// applyTracker records change outcomes across apply phases.
type applyTracker struct {
	mu        sync.Mutex
	cond      *sync.Cond
	completed map[string]bool
	failed    map[string]bool
}

func newApplyTracker() *applyTracker {
	t := &applyTracker{
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// settled reports whether every dependency finished, and whether any failed.
// Callers hold t.mu.
func (t *applyTracker) settled(deps map[string]bool) (ready, failed bool) {
	ready = true
	for dep := range deps {
		if t.failed[dep] {
			return false, true
		}
		if !t.completed[dep] {
			ready = false
		}
	}
	return ready, false
}

func (t *applyTracker) finish(addr string, ok bool) {
	t.mu.Lock()
	if ok {
		t.completed[addr] = true
	} else {
		t.failed[addr] = true
	}
	t.mu.Unlock()
	t.cond.Broadcast()
}

// applyParallel applies one phase concurrently. A change starts once every
// change it depends on has completed, and is skipped when one of them
// failed. It returns the errors of the failed changes.
func (e *Engine) applyParallel(ctx context.Context, changes []*ir.ResourceChange, deps map[string]map[string]bool, t *applyTracker, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent)) []error {
	var errs []error
	cancelled := false
	sem := make(chan struct{}, defaultParallelism)

	var wg sync.WaitGroup

	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			// Wait for dependencies to complete
			t.mu.Lock()
			for {
				if len(errs) > 0 && !e.ContinueOnError {
					t.mu.Unlock()
					return
				}
				ready, depFailed := t.settled(deps[c.Address])
				if depFailed {
					t.mu.Unlock()
					logging.Warn("skipping change, a dependency failed", "address", c.Address)
					t.finish(c.Address, false)
					return
				}
				if ready {
					break
				}
				t.cond.Wait()
			}
			t.mu.Unlock()

			if err := ctx.Err(); err != nil {
				t.mu.Lock()
				if !cancelled {
					cancelled = true
					errs = append(errs, fmt.Errorf("apply cancelled: %w", err))
				}
				t.mu.Unlock()
				t.finish(c.Address, false)
				return
			}

			// Acquire semaphore slot
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateIndex, mu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				t.mu.Lock()
				errs = append(errs, err)
				t.mu.Unlock()
				t.finish(c.Address, false)
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})
			t.finish(c.Address, true)
		}(change)
	}

	wg.Wait()
	return errs
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) (err error) {
	addr := change.Address
	res := change.Resource()
	if res == nil {
		return fmt.Errorf("change %s carries no resource", addr)
	}
	logging.Debug("applying change", "address", addr, "action", change.Action, "purge", change.Purge)

	if e.recorder != nil {
		defer func() { e.recorder.Applied(res.Type, change.Action, change.Purge, err) }()
	}

	timeout := DefaultTimeout
	if res.Timeout != "" {
		if d, perr := time.ParseDuration(res.Timeout); perr == nil && d > 0 {
			timeout = d
		}
	}
	ctx, cancel := WithTimeout(ctx, timeout)
	defer cancel()

	prov, provName, err := e.providerFor(res.Provider, res.Type)
	if err != nil {
		return err
	}
	cred := e.credential(res.Account)

	var priorJSON []byte
	var resourceID string
	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		prior := state.Resources[idx]
		if prior.Outputs != nil {
			priorJSON, _ = json.Marshal(prior.Outputs)
			if id, exists := prior.Outputs["id"]; exists {
				resourceID = fmt.Sprintf("%v", id)
			}
		}
	}
	mu.Unlock()

	retryPolicy := DefaultRetryPolicy()

	switch change.Action {
	case ir.ActionCreate, ir.ActionUpdate, ir.ActionReplace:
		props := normalizeValue(res.Properties)
		mu.Lock()
		resolvedProps := resolveReferences(props, state)
		mu.Unlock()
		desiredJSON, err := json.Marshal(resolvedProps)
		if err != nil {
			return fmt.Errorf("failed to marshal properties for %s: %w", addr, err)
		}

		var resp *sdk.ApplyResponse
		err = RetryWithBackoff(ctx, retryPolicy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(ctx, &sdk.ApplyRequest{
				Type:              res.Type,
				Name:              res.Name,
				DesiredConfigJSON: desiredJSON,
				PriorStateJSON:    priorJSON,
				Credential:        cred,
			})
			return applyErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("apply failed for %s: %w", addr, err)
		}

		var outputs map[string]any
		if len(resp.NewStateJSON) > 0 {
			if err := json.Unmarshal(resp.NewStateJSON, &outputs); err != nil {
				return fmt.Errorf("failed to unmarshal state: %w", err)
			}
		}

		newResState := &ir.ResourceState{
			Type:         res.Type,
			Name:         res.Name,
			Provider:     provName,
			Inputs:       res.Properties,
			Outputs:      outputs,
			Dependencies: res.DependsOn,
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources[idx] = newResState
		} else {
			(*stateIndex)[addr] = len(state.Resources)
			state.Resources = append(state.Resources, newResState)
		}
		mu.Unlock()

	case ir.ActionDelete:
		// Purged and absent resources carry the observed attributes.
		if priorJSON == nil && len(res.Properties) > 0 {
			priorJSON, _ = json.Marshal(normalizeValue(res.Properties))
		}
		if resourceID == "" {
			if id, ok := res.Properties["id"]; ok {
				resourceID = fmt.Sprintf("%v", id)
			}
		}

		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			_, deleteErr := prov.Delete(ctx, &sdk.DeleteRequest{
				Type:             res.Type,
				Name:             res.Name,
				ID:               resourceID,
				CurrentStateJSON: priorJSON,
				Credential:       cred,
			})
			return deleteErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("delete failed for %s: %w", addr, err)
		}
		if change.Purge {
			logging.Info("purged", "address", addr)
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
			*stateIndex = indexState(state)
		}
		mu.Unlock()

	default:
		return fmt.Errorf("unsupported action %s for %s", change.Action, addr)
	}

	return nil
}

func indexState(state *ir.State) map[string]int {
	index := make(map[string]int, len(state.Resources))
	for i, res := range state.Resources {
		index[res.Address()] = i
	}
	return index
}

// resolveReferences replaces ptr://<type>/<name>/<attribute> strings with
// the attribute recorded in state, outputs first.
func resolveReferences(val any, state *ir.State) any {
	switch v := val.(type) {
	case string:
		typ, name, attr, ok := splitPtrRef(v)
		if !ok || attr == "" {
			return v
		}
		for _, res := range state.Resources {
			if res.Type != typ || res.Name != name {
				continue
			}
			if val, ok := res.Outputs[attr]; ok {
				return val
			}
			if val, ok := res.Inputs[attr]; ok {
				return val
			}
			return v
		}
		return v
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range v {
			newMap[k] = resolveReferences(v, state)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(v))
		for i, v := range v {
			newSlice[i] = resolveReferences(v, state)
		}
		return newSlice
	default:
		return v
	}
}
