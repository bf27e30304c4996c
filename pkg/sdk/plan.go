package sdk

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/picklr-io/sweep/internal/ir"
)

// PlanByComparison plans a change for providers without drift detection.
// Only keys present in the desired config are compared, since recorded
// state also carries provider-computed outputs.
func PlanByComparison(req *PlanRequest) (*PlanResponse, error) {
	if req.DesiredConfigJSON == nil && req.PriorStateJSON != nil {
		return &PlanResponse{Action: ir.ActionDelete}, nil
	}
	if len(req.PriorStateJSON) == 0 {
		return &PlanResponse{Action: ir.ActionCreate}, nil
	}

	var desired, prior map[string]any
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	changed := ChangedKeys(desired, prior)
	if len(changed) == 0 {
		return &PlanResponse{Action: ir.ActionNoop}, nil
	}
	return &PlanResponse{Action: ir.ActionUpdate, ChangedAttributes: changed}, nil
}

// ChangedKeys returns the sorted keys of desired whose value differs in prior.
func ChangedKeys(desired, prior map[string]any) []string {
	var changed []string
	for k, v := range desired {
		if !reflect.DeepEqual(v, prior[k]) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
