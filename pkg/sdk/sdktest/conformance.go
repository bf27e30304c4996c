// Package sdktest holds a lifecycle suite shared by provider tests.
package sdktest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/pkg/sdk"
)

// Lifecycle describes one resource driven through the suite.
type Lifecycle struct {
	Type    string
	Name    string
	Desired map[string]any
}

// RunLifecycle drives p through Plan(CREATE), Apply, Enumerate, Plan(NOOP),
// Delete and a final Enumerate. The resource must show up in the first
// enumeration and be gone from the second.
func RunLifecycle(t *testing.T, p sdk.Provider, lc Lifecycle) {
	t.Helper()
	ctx := context.Background()

	typ := findType(t, p, lc.Type)

	desiredJSON, err := json.Marshal(lc.Desired)
	require.NoError(t, err)

	planResp, err := p.Plan(ctx, &sdk.PlanRequest{Type: lc.Type, Name: lc.Name, DesiredConfigJSON: desiredJSON})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionCreate, planResp.Action)

	applyResp, err := p.Apply(ctx, &sdk.ApplyRequest{Type: lc.Type, Name: lc.Name, DesiredConfigJSON: desiredJSON})
	require.NoError(t, err)
	require.NotEmpty(t, applyResp.NewStateJSON)

	if typ.Capabilities.Enumerable {
		assert.Contains(t, enumerate(t, p, lc.Type), lc.Name)
	}

	planResp, err = p.Plan(ctx, &sdk.PlanRequest{
		Type:              lc.Type,
		Name:              lc.Name,
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    applyResp.NewStateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionNoop, planResp.Action)

	_, err = p.Delete(ctx, &sdk.DeleteRequest{Type: lc.Type, Name: lc.Name, CurrentStateJSON: applyResp.NewStateJSON})
	require.NoError(t, err)

	if typ.Capabilities.Enumerable {
		assert.NotContains(t, enumerate(t, p, lc.Type), lc.Name)
	}
}

func findType(t *testing.T, p sdk.Provider, name string) ir.ResourceType {
	t.Helper()
	for _, typ := range p.Types() {
		if typ.Name == name {
			assert.Equal(t, p.Name(), typ.Provider)
			return typ
		}
	}
	t.Fatalf("provider %s does not declare type %s", p.Name(), name)
	return ir.ResourceType{}
}

func enumerate(t *testing.T, p sdk.Provider, typ string) []string {
	t.Helper()
	resp, err := p.Enumerate(context.Background(), &sdk.EnumerateRequest{Type: typ})
	require.NoError(t, err)
	names := make([]string, len(resp.Instances))
	for i, inst := range resp.Instances {
		names[i] = inst.Ref.Name
	}
	return names
}
