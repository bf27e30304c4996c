package null

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/pkg/sdk"
)

func TestProvider_Plan(t *testing.T) {
	p := New()
	ctx := context.Background()

	desired := Config{Triggers: map[string]string{"foo": "bar"}}
	desiredJSON, _ := json.Marshal(desired)

	resp, err := p.Plan(ctx, &sdk.PlanRequest{
		Type:              ResourceType,
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionCreate, resp.Action)

	stateJSON, _ := json.Marshal(State{ID: "null-test", Triggers: desired.Triggers})

	resp, err = p.Plan(ctx, &sdk.PlanRequest{
		Type:              ResourceType,
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionNoop, resp.Action)

	newDesiredJSON, _ := json.Marshal(Config{Triggers: map[string]string{"foo": "baz"}})
	resp, err = p.Plan(ctx, &sdk.PlanRequest{
		Type:              ResourceType,
		Name:              "test",
		DesiredConfigJSON: newDesiredJSON,
		PriorStateJSON:    stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionReplace, resp.Action)
	assert.Contains(t, resp.ChangedAttributes, "triggers")
}

func TestProvider_PlanUnknownType(t *testing.T) {
	_, err := New().Plan(context.Background(), &sdk.PlanRequest{Type: "null_thing", DesiredConfigJSON: []byte(`{}`)})
	assert.ErrorIs(t, err, sdk.ErrUnknownType)
}

func TestProvider_Apply(t *testing.T) {
	p := New()

	desiredJSON, _ := json.Marshal(Config{Triggers: map[string]string{"foo": "bar"}})
	resp, err := p.Apply(context.Background(), &sdk.ApplyRequest{
		Type:              ResourceType,
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
	})
	require.NoError(t, err)

	var newState State
	require.NoError(t, json.Unmarshal(resp.NewStateJSON, &newState))
	assert.Equal(t, "null-test", newState.ID)
	assert.Equal(t, "bar", newState.Triggers["foo"])
	assert.True(t, p.Exists("test"))
}

func TestProvider_EnumerateSeeded(t *testing.T) {
	p := New()
	p.Seed("b", map[string]string{"v": "2"})
	p.Seed("a", nil)

	resp, err := p.Enumerate(context.Background(), &sdk.EnumerateRequest{Type: ResourceType})
	require.NoError(t, err)
	require.Len(t, resp.Instances, 2)
	assert.Equal(t, ir.Reference{Type: ResourceType, Name: "a"}, resp.Instances[0].Ref)
	assert.Equal(t, map[string]any{"v": "2"}, resp.Instances[1].Attributes["triggers"])
}
