package aws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/pkg/sdk"
)

func TestSplitRecordSetName(t *testing.T) {
	typ, name, setID, err := splitRecordSetName("cname foo.example.com")
	require.NoError(t, err)
	assert.Equal(t, r53types.RRTypeCname, typ)
	assert.Equal(t, "foo.example.com.", name)
	assert.Empty(t, setID)

	_, name, setID, err = splitRecordSetName("A api.example.com blue")
	require.NoError(t, err)
	assert.Equal(t, "api.example.com.", name)
	assert.Equal(t, "blue", setID)

	for _, bad := range []string{"foo.example.com.", "A b c d", ""} {
		_, _, _, err := splitRecordSetName(bad)
		assert.Error(t, err, bad)
	}
}

func TestUnescapeRecordName(t *testing.T) {
	assert.Equal(t, "*.example.com.", unescapeRecordName(`\052.example.com.`))
	assert.Equal(t, "plain.example.com.", unescapeRecordName("plain.example.com."))
	assert.Equal(t, `odd\0`, unescapeRecordName(`odd\0`))
}

func TestEnumerateRecordSets(t *testing.T) {
	r53 := newFakeRoute53()
	r53.pageSize = 1
	p, _ := newTestProvider(r53, newFakeS3())

	resp, err := p.Enumerate(context.Background(), &sdk.EnumerateRequest{Type: TypeRRSet})
	require.NoError(t, err)

	var names []string
	for _, inst := range resp.Instances {
		names = append(names, inst.Ref.Name)
		assert.Equal(t, TypeRRSet, inst.Ref.Type)
	}
	assert.Equal(t, []string{
		"NS example.com.",
		"SOA example.com.",
		"A www.example.com.",
		"CNAME *.example.com.",
	}, names)

	www := resp.Instances[2]
	assert.Equal(t, "example.com.", www.Attributes["zone"])
	assert.Equal(t, "/hostedzone/Z1", www.Attributes["zone_id"])
	assert.Equal(t, int64(300), www.Attributes["ttl"])
	assert.Equal(t, []any{"10.0.0.1"}, www.Attributes["value"])
}

func TestValidateAbsent_ApexRecords(t *testing.T) {
	p, _ := newTestProvider(newFakeRoute53(), newFakeS3())
	resp, err := p.Enumerate(context.Background(), &sdk.EnumerateRequest{Type: TypeRRSet})
	require.NoError(t, err)

	rejected := map[string]bool{}
	for _, inst := range resp.Instances {
		rejected[inst.Ref.Name] = p.ValidateAbsent(TypeRRSet, inst) != nil
	}
	assert.True(t, rejected["NS example.com."])
	assert.True(t, rejected["SOA example.com."])
	assert.False(t, rejected["A www.example.com."])
	assert.False(t, rejected["CNAME *.example.com."])

	delegation := ir.NewLiveInstance(TypeRRSet, "NS sub.example.com.", map[string]any{"zone": "example.com."})
	assert.NoError(t, p.ValidateAbsent(TypeRRSet, delegation))
	assert.NoError(t, p.ValidateAbsent(TypeS3Bucket, ir.NewLiveInstance(TypeS3Bucket, "x", nil)))
}

func TestApplyRecordSet_UpsertAndWait(t *testing.T) {
	r53 := newFakeRoute53()
	p, _ := newTestProvider(r53, newFakeS3())

	desired, _ := json.Marshal(RecordSetConfig{Zone: "example.com", TTL: 60, Value: []string{"10.0.0.2"}, Wait: true})
	resp, err := p.Apply(context.Background(), &sdk.ApplyRequest{
		Type:              TypeRRSet,
		Name:              "A api.example.com.",
		DesiredConfigJSON: desired,
	})
	require.NoError(t, err)

	require.Len(t, r53.changes, 1)
	change := r53.changes[0].ChangeBatch.Changes[0]
	assert.Equal(t, r53types.ChangeActionUpsert, change.Action)
	assert.Equal(t, "api.example.com.", aws.ToString(change.ResourceRecordSet.Name))
	assert.Equal(t, int64(60), aws.ToInt64(change.ResourceRecordSet.TTL))
	assert.Equal(t, "/hostedzone/Z1", aws.ToString(r53.changes[0].HostedZoneId))

	var state RecordSetState
	require.NoError(t, json.Unmarshal(resp.NewStateJSON, &state))
	assert.Equal(t, "/hostedzone/Z1", state.ZoneID)
	assert.Equal(t, []string{"10.0.0.2"}, state.Value)
}

func TestApplyRecordSet_UnknownZone(t *testing.T) {
	p, _ := newTestProvider(newFakeRoute53(), newFakeS3())

	desired, _ := json.Marshal(RecordSetConfig{Zone: "other.org.", TTL: 60, Value: []string{"1.1.1.1"}})
	_, err := p.Apply(context.Background(), &sdk.ApplyRequest{Type: TypeRRSet, Name: "A x.other.org.", DesiredConfigJSON: desired})
	assert.ErrorContains(t, err, "hosted zone other.org. not found")
}

func TestDeleteRecordSet_FromObservedAttributes(t *testing.T) {
	r53 := newFakeRoute53()
	p, _ := newTestProvider(r53, newFakeS3())

	attrs, _ := json.Marshal(map[string]any{
		"zone":    "example.com.",
		"zone_id": "/hostedzone/Z1",
		"ttl":     300,
		"value":   []any{"10.0.0.1"},
	})
	_, err := p.Delete(context.Background(), &sdk.DeleteRequest{
		Type:             TypeRRSet,
		Name:             "A www.example.com.",
		CurrentStateJSON: attrs,
	})
	require.NoError(t, err)

	require.Len(t, r53.changes, 1)
	change := r53.changes[0].ChangeBatch.Changes[0]
	assert.Equal(t, r53types.ChangeActionDelete, change.Action)
	assert.Equal(t, r53types.RRTypeA, change.ResourceRecordSet.Type)
	require.Len(t, change.ResourceRecordSet.ResourceRecords, 1)
	assert.Equal(t, "10.0.0.1", aws.ToString(change.ResourceRecordSet.ResourceRecords[0].Value))
}

func TestDeleteRecordSet_AlreadyGone(t *testing.T) {
	r53 := newFakeRoute53()
	r53.err = &mockAPIError{code: "InvalidChangeBatch", message: "Tried to delete resource record set but it was not found"}
	p, _ := newTestProvider(r53, newFakeS3())

	attrs, _ := json.Marshal(RecordSetState{ZoneID: "/hostedzone/Z1", TTL: 300, Value: []string{"10.0.0.1"}})
	_, err := p.Delete(context.Background(), &sdk.DeleteRequest{Type: TypeRRSet, Name: "A gone.example.com.", CurrentStateJSON: attrs})
	assert.NoError(t, err)
}

func TestPlanRecordSet(t *testing.T) {
	p, _ := newTestProvider(newFakeRoute53(), newFakeS3())
	ctx := context.Background()

	desired, _ := json.Marshal(map[string]any{"zone": "example.com.", "ttl": 300, "value": []string{"10.0.0.1"}})
	resp, err := p.Plan(ctx, &sdk.PlanRequest{Type: TypeRRSet, Name: "A www.example.com.", DesiredConfigJSON: desired})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionCreate, resp.Action)

	prior, _ := json.Marshal(RecordSetState{ID: "x", Zone: "example.com.", ZoneID: "/hostedzone/Z1", TTL: 300, Value: []string{"10.0.0.1"}})
	resp, err = p.Plan(ctx, &sdk.PlanRequest{Type: TypeRRSet, Name: "A www.example.com.", DesiredConfigJSON: desired, PriorStateJSON: prior})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionNoop, resp.Action)

	changed, _ := json.Marshal(map[string]any{"zone": "example.com.", "ttl": 60, "value": []string{"10.0.0.1"}})
	resp, err = p.Plan(ctx, &sdk.PlanRequest{Type: TypeRRSet, Name: "A www.example.com.", DesiredConfigJSON: changed, PriorStateJSON: prior})
	require.NoError(t, err)
	assert.Equal(t, ir.ActionUpdate, resp.Action)
	assert.Equal(t, []string{"ttl"}, resp.ChangedAttributes)

	_, err = p.Plan(ctx, &sdk.PlanRequest{Type: TypeRRSet, Name: "www.example.com.", DesiredConfigJSON: desired})
	assert.Error(t, err)
}

func weightedRecords() []r53types.ResourceRecordSet {
	return []r53types.ResourceRecordSet{
		{Name: aws.String("api.example.com."), Type: r53types.RRTypeA, TTL: aws.Int64(60),
			SetIdentifier: aws.String("blue"), Weight: aws.Int64(10),
			ResourceRecords: []r53types.ResourceRecord{{Value: aws.String("10.0.1.1")}}},
		{Name: aws.String("api.example.com."), Type: r53types.RRTypeA, TTL: aws.Int64(60),
			SetIdentifier: aws.String("green"), Weight: aws.Int64(90),
			ResourceRecords: []r53types.ResourceRecord{{Value: aws.String("10.0.2.1")}}},
	}
}

func TestEnumerateRecordSets_RoutedSetsKeepIdentity(t *testing.T) {
	r53 := newFakeRoute53()
	r53.records["/hostedzone/Z1"] = weightedRecords()
	r53.pageSize = 1
	p, _ := newTestProvider(r53, newFakeS3())

	resp, err := p.Enumerate(context.Background(), &sdk.EnumerateRequest{Type: TypeRRSet})
	require.NoError(t, err)
	require.Len(t, resp.Instances, 2)
	assert.Equal(t, "A api.example.com. blue", resp.Instances[0].Ref.Name)
	assert.Equal(t, "A api.example.com. green", resp.Instances[1].Ref.Name)
	assert.Equal(t, int64(10), resp.Instances[0].Attributes["weight"])
	assert.Equal(t, "blue", resp.Instances[0].Attributes["set_identifier"])
}

func TestDeleteRecordSet_Weighted(t *testing.T) {
	r53 := newFakeRoute53()
	r53.records["/hostedzone/Z1"] = weightedRecords()
	p, _ := newTestProvider(r53, newFakeS3())
	ctx := context.Background()

	resp, err := p.Enumerate(ctx, &sdk.EnumerateRequest{Type: TypeRRSet})
	require.NoError(t, err)
	green := resp.Instances[1]
	observed, err := json.Marshal(green.Attributes)
	require.NoError(t, err)

	_, err = p.Delete(ctx, &sdk.DeleteRequest{Type: TypeRRSet, Name: green.Ref.Name, CurrentStateJSON: observed})
	require.NoError(t, err)

	require.Len(t, r53.changes, 1)
	rs := r53.changes[0].ChangeBatch.Changes[0].ResourceRecordSet
	assert.Equal(t, "api.example.com.", aws.ToString(rs.Name))
	assert.Equal(t, "green", aws.ToString(rs.SetIdentifier))
	assert.Equal(t, int64(90), aws.ToInt64(rs.Weight))
	assert.Equal(t, int64(60), aws.ToInt64(rs.TTL))
}

func TestApplyRecordSet_Weighted(t *testing.T) {
	r53 := newFakeRoute53()
	p, _ := newTestProvider(r53, newFakeS3())

	desired, _ := json.Marshal(RecordSetConfig{
		Zone:    "example.com.",
		TTL:     60,
		Value:   []string{"10.0.1.1"},
		Routing: Routing{Weight: aws.Int64(10)},
	})
	resp, err := p.Apply(context.Background(), &sdk.ApplyRequest{Type: TypeRRSet, Name: "A api.example.com. blue", DesiredConfigJSON: desired})
	require.NoError(t, err)

	rs := r53.changes[0].ChangeBatch.Changes[0].ResourceRecordSet
	assert.Equal(t, "blue", aws.ToString(rs.SetIdentifier))
	assert.Equal(t, int64(10), aws.ToInt64(rs.Weight))

	var state RecordSetState
	require.NoError(t, json.Unmarshal(resp.NewStateJSON, &state))
	assert.Equal(t, "blue", state.SetIdentifier)
	assert.Equal(t, "/hostedzone/Z1:api.example.com.:A:blue", state.ID)
}
