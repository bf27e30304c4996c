package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/sweep/internal/ir"
)

func TestBuildDAG_NoDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	assert.Len(t, order, 3)
}

func TestBuildDAG_ExplicitDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 3)

	// b must come before a, a must come before c
	posB := indexOf(order, "null_resource.b")
	posA := indexOf(order, "null_resource.a")
	posC := indexOf(order, "null_resource.c")

	assert.Less(t, posB, posA, "b should come before a")
	assert.Less(t, posA, posC, "a should come before c")
}

func TestBuildDAG_ImplicitPtrRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "aws_rrset",
			Name:     "CNAME assets.example.com.",
			Provider: "aws",
			Properties: map[string]any{
				"zone":  "example.com.",
				"value": []any{"ptr://aws_s3_bucket/assets/domain"},
			},
		},
		{Type: "aws_s3_bucket", Name: "assets", Provider: "aws"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 2)

	posBucket := indexOf(order, "aws_s3_bucket.assets")
	posRecord := indexOf(order, "aws_rrset.CNAME assets.example.com.")

	assert.Less(t, posBucket, posRecord, "bucket should be created before the record pointing at it")
}

func TestBuildDAG_CycleDetection(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	_, err := BuildDAG(resources)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildDAG_DestructionOrder(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	revOrder := dag.DestructionOrder()
	require.Len(t, revOrder, 2)
	assert.Equal(t, []string{"null_resource.a"}, dag.Dependents("null_resource.b"))
	assert.Empty(t, dag.Dependents("null_resource.a"))

	// a depends on b, so a should be destroyed first (reverse of creation)
	posA := indexOf(revOrder, "null_resource.a")
	posB := indexOf(revOrder, "null_resource.b")

	assert.Less(t, posA, posB, "a should be destroyed before b")
}

func TestPtrRefToAddr(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"ptr://aws_s3_bucket/logs/arn", "aws_s3_bucket.logs"},
		{"ptr://aws_rrset/A www.example.com./ttl", "aws_rrset.A www.example.com."},
		{"ptr://user/deploy", "user.deploy"},
		{"not-a-ref", ""},
		{"ptr://short", ""},
		{"ptr:///name/attr", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got := ptrRefToAddr(tt.ref)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractPtrRefs(t *testing.T) {
	props := map[string]any{
		"zone": "ptr://aws_rrset/SOA example.com./zone",
		"name": "www",
		"alias": map[string]any{
			"dns_name": "ptr://aws_s3_bucket/logs/domain",
		},
		"value": []any{
			"ptr://docker_container/web/ip",
			"plain-string",
		},
	}

	refs := extractPtrRefs(props)
	assert.Len(t, refs, 3)
	assert.Contains(t, refs, "ptr://aws_rrset/SOA example.com./zone")
	assert.Contains(t, refs, "ptr://aws_s3_bucket/logs/domain")
	assert.Contains(t, refs, "ptr://docker_container/web/ip")
}

func TestDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b", "null_resource.c"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	deps := dag.Dependencies("null_resource.a")
	assert.Len(t, deps, 2)
	assert.Contains(t, deps, "null_resource.b")
	assert.Contains(t, deps, "null_resource.c")
}

func TestBuildDAG_OrderingHint(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "user", Name: "stray", Ensure: ir.EnsureAbsent, Purging: true, Ordering: &ir.Ordering{AfterDeclaredOfType: "user"}},
		{Type: "user", Name: "alice"},
		{Type: "user", Name: "bob", Ensure: ir.EnsureAbsent},
		{Type: "null_resource", Name: "other"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"user.alice", "user.bob"}, dag.Dependencies("user.stray"))
	assert.Empty(t, dag.Dependencies("user.alice"))

	order := dag.CreationOrder()
	assert.Less(t, indexOf(order, "user.alice"), indexOf(order, "user.stray"))
	assert.Less(t, indexOf(order, "user.bob"), indexOf(order, "user.stray"))
}

func TestBuildDAG_StableOrder(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "c"},
		{Type: "null_resource", Name: "a"},
		{Type: "null_resource", Name: "b"},
	}

	for i := 0; i < 5; i++ {
		dag, err := BuildDAG(resources)
		require.NoError(t, err)
		assert.Equal(t, []string{"null_resource.a", "null_resource.b", "null_resource.c"}, dag.CreationOrder())
	}
}

func TestTransitiveDeps_Sorted(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", DependsOn: []string{"null_resource.c"}},
		{Type: "null_resource", Name: "c"},
		{Type: "null_resource", Name: "d"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	assert.Equal(t, []string{"null_resource.b", "null_resource.c"}, dag.TransitiveDeps("null_resource.a"))
	assert.Empty(t, dag.TransitiveDeps("null_resource.d"))
	assert.Empty(t, dag.TransitiveDeps("null_resource.missing"))
}

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}
