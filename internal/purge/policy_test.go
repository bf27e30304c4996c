package purge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/sweep/internal/ir"
)

func TestNewPolicy_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		decl  *ir.Purge
		want  error
		param string
	}{
		{"unknown type", &ir.Purge{Type: "nope", Purge: true}, ErrUnknownType, ""},
		{"not absentable", &ir.Purge{Type: "sealed", Purge: true}, ErrPurgeUnsupported, "purge"},
		{"not enumerable", &ir.Purge{Type: "opaque", Purge: true}, ErrPurgeUnsupported, "purge"},
		{"bad threshold", &ir.Purge{Type: "user", Purge: true, UnlessSystemPrincipal: "many"}, ErrInvalidExclusionConfig, "unlessSystemPrincipal"},
		{"bad identifiers", &ir.Purge{Type: "user", Purge: true, UnlessIdentifier: "9..1"}, ErrInvalidExclusionConfig, "unlessIdentifier"},
		{"unknown account", &ir.Purge{Type: "widget", Purge: true, Account: "ghost"}, ErrUnknownAccount, "account"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.decl, testTypes, &ir.Config{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.param, cfgErr.Param)
			assert.Contains(t, err.Error(), tt.decl.Type)
		})
	}
}

func TestNewPolicy_UnsupportedTypeWithPurgeDisabled(t *testing.T) {
	p, err := NewPolicy(&ir.Purge{Type: "sealed", Purge: false}, testTypes, nil)
	require.NoError(t, err)
	assert.False(t, p.Purge)
}

func TestNewPolicy_Defaults(t *testing.T) {
	p, err := NewPolicy(&ir.Purge{Type: "user", Purge: true}, testTypes, nil)
	require.NoError(t, err)
	assert.Equal(t, Threshold{Enabled: true, Value: DefaultPrincipalThreshold}, p.Threshold)
	assert.Nil(t, p.Unless)
	assert.Nil(t, p.Credential)

	p, err = NewPolicy(&ir.Purge{Type: "widget", Purge: true}, testTypes, nil)
	require.NoError(t, err)
	assert.False(t, p.Threshold.Enabled)
}

func TestNewPolicy_CopiesMetaparameters(t *testing.T) {
	decl := &ir.Purge{
		Type:      "widget",
		Purge:     true,
		DependsOn: []string{"widget.base"},
		Tags:      map[string]string{"team": "infra"},
	}
	p, err := NewPolicy(decl, testTypes, nil)
	require.NoError(t, err)

	decl.DependsOn[0] = "changed"
	decl.Tags["team"] = "changed"
	assert.Equal(t, []string{"widget.base"}, p.DependsOn)
	assert.Equal(t, "infra", p.Tags["team"])
}

func TestPrincipalCheck(t *testing.T) {
	unless, err := ParseIdentifierSet([]any{1200, "1300..1400"})
	require.NoError(t, err)
	p := &Policy{
		Type:      userType,
		Threshold: Threshold{Enabled: true, Value: 500},
		Unless:    unless,
	}

	tests := []struct {
		inst ir.LiveInstance
		keep bool
	}{
		{ir.NewLiveInstance("user", "root", nil).WithIdentifier(0), true},
		{ir.NewLiveInstance("user", "sys", nil).WithIdentifier(9000), true},
		{ir.NewLiveInstance("user", "svc", nil).WithIdentifier(500), true},
		{ir.NewLiveInstance("user", "dev", nil).WithIdentifier(501), false},
		{ir.NewLiveInstance("user", "ci", nil).WithIdentifier(1200), true},
		{ir.NewLiveInstance("user", "qa", nil).WithIdentifier(1350), true},
		{ir.NewLiveInstance("user", "ops", nil).WithIdentifier(1401), false},
		{ir.NewLiveInstance("user", "noid", nil), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.keep, PrincipalCheck(tt.inst, p), tt.inst.Ref.String())
	}
}

func TestCatalogFromResources(t *testing.T) {
	c := CatalogFromResources([]*ir.Resource{
		{Type: "aws_rrset", Name: "A www.example.com.", DependsOn: []string{"aws_s3_bucket.assets.example.com", "bogus"}},
		{Type: "user", Name: "alice", Ensure: ir.EnsureAbsent},
	})

	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Contains(ir.Reference{Type: "aws_rrset", Name: "A www.example.com."}))
	assert.True(t, c.Contains(ir.Reference{Type: "aws_s3_bucket", Name: "assets.example.com"}))
	assert.True(t, c.Contains(ir.Reference{Type: "user", Name: "alice"}))
	assert.False(t, c.Contains(ir.Reference{Type: "user", Name: "bob"}))

	var nilCatalog *Catalog
	assert.False(t, nilCatalog.Contains(ir.Reference{Type: "user", Name: "alice"}))
}
