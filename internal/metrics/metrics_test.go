package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/sweep/internal/purge"
)

var _ purge.Observer = (*Metrics)(nil)

func TestObserverCounters(t *testing.T) {
	m := New()

	m.Enumerated("user", 3)
	m.Enumerated("user", 2)
	m.Excluded("user", purge.RulePrincipal)
	m.Excluded("user", purge.RulePrincipal)
	m.Excluded("user", purge.RuleCatalog)
	m.Marked("user")

	assert.Equal(t, 5.0, testutil.ToFloat64(m.enumerated.WithLabelValues("user")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.excluded.WithLabelValues("user", purge.RulePrincipal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.excluded.WithLabelValues("user", purge.RuleCatalog)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.marked.WithLabelValues("user")))
}

func TestApplied(t *testing.T) {
	m := New()

	m.Applied("aws_s3_bucket", "DELETE", true, nil)
	m.Applied("aws_s3_bucket", "DELETE", false, nil)
	m.Applied("aws_s3_bucket", "DELETE", true, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.applied.WithLabelValues("aws_s3_bucket", "DELETE", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.applied.WithLabelValues("aws_s3_bucket", "DELETE", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed.WithLabelValues("aws_s3_bucket", "DELETE")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Marked("aws_rrset")

	path := filepath.Join(t.TempDir(), "sweep.prom")
	require.NoError(t, m.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `sweep_purge_candidates_total{type="aws_rrset"} 1`)
}
