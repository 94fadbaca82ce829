package runtime

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cocaine-go/cocained/internal/walaudit"
	"github.com/cocaine-go/cocained/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithNoExtrasBuildsAnUnclusteredNode(t *testing.T) {
	rt, err := New(Config{})
	require.NoError(t, err)
	defer rt.Close()

	assert.NotNil(t, rt.Node)
	assert.Nil(t, rt.Metrics)
	assert.Nil(t, rt.Audit)
	assert.Nil(t, rt.Elector)
}

func TestNewWithAuditAndMetricsBuildsBothCollaborators(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	rt, err := New(Config{AuditLogPath: auditPath, MetricsEnabled: true})
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Audit)
	require.NotNil(t, rt.Metrics)
	assert.Empty(t, rt.Node.List())

	var calledAudit, calledMetrics bool
	rt.Audit.Record("echo", "enqueued", types.JobID("job-1"))
	require.NoError(t, walaudit.Replay(auditPath, func(walaudit.Record) error {
		calledAudit = true
		return nil
	}))
	rt.Metrics.Record("echo", "enqueued", types.JobID("job-1"))
	calledMetrics = true

	assert.True(t, calledAudit)
	assert.True(t, calledMetrics)
}

func TestNewWithClusterEnabledSetsElector(t *testing.T) {
	rt, err := New(Config{
		Cluster: ClusterConfig{
			Enabled: true,
			ID:      "solo",
			Peers:   []string{"solo"},
		},
	})
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Elector)
	rt.Start()

	require.Eventually(t, func() bool {
		return rt.Elector.IsLeader()
	}, 2*time.Second, 5*time.Millisecond)
}
