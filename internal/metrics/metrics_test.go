package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	m := New("tinytodo_test")
	require.NotNil(t, m.Registry)

	m.MailboxDepth.Set(3)
	m.Decisions.WithLabelValues("allow").Inc()
	m.TranslatorPath.WithLabelValues("residual").Inc()
	m.Reloads.WithLabelValues("success").Inc()

	assert.Equal(t, float64(3), testutil.ToFloat64(m.MailboxDepth))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Decisions.WithLabelValues("allow")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TranslatorPath.WithLabelValues("residual")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reloads.WithLabelValues("success")))
}

func TestGatherExposesNamespacedNames(t *testing.T) {
	m := New("tinytodo_test")
	families, err := m.Registry.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "tinytodo_test_mailbox_depth")
	assert.Contains(t, names, "tinytodo_test_decisions_total")
	assert.Contains(t, names, "tinytodo_test_translator_path_total")
	assert.Contains(t, names, "tinytodo_test_policy_reloads_total")
}
