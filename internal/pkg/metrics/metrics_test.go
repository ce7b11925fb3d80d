package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveDecision(t *testing.T) {
	before := testutil.ToFloat64(DecisionsTotal.WithLabelValues("skip", "identity"))
	ObserveDecision(false, "identity")
	ObserveDecision(false, "identity")
	assert.Equal(t, before+2, testutil.ToFloat64(DecisionsTotal.WithLabelValues("skip", "identity")))

	before = testutil.ToFloat64(DecisionsTotal.WithLabelValues("load", ""))
	ObserveDecision(true, "")
	assert.Equal(t, before+1, testutil.ToFloat64(DecisionsTotal.WithLabelValues("load", "")))
}

func TestRegistryGathers(t *testing.T) {
	StoredUpdates.Set(3)
	families, err := Registry.Gather()
	assert.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["otapolicy_stored_updates"])
	assert.True(t, names["otapolicy_broker_connectivity_status"])
}
