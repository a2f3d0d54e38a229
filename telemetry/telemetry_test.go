package telemetry

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/fleet"
)

func TestObserveSetsAdmissionQueueLengthGauge(t *testing.T) {
	c := NewCollector()
	servers := []*fleet.Server{
		fleet.NewServer("s0", config.Default()),
		fleet.NewServer("s1", config.Default()),
	}
	c.Observe(servers, 3)

	metrics, err := c.registry.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "fleetsim_admission_queue_length" {
			found = true
			require.Len(t, mf.Metric, 1)
			require.Equal(t, float64(3), mf.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, found)
}

func TestObservePopulatesOneSeriesPerServer(t *testing.T) {
	c := NewCollector()
	servers := []*fleet.Server{
		fleet.NewServer("s0", config.Default()),
		fleet.NewServer("s1", config.Default()),
		fleet.NewServer("s2", config.Default()),
	}
	c.Observe(servers, 0)

	metrics, err := c.registry.Gather()
	require.NoError(t, err)

	var prefillQueue *dto.MetricFamily
	for _, mf := range metrics {
		if mf.GetName() == "fleetsim_prefill_queue_size" {
			prefillQueue = mf
		}
	}
	require.NotNil(t, prefillQueue)
	require.Len(t, prefillQueue.Metric, 3)
}
