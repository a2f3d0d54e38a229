package admission

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/request"
)

func TestShouldEnqueueDisabledWhenQueueingPercInfinite(t *testing.T) {
	q := New(config.Default(), math.Inf(1), false)
	require.False(t, q.ShouldEnqueue("random", nil))
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := New(config.Default(), 0, false)
	r := request.New("r0", 0, 1, 1)
	r.TargetLatency = 0.5
	q.Enqueue(r)
	require.False(t, q.Empty())
	require.Equal(t, 1, q.Len())

	rng := rand.New(rand.NewSource(1))
	got := q.WeightedDequeue(rng, map[float64]bool{0.5: true})
	require.Equal(t, r, got)
	require.True(t, q.Empty())
}

func TestWeightedDequeueBias(t *testing.T) {
	q := New(config.Default(), 0, false)
	for i := 0; i < 2000; i++ {
		lo := request.New("lo", 0, 1, 1)
		lo.TargetLatency = 0.025
		q.Enqueue(lo)
		hi := request.New("hi", 0, 1, 1)
		hi.TargetLatency = 0.5
		q.Enqueue(hi)
	}

	rng := rand.New(rand.NewSource(7))
	active := map[float64]bool{0.025: true, 0.5: true}
	loCount, hiCount := 0, 0
	for i := 0; i < 1000; i++ {
		req := q.WeightedDequeue(rng, active)
		require.NotNil(t, req)
		if req.TargetLatency == 0.025 {
			loCount++
		} else {
			hiCount++
		}
	}
	frac := float64(loCount) / 1000.0
	require.InDelta(t, 0.952, frac, 0.03)
}

func TestWeightedDequeueGivesUpWhenActiveClassFIFOsStayEmpty(t *testing.T) {
	q := New(config.Default(), 0, false)
	rng := rand.New(rand.NewSource(1))
	got := q.WeightedDequeue(rng, map[float64]bool{0.1: true, 0.2: true})
	require.Nil(t, got)
}

func TestSLOBasedDequeuePrefersNonViolatingClasses(t *testing.T) {
	q := New(config.Default(), 0, false)
	clean := request.New("clean", 0, 1, 1)
	clean.TargetLatency = 0.1
	q.Enqueue(clean)
	violating := request.New("violating", 0, 1, 1)
	violating.TargetLatency = 0.2
	q.Enqueue(violating)

	ratios := map[float64]float64{0.2: 0.1}
	got := q.SLOBasedDequeue(ratios)
	require.Equal(t, clean, got)
}

func TestShouldDropLateOnlyWhenEnabled(t *testing.T) {
	q := New(config.Default(), 0, true)
	r := request.New("r", 0, 1, 1)
	r.TargetLatency = 0.01
	require.True(t, q.ShouldDropLate(r, 10))

	qOff := New(config.Default(), 0, false)
	require.False(t, qOff.ShouldDropLate(r, 10))
}

func TestShouldDropLateNeverForBestEffort(t *testing.T) {
	q := New(config.Default(), 0, true)
	r := request.New("r", 0, 1, 1)
	r.TargetLatency = math.Inf(1)
	require.False(t, q.ShouldDropLate(r, 1e9))
}
