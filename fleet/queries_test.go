package fleet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/request"
)

func TestAllServersSaturatedRequiresEveryServer(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxNumTokensAllowed = 10
	a := NewServer("a", cfg)
	b := NewServer("b", cfg)

	require.False(t, AllServersSaturated([]*Server{a, b}, 0.5))

	a.Enqueue(request.New("r0", 0, 8, 2))
	_, err := a.Tick(0)
	require.NoError(t, err)
	require.True(t, AllServersSaturated([]*Server{a}, 0.5))
	require.False(t, AllServersSaturated([]*Server{a, b}, 0.5), "b is still empty")
}

func TestAllServersQueued(t *testing.T) {
	cfg := testConfig()
	a := NewServer("a", cfg)
	b := NewServer("b", cfg)
	require.False(t, AllServersQueued([]*Server{a, b}, 2))

	for i := 0; i < 5; i++ {
		a.Enqueue(request.New("a"+string(rune('0'+i)), 0, 1, 1))
		b.Enqueue(request.New("b"+string(rune('0'+i)), 0, 1, 1))
	}
	require.True(t, AllServersQueued([]*Server{a, b}, 2))
}

func TestViolationsInWindow(t *testing.T) {
	cfg := testConfig()
	s := NewServer("s0", cfg)

	ok := request.New("ok", 0, 1, 1)
	ok.TargetLatency = 1.0
	ok.OutputRemaining = 0
	ok.ArrivalTime = 0
	ok.EndDecode = 0.5

	bad := request.New("bad", 0, 1, 1)
	bad.TargetLatency = 1.0
	bad.OutputRemaining = 0
	bad.ArrivalTime = 0
	bad.EndDecode = 5.0

	s.decodedStore = append(s.decodedStore, ok, bad)

	anyViolating, ratios := ViolationsInWindow([]*Server{s}, 10, DefaultWindow, 0.04)
	require.True(t, anyViolating)
	require.InDelta(t, 0.5, ratios[1.0], 1e-9)
}

func TestViolationsInWindowIgnoresInfiniteTargets(t *testing.T) {
	s := NewServer("s0", testConfig())
	r := request.New("r", 0, 1, 1)
	r.TargetLatency = math.Inf(1)
	r.OutputRemaining = 0
	s.decodedStore = append(s.decodedStore, r)

	anyViolating, ratios := ViolationsInWindow([]*Server{s}, 10, DefaultWindow, 0.04)
	require.False(t, anyViolating)
	require.Empty(t, ratios)
}

func TestActiveTargetLatencies(t *testing.T) {
	cfg := testConfig()
	s := NewServer("s0", cfg)
	r := request.New("r0", 0, 2, 2)
	r.TargetLatency = 0.5
	s.Enqueue(r)

	active := ActiveTargetLatencies([]*Server{s}, 0, DefaultWindow)
	require.True(t, active[0.5])
}
