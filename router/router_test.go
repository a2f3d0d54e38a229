package router

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/fleet"
	"github.com/fleetsim/fleetsim/request"
)

func cfgForTest() config.Config {
	cfg := config.Default()
	cfg.Limits.MaxNumTokensAllowed = 100
	cfg.Limits.MaxKVPercBeforeRecompute = 0.9
	cfg.Limits.MaxKVPercBeforeRecomputeNonCritical = 0.8
	return cfg
}

func TestFindTargetRandomPicksAmongAll(t *testing.T) {
	cfg := cfgForTest()
	servers := []*fleet.Server{fleet.NewServer("0", cfg), fleet.NewServer("1", cfg)}
	rng := rand.New(rand.NewSource(1))

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, _ := FindTarget(Random, servers, cfg, rng, 0, "r", 1, 1, math.Inf(1), "")
		require.NotNil(t, s)
		seen[s.ID()] = true
	}
	require.Len(t, seen, 2)
}

func TestFindTargetLeastPrefersEmptierServer(t *testing.T) {
	cfg := cfgForTest()
	busy := fleet.NewServer("busy", cfg)
	idle := fleet.NewServer("idle", cfg)
	busy.Enqueue(newBigRequest("b0"))
	_, err := busy.Tick(0)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	s, _ := FindTarget(Least, []*fleet.Server{busy, idle}, cfg, rng, 0, "r", 1, 1, math.Inf(1), "")
	require.Equal(t, "idle", s.ID())
}

func TestFindTargetSmartFallsBackToLeastPseudoWhenNoneQualify(t *testing.T) {
	cfg := cfgForTest()
	s0 := fleet.NewServer("0", cfg)
	rng := rand.New(rand.NewSource(1))
	target, _ := FindTarget(Smart, []*fleet.Server{s0}, cfg, rng, 0, "r", 1, 1, 0, "")
	require.Equal(t, "0", target.ID())
}

func TestEstimateAvgLatencyEmptyIsZero(t *testing.T) {
	cfg := cfgForTest()
	s := fleet.NewServer("0", cfg)
	total, prefill, decode := EstimateAvgLatency(s, 0, 10, 5, false, 95)
	require.Equal(t, 0.0, total)
	require.Equal(t, 0.0, prefill)
	require.Equal(t, 0.0, decode)
}

func TestPreCheckDefersWhenSaturatedWithActiveClass(t *testing.T) {
	cfg := cfgForTest()
	cfg.Limits.MaxNumTokensAllowed = 10
	s := fleet.NewServer("0", cfg)
	r := newBigRequest("hi:0")
	r.TargetLatency = 0.5
	s.Enqueue(r)
	_, err := s.Tick(0)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	target, _ := FindTarget(Random, []*fleet.Server{s}, cfg, rng, 0, "lo:1", 1, 1, math.Inf(1), "")
	require.Nil(t, target)
}

func newBigRequest(id string) *request.Request {
	return request.New(id, 0, 9, 2)
}
