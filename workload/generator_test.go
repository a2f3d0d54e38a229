package workload

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextFormatsIDWithPrefix(t *testing.T) {
	cfg := Config{
		Rate:            10,
		InputSize:       SizeDistribution{Mean: 10, Std: 0},
		OutputSize:      SizeDistribution{Mean: 5, Std: 0},
		TargetLatencies: []float64{0.025},
		IDPrefix:        "lo",
	}
	g := New(cfg, rand.New(rand.NewSource(1)))
	remaining := NewMessagesRemaining(2)

	req, ok := g.Next(remaining)
	require.True(t, ok)
	require.Equal(t, "lo: 0", req.ID)
	require.Equal(t, 10, req.InputSize)
	require.Equal(t, 5, req.OutputSize)
	require.Equal(t, 0.025, req.TargetLatency)

	req2, ok := g.Next(remaining)
	require.True(t, ok)
	require.Equal(t, "lo: 1", req2.ID)

	_, ok = g.Next(remaining)
	require.False(t, ok)
}

func TestMessagesRemainingClampsAtZero(t *testing.T) {
	m := NewMessagesRemaining(1)
	require.True(t, m.TryConsume())
	require.False(t, m.TryConsume())
	require.Equal(t, 0, m.Remaining())
}

func TestSizePoolOverridesDistribution(t *testing.T) {
	cfg := Config{
		Rate:     1,
		SizePool: []SizePair{{Input: 7, Output: 3}},
		IDPrefix: "x",
	}
	g := New(cfg, rand.New(rand.NewSource(1)))
	req, ok := g.Next(NewMessagesRemaining(1))
	require.True(t, ok)
	require.Equal(t, 7, req.InputSize)
	require.Equal(t, 3, req.OutputSize)
}

func TestMaxInputSizeCaps(t *testing.T) {
	cfg := Config{
		Rate:         1,
		InputSize:    SizeDistribution{Mean: 1000, Std: 0},
		OutputSize:   SizeDistribution{Mean: 5, Std: 0},
		MaxInputSize: 50,
		IDPrefix:     "x",
	}
	g := New(cfg, rand.New(rand.NewSource(1)))
	req, ok := g.Next(NewMessagesRemaining(1))
	require.True(t, ok)
	require.Equal(t, 50, req.InputSize)
}

func TestIntervalSeconds(t *testing.T) {
	g := New(Config{Rate: 4}, rand.New(rand.NewSource(1)))
	require.Equal(t, 0.25, g.IntervalSeconds())
}
