// Package workload implements the fixed-interval request generator:
// request sizing (truncated-normal or a fixed input/output tuple
// pool), SLO-class assignment, and id formatting.
package workload

import (
	"fmt"
	"math"
	"math/rand"
)

// SizePair is a fixed (input, output) token-count pair drawn from a
// provided pool instead of sampled from a distribution.
type SizePair struct {
	Input  int
	Output int
}

// SizeDistribution parameterizes a truncated-normal sampler for one
// size dimension (input or output token count).
type SizeDistribution struct {
	Mean float64
	Std  float64
}

// sample draws max(1, round(|Normal(mean, std)|)) from rng.
func (d SizeDistribution) sample(rng *rand.Rand) int {
	v := math.Abs(d.Mean + d.Std*rng.NormFloat64())
	n := int(math.Round(v))
	if n < 1 {
		n = 1
	}
	return n
}

// Config parameterizes one Generator instance — one per SLO-class
// traffic mix in a scenario, with each class's Generator sharing the
// same global MessagesRemaining.
type Config struct {
	Rate float64 // requests per simulated second; interval = 1/Rate

	InputSize  SizeDistribution
	OutputSize SizeDistribution

	// SizePool, if non-empty, overrides InputSize/OutputSize sampling:
	// each request draws one pair uniformly at random from the pool.
	SizePool []SizePair

	// MaxInputSize, if > 0, caps both the sampled/pooled input size and
	// output size (the run command sets it to MAX_NUM_BATCH_TOKENS).
	MaxInputSize int

	TargetLatencies []float64
	IDPrefix        string

	LoRA string

	// EstimatedOutputSize, if > 0, is the output size fed to the
	// router's latency estimator in place of each request's actual
	// sampled output size ("mean" or "p95" of the class's output
	// distribution). Zero means use the request's own sampled output
	// size.
	EstimatedOutputSize int
}

// MessagesRemaining is a shared, clamped-at-zero counter decremented
// by every Generator sharing a simulation run.
type MessagesRemaining struct {
	n int
}

// NewMessagesRemaining creates a counter starting at n.
func NewMessagesRemaining(n int) *MessagesRemaining { return &MessagesRemaining{n: n} }

// Remaining returns the current count.
func (m *MessagesRemaining) Remaining() int { return m.n }

// TryConsume decrements the counter by one and reports whether a
// message was available to consume. Clamps at zero rather than going
// negative.
func (m *MessagesRemaining) TryConsume() bool {
	if m.n <= 0 {
		return false
	}
	m.n--
	return true
}

// Generator emits Request-shaping decisions at fixed intervals. It
// holds no simulated-clock state itself — the simulator's event loop
// calls Next to materialize the next request's parameters and
// self-reschedules after IntervalSeconds().
type Generator struct {
	cfg     Config
	rng     *rand.Rand
	counter int
}

// New creates a Generator. rng should be a subsystem-isolated RNG
// (see simrand.PartitionedRNG) so sizing draws never perturb routing
// or admission randomness.
func New(cfg Config, rng *rand.Rand) *Generator {
	return &Generator{cfg: cfg, rng: rng}
}

// IntervalSeconds returns the fixed inter-arrival delay, 1/Rate.
func (g *Generator) IntervalSeconds() float64 {
	return 1.0 / g.cfg.Rate
}

// GeneratedRequest is the set of parameters the simulator needs to
// construct and route a request.Request — kept separate from
// request.Request itself so workload has no dependency on fleet/router
// wiring decisions.
type GeneratedRequest struct {
	ID                  string
	InputSize           int
	OutputSize          int
	EstimatedOutputSize int
	TargetLatency       float64
	LoRA                string
}

// Next produces the next generated request's parameters, or ok=false
// if MessagesRemaining has been exhausted.
func (g *Generator) Next(remaining *MessagesRemaining) (GeneratedRequest, bool) {
	if !remaining.TryConsume() {
		return GeneratedRequest{}, false
	}

	var inputSize, outputSize int
	if len(g.cfg.SizePool) > 0 {
		pair := g.cfg.SizePool[g.rng.Intn(len(g.cfg.SizePool))]
		inputSize, outputSize = pair.Input, pair.Output
	} else {
		inputSize = g.cfg.InputSize.sample(g.rng)
		outputSize = g.cfg.OutputSize.sample(g.rng)
	}
	if g.cfg.MaxInputSize > 0 && inputSize > g.cfg.MaxInputSize {
		inputSize = g.cfg.MaxInputSize
	}
	if g.cfg.MaxInputSize > 0 && outputSize > g.cfg.MaxInputSize {
		outputSize = g.cfg.MaxInputSize
	}

	targetLatency := math.Inf(1)
	if len(g.cfg.TargetLatencies) > 0 {
		targetLatency = g.cfg.TargetLatencies[g.rng.Intn(len(g.cfg.TargetLatencies))]
	}

	id := fmt.Sprintf("%s: %d", g.cfg.IDPrefix, g.counter)
	g.counter++

	estimatedOutputSize := outputSize
	if g.cfg.EstimatedOutputSize > 0 {
		estimatedOutputSize = g.cfg.EstimatedOutputSize
	}

	return GeneratedRequest{
		ID:                  id,
		InputSize:           inputSize,
		OutputSize:          outputSize,
		EstimatedOutputSize: estimatedOutputSize,
		TargetLatency:       targetLatency,
		LoRA:                g.cfg.LoRA,
	}, true
}
