// Package request defines the Request record that flows through the
// fleet simulator: arrival bookkeeping, prefill/decode timestamps, and
// the routing/SLO metadata attached to it along the way.
package request

import "math"

// Unset is the sentinel for timestamp fields that have not yet been
// recorded. Real simulated times are always >= 0.
const Unset = -1.0

// Request models a single inference request's lifecycle.
//
// Mutated only by the fleet.Server that currently owns it. Never
// destroyed — completed requests are retained in a server's decoded
// store for post-run metrics and latency estimation.
type Request struct {
	ID          string
	ArrivalTime float64

	InputSize       int
	OutputSize      int
	OutputRemaining int

	StartPrefill float64
	EndPrefill   float64
	StartDecode  float64
	EndDecode    float64

	TokensInKVAtStartOfDecode int
	RecomputeCount             int

	TargetServer               string
	EstimatedLatency           float64
	QueueSizeBeforePrefill     int
	PendingTokensPercAtArrival float64
	ActualTokensPercAtArrival  float64

	// TargetLatency is the requested SLO class. math.Inf(1) means
	// best-effort (no SLO).
	TargetLatency float64
	LoRA          string

	// EstimatedOutputSize is the output size routing's latency
	// estimator should use in place of OutputSize; defaults to
	// OutputSize.
	EstimatedOutputSize int
}

// New creates a Request with output_remaining initialized to output_size
// and all timestamps unset.
func New(id string, arrivalTime float64, inputSize, outputSize int) *Request {
	return &Request{
		ID:                  id,
		ArrivalTime:         arrivalTime,
		InputSize:           inputSize,
		OutputSize:          outputSize,
		OutputRemaining:     outputSize,
		StartPrefill:        Unset,
		EndPrefill:          Unset,
		StartDecode:         Unset,
		EndDecode:           Unset,
		TargetLatency:       math.Inf(1),
		EstimatedOutputSize: outputSize,
	}
}

// Len returns the request's effective token footprint: input tokens
// plus however many output tokens have been generated so far.
func (r *Request) Len() int {
	return r.InputSize + (r.OutputSize - r.OutputRemaining)
}

// Terminal reports whether the request has produced all of its output
// tokens.
func (r *Request) Terminal() bool {
	return r.OutputRemaining == 0
}

// Latency returns (end_decode - arrival) / output_size. It is measured
// against end_decode rather than end_prefill — a per-token latency
// blended across the whole request, not a time-to-first-token.
// Returns 0 for an unfinished request.
func (r *Request) Latency() float64 {
	if !r.Terminal() || r.OutputSize == 0 {
		return 0
	}
	return (r.EndDecode - r.ArrivalTime) / float64(r.OutputSize)
}

// AchievedPerToken returns (end_decode - arrival) / output_size for a
// terminal request, used by violation tracking against TargetLatency.
func (r *Request) AchievedPerToken() float64 {
	return r.Latency()
}
