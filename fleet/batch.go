// Package fleet implements the per-server continuous-batching engine:
// the admit/decode/recompute scheduling loop, KV-cache accounting, and
// the analytic prefill/decode latency formulas.
package fleet

import "github.com/fleetsim/fleetsim/config"

// PrefillDelay computes the one-shot prefill processing delay for a
// batch of tokenCount effective tokens spread across numItems requests.
//
//	max(Min, A*n^2 + B*n + C + Tokenize*items)
func PrefillDelay(tokenCount, numItems int, lt config.LatencyTable) float64 {
	n := float64(tokenCount)
	raw := lt.PrefillA*n*n + lt.PrefillB*n + lt.PrefillC + lt.Tokenize*float64(numItems)
	if raw < lt.PrefillMin {
		return lt.PrefillMin
	}
	return raw
}

// DecodeDelay computes one decode step's delay across tokenCount
// in-flight KV tokens and numItems concurrently decoding requests.
//
//	D*n + E + (Tokenize+Batch)*items
func DecodeDelay(tokenCount, numItems int, lt config.LatencyTable) float64 {
	n := float64(tokenCount)
	return lt.DecodeD*n + lt.DecodeE + (lt.Tokenize+lt.DecodeBatch)*float64(numItems)
}
