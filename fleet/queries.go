package fleet

import "math"

// DefaultWindow is the default lookback window (simulated seconds) used
// by violation tracking and active-SLO-class queries.
const DefaultWindow = 300.0

// AllServersSaturated reports whether every server's expected KV
// occupancy after its next prefill is at or above threshold — feeds
// both the router's saturation pre-check and the admission queue's
// "smart" saturation signal.
func AllServersSaturated(servers []*Server, threshold float64) bool {
	if len(servers) == 0 {
		return false
	}
	for _, s := range servers {
		if s.ExpectedKVAfterPrefill() < threshold {
			return false
		}
	}
	return true
}

// AllServersQueued reports whether every server's prefill queue exceeds
// maxPrefillQueueSize — the hard queueing trigger independent of KV
// pressure.
func AllServersQueued(servers []*Server, maxPrefillQueueSize int) bool {
	if len(servers) == 0 {
		return false
	}
	for _, s := range servers {
		if s.PrefillQueueSize() <= maxPrefillQueueSize {
			return false
		}
	}
	return true
}

// OverallPendingTokensPerc returns the fleet-wide pending-tokens
// percentage, weighted by each server's max token capacity.
func OverallPendingTokensPerc(servers []*Server) float64 {
	var pending, capacity float64
	for _, s := range servers {
		pending += s.PendingTokensPerc() * float64(s.MaxTokensAllowed())
		capacity += float64(s.MaxTokensAllowed())
	}
	if capacity == 0 {
		return 0
	}
	return pending / capacity
}

// OverallActualTokensPerc returns the fleet-wide actual-tokens
// percentage, weighted by each server's max token capacity.
func OverallActualTokensPerc(servers []*Server) float64 {
	var actual, capacity float64
	for _, s := range servers {
		actual += s.ActualTokensPerc() * float64(s.MaxTokensAllowed())
		capacity += float64(s.MaxTokensAllowed())
	}
	if capacity == 0 {
		return 0
	}
	return actual / capacity
}

// ActiveTargetLatencies returns the set of non-infinite target-latency
// classes that have at least one in-flight or recently-finished
// (within window seconds, measuring from request arrival) request
// somewhere in the fleet — used by weighted dequeue to pick which
// queues to draw from.
func ActiveTargetLatencies(servers []*Server, now, window float64) map[float64]bool {
	active := make(map[float64]bool)
	note := func(t float64) {
		if !math.IsInf(t, 1) {
			active[t] = true
		}
	}
	for _, s := range servers {
		for _, r := range s.PrefillStore() {
			note(r.TargetLatency)
		}
		for _, r := range s.DecodeStore() {
			note(r.TargetLatency)
		}
		for _, r := range s.RecomputeStore() {
			note(r.TargetLatency)
		}
		for _, r := range s.DecodedStore() {
			if now-r.ArrivalTime < window {
				note(r.TargetLatency)
			}
		}
	}
	return active
}

// ViolationsInWindow computes, per non-infinite target-latency class,
// the fraction of terminal requests within window seconds of arrival
// whose achieved per-token latency exceeds their target, and whether
// any class exceeds the violation threshold (4% by default).
func ViolationsInWindow(servers []*Server, now, window, threshold float64) (bool, map[float64]float64) {
	counts := make(map[float64]int)
	violations := make(map[float64]int)
	for _, s := range servers {
		for _, r := range s.DecodedStore() {
			if math.IsInf(r.TargetLatency, 1) || now-r.ArrivalTime > window {
				continue
			}
			counts[r.TargetLatency]++
			if r.AchievedPerToken() > r.TargetLatency {
				violations[r.TargetLatency]++
			}
		}
	}
	anyViolating := false
	ratios := make(map[float64]float64, len(counts))
	for t, n := range counts {
		ratio := float64(violations[t]) / float64(n)
		ratios[t] = ratio
		if ratio >= threshold {
			anyViolating = true
		}
	}
	return anyViolating, ratios
}
