// Package router implements the load balancer's target-server
// selection policies and the historical-latency estimator they draw
// on, grounded on the reference loadbalancer's find_target_pod family
// and estimate_avg_latency.
package router

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/fleet"
)

// Policy names the five core routing strategies plus the affinity
// extension (affinity.go). Unknown policy names fall back to smart.
type Policy string

const (
	Random       Policy = "random"
	Least        Policy = "least"
	LeastPseudo  Policy = "leastPseudo"
	LeastLatency Policy = "leastlatency"
	Smart        Policy = "smart"
	Affinity     Policy = "affinity"
)

// SmartBuffer multiplies target_latency in the smart policy's latency
// gate, allowing servers estimated at up to buffer x target to still
// qualify. 0.5 matches the reference load balancer's traced default
// (its find_target_pod_based_on_max_pending call sites never override
// it).
const SmartBuffer = 0.5

// MaxPrefillQueueSize is the hard prefill-queue depth above which a
// server is excluded from the smart policy regardless of KV headroom.
// Mirrors the load balancer's own max_prefill_queue_size default.
const MaxPrefillQueueSize = 5

// FindTarget selects a target server for a request under policy,
// returning (nil, 0) when a best-effort (infinite target) request must
// be deferred — the whole fleet is saturated while an SLO class has
// in-flight requests, or an SLO class is currently violating its
// target — or when servers is empty.
func FindTarget(
	policy Policy,
	servers []*fleet.Server,
	cfg config.Config,
	rng *rand.Rand,
	now float64,
	requestID string,
	inputSize, outputSize int,
	targetLatency float64,
	lora string,
) (*fleet.Server, float64) {
	if math.IsInf(targetLatency, 1) {
		active := fleet.ActiveTargetLatencies(servers, now, fleet.DefaultWindow)
		if fleet.AllServersSaturated(servers, cfg.Limits.MaxKVPercBeforeRecomputeNonCritical) && len(active) > 0 {
			return nil, 0
		}
		violating, _ := fleet.ViolationsInWindow(servers, now, fleet.DefaultWindow, 0.04)
		if violating {
			return nil, 0
		}
	}

	switch policy {
	case Random:
		return pickRandom(servers, rng), 0
	case Least:
		return pickLeastKV(servers, rng), 0
	case LeastPseudo:
		return pickLeastPending(servers, rng, false, 0), 0
	case LeastLatency:
		return pickLeastLatency(servers, rng, cfg, now, inputSize, outputSize)
	case Affinity:
		return findAffinity(servers, cfg, rng, now, requestID, inputSize, outputSize, targetLatency, lora)
	default: // Smart, and any unrecognized policy falls back to smart's semantics
		return findSmart(servers, cfg, rng, now, inputSize, outputSize, targetLatency, lora)
	}
}

func pickRandom(servers []*fleet.Server, rng *rand.Rand) *fleet.Server {
	if len(servers) == 0 {
		return nil
	}
	return servers[rng.Intn(len(servers))]
}

func pickLeastKV(servers []*fleet.Server, rng *rand.Rand) *fleet.Server {
	return minByFloat(servers, rng, func(s *fleet.Server) float64 { return s.ExpectedKVAfterPrefill() })
}

func pickLeastPending(servers []*fleet.Server, rng *rand.Rand, evictionSafe bool, maxKVPerc float64) *fleet.Server {
	var candidates []*fleet.Server
	if evictionSafe {
		for _, s := range servers {
			if s.ExpectedKVAfterPrefill() < maxKVPerc {
				candidates = append(candidates, s)
			}
		}
	} else {
		candidates = servers
	}
	return minByFloat(candidates, rng, func(s *fleet.Server) float64 { return s.PendingTokensPerc() })
}

func pickLeastLatency(servers []*fleet.Server, rng *rand.Rand, cfg config.Config, now float64, inputSize, outputSize int) (*fleet.Server, float64) {
	if len(servers) == 0 {
		return nil, 0
	}
	var best []*fleet.Server
	bestPerToken := math.Inf(1)
	estimates := make(map[*fleet.Server]float64, len(servers))
	for _, s := range servers {
		total, _, _ := EstimateAvgLatency(s, now, inputSize, outputSize, false, 95)
		perToken := total / float64(outputSize)
		estimates[s] = perToken
		if perToken < bestPerToken {
			bestPerToken = perToken
			best = []*fleet.Server{s}
		} else if perToken == bestPerToken {
			best = append(best, s)
		}
	}
	if len(best) == 0 {
		return nil, bestPerToken
	}
	chosen := best[rng.Intn(len(best))]
	return chosen, estimates[chosen]
}

// findSmart implements the "smart" / max-pending-under-SLO policy with
// the LoRA-affinity restriction and eviction-safe leastPseudo fallback.
func findSmart(servers []*fleet.Server, cfg config.Config, rng *rand.Rand, now float64, inputSize, outputSize int, targetLatency float64, lora string) (*fleet.Server, float64) {
	if lora != "" {
		candidates := loraAffinity(servers, lora)
		target, est := maxPendingUnderSLO(candidates, cfg, rng, now, inputSize, outputSize, targetLatency)
		if target == nil {
			target, est = maxPendingUnderSLO(servers, cfg, rng, now, inputSize, outputSize, targetLatency)
		}
		if target == nil {
			target = pickLeastPending(candidates, rng, true, cfg.Limits.MaxKVPercBeforeRecompute)
		}
		if target == nil {
			target = pickLeastPending(servers, rng, false, 0)
		}
		return target, est
	}
	target, est := maxPendingUnderSLO(servers, cfg, rng, now, inputSize, outputSize, targetLatency)
	if target == nil {
		target = pickLeastPending(servers, rng, false, 0)
	}
	return target, est
}

// maxPendingUnderSLO picks, among servers whose estimated per-token
// latency is below buffer*targetLatency, whose expected post-prefill
// KV occupancy is under the eviction threshold, and whose prefill
// queue is under the hard cap, the one with maximum pending tokens
// (packing hot servers to preserve cold headroom elsewhere).
func maxPendingUnderSLO(servers []*fleet.Server, cfg config.Config, rng *rand.Rand, now float64, inputSize, outputSize int, targetLatency float64) (*fleet.Server, float64) {
	var best []*fleet.Server
	bestPending := -math.MaxFloat64
	estimates := make(map[*fleet.Server]float64, len(servers))
	for _, s := range servers {
		total, _, _ := EstimateAvgLatency(s, now, inputSize, outputSize, true, 95)
		perToken := total / float64(outputSize)
		estimates[s] = perToken

		pending := s.PendingTokensPerc()
		kv := s.ExpectedKVAfterPrefill()
		if perToken < SmartBuffer*targetLatency &&
			kv < cfg.Limits.MaxKVPercBeforeRecompute &&
			s.PrefillQueueSize() < MaxPrefillQueueSize {
			if pending > bestPending {
				bestPending = pending
				best = []*fleet.Server{s}
			} else if pending == bestPending {
				best = append(best, s)
			}
		}
	}
	if len(best) == 0 {
		return nil, 0
	}
	chosen := best[rng.Intn(len(best))]
	return chosen, estimates[chosen]
}

func loraAffinity(servers []*fleet.Server, lora string) []*fleet.Server {
	if lora == "" {
		return servers
	}
	var withLoRA []*fleet.Server
	for _, s := range servers {
		if s.LoadedLoRAs()[lora] {
			withLoRA = append(withLoRA, s)
		}
	}
	if len(withLoRA) > 0 {
		return withLoRA
	}
	minCount := math.MaxInt
	for _, s := range servers {
		if n := len(s.LoadedLoRAs()); n < minCount {
			minCount = n
		}
	}
	var fewest []*fleet.Server
	for _, s := range servers {
		if len(s.LoadedLoRAs()) == minCount {
			fewest = append(fewest, s)
		}
	}
	return fewest
}

func minByFloat(servers []*fleet.Server, rng *rand.Rand, f func(*fleet.Server) float64) *fleet.Server {
	if len(servers) == 0 {
		return nil
	}
	var best []*fleet.Server
	bestVal := math.Inf(1)
	for _, s := range servers {
		v := f(s)
		if v < bestVal {
			bestVal = v
			best = []*fleet.Server{s}
		} else if v == bestVal {
			best = append(best, s)
		}
	}
	return best[rng.Intn(len(best))]
}

// EstimateAvgLatency estimates total, prefill, and decode latency for
// a hypothetical request of the given size on server, sampling its
// decoded store (or, when includeRunning, its in-flight decode store)
// filtered to the last fleet.DefaultWindow seconds. Never errors: an
// empty sample returns zeros rather than failing the caller.
func EstimateAvgLatency(s *fleet.Server, now float64, inputSize, outputSize int, includeRunning bool, percentile float64) (total, prefill, decode float64) {
	var prefillSamples, decodeSamples []float64

	currentKVTokens := s.DecodeTokenCount()

	items := s.DecodedStore()
	if includeRunning {
		items = s.DecodeStore()
	}
	for _, item := range items {
		if now-item.ArrivalTime > fleet.DefaultWindow {
			continue
		}
		if item.InputSize > 0 {
			prefillSamples = append(prefillSamples, (item.EndPrefill-item.ArrivalTime)/float64(item.InputSize))
		}
		if item.TokensInKVAtStartOfDecode > 0 {
			produced := item.OutputSize - item.OutputRemaining
			if produced > 0 {
				perTokenPerKV := ((item.EndDecode - item.EndPrefill) / float64(item.TokensInKVAtStartOfDecode)) / float64(produced)
				decodeSamples = append(decodeSamples, perTokenPerKV*float64(currentKVTokens)*float64(outputSize))
			}
		} else {
			decodeSamples = append(decodeSamples, 0)
		}
	}

	prefill = estimatedPrefill(prefillSamples, includeRunning, percentile, inputSize)
	decode = summarize(decodeSamples, includeRunning, percentile)

	queue := prefill * float64(s.PrefillQueueSize())
	total = prefill + decode + queue
	return total, prefill, decode
}

func estimatedPrefill(samples []float64, includeRunning bool, percentile float64, inputSize int) float64 {
	if len(samples) == 0 {
		return 0
	}
	return summarize(samples, includeRunning, percentile) * float64(inputSize)
}

// summarize returns the mean of samples (finished-request mode) or the
// given percentile (running-request mode), matching the reference's
// np.mean / np.percentile split.
func summarize(samples []float64, percentileMode bool, percentile float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	if !percentileMode {
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		return sum / float64(len(samples))
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return stat.Quantile(percentile/100.0, stat.Empirical, sorted, nil)
}
