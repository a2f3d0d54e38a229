// Package admission implements the SLO-class-aware admission queue:
// per-target-latency FIFOs, saturation-triggered gating, weighted and
// violation-aware dequeue.
package admission

import (
	"math"
	"math/rand"
	"sort"

	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/fleet"
	"github.com/fleetsim/fleetsim/request"
	"github.com/fleetsim/fleetsim/router"
)

// Queue holds one FIFO per SLO class (target_latency value) and the
// saturation/queueing policy governing when requests are queued versus
// routed directly.
type Queue struct {
	cfg          config.Config
	queueingPerc float64
	dropLate     bool
	fifos        map[float64][]*request.Request
}

// New creates an empty Queue. queueingPerc is the KV-saturation
// threshold that triggers queueing (+Inf disables saturation-triggered
// queueing).
// dropLate enables the optional late-request drop policy.
func New(cfg config.Config, queueingPerc float64, dropLate bool) *Queue {
	return &Queue{
		cfg:          cfg,
		queueingPerc: queueingPerc,
		dropLate:     dropLate,
		fifos:        make(map[float64][]*request.Request),
	}
}

// Empty reports whether every class FIFO is empty.
func (q *Queue) Empty() bool {
	for _, fifo := range q.fifos {
		if len(fifo) > 0 {
			return false
		}
	}
	return true
}

// Len returns the total number of queued requests across all classes.
func (q *Queue) Len() int {
	n := 0
	for _, fifo := range q.fifos {
		n += len(fifo)
	}
	return n
}

// Enqueue appends req to its target-latency class's FIFO.
func (q *Queue) Enqueue(req *request.Request) {
	q.fifos[req.TargetLatency] = append(q.fifos[req.TargetLatency], req)
}

// ShouldEnqueue reports whether a newly generated request must be
// queued rather than routed directly. queueingPerc == +Inf always
// returns false — saturation-triggered queueing is disabled, though a
// request whose routing is deferred can still be enqueued by the
// simulator.
func (q *Queue) ShouldEnqueue(policy router.Policy, servers []*fleet.Server) bool {
	if math.IsInf(q.queueingPerc, 1) {
		return false
	}
	return q.saturationSignal(policy, servers) || !q.Empty()
}

// saturationSignal implements the per-policy saturation condition: the
// smart policy gates on per-server KV occupancy, every other policy
// gates on the fleet-wide mean pending-tokens percentage.
func (q *Queue) saturationSignal(policy router.Policy, servers []*fleet.Server) bool {
	if policy == router.Smart {
		return fleet.AllServersSaturated(servers, q.queueingPerc) || fleet.AllServersQueued(servers, q.cfg.Limits.MaxPrefillQueueSize)
	}
	return fleet.OverallPendingTokensPerc(servers) > q.queueingPerc || fleet.AllServersQueued(servers, q.cfg.Limits.MaxPrefillQueueSize)
}

// DequeueSignal reports whether the dequeue loop should attempt a draw
// this tick — the logical negation of the saturation signal.
func (q *Queue) DequeueSignal(policy router.Policy, servers []*fleet.Server) bool {
	return !q.saturationSignal(policy, servers)
}

func (q *Queue) popHead(class float64) *request.Request {
	fifo := q.fifos[class]
	if len(fifo) == 0 {
		return nil
	}
	req := fifo[0]
	q.fifos[class] = fifo[1:]
	return req
}

// WeightedDequeue draws one request using inverse-target-latency
// weighting over activeTargets (the fleet-wide set of non-infinite SLO
// classes with an in-flight or recently-finished request, e.g.
// fleet.ActiveTargetLatencies): tighter (lower) targets are sampled
// more often. Retries up to 1000 times before giving up; returns nil
// rather than looping forever when every weighted pick lands on a
// now-empty FIFO.
func (q *Queue) WeightedDequeue(rng *rand.Rand, activeTargets map[float64]bool) *request.Request {
	var classes []float64
	for t := range activeTargets {
		if !math.IsInf(t, 1) {
			classes = append(classes, t)
		}
	}
	if len(classes) == 0 {
		return nil
	}
	sort.Float64s(classes)
	weights := make([]float64, len(classes))
	total := 0.0
	for i, t := range classes {
		w := 1.0 / t
		weights[i] = w
		total += w
	}

	for attempt := 0; attempt < 1000; attempt++ {
		target := rng.Float64() * total
		var chosen float64
		for i, w := range weights {
			target -= w
			if target <= 0 {
				chosen = classes[i]
				break
			}
			chosen = classes[len(classes)-1]
		}
		if req := q.popHead(chosen); req != nil {
			return req
		}
	}
	return nil
}

// SLOBasedDequeue drains classes that are not currently violating
// first, then violating classes in descending violation-ratio order.
// violationRatios holds only the currently violating classes; any
// class absent from it counts as not violating. Used for best-effort (target_latency == +Inf) requests, which
// WeightedDequeue never selects since its weighting excludes infinite
// targets.
func (q *Queue) SLOBasedDequeue(violationRatios map[float64]float64) *request.Request {
	var violating, clean []float64
	for t := range q.fifos {
		if _, isViolating := violationRatios[t]; isViolating {
			violating = append(violating, t)
		} else {
			clean = append(clean, t)
		}
	}
	sort.Float64s(clean)
	sort.Float64s(violating)
	for _, t := range clean {
		if req := q.popHead(t); req != nil {
			return req
		}
	}
	sortDescByRatio(violating, violationRatios)
	for _, t := range violating {
		if req := q.popHead(t); req != nil {
			return req
		}
	}
	return nil
}

func sortDescByRatio(classes []float64, ratios map[float64]float64) {
	for i := 1; i < len(classes); i++ {
		for j := i; j > 0 && ratios[classes[j]] > ratios[classes[j-1]]; j-- {
			classes[j], classes[j-1] = classes[j-1], classes[j]
		}
	}
}

// ShouldDropLate reports whether a dequeued request has aged past
// 100x its target latency and dropLate is enabled. Best-effort
// (infinite target) requests are never dropped under this policy.
func (q *Queue) ShouldDropLate(req *request.Request, now float64) bool {
	if !q.dropLate || math.IsInf(req.TargetLatency, 1) {
		return false
	}
	return now-req.ArrivalTime > 100*req.TargetLatency
}
