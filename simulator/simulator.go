// Package simulator wires Request generation, the admission queue,
// routing, and the per-server continuous-batching engine into a
// single discrete-event loop driven by a min-heap of timestamped
// events: one self-rescheduling process per request generator, per
// server tick, and one shared admission-queue dequeue loop.
package simulator

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/fleetsim/fleetsim/admission"
	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/fleet"
	"github.com/fleetsim/fleetsim/request"
	"github.com/fleetsim/fleetsim/router"
	"github.com/fleetsim/fleetsim/simrand"
	"github.com/fleetsim/fleetsim/workload"
)

// DequeueTick is the simulated delay between dequeue-loop attempts.
const DequeueTick = 0.001

// ViolationThreshold is the fraction of an SLO class's terminal
// requests allowed to exceed their target before that class is
// "violating".
const ViolationThreshold = 0.04

// Simulator owns the simulated clock, the event queue, the fleet of
// servers, the admission queue, and every request generator attached
// to this run.
type Simulator struct {
	clock float64

	queue      EventQueue
	servers    []*fleet.Server
	admission  *admission.Queue
	generators []*workload.Generator
	remaining  *workload.MessagesRemaining

	cfg    config.Config
	policy router.Policy
	rng    *simrand.PartitionedRNG

	logger *logrus.Logger

	requests []*request.Request
}

// New builds a Simulator ready to run. seed drives every subsystem's
// RNG deterministically via simrand.PartitionedRNG.
func New(cfg config.Config, numServers int, generators []*workload.Generator, remaining *workload.MessagesRemaining, policy router.Policy, queueingPerc float64, dropLate bool, seed int64, logger *logrus.Logger) *Simulator {
	if logger == nil {
		logger = logrus.New()
	}
	servers := make([]*fleet.Server, numServers)
	for i := range servers {
		servers[i] = fleet.NewServer(serverID(i), cfg)
	}
	return &Simulator{
		servers:    servers,
		admission:  admission.New(cfg, queueingPerc, dropLate),
		generators: generators,
		remaining:  remaining,
		cfg:        cfg,
		policy:     policy,
		rng:        simrand.New(seed),
		logger:     logger,
	}
}

func serverID(i int) string {
	return "server-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Now returns the current simulated clock value.
func (s *Simulator) Now() float64 { return s.clock }

// Servers returns the fleet, in creation order.
func (s *Simulator) Servers() []*fleet.Server { return s.servers }

// Requests returns every request ever generated during the run.
// Requests are never destroyed, only completed, so this list is
// the full post-run dataset for metrics and latency estimation.
func (s *Simulator) Requests() []*request.Request { return s.requests }

func (s *Simulator) schedule(ev Event) { s.queue.schedule(ev) }

// Run drives the event loop until it empties or horizon (simulated
// seconds) elapses, whichever comes first. Returns an error if any
// server reports an invariant violation.
func (s *Simulator) Run(horizon float64) error {
	for i, gen := range s.generators {
		s.schedule(&generatorEvent{genIndex: i, gen: gen, at: 0})
	}
	for _, srv := range s.servers {
		s.schedule(&serverTickEvent{server: srv, at: 0})
	}
	s.schedule(&dequeueEvent{at: 0})

	for {
		ev := s.queue.next()
		if ev == nil {
			return nil
		}
		if ev.Timestamp() > horizon {
			return nil
		}
		s.clock = ev.Timestamp()
		if err := s.execute(ev); err != nil {
			return err
		}
	}
}

// execute runs one event, translating a fleet.InvariantError into a
// simulator-level failure.
func (s *Simulator) execute(ev Event) error {
	type fallible interface {
		ExecuteErr(sim *Simulator) error
	}
	if f, ok := ev.(fallible); ok {
		return f.ExecuteErr(s)
	}
	ev.Execute(s)
	return nil
}

// allDone reports whether every generator is exhausted and there is no
// work left anywhere in the fleet — the point at which idle server
// ticks and dequeue polling should stop self-rescheduling so the event
// queue can drain.
func (s *Simulator) allDone() bool {
	if s.remaining.Remaining() > 0 {
		return false
	}
	if !s.admission.Empty() {
		return false
	}
	for _, srv := range s.servers {
		if !srv.Empty() {
			return false
		}
	}
	return true
}

// routeOrEnqueue routes a freshly generated request immediately, or
// enqueues it in the admission queue when routing defers or queueing
// is active.
func (s *Simulator) routeOrEnqueue(r *request.Request) {
	if s.admission.ShouldEnqueue(s.policy, s.servers) {
		s.admission.Enqueue(r)
		return
	}
	s.routeDirect(r)
}

// routeDirect attempts immediate routing; on a deferred (nil) target
// it falls back to enqueueing rather than dropping the request.
func (s *Simulator) routeDirect(r *request.Request) {
	target, estimated := router.FindTarget(s.policy, s.servers, s.cfg, s.rng.For("router"), s.clock, r.ID, r.InputSize, r.EstimatedOutputSize, r.TargetLatency, r.LoRA)
	if target == nil {
		s.admission.Enqueue(r)
		return
	}
	s.admitToServer(r, target, estimated)
}

func (s *Simulator) admitToServer(r *request.Request, target *fleet.Server, estimated float64) {
	r.TargetServer = target.ID()
	r.EstimatedLatency = estimated
	r.QueueSizeBeforePrefill = target.PrefillQueueSize()
	r.PendingTokensPercAtArrival = target.PendingTokensPerc()
	r.ActualTokensPercAtArrival = target.ActualTokensPerc()
	target.Enqueue(r)
}

// --- events ---

type generatorEvent struct {
	genIndex int
	gen      *workload.Generator
	at       float64
}

func (e *generatorEvent) Timestamp() float64 { return e.at }

func (e *generatorEvent) Execute(sim *Simulator) {
	gen, ok := e.gen.Next(sim.remaining)
	if !ok {
		return
	}
	r := request.New(gen.ID, sim.clock, gen.InputSize, gen.OutputSize)
	r.TargetLatency = gen.TargetLatency
	r.LoRA = gen.LoRA
	r.EstimatedOutputSize = gen.EstimatedOutputSize
	sim.requests = append(sim.requests, r)

	sim.routeOrEnqueue(r)

	sim.schedule(&generatorEvent{genIndex: e.genIndex, gen: e.gen, at: sim.clock + e.gen.IntervalSeconds()})
}

type serverTickEvent struct {
	server *fleet.Server
	at     float64
}

func (e *serverTickEvent) Timestamp() float64 { return e.at }

func (e *serverTickEvent) Execute(sim *Simulator) {
	// dispatched only through ExecuteErr
}

func (e *serverTickEvent) ExecuteErr(sim *Simulator) error {
	delay, err := e.server.Tick(sim.clock)
	if err != nil {
		return err
	}
	if e.server.Empty() && sim.allDone() {
		return nil
	}
	sim.schedule(&serverTickEvent{server: e.server, at: sim.clock + delay})
	return nil
}

type dequeueEvent struct {
	at float64
}

func (e *dequeueEvent) Timestamp() float64 { return e.at }

func (e *dequeueEvent) Execute(sim *Simulator) {
	if !sim.admission.Empty() && sim.admission.DequeueSignal(sim.policy, sim.servers) {
		sim.attemptDequeue()
	}
	if sim.allDone() {
		return
	}
	sim.schedule(&dequeueEvent{at: sim.clock + DequeueTick})
}

func (sim *Simulator) attemptDequeue() {
	active := fleet.ActiveTargetLatencies(sim.servers, sim.clock, math.Inf(1))
	req := sim.admission.WeightedDequeue(sim.rng.For("admission"), active)
	if req == nil {
		_, ratios := fleet.ViolationsInWindow(sim.servers, sim.clock, fleet.DefaultWindow, ViolationThreshold)
		violating := make(map[float64]float64, len(ratios))
		for t, ratio := range ratios {
			if ratio >= ViolationThreshold {
				violating[t] = ratio
			}
		}
		req = sim.admission.SLOBasedDequeue(violating)
	}
	if req == nil {
		return
	}
	if sim.admission.ShouldDropLate(req, sim.clock) {
		return
	}
	sim.routeDirect(req)
}
