package fleet

import (
	"fmt"

	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/request"
)

// IdleTick is the simulated delay (seconds) a server waits when none of
// its three input stores have work.
const IdleTick = 0.001

// InvariantError marks a fatal simulation invariant violation: the
// server reports negative output_remaining and a LoRA cost exceeding
// server capacity. Store membership (a request held in more than one
// store) is not checked. Unlike a config.ValidationError, this can
// only be discovered mid-run.
type InvariantError struct {
	msg string
}

func (e *InvariantError) Error() string { return e.msg }

func invariantErrorf(format string, args ...any) error {
	return &InvariantError{msg: fmt.Sprintf(format, args...)}
}

// Server is one replica's continuous-batching engine: it owns four
// ordered containers (prefill, decode, recompute, decoded) and its own
// KV-cache / LoRA accounting.
type Server struct {
	id string

	cfg config.Config

	prefillStore   []*request.Request
	decodeStore    []*request.Request
	recomputeStore recomputeHeap
	decodedStore   []*request.Request

	loadedLoRAs      map[string]bool
	maxTokensAllowed int
}

// NewServer creates an empty Server with the given ID, using the
// limits/latency table from cfg. maxTokensAllowed starts at
// cfg.Limits.MaxNumTokensAllowed and is reduced as LoRAs are loaded.
func NewServer(id string, cfg config.Config) *Server {
	return &Server{
		id:               id,
		cfg:              cfg,
		loadedLoRAs:      make(map[string]bool),
		maxTokensAllowed: cfg.Limits.MaxNumTokensAllowed,
	}
}

func (s *Server) ID() string                 { return s.id }
func (s *Server) MaxTokensAllowed() int       { return s.maxTokensAllowed }
func (s *Server) PrefillQueueSize() int       { return len(s.prefillStore) }
func (s *Server) DecodeQueueSize() int        { return len(s.decodeStore) }
func (s *Server) RecomputeQueueSize() int     { return s.recomputeStore.Len() }
func (s *Server) DecodedQueueSize() int       { return len(s.decodedStore) }
func (s *Server) DecodeStore() []*request.Request  { return s.decodeStore }
func (s *Server) DecodedStore() []*request.Request { return s.decodedStore }
func (s *Server) PrefillStore() []*request.Request { return s.prefillStore }
func (s *Server) RecomputeStore() []*request.Request {
	return []*request.Request(s.recomputeStore)
}

// LoadedLoRAs returns the set of LoRA tags currently loaded on this
// server.
func (s *Server) LoadedLoRAs() map[string]bool { return s.loadedLoRAs }

// Enqueue places a newly routed request onto the prefill store. Used
// by both the router's direct-route path and the admission queue's
// dequeue path.
func (s *Server) Enqueue(r *request.Request) {
	s.prefillStore = append(s.prefillStore, r)
}

// DecodeTokenCount returns the sum of effective token lengths currently
// resident in the decode store — the KV-cache occupancy contributed by
// in-flight sequences.
func (s *Server) DecodeTokenCount() int {
	total := 0
	for _, r := range s.decodeStore {
		total += r.Len()
	}
	return total
}

// ExpectedKVAfterPrefill returns the minimum expected number of KV
// tokens after the next prefill admits its highest-priority candidate
// (recompute head, else prefill head), normalized by max tokens
// allowed. Used by the "least" routing policy and the smart policy's
// KV-pressure gate.
func (s *Server) ExpectedKVAfterPrefill() float64 {
	tokens := s.DecodeTokenCount()
	var head *request.Request
	if h := s.recomputeStore.peek(); h != nil {
		head = h
	} else if len(s.prefillStore) > 0 {
		head = s.prefillStore[0]
	}
	if head != nil {
		tokens += head.Len()
	}
	return float64(tokens) / float64(s.maxTokensAllowed)
}

// PendingTokensPerc returns Σ(input+output) across prefill∪decode,
// normalized by max tokens allowed.
func (s *Server) PendingTokensPerc() float64 {
	total := 0
	for _, r := range s.decodeStore {
		total += r.InputSize + r.OutputSize
	}
	for _, r := range s.prefillStore {
		total += r.InputSize + r.OutputSize
	}
	return float64(total) / float64(s.maxTokensAllowed)
}

// ActualTokensPerc returns Σ(input+output-remaining) over the decode
// store, normalized by max tokens allowed.
func (s *Server) ActualTokensPerc() float64 {
	total := 0
	for _, r := range s.decodeStore {
		total += r.Len()
	}
	return float64(total) / float64(s.maxTokensAllowed)
}

// Empty reports whether all three input stores (prefill, decode,
// recompute) are empty.
func (s *Server) Empty() bool {
	return len(s.prefillStore) == 0 && len(s.decodeStore) == 0 && s.recomputeStore.Len() == 0
}

// canAdmitHead reports whether the single highest-priority candidate
// (recompute head, else prefill head) could be admitted in isolation
// (zero accumulated batch so far) — equivalent to peeking the head of
// each store with zero running totals.
func (s *Server) canAdmitHead() bool {
	lim := s.cfg.Limits
	check := func(item *request.Request) bool {
		if s.DecodeQueueSize()+0+1 > lim.MaxNumSeq {
			return false
		}
		if 0+item.InputSize > lim.MaxNumBatchTokens {
			return false
		}
		if float64(0+0+s.DecodeTokenCount())/float64(s.maxTokensAllowed) >= lim.MaxKVPercBeforeRecompute {
			return false
		}
		return true
	}
	if h := s.recomputeStore.peek(); h != nil {
		return check(h)
	}
	if len(s.prefillStore) > 0 {
		return check(s.prefillStore[0])
	}
	return false
}

// Tick advances the server by one scheduling decision and returns the
// delay before it should be ticked again.
func (s *Server) Tick(now float64) (float64, error) {
	if s.Empty() {
		return IdleTick, nil
	}
	if s.canAdmitHead() {
		return s.admitBatch(now)
	}
	if s.shouldRecompute() {
		if err := s.removeFromDecode(now); err != nil {
			return 0, err
		}
	}
	if len(s.decodeStore) > 0 {
		return s.decodeAll(now)
	}
	return IdleTick, nil
}

// admitBatch drains recompute_store first (priority), then
// prefill_store, admitting candidates while all three acceptance
// conditions hold, then runs one shared prefill step over everything
// admitted.
func (s *Server) admitBatch(now float64) (float64, error) {
	lim := s.cfg.Limits
	var admitted []*request.Request
	batchTokens := 0
	newSeqCount := 0

	accept := func(item *request.Request, inputLen int) bool {
		if s.DecodeQueueSize()+newSeqCount+1 > lim.MaxNumSeq {
			return false
		}
		if batchTokens+inputLen > lim.MaxNumBatchTokens {
			return false
		}
		if float64(batchTokens+newSeqCount+s.DecodeTokenCount())/float64(s.maxTokensAllowed) >= lim.MaxKVPercBeforeRecompute {
			return false
		}
		return true
	}

	for {
		head := s.recomputeStore.peek()
		if head == nil || !accept(head, head.InputSize) {
			break
		}
		item := s.recomputeStore.pop()
		batchTokens += item.Len()
		newSeqCount++
		admitted = append(admitted, item)
	}
	for {
		if len(s.prefillStore) == 0 {
			break
		}
		head := s.prefillStore[0]
		if !accept(head, head.InputSize) {
			break
		}
		item := head
		s.prefillStore = s.prefillStore[1:]
		batchTokens += item.Len()
		newSeqCount++
		admitted = append(admitted, item)
	}

	prefillLen := 0
	for _, item := range admitted {
		prefillLen += item.Len()
	}
	delay := PrefillDelay(prefillLen, len(admitted), s.cfg.Latency)

	for _, item := range admitted {
		if item.LoRA != "" && !s.loadedLoRAs[item.LoRA] {
			cost, ok := s.cfg.Latency.LoraCosts[item.LoRA]
			if !ok {
				cost = 0
			}
			if cost > s.maxTokensAllowed {
				return 0, invariantErrorf("server %s: LoRA %q cost %d exceeds capacity %d", s.id, item.LoRA, cost, s.maxTokensAllowed)
			}
			s.loadedLoRAs[item.LoRA] = true
			s.maxTokensAllowed -= cost
		}
		if item.StartPrefill == request.Unset {
			item.StartPrefill = now
			item.EndPrefill = item.StartPrefill + delay
		}
		item.EndDecode = now + delay
		item.OutputRemaining--
		if item.OutputRemaining < 0 {
			return 0, invariantErrorf("request %s: output_remaining went negative during prefill", item.ID)
		}
		if item.Terminal() {
			s.decodedStore = append(s.decodedStore, item)
		} else {
			s.decodeStore = append(s.decodeStore, item)
		}
	}
	return delay, nil
}

// shouldRecompute reports whether KV pressure after a hypothetical
// decode step exceeds the eviction threshold.
func (s *Server) shouldRecompute() bool {
	lim := s.cfg.Limits.MaxKVPercBeforeRecompute
	expected := float64(s.DecodeQueueSize()+s.DecodeTokenCount()) / float64(s.maxTokensAllowed)
	return expected > lim
}

// removeFromDecode evicts the newest decode-store item (last admitted)
// into the recompute store until KV pressure is back under the
// eviction threshold or the decode store is empty.
func (s *Server) removeFromDecode(now float64) error {
	_ = now
	for s.shouldRecompute() && len(s.decodeStore) > 0 {
		n := len(s.decodeStore)
		newest := s.decodeStore[n-1]
		s.decodeStore = s.decodeStore[:n-1]
		newest.RecomputeCount++
		s.recomputeStore.push(newest)
	}
	return nil
}

// decodeAll runs one decode step across every item in the decode
// store.
func (s *Server) decodeAll(now float64) (float64, error) {
	nItems := len(s.decodeStore)
	preTokens := s.DecodeTokenCount()
	delay := DecodeDelay(preTokens, nItems, s.cfg.Latency)

	items := s.decodeStore
	s.decodeStore = nil
	for _, item := range items {
		if item.OutputRemaining == item.OutputSize-1 {
			item.StartDecode = now
			item.TokensInKVAtStartOfDecode = preTokens
		}
		item.OutputRemaining--
		if item.OutputRemaining < 0 {
			return 0, invariantErrorf("request %s: output_remaining went negative during decode", item.ID)
		}
		item.EndDecode = now + delay
		if item.Terminal() {
			s.decodedStore = append(s.decodedStore, item)
		} else {
			s.decodeStore = append(s.decodeStore, item)
		}
	}
	return delay, nil
}
