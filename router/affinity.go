package router

import (
	"hash/fnv"
	"math/rand"
	"strings"

	rendezvous "github.com/dgryski/go-rendezvous"

	"github.com/fleetsim/fleetsim/config"
	"github.com/fleetsim/fleetsim/fleet"
)

// findAffinity implements the affinity policy: session-sticky routing
// via rendezvous (highest random weight) hashing on the portion of the
// request id before its first colon, so repeated requests from the
// same logical session land on the same server as long as it stays in
// the candidate set. Falls back to leastPseudo when the rendezvous
// pick is saturated. A LoRA tag takes priority over stickiness, since
// affinity only overrides plain session routing, never LoRA placement.
func findAffinity(servers []*fleet.Server, cfg config.Config, rng *rand.Rand, now float64, requestID string, inputSize, outputSize int, targetLatency float64, lora string) (*fleet.Server, float64) {
	if lora != "" {
		return findSmart(servers, cfg, rng, now, inputSize, outputSize, targetLatency, lora)
	}
	if len(servers) == 0 {
		return nil, 0
	}

	ids := make([]string, len(servers))
	byID := make(map[string]*fleet.Server, len(servers))
	for i, s := range servers {
		ids[i] = s.ID()
		byID[s.ID()] = s
	}
	hrw := rendezvous.New(ids, fnvHash)

	picked := byID[hrw.Lookup(sessionKeyOf(requestID))]
	if picked == nil || picked.ExpectedKVAfterPrefill() >= cfg.Limits.MaxKVPercBeforeRecompute {
		return pickLeastPending(servers, rng, false, 0), 0
	}
	return picked, 0
}

func sessionKeyOf(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[:i]
	}
	return id
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
