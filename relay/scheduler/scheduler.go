// Package scheduler orders a candidate list for the Executor, per the configured dispatch mode.
package scheduler

import (
	"context"
	"hash/fnv"
	"sort"

	"github.com/relaymesh/gateway/relay/candidate"
	"github.com/relaymesh/gateway/relay/pool"
)

// Mode selects how candidates are ordered before dispatch.
type Mode string

const (
	// ProviderFirst groups candidates by provider, orders groups by provider priority, and
	// orders keys within a group by their internal priority.
	ProviderFirst Mode = "provider_first"
	// GlobalKeyFirst ignores provider grouping and orders every key by its global priority,
	// falling back to a deterministic hash of the request fingerprint for stable
	// load-distribution among ties.
	GlobalKeyFirst Mode = "global_key_first"
)

// Order sorts usable candidates according to mode. requestFingerprint is consulted only in
// GlobalKeyFirst mode to break ties deterministically. When stickyKeyID is non-zero, the
// candidate with that key id is moved to the front.
func Order(candidates []candidate.Candidate, mode Mode, requestFingerprint string, stickyKeyID int) []candidate.Candidate {
	usable := candidate.Usable(candidates)

	switch mode {
	case GlobalKeyFirst:
		sort.SliceStable(usable, func(i, j int) bool {
			gi, gj := usable[i].Key.GlobalPriority, usable[j].Key.GlobalPriority
			switch {
			case gi == nil && gj == nil:
				return fingerprintHash(requestFingerprint, usable[i].Key.Id) < fingerprintHash(requestFingerprint, usable[j].Key.Id)
			case gi == nil:
				return false
			case gj == nil:
				return true
			default:
				return *gi < *gj
			}
		})
	default: // ProviderFirst
		sort.SliceStable(usable, func(i, j int) bool {
			pi, pj := usable[i].Provider.Priority, usable[j].Provider.Priority
			if pi != pj {
				return pi > pj
			}
			return usable[i].Key.Priority > usable[j].Key.Priority
		})
	}

	if stickyKeyID != 0 {
		for i, c := range usable {
			if c.Key.Id == stickyKeyID {
				usable = promote(usable, i)
				break
			}
		}
	}

	return usable
}

// Plan composes the full dispatch-order pipeline the Executor expects: Order picks the
// candidate-level priority (provider-first or global-key-first), then each contiguous run of
// same-provider candidates is handed to the Pool Manager's Reorder so sticky/LRU/cost/cooldown
// state can reshuffle within that provider without disturbing the relative order the Scheduler
// assigned across providers. Candidates Reorder skips (cooldown, cost-exhausted) are dropped from
// the final plan; Candidate Builder skip-reasoned entries were already excluded by Order/Usable.
func Plan(ctx context.Context, mgr *pool.Manager, candidates []candidate.Candidate, mode Mode, sessionUUID, requestFingerprint string, stickyKeyID int, cfg pool.Config) ([]candidate.Candidate, pool.Trace) {
	ordered := Order(candidates, mode, requestFingerprint, stickyKeyID)

	combined := pool.Trace{Skipped: map[int]string{}}
	if mgr == nil || len(ordered) == 0 {
		return ordered, combined
	}

	final := make([]candidate.Candidate, 0, len(ordered))
	i := 0
	for i < len(ordered) {
		j := i + 1
		providerID := ordered[i].Provider.Id
		for j < len(ordered) && ordered[j].Provider.Id == providerID {
			j++
		}
		group, trace := mgr.Reorder(ctx, providerID, sessionUUID, requestFingerprint, ordered[i:j], cfg)
		final = append(final, group...)
		mergeTrace(&combined, trace)
		i = j
	}

	return final, combined
}

func mergeTrace(into *pool.Trace, from pool.Trace) {
	into.StickyHit = into.StickyHit || from.StickyHit
	into.AffinityHit = into.AffinityHit || from.AffinityHit
	into.DegradedToPriority = into.DegradedToPriority || from.DegradedToPriority
	into.SoftPenalized = append(into.SoftPenalized, from.SoftPenalized...)
	for k, v := range from.Skipped {
		into.Skipped[k] = v
	}
}

func promote(candidates []candidate.Candidate, index int) []candidate.Candidate {
	if index <= 0 {
		return candidates
	}
	chosen := candidates[index]
	rest := make([]candidate.Candidate, 0, len(candidates))
	rest = append(rest, chosen)
	rest = append(rest, candidates[:index]...)
	rest = append(rest, candidates[index+1:]...)
	return rest
}

func fingerprintHash(fingerprint string, keyID int) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fingerprint))
	_, _ = h.Write([]byte{byte(keyID), byte(keyID >> 8), byte(keyID >> 16), byte(keyID >> 24)})
	return h.Sum32()
}
