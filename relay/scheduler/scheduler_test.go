package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/relay/candidate"
	"github.com/relaymesh/gateway/relay/pool"
)

func cand(providerPriority, providerID, keyPriority, keyID int) candidate.Candidate {
	return candidate.Candidate{
		Provider: model.Provider{Id: providerID, Priority: providerPriority},
		Key:      model.Key{Id: keyID, Priority: keyPriority},
	}
}

func TestOrderProviderFirstSortsByProviderThenKeyPriority(t *testing.T) {
	candidates := []candidate.Candidate{
		cand(5, 2, 0, 21),
		cand(10, 1, 1, 11),
		cand(10, 1, 5, 12),
	}
	ordered := Order(candidates, ProviderFirst, "", 0)
	require.Len(t, ordered, 3)
	require.Equal(t, 12, ordered[0].Key.Id) // provider 1, higher key priority first
	require.Equal(t, 11, ordered[1].Key.Id)
	require.Equal(t, 21, ordered[2].Key.Id) // lower provider priority last
}

func TestOrderProviderFirstStickyKeyPromotedToFront(t *testing.T) {
	candidates := []candidate.Candidate{
		cand(10, 1, 5, 11),
		cand(10, 1, 1, 12),
	}
	ordered := Order(candidates, ProviderFirst, "", 12)
	require.Equal(t, 12, ordered[0].Key.Id)
}

func TestOrderGlobalKeyFirstSortsByGlobalPriority(t *testing.T) {
	low, high := 5, 1
	c1 := cand(0, 1, 0, 1)
	c1.Key.GlobalPriority = &low
	c2 := cand(0, 2, 0, 2)
	c2.Key.GlobalPriority = &high
	ordered := Order([]candidate.Candidate{c1, c2}, GlobalKeyFirst, "fp", 0)
	require.Equal(t, 2, ordered[0].Key.Id) // lower GlobalPriority value sorts first
}

func TestOrderGlobalKeyFirstNilPrioritySortsLast(t *testing.T) {
	p := 3
	withPriority := cand(0, 1, 0, 1)
	withPriority.Key.GlobalPriority = &p
	withoutPriority := cand(0, 2, 0, 2)
	ordered := Order([]candidate.Candidate{withoutPriority, withPriority}, GlobalKeyFirst, "fp", 0)
	require.Equal(t, 1, ordered[0].Key.Id)
	require.Equal(t, 2, ordered[1].Key.Id)
}

func TestOrderDropsSkippedCandidates(t *testing.T) {
	skipped := cand(10, 1, 0, 1)
	skipped.SkipReason = "cooldown"
	usable := cand(5, 2, 0, 2)
	ordered := Order([]candidate.Candidate{skipped, usable}, ProviderFirst, "", 0)
	require.Len(t, ordered, 1)
	require.Equal(t, 2, ordered[0].Key.Id)
}

func TestPlanDegradesToOrderWhenManagerNil(t *testing.T) {
	candidates := []candidate.Candidate{cand(10, 1, 0, 1), cand(5, 2, 0, 2)}
	ordered, trace := Plan(context.Background(), nil, candidates, ProviderFirst, "", "", 0, pool.Config{})
	require.Len(t, ordered, 2)
	require.False(t, trace.DegradedToPriority)
}

func TestPlanGroupsByProviderBeforeCallingReorder(t *testing.T) {
	mgr := pool.New(nil) // nil store -> degraded mode, Reorder preserves incoming order per group
	candidates := []candidate.Candidate{
		cand(10, 1, 5, 11),
		cand(10, 1, 1, 12),
		cand(5, 2, 0, 21),
	}
	ordered, trace := Plan(context.Background(), mgr, candidates, ProviderFirst, "", "", 0, pool.Config{})
	require.Len(t, ordered, 3)
	require.True(t, trace.DegradedToPriority)
	require.Equal(t, 11, ordered[0].Key.Id)
	require.Equal(t, 12, ordered[1].Key.Id)
	require.Equal(t, 21, ordered[2].Key.Id)
}
