// Package tiered composes per-aggregate routing across short/mid/long
// term storage tiers into a single store.Bundle.
package tiered

import (
	"context"

	"memoryengine/internal/memory/store"
)

// Tiers names the three tier bundles a caller may route aggregates
// across. ShortTerm and MidTerm must be non-nil; LongTerm is optional
// and only used when Routing explicitly sends an aggregate to it.
type Tiers struct {
	ShortTerm store.Bundle
	MidTerm   store.Bundle
	LongTerm  store.Bundle
}

// Tier identifies one of the three storage tiers.
type Tier int

const (
	TierShort Tier = iota
	TierMid
	TierLong
)

// Routing assigns each aggregate to exactly one tier. DefaultRouting() matches
// the spec: Context goes to short-term (hottest, bounded by compaction,
// cheapest to rebuild); every other aggregate goes to mid-term.
// Long-term is instantiated but unused unless a caller overrides routing.
type Routing struct {
	Sessions    Tier
	Contexts    Tier
	Histories   Tier
	Compactions Tier
	Tasks       Tier
	SubTaskRuns Tier
}

// DefaultRouting returns the spec's default routing table.
func DefaultRouting() Routing {
	return Routing{
		Sessions:    TierMid,
		Contexts:    TierShort,
		Histories:   TierMid,
		Compactions: TierMid,
		Tasks:       TierMid,
		SubTaskRuns: TierMid,
	}
}

func pick(t Tiers, tier Tier) store.Bundle {
	switch tier {
	case TierShort:
		return t.ShortTerm
	case TierLong:
		return t.LongTerm
	default:
		return t.MidTerm
	}
}

// Bundle composes t into a single store.Bundle per routing, routing
// each aggregate's port to exactly one tier's corresponding port.
func Bundle(t Tiers, routing Routing) store.Bundle {
	return store.Bundle{
		Sessions:    pick(t, routing.Sessions).Sessions,
		Contexts:    pick(t, routing.Contexts).Contexts,
		Histories:   pick(t, routing.Histories).Histories,
		Compactions: pick(t, routing.Compactions).Compactions,
		Tasks:       pick(t, routing.Tasks).Tasks,
		SubTaskRuns: pick(t, routing.SubTaskRuns).SubTaskRuns,
	}
}

// PrepareAll prepares the short- and mid-term bundles and, when one is
// configured (non-nil Sessions port), the long-term bundle, whether or
// not any routing table sends an aggregate to it: a configured tier is
// ready to use once opted into.
func PrepareAll(ctx context.Context, t Tiers) error {
	if err := t.ShortTerm.PrepareAll(ctx); err != nil {
		return err
	}
	if err := t.MidTerm.PrepareAll(ctx); err != nil {
		return err
	}
	if t.LongTerm.Sessions != nil {
		if err := t.LongTerm.PrepareAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CloseAll closes every tier bundle, deduplicating shared underlying
// adapters by identity via each Bundle.Close's own dedup, and then across
// tiers since two tiers may share one bundle (e.g. ShortTerm == MidTerm).
func CloseAll(ctx context.Context, t Tiers) error {
	var firstErr error
	seen := map[any]bool{}
	tryClose := func(b store.Bundle) {
		if b.Sessions == nil || seen[b.Sessions] {
			return
		}
		seen[b.Sessions] = true
		if err := b.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	tryClose(t.ShortTerm)
	tryClose(t.MidTerm)
	if t.LongTerm.Sessions != nil {
		tryClose(t.LongTerm)
	}
	return firstErr
}
