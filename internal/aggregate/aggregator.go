// Package aggregate maintains rolling per-campaign statistics derived from
// the scored-click stream.
package aggregate

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/clickshield/kestrel/internal/domain"
)

const shardCount = 32

// Aggregator is the single logical owner of campaign aggregates. Updates are
// monotonic increments applied as one atomic unit per click under the
// campaign's shard lock: TotalClicks is never incremented without the
// corresponding fraud/cost fields. Locking is per-shard keyed by campaign so
// unrelated campaigns never serialize.
type Aggregator struct {
	repo   domain.Repository
	shards [shardCount]shard
}

type shard struct {
	mu        sync.Mutex
	campaigns map[string]*campaignState
}

type campaignState struct {
	agg      domain.CampaignAggregate
	fraudIPs map[string]struct{}
	loaded   bool
}

// NewAggregator creates an aggregator. The repository is optional; without
// it aggregates are memory-only.
func NewAggregator(repo domain.Repository) *Aggregator {
	a := &Aggregator{repo: repo}
	for i := range a.shards {
		a.shards[i].campaigns = make(map[string]*campaignState)
	}
	return a
}

// Record applies one scored click to its campaign's aggregate. The in-memory
// update is the atomic unit; persistence happens after it and a persistence
// failure is returned as a retryable ErrPersistence without undoing the
// in-memory state, since the scoring decision has already been made.
func (a *Aggregator) Record(ctx context.Context, click *domain.ScoredClick) error {
	sh := a.shardFor(click.CampaignID)

	sh.mu.Lock()
	state := a.loadLocked(ctx, sh, click.CampaignID)

	state.agg.TotalClicks++
	if click.Fraudulent() {
		state.agg.FraudulentClicks++
		state.agg.TotalCostEstimate = state.agg.TotalCostEstimate.Add(click.EstimatedCost)
		ip := click.Event.SourceIP
		if _, seen := state.fraudIPs[ip]; !seen {
			state.fraudIPs[ip] = struct{}{}
			state.agg.BlockedIPCount++
		}
	} else {
		state.agg.TotalRevenueEstimate = state.agg.TotalRevenueEstimate.Add(click.EstimatedCost)
	}
	state.agg.LastUpdatedAt = time.Now().UTC()

	snapshot := state.agg
	sh.mu.Unlock()

	if a.repo != nil {
		if err := a.repo.SaveAggregate(ctx, &snapshot); err != nil {
			return fmt.Errorf("%w: campaign %s: %v", domain.ErrPersistence, click.CampaignID, err)
		}
	}
	return nil
}

// Snapshot returns a copy of the aggregate for a campaign. Unseen campaigns
// return a zeroed aggregate.
func (a *Aggregator) Snapshot(ctx context.Context, campaignID string) domain.CampaignAggregate {
	sh := a.shardFor(campaignID)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	return a.loadLocked(ctx, sh, campaignID).agg
}

// loadLocked returns the campaign state, lazily restoring persisted totals
// the first time a campaign is touched after startup. Caller holds sh.mu.
func (a *Aggregator) loadLocked(ctx context.Context, sh *shard, campaignID string) *campaignState {
	state, ok := sh.campaigns[campaignID]
	if ok {
		return state
	}

	state = &campaignState{
		agg:      *domain.NewCampaignAggregate(campaignID),
		fraudIPs: make(map[string]struct{}),
	}

	if a.repo != nil {
		if persisted, err := a.repo.GetAggregate(ctx, campaignID); err == nil && persisted != nil {
			state.agg = *persisted
		}
	}

	sh.campaigns[campaignID] = state
	return state
}

func (a *Aggregator) shardFor(campaignID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(campaignID))
	return &a.shards[h.Sum32()%shardCount]
}
