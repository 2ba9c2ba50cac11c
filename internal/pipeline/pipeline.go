// Package pipeline runs the click scoring ingestion path.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clickshield/kestrel/internal/aggregate"
	"github.com/clickshield/kestrel/internal/domain"
	"github.com/clickshield/kestrel/internal/reputation"
	"github.com/clickshield/kestrel/internal/rules"
	"github.com/clickshield/kestrel/internal/signals"
)

// Pipeline scores incoming click events:
// extract signals, consult and update reputation, run the rule chain, apply
// the campaign aggregate, then hand the scored click off for persistence.
// Many clicks are processed concurrently; the only shared state is the
// reputation store's per-IP counters and the aggregator's per-campaign
// counters, each guarded by their own per-key locks.
type Pipeline struct {
	extractor  *signals.Extractor
	reputation *reputation.Store
	scorer     *rules.Scorer
	aggregator *aggregate.Aggregator
	repo       domain.Repository
	bus        domain.EventBus
	cfg        domain.ScoringConfig

	// asyncPersist defers scored-click persistence to the bus worker.
	asyncPersist bool
}

// New creates a pipeline. Repository and bus are optional; without a bus
// asyncPersist must be false.
func New(
	extractor *signals.Extractor,
	repStore *reputation.Store,
	scorer *rules.Scorer,
	aggregator *aggregate.Aggregator,
	repo domain.Repository,
	bus domain.EventBus,
	cfg domain.ScoringConfig,
	asyncPersist bool,
) *Pipeline {
	return &Pipeline{
		extractor:    extractor,
		reputation:   repStore,
		scorer:       scorer,
		aggregator:   aggregator,
		repo:         repo,
		bus:          bus,
		cfg:          cfg,
		asyncPersist: asyncPersist && bus != nil,
	}
}

// Process scores one click event. The returned ScoredClick always carries a
// valid decision; a non-nil error wraps ErrPersistence and means an
// analytics side effect failed and may be retried. Blocking is a stronger,
// time-sensitive guarantee than analytics accuracy, so the decision is
// returned either way.
func (p *Pipeline) Process(ctx context.Context, event *domain.ClickEvent) (*domain.ScoredClick, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	campaignID := event.Campaign()

	p.publishReceived(ctx, event)

	sig := p.extractor.Extract(event)
	sig.IPType = p.reputation.ClassifyIP(event.SourceIP)

	rep := p.reputation.Lookup(ctx, event.SourceIP, campaignID, event.Timestamp)

	result := p.scorer.Score(ctx, &sig, &rep)

	click := &domain.ScoredClick{
		ID:            event.ID,
		CampaignID:    campaignID,
		Event:         *event,
		Signals:       sig,
		FraudScore:    result.Score,
		Decision:      result.Decision,
		ReasonCodes:   result.ReasonCodes,
		EstimatedCost: p.cfg.EstimatedCPC,
		ScoredAt:      time.Now().UTC(),
	}

	var persistErr error
	if err := p.aggregator.Record(ctx, click); err != nil {
		persistErr = err
	}

	p.publish(ctx, click)

	if !p.asyncPersist && p.repo != nil {
		if err := p.repo.SaveScoredClick(ctx, click); err != nil {
			persistErr = errors.Join(persistErr,
				fmt.Errorf("%w: scored click %s: %v", domain.ErrPersistence, click.ID, err))
		}
	}

	slog.Debug("click scored",
		"click_id", click.ID,
		"campaign_id", campaignID,
		"ip", event.SourceIP,
		"score", click.FraudScore,
		"decision", click.Decision,
		"reasons", click.ReasonCodes,
	)

	return click, persistErr
}

// publishReceived emits the raw click event before scoring. Consumers that
// want every click regardless of outcome (dashboards, archival) listen here.
func (p *Pipeline) publishReceived(ctx context.Context, event *domain.ClickEvent) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal click event", "click_id", event.ID, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, domain.TopicClickReceived, payload); err != nil {
		slog.Warn("failed to publish click event", "click_id", event.ID, "error", err)
	}
}

// publish emits the scored click to downstream consumers. Bus failures are
// logged, never surfaced: delivery is best-effort.
func (p *Pipeline) publish(ctx context.Context, click *domain.ScoredClick) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(click)
	if err != nil {
		slog.Error("failed to marshal scored click", "click_id", click.ID, "error", err)
		return
	}

	if err := p.bus.Publish(ctx, domain.TopicClickScored, payload); err != nil {
		slog.Warn("failed to publish scored click", "click_id", click.ID, "error", err)
	}
	if click.Fraudulent() && !p.asyncPersist {
		if err := p.bus.Publish(ctx, domain.TopicFraudAlert, payload); err != nil {
			slog.Warn("failed to publish fraud alert", "click_id", click.ID, "error", err)
		}
	}
}
