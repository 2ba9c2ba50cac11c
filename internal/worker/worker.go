// Package worker provides async persistence of scored clicks for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/clickshield/kestrel/internal/domain"
)

// Worker consumes scored clicks from the EventBus and persists them.
// In async mode the pipeline skips synchronous persistence and the worker
// is the single writer of the scored click log. It also re-emits fraud
// alerts so alert consumers only see persisted clicks.
type Worker struct {
	bus  domain.EventBus
	repo domain.Repository

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the scored click topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicClickScored, w.handleScoredClick)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("async persistence worker started",
		"topic", domain.TopicClickScored,
	)
	return nil
}

// handleScoredClick persists one scored click from the bus.
func (w *Worker) handleScoredClick(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var click domain.ScoredClick
	if err := json.Unmarshal(msg.Payload, &click); err != nil {
		slog.Error("failed to parse scored click message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := w.repo.SaveScoredClick(ctx, &click); err != nil {
		slog.Error("failed to persist scored click",
			"click_id", click.ID,
			"campaign_id", click.CampaignID,
			"error", err,
		)
		return err
	}

	if click.Fraudulent() {
		if err := w.bus.Publish(ctx, domain.TopicFraudAlert, msg.Payload); err != nil {
			slog.Warn("failed to publish fraud alert",
				"click_id", click.ID,
				"error", err,
			)
		}
	}

	slog.Debug("scored click persisted",
		"click_id", click.ID,
		"campaign_id", click.CampaignID,
		"decision", click.Decision,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop cancels all subscriptions.
func (w *Worker) Stop() {
	for _, sub := range w.subscriptions {
		_ = sub.Unsubscribe()
	}
	w.cancel()

	slog.Info("async persistence worker stopped")
}
