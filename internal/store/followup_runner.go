// Package store provides the FollowUpRunner for delivering scheduled follow-ups.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// FollowUpRunner polls for due follow-ups and enqueues them on the outbox.
// Delivery itself stays with the OutboxSender, so follow-ups get the same
// retry and backoff treatment as regular replies.
type FollowUpRunner struct {
	store        Store
	outbox       OutboxRepo
	pollInterval time.Duration
	claimLimit   int
}

// NewFollowUpRunner creates a runner over the given store and outbox.
func NewFollowUpRunner(st Store, outbox OutboxRepo, pollInterval time.Duration) *FollowUpRunner {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &FollowUpRunner{
		store:        st,
		outbox:       outbox,
		pollInterval: pollInterval,
		claimLimit:   20,
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (r *FollowUpRunner) Run(ctx context.Context) {
	slog.Info("FollowUpRunner.Run: starting follow-up runner", "pollInterval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("FollowUpRunner.Run: stopping")
			return
		case <-ticker.C:
			r.poll()
		}
	}
}

func (r *FollowUpRunner) poll() {
	due, err := r.store.ListDueFollowUps(time.Now(), r.claimLimit)
	if err != nil {
		slog.Error("FollowUpRunner.poll: list due failed", "error", err)
		return
	}

	for _, f := range due {
		lead, err := r.store.GetLead(f.LeadID)
		if err != nil {
			slog.Error("FollowUpRunner.poll: lead lookup failed", "followupID", f.ID, "leadID", f.LeadID, "error", err)
			continue
		}
		if lead == nil {
			slog.Warn("FollowUpRunner.poll: lead gone, marking follow-up sent", "followupID", f.ID, "leadID", f.LeadID)
			if err := r.store.MarkFollowUpSent(f.ID); err != nil {
				slog.Error("FollowUpRunner.poll: mark sent failed", "followupID", f.ID, "error", err)
			}
			continue
		}

		dedupeKey := fmt.Sprintf("followup:%s", f.ID)
		if _, err := r.outbox.EnqueueOutboxMessage(lead.ID, lead.Phone, f.Text, dedupeKey); err != nil {
			slog.Error("FollowUpRunner.poll: enqueue failed", "followupID", f.ID, "error", err)
			continue
		}
		if err := r.store.MarkFollowUpSent(f.ID); err != nil {
			slog.Error("FollowUpRunner.poll: mark sent failed", "followupID", f.ID, "error", err)
		}
		slog.Debug("FollowUpRunner.poll: follow-up enqueued", "followupID", f.ID, "leadID", f.LeadID)
	}
}
