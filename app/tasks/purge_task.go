package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PurgeIdentitiesTask deletes stored identities resolved before the retention window.
type PurgeIdentitiesTask struct {
	Task
	repo IdentityPurger
}

func NewPurgeIdentitiesTask(repo IdentityPurger, retention time.Duration) *PurgeIdentitiesTask {
	return &PurgeIdentitiesTask{
		Task: NewTask(TaskTypePurgeIdentities, time.Now().Add(-retention)),
		repo: repo,
	}
}

func (t *PurgeIdentitiesTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	removed, err := t.repo.PurgeIdentities(ctx, t.Cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge identities: %w", err)
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"cutoff", t.Cutoff.UTC().Format(time.RFC3339),
		"removed", removed)

	return nil
}

// PurgePaymentsTask deletes redeemed nonces older than the retention window.
// The window must outlive the challenge TTL or expired challenges could be replayed.
type PurgePaymentsTask struct {
	Task
	repo PaymentPurger
}

func NewPurgePaymentsTask(repo PaymentPurger, retention time.Duration) *PurgePaymentsTask {
	return &PurgePaymentsTask{
		Task: NewTask(TaskTypePurgePayments, time.Now().Add(-retention)),
		repo: repo,
	}
}

func (t *PurgePaymentsTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	removed, err := t.repo.PurgePayments(ctx, t.Cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge payments: %w", err)
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"cutoff", t.Cutoff.UTC().Format(time.RFC3339),
		"removed", removed)

	return nil
}
