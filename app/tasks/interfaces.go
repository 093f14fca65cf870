package tasks

import (
	"context"
	"time"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application to run periodic maintenance.
// Example usage:
//
//	scheduler := NewScheduler(identityRepo, paymentRepo, sweepers, interval, workers, retention)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewSweepCachesTask(sweepers))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

type IdentityPurger interface {
	PurgeIdentities(ctx context.Context, cutoff time.Time) (int64, error)
}

type PaymentPurger interface {
	PurgePayments(ctx context.Context, cutoff time.Time) (int64, error)
}
