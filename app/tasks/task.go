package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypePurgeIdentities TaskType = "purge_identities"
	TaskTypePurgePayments   TaskType = "purge_payments"
	TaskTypeSweepCaches     TaskType = "sweep_caches"
)

const (
	DefaultMaxRetries = 3
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetCutoff() time.Time
	GetRetryCount() int
	GetMaxRetries() int
	IncrementRetryCount()
	CanRetry() bool
	Start()
	GetDuration() time.Duration
}

// Task is the bookkeeping shared by maintenance tasks. Cutoff is fixed when the
// task is created, so a retried purge removes the same rows it was scheduled
// for. Tasks that purge nothing leave it zero.
type Task struct {
	ID         string
	Type       TaskType
	Cutoff     time.Time
	RetryCount int
	MaxRetries int
	StartedAt  *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetCutoff() time.Time {
	return t.Cutoff
}

func (t *Task) GetRetryCount() int {
	return t.RetryCount
}

func (t *Task) GetMaxRetries() int {
	return t.MaxRetries
}

func (t *Task) IncrementRetryCount() {
	t.RetryCount++
}

func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, cutoff time.Time) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Cutoff:     cutoff,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}
}
