package database

import (
	"context"
	"time"
)

// StoreHealth reports identity and payment ledger figures for the health endpoint.
type StoreHealth struct {
	identities *IdentityRepository
	payments   *PaymentRepository
}

func NewStoreHealth(identities *IdentityRepository, payments *PaymentRepository) *StoreHealth {
	return &StoreHealth{identities: identities, payments: payments}
}

func (h *StoreHealth) Health(ctx context.Context) map[string]any {
	count, err := h.identities.GetIdentityCount(ctx)
	if err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}
	}

	stats, err := h.payments.GetPaymentStats(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}
	}

	return map[string]any{
		"status":       "healthy",
		"identities":   count,
		"payments_24h": stats,
	}
}
