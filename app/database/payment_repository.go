package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/feedgate/app/payment"
)

// PaymentRepository is the durable payment.Ledger.
type PaymentRepository struct {
	db *DB
}

func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Redeem records the receipt and reports false when its nonce was already redeemed.
func (r *PaymentRepository) Redeem(ctx context.Context, receipt payment.Receipt) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO payments (nonce, resource, payer, amount, asset, redeemed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		receipt.Nonce, receipt.Resource, receipt.Payer, receipt.Amount, receipt.Asset, receipt.RedeemedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to redeem payment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to redeem payment: %w", err)
	}

	return rows == 1, nil
}

// PurgePayments drops receipts redeemed before cutoff. Their challenges have
// long expired, so the nonces can no longer be replayed.
func (r *PaymentRepository) PurgePayments(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE redeemed_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge payments: %w", err)
	}

	return result.RowsAffected()
}

type PaymentStats struct {
	Count  int   `json:"count"`
	Amount int64 `json:"amount"`
}

// GetPaymentStats sums receipts redeemed at or after since.
func (r *PaymentRepository) GetPaymentStats(ctx context.Context, since time.Time) (PaymentStats, error) {
	var stats PaymentStats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM payments
		WHERE redeemed_at >= ?`,
		since.Unix(),
	).Scan(&stats.Count, &stats.Amount)
	if err != nil {
		return PaymentStats{}, fmt.Errorf("failed to get payment stats: %w", err)
	}

	return stats, nil
}
