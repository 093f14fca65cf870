package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lysyi3m/feedgate/app/feed"
)

// IdentityRepository persists resolved entities so identifiers survive
// restarts without another upstream lookup.
type IdentityRepository struct {
	db *DB
}

func NewIdentityRepository(db *DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// GetIdentity returns the entity stored for connector and handle if it was
// resolved after notBefore, along with when it was resolved. A missing or
// stale row yields nil.
func (r *IdentityRepository) GetIdentity(ctx context.Context, connector, handle string, notBefore time.Time) (*feed.Entity, time.Time, error) {
	var entity feed.Entity
	var itemCount sql.NullInt64
	var resolvedAt int64

	err := r.db.QueryRowContext(ctx, `
		SELECT entity_id, handle, display_name, description, url, item_count, resolved_at
		FROM identities
		WHERE connector = ? AND handle = ? AND resolved_at >= ?`,
		connector, handle, notBefore.Unix(),
	).Scan(&entity.ID, &entity.Handle, &entity.DisplayName, &entity.Description, &entity.URL, &itemCount, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to get identity: %w", err)
	}

	if itemCount.Valid {
		count := int(itemCount.Int64)
		entity.ItemCount = &count
	}

	return &entity, time.Unix(resolvedAt, 0), nil
}

// SaveIdentity stores or refreshes the entity resolved for connector and handle.
func (r *IdentityRepository) SaveIdentity(ctx context.Context, connector, handle string, entity feed.Entity, resolvedAt time.Time) error {
	var itemCount sql.NullInt64
	if entity.ItemCount != nil {
		itemCount = sql.NullInt64{Int64: int64(*entity.ItemCount), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (connector, handle, entity_id, display_name, description, url, item_count, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (connector, handle) DO UPDATE SET
			entity_id = excluded.entity_id,
			display_name = excluded.display_name,
			description = excluded.description,
			url = excluded.url,
			item_count = excluded.item_count,
			resolved_at = excluded.resolved_at`,
		connector, handle, entity.ID, entity.DisplayName, entity.Description, entity.URL, itemCount, resolvedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	return nil
}

// PurgeIdentities deletes identities resolved before cutoff and returns how many were removed.
func (r *IdentityRepository) PurgeIdentities(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE resolved_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge identities: %w", err)
	}

	return result.RowsAffected()
}

func (r *IdentityRepository) GetIdentityCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get identity count: %w", err)
	}
	return count, nil
}
