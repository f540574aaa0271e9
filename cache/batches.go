package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const batchColumns = `id, brand_owner_key, onchain_id, producer_name,
	onchain_created_at, updated_at, current_holder_key, status,
	onchain_next_stage_index`

func scanBatch(row interface{ Scan(...interface{}) error }) (*Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.BrandOwnerKey, &b.OnchainID, &b.ProducerName,
		&b.OnchainCreatedAt, &b.UpdatedAt, &b.CurrentHolderKey, &b.Status,
		&b.NextStageIndex)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// MaxBatchID returns the lexicographically greatest onchain id with the
// given prefix, or "" when no batch matches. Correct while sequences
// stay zero-padded within three digits; beyond 999 string order
// diverges from numeric order.
func (s *Store) MaxBatchID(ctx context.Context, prefix string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT onchain_id FROM batches WHERE onchain_id LIKE $1 ORDER BY onchain_id DESC LIMIT 1`,
		prefix+"%").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query max batch id: %w", err)
	}
	return id, nil
}

// InsertBatch inserts the cache row for a freshly created batch.
func (s *Store) InsertBatch(ctx context.Context, b Batch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, brand_owner_key, onchain_id, producer_name,
			onchain_created_at, current_holder_key, status, onchain_next_stage_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.BrandOwnerKey, b.OnchainID, b.ProducerName,
		b.OnchainCreatedAt, b.CurrentHolderKey, b.Status, b.NextStageIndex)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert batch %s: %w", b.OnchainID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// GetBatch fetches one batch row by ledger address.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}
	return b, nil
}

// ListBatchesByUser returns batches where the user is the brand owner
// or the current holder.
func (s *Store) ListBatchesByUser(ctx context.Context, userKey string) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE brand_owner_key = $1 OR current_holder_key = $1
		 ORDER BY onchain_created_at DESC`, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

// ListWorkstationBatches returns the in-progress batches currently held
// by the user.
func (s *Store) ListWorkstationBatches(ctx context.Context, userKey string) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE current_holder_key = $1 AND status = 'inProgress'
		 ORDER BY onchain_created_at DESC`, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list workstation batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

func collectBatches(rows *sql.Rows) ([]Batch, error) {
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// UpdateHolder records a custody transfer in the projection.
func (s *Store) UpdateHolder(ctx context.Context, id, holderKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET current_holder_key = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, holderKey)
	if err != nil {
		return fmt.Errorf("failed to update batch holder: %w", err)
	}
	return nil
}

// UpdateStatus records a status transition in the projection.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	return nil
}

// SetNextStageIndex overwrites the cached stage counter with the
// ledger-derived value.
func (s *Store) SetNextStageIndex(ctx context.Context, id string, next int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET onchain_next_stage_index = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, next)
	if err != nil {
		return fmt.Errorf("failed to update stage index: %w", err)
	}
	return nil
}
