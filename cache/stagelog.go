package cache

import (
	"context"
	"fmt"
)

// InsertStageLog appends one stage row. The (batch, index) primary key
// makes a replayed append a duplicate rather than a second row.
func (s *Store) InsertStageLog(ctx context.Context, l StageLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_logs (batch_id, stage_index, stage_name, partner_type,
			added_by, ipfs_cid, transaction_signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.BatchID, l.StageIndex, l.StageName, l.PartnerType,
		l.AddedBy, l.IpfsCID, l.TransactionSignature)
	if isUniqueViolation(err) {
		return fmt.Errorf("stage log %s/%d: %w", l.BatchID, l.StageIndex, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert stage log: %w", err)
	}
	return nil
}

// UpsertStageLog inserts a stage row if absent, reporting whether a row
// was written. Used by reconciliation to backfill drift idempotently.
func (s *Store) UpsertStageLog(ctx context.Context, l StageLog) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_logs (batch_id, stage_index, stage_name, partner_type,
			added_by, ipfs_cid, transaction_signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (batch_id, stage_index) DO NOTHING`,
		l.BatchID, l.StageIndex, l.StageName, l.PartnerType,
		l.AddedBy, l.IpfsCID, l.TransactionSignature)
	if err != nil {
		return false, fmt.Errorf("failed to upsert stage log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read upsert result: %w", err)
	}
	return n > 0, nil
}

// ListStageLogsByActor returns every stage recorded by the given actor,
// newest first. This is the incrementally maintained index behind the
// history endpoint.
func (s *Store) ListStageLogsByActor(ctx context.Context, actorKey string) ([]StageLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, stage_index, stage_name, partner_type, added_by,
			ipfs_cid, transaction_signature, created_at
		FROM stage_logs
		WHERE added_by = $1
		ORDER BY created_at DESC`, actorKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage logs: %w", err)
	}
	defer rows.Close()

	logs := []StageLog{}
	for rows.Next() {
		var l StageLog
		if err := rows.Scan(&l.BatchID, &l.StageIndex, &l.StageName, &l.PartnerType,
			&l.AddedBy, &l.IpfsCID, &l.TransactionSignature, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage log row: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
