package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertParticipants authorizes the given partners on a batch. Fails
// with ErrDuplicate if any partner is already a participant; the whole
// insert runs in one transaction so a duplicate leaves nothing behind.
func (s *Store) InsertParticipants(ctx context.Context, batchID string, partnerIDs []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin participants insert: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, partnerID := range partnerIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_participants (batch_id, partner_id) VALUES ($1, $2)`,
			batchID, partnerID); err != nil {
			if isUniqueViolation(err) {
				return 0, fmt.Errorf("participant %s on batch %s: %w", partnerID, batchID, ErrDuplicate)
			}
			return 0, fmt.Errorf("failed to insert participant: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit participants insert: %w", err)
	}
	return inserted, nil
}

// DeleteParticipant removes a partner's authorization on a batch.
// Returns false when no matching row existed.
func (s *Store) DeleteParticipant(ctx context.Context, batchID, partnerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM batch_participants WHERE batch_id = $1 AND partner_id = $2`,
		batchID, partnerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

// ListParticipants returns a batch's participants joined with partner
// details.
func (s *Store) ListParticipants(ctx context.Context, batchID string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bp.batch_id, bp.added_at, `+prefixedPartnerColumns("p")+`
		FROM batch_participants bp
		JOIN partners p ON p.id = bp.partner_id
		WHERE bp.batch_id = $1
		ORDER BY bp.added_at`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	participants := []Participant{}
	for rows.Next() {
		var pt Participant
		if err := rows.Scan(&pt.BatchID, &pt.AddedAt,
			&pt.Partner.ID, &pt.Partner.BrandOwnerKey, &pt.Partner.PublicKey,
			&pt.Partner.Name, &pt.Partner.Role, &pt.Partner.ContactEmail,
			&pt.Partner.IsActive, &pt.Partner.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		participants = append(participants, pt)
	}
	return participants, rows.Err()
}

// GetParticipantPartner resolves the partner behind a (batch, partner)
// participation, or ErrNotFound when the partner is not authorized on
// the batch.
func (s *Store) GetParticipantPartner(ctx context.Context, batchID, partnerID string) (*Partner, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prefixedPartnerColumns("p")+`
		FROM batch_participants bp
		JOIN partners p ON p.id = bp.partner_id
		WHERE bp.batch_id = $1 AND bp.partner_id = $2`, batchID, partnerID)
	p, err := scanPartner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant %s on batch %s: %w", partnerID, batchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query participant: %w", err)
	}
	return p, nil
}

func prefixedPartnerColumns(alias string) string {
	return alias + `.id, ` + alias + `.brand_owner_key, ` + alias + `.public_key, ` +
		alias + `.name, ` + alias + `.role, COALESCE(` + alias + `.contact_email, ''), ` +
		alias + `.is_active, ` + alias + `.created_at`
}
