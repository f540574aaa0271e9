package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const partnerColumns = `id, brand_owner_key, public_key, name, role,
	COALESCE(contact_email, ''), is_active, created_at`

func scanPartner(row interface{ Scan(...interface{}) error }) (*Partner, error) {
	var p Partner
	err := row.Scan(&p.ID, &p.BrandOwnerKey, &p.PublicKey, &p.Name, &p.Role,
		&p.ContactEmail, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertPartner registers a partner under a brand owner. A zero ID is
// assigned a fresh UUID. Returns the stored row.
func (s *Store) InsertPartner(ctx context.Context, p Partner) (*Partner, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO partners (id, brand_owner_key, public_key, name, role, contact_email, is_active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), TRUE)
		RETURNING `+partnerColumns,
		p.ID, p.BrandOwnerKey, p.PublicKey, p.Name, p.Role, p.ContactEmail)
	stored, err := scanPartner(row)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("insert partner %s: %w", p.PublicKey, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert partner: %w", err)
	}
	return stored, nil
}

// ListPartnersByOwner returns every partner registered by a brand owner.
func (s *Store) ListPartnersByOwner(ctx context.Context, ownerKey string) ([]Partner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE brand_owner_key = $1 ORDER BY created_at`,
		ownerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}
	defer rows.Close()

	partners := []Partner{}
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan partner row: %w", err)
		}
		partners = append(partners, *p)
	}
	return partners, rows.Err()
}

// GetPartner fetches one partner by id.
func (s *Store) GetPartner(ctx context.Context, id string) (*Partner, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE id = $1`, id)
	p, err := scanPartner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("partner %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query partner: %w", err)
	}
	return p, nil
}

// GetPartnerByKey fetches one partner by public key.
func (s *Store) GetPartnerByKey(ctx context.Context, publicKey string) (*Partner, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+partnerColumns+` FROM partners WHERE public_key = $1`, publicKey)
	p, err := scanPartner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("partner key %s: %w", publicKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query partner by key: %w", err)
	}
	return p, nil
}

// GetUser fetches a registered brand owner by public key.
func (s *Store) GetUser(ctx context.Context, publicKey string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT public_key, COALESCE(name, ''), created_at FROM users WHERE public_key = $1`,
		publicKey).Scan(&u.PublicKey, &u.Name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", publicKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &u, nil
}
