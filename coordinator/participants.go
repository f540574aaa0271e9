package coordinator

import (
	"context"
	"errors"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/ledger"
)

// AddParticipants authorizes additional partners on a batch. Duplicate
// participants surface as a conflict with nothing inserted.
func (c *Coordinator) AddParticipants(ctx context.Context, batchAddress string, partnerIDs []string) (int, error) {
	if batchAddress == "" || len(partnerIDs) == 0 {
		return 0, Validationf("batch address and a list of participantIds are required")
	}

	n, err := c.cache.InsertParticipants(ctx, batchAddress, partnerIDs)
	if err != nil {
		if errors.Is(err, cache.ErrDuplicate) {
			return 0, Conflictf("one or more participants already exist on this batch")
		}
		return 0, CacheError(err, "failed to insert participants")
	}
	return n, nil
}

// RemoveParticipant de-authorizes a partner. Only the brand owner may
// remove, and the current holder can never be removed: a holder without
// participation would strand the batch.
func (c *Coordinator) RemoveParticipant(ctx context.Context, batchAddress, partnerID, brandOwnerKey string) error {
	if brandOwnerKey == "" {
		return Validationf("brandOwnerKey is required for authorization")
	}

	batch, err := c.cache.GetBatch(ctx, batchAddress)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return NotFoundf("batch %s not found", batchAddress)
		}
		return CacheError(err, "failed to load batch")
	}
	if batch.BrandOwnerKey != brandOwnerKey {
		return Authorizationf("only the brand owner can remove participants")
	}

	partner, err := c.cache.GetPartner(ctx, partnerID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return NotFoundf("partner %s not found", partnerID)
		}
		return CacheError(err, "failed to resolve partner")
	}
	if batch.CurrentHolderKey == partner.PublicKey {
		return Validationf("cannot remove the participant currently holding the batch")
	}

	deleted, err := c.cache.DeleteParticipant(ctx, batchAddress, partnerID)
	if err != nil {
		return CacheError(err, "failed to delete participant")
	}
	if !deleted {
		return NotFoundf("participant not found on this batch")
	}
	return nil
}

// CreatePartnerInput carries the request fields for partner creation.
type CreatePartnerInput struct {
	BrandOwnerKey string
	PublicKey     string
	Name          string
	Role          string
	ContactEmail  string
}

// CreatePartner registers a partner under a brand owner.
func (c *Coordinator) CreatePartner(ctx context.Context, in CreatePartnerInput) (*cache.Partner, error) {
	if in.BrandOwnerKey == "" || in.PublicKey == "" || in.Name == "" || in.Role == "" {
		return nil, Validationf("brandOwnerKey, publicKey, name and role are required")
	}
	if !ledger.ValidPublicKey(in.PublicKey) {
		return nil, Validationf("publicKey is not a valid public key")
	}

	partner, err := c.cache.InsertPartner(ctx, cache.Partner{
		BrandOwnerKey: in.BrandOwnerKey,
		PublicKey:     in.PublicKey,
		Name:          in.Name,
		Role:          in.Role,
		ContactEmail:  in.ContactEmail,
	})
	if err != nil {
		if errors.Is(err, cache.ErrDuplicate) {
			return nil, Conflictf("a partner with this public key already exists")
		}
		return nil, CacheError(err, "failed to insert partner")
	}
	return partner, nil
}

// ListPartners returns every partner registered by a brand owner.
func (c *Coordinator) ListPartners(ctx context.Context, ownerKey string) ([]cache.Partner, error) {
	if ownerKey == "" {
		return nil, Validationf("the \"owner\" query parameter is required")
	}
	partners, err := c.cache.ListPartnersByOwner(ctx, ownerKey)
	if err != nil {
		return nil, CacheError(err, "failed to list partners")
	}
	return partners, nil
}

// Role constants returned by CheckRole.
const (
	RoleBatchOwner = "batchOwner"
	RoleNoAuth     = "noAuth"
)

// RoleCheckResult resolves a public key to its role in the system.
type RoleCheckResult struct {
	Role        string `json:"role"`
	PublicKey   string `json:"publicKey,omitempty"`
	PartnerName string `json:"partnerName,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// CheckRole resolves a key against the users table first (brand owners
// take precedence), then the partners table. Unknown or inactive keys
// soft-fail to noAuth rather than erroring.
func (c *Coordinator) CheckRole(ctx context.Context, publicKey string) (*RoleCheckResult, error) {
	if publicKey == "" {
		return nil, Validationf("publicKey is required")
	}

	user, err := c.cache.GetUser(ctx, publicKey)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return nil, CacheError(err, "failed to look up brand owner")
	}
	if user != nil {
		return &RoleCheckResult{Role: RoleBatchOwner, PublicKey: user.PublicKey}, nil
	}

	partner, err := c.cache.GetPartnerByKey(ctx, publicKey)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return nil, CacheError(err, "failed to look up partner")
	}
	if partner != nil {
		if !partner.IsActive {
			return &RoleCheckResult{Role: RoleNoAuth, Reason: "partner_inactive"}, nil
		}
		return &RoleCheckResult{
			Role:        partner.Role,
			PublicKey:   partner.PublicKey,
			PartnerName: partner.Name,
		}, nil
	}

	return &RoleCheckResult{Role: RoleNoAuth, Reason: "not_found"}, nil
}
