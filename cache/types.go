package cache

import "time"

// Batch is the cached projection of an on-chain batch account.
type Batch struct {
	ID               string    `json:"id"`
	BrandOwnerKey    string    `json:"brand_owner_key"`
	OnchainID        string    `json:"onchain_id"`
	ProducerName     string    `json:"producer_name"`
	OnchainCreatedAt time.Time `json:"onchain_created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	CurrentHolderKey string    `json:"current_holder_key"`
	Status           string    `json:"status"`
	NextStageIndex   int       `json:"onchain_next_stage_index"`
}

// Partner is a named actor pre-authorized to take custody of batches.
type Partner struct {
	ID            string    `json:"id"`
	BrandOwnerKey string    `json:"brand_owner_key"`
	PublicKey     string    `json:"public_key"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	ContactEmail  string    `json:"contact_email,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Participant links a batch to a partner authorized as a future holder.
type Participant struct {
	BatchID string    `json:"batch_id"`
	AddedAt time.Time `json:"added_at"`
	Partner Partner   `json:"partner"`
}

// StageLog is the append-only projection of one stage, keyed by
// (batch, index) and indexed by actor for history queries.
type StageLog struct {
	BatchID              string    `json:"batch_id"`
	StageIndex           int       `json:"stage_index"`
	StageName            string    `json:"stage_name"`
	PartnerType          string    `json:"partner_type"`
	AddedBy              string    `json:"added_by"`
	IpfsCID              string    `json:"ipfs_cid"`
	TransactionSignature string    `json:"transaction_signature"`
	CreatedAt            time.Time `json:"created_at"`
}

// User is a registered brand owner.
type User struct {
	PublicKey string    `json:"public_key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
