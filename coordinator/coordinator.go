// Package coordinator implements the batch lifecycle protocols: id
// generation, dual writes to the ledger and the cache, custody and
// authorization gates, and the read paths that reconcile cache rows
// with ledger-derived truth.
//
// The ledger is the system of record for batch status, current holder,
// and stage count. The cache is a projection that may drift after a
// partial dual-write failure; drift is logged, counted, and repaired by
// the reconciliation pass, never by rolling back a ledger effect.
package coordinator

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/ledger"
)

// LedgerClient is the authoritative-side dependency.
type LedgerClient interface {
	GetBatch(ctx context.Context, address string) (*ledger.BatchAccount, error)
	GetStage(ctx context.Context, address string) (*ledger.StageAccount, error)
	GetStages(ctx context.Context, addresses []string) ([]*ledger.StageAccount, error)
	CreateBatch(ctx context.Context, p ledger.CreateBatchParams) (string, error)
	AddStage(ctx context.Context, p ledger.AddStageParams) (string, error)
	TransferCustody(ctx context.Context, p ledger.TransferParams) (string, error)
	FinalizeBatch(ctx context.Context, p ledger.FinalizeParams) (string, error)
}

// CacheStore is the projection-side dependency.
type CacheStore interface {
	MaxBatchID(ctx context.Context, prefix string) (string, error)
	InsertBatch(ctx context.Context, b cache.Batch) error
	GetBatch(ctx context.Context, id string) (*cache.Batch, error)
	ListBatchesByUser(ctx context.Context, userKey string) ([]cache.Batch, error)
	ListWorkstationBatches(ctx context.Context, userKey string) ([]cache.Batch, error)
	UpdateHolder(ctx context.Context, id, holderKey string) error
	UpdateStatus(ctx context.Context, id, status string) error
	SetNextStageIndex(ctx context.Context, id string, next int) error

	InsertPartner(ctx context.Context, p cache.Partner) (*cache.Partner, error)
	ListPartnersByOwner(ctx context.Context, ownerKey string) ([]cache.Partner, error)
	GetPartner(ctx context.Context, id string) (*cache.Partner, error)
	GetPartnerByKey(ctx context.Context, publicKey string) (*cache.Partner, error)
	GetUser(ctx context.Context, publicKey string) (*cache.User, error)

	InsertParticipants(ctx context.Context, batchID string, partnerIDs []string) (int, error)
	DeleteParticipant(ctx context.Context, batchID, partnerID string) (bool, error)
	ListParticipants(ctx context.Context, batchID string) ([]cache.Participant, error)
	GetParticipantPartner(ctx context.Context, batchID, partnerID string) (*cache.Partner, error)

	InsertStageLog(ctx context.Context, l cache.StageLog) error
	UpsertStageLog(ctx context.Context, l cache.StageLog) (bool, error)
	ListStageLogsByActor(ctx context.Context, actorKey string) ([]cache.StageLog, error)
}

// ContentStore pins metadata and attachments off-chain.
type ContentStore interface {
	PinJSON(ctx context.Context, name string, payload interface{}) (string, error)
	PinFile(ctx context.Context, name string, r io.Reader) (string, error)
	FileURL(cid string) string
}

// Deps carries the injected collaborators. Every protocol resolves its
// dependencies through this struct; nothing in the package reaches for
// globals.
type Deps struct {
	Ledger    LedgerClient
	Cache     CacheStore
	Content   ContentStore
	ProgramID string
	Logger    *zap.Logger
	Retry     RetryPolicy

	// Now is the clock, overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

// Coordinator orchestrates the batch lifecycle protocols.
type Coordinator struct {
	ledger    LedgerClient
	cache     CacheStore
	content   ContentStore
	programID string
	logger    *zap.Logger
	retry     RetryPolicy
	now       func() time.Time
}

// New builds a coordinator from its dependencies.
func New(deps Deps) *Coordinator {
	programID := deps.ProgramID
	if programID == "" {
		programID = ledger.DefaultProgramID
	}
	retry := deps.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		ledger:    deps.Ledger,
		cache:     deps.Cache,
		content:   deps.Content,
		programID: programID,
		logger:    logger,
		retry:     retry,
		now:       now,
	}
}
