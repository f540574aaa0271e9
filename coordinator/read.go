package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/ledger"
)

// BatchDetails merges the cache row, its participants, and the
// ledger-fetched stage accounts. NextStageIndex always carries the
// ledger's count; the cached counter is overridden before the row is
// returned so a stale projection never shows the wrong stage count.
type BatchDetails struct {
	Details      cache.Batch            `json:"details"`
	Participants []cache.Participant    `json:"batch_participants"`
	Stages       []*ledger.StageAccount `json:"stages"`
}

// GetBatchDetails builds the detail view for one batch.
func (c *Coordinator) GetBatchDetails(ctx context.Context, batchAddress string) (*BatchDetails, error) {
	row, err := c.cache.GetBatch(ctx, batchAddress)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, NotFoundf("batch not found in cache")
		}
		return nil, CacheError(err, "failed to load batch")
	}

	participants, err := c.cache.ListParticipants(ctx, batchAddress)
	if err != nil {
		return nil, CacheError(err, "failed to load batch participants")
	}

	onChain, err := c.ledger.GetBatch(ctx, batchAddress)
	if err != nil {
		return nil, LedgerError(err, "failed to fetch batch account")
	}

	stageCount := int(onChain.NextStageIndex)
	addresses := make([]string, 0, stageCount)
	for i := 0; i < stageCount; i++ {
		addresses = append(addresses, ledger.StageAddress(c.programID, batchAddress, uint16(i)))
	}

	stages := []*ledger.StageAccount{}
	if len(addresses) > 0 {
		fetched, err := c.ledger.GetStages(ctx, addresses)
		if err != nil {
			return nil, LedgerError(err, "failed to fetch stage accounts")
		}
		for _, s := range fetched {
			if s != nil {
				stages = append(stages, s)
			}
		}
	}

	// A drifted projection is repaired off the request path; the
	// response below is served from ledger truth either way.
	if row.NextStageIndex != stageCount ||
		row.CurrentHolderKey != onChain.CurrentHolder ||
		row.Status != string(onChain.Status) {
		go c.repairDrift(batchAddress)
	}

	// Ledger truth wins over whatever counter the projection holds.
	row.NextStageIndex = stageCount
	row.CurrentHolderKey = onChain.CurrentHolder
	row.Status = string(onChain.Status)

	return &BatchDetails{
		Details:      *row,
		Participants: participants,
		Stages:       stages,
	}, nil
}

// repairDrift runs a reconciliation pass detached from the request that
// observed the drift.
func (c *Coordinator) repairDrift(batchAddress string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := c.ReconcileBatch(ctx, batchAddress); err != nil {
		c.logger.Warn("opportunistic drift repair failed",
			zap.String("batch_address", batchAddress),
			zap.Error(err))
	}
}

// HistoryEntry is one stage in an actor's history, enriched with batch
// display fields from the cache. Missing cache rows degrade to "N/A"
// placeholders instead of failing the request.
type HistoryEntry struct {
	cache.StageLog
	StageAddress      string `json:"stage_address"`
	BatchOnchainID    string `json:"batchOnchainId"`
	BatchProducerName string `json:"batchProducerName"`
}

// GetActorHistory returns every stage recorded by a user. The query
// reads the incrementally maintained actor index in the cache; each
// entry is enriched concurrently, and a failed enrichment never fails
// its siblings.
func (c *Coordinator) GetActorHistory(ctx context.Context, userKey string) ([]HistoryEntry, error) {
	if userKey == "" {
		return nil, Validationf("the \"user\" query parameter is required")
	}

	logs, err := c.cache.ListStageLogsByActor(ctx, userKey)
	if err != nil {
		return nil, CacheError(err, "failed to load actor history")
	}

	entries := make([]HistoryEntry, len(logs))
	var wg sync.WaitGroup
	for i, log := range logs {
		wg.Add(1)
		go func(i int, log cache.StageLog) {
			defer wg.Done()
			entries[i] = c.enrichHistoryEntry(ctx, log)
		}(i, log)
	}
	wg.Wait()

	return entries, nil
}

func (c *Coordinator) enrichHistoryEntry(ctx context.Context, log cache.StageLog) HistoryEntry {
	entry := HistoryEntry{
		StageLog:          log,
		StageAddress:      ledger.StageAddress(c.programID, log.BatchID, uint16(log.StageIndex)),
		BatchOnchainID:    "N/A",
		BatchProducerName: "N/A",
	}

	if batch, err := c.cache.GetBatch(ctx, log.BatchID); err == nil {
		entry.BatchOnchainID = batch.OnchainID
		entry.BatchProducerName = batch.ProducerName
	}

	// Best-effort ledger confirmation of the stage payload; the cached
	// row already carries everything the view needs.
	if stage, err := c.ledger.GetStage(ctx, entry.StageAddress); err == nil && stage != nil {
		entry.StageName = stage.Name
		entry.IpfsCID = stage.CID
	}

	return entry
}

// ListBatches returns the batches a user owns or currently holds.
func (c *Coordinator) ListBatches(ctx context.Context, userKey string) ([]cache.Batch, error) {
	if userKey == "" {
		return nil, Validationf("the \"user\" query parameter is required")
	}
	batches, err := c.cache.ListBatchesByUser(ctx, userKey)
	if err != nil {
		return nil, CacheError(err, "failed to list batches")
	}
	return batches, nil
}

// ListWorkstationBatches returns the in-progress batches a user holds.
func (c *Coordinator) ListWorkstationBatches(ctx context.Context, userKey string) ([]cache.Batch, error) {
	if userKey == "" {
		return nil, Validationf("the \"user\" query parameter is required")
	}
	batches, err := c.cache.ListWorkstationBatches(ctx, userKey)
	if err != nil {
		return nil, CacheError(err, "failed to list workstation batches")
	}
	return batches, nil
}
