package coordinator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/ledger"
)

// FinalizeBatchResult is the successful outcome of finalization.
type FinalizeBatchResult struct {
	Transaction string `json:"transaction"`
}

// FinalizeBatch marks a batch terminal. Only the brand owner recorded
// in the cache may finalize; a batch already completed is refused at
// the protocol boundary so the ledger never sees a second finalize.
func (c *Coordinator) FinalizeBatch(ctx context.Context, batchAddress, brandOwnerKey string) (*FinalizeBatchResult, error) {
	if batchAddress == "" || brandOwnerKey == "" {
		return nil, Validationf("batch address and brandOwnerKey are required")
	}

	batch, err := c.cache.GetBatch(ctx, batchAddress)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, Authorizationf("only the brand owner can finalize the batch")
		}
		return nil, CacheError(err, "failed to load batch for finalization")
	}
	if batch.BrandOwnerKey != brandOwnerKey {
		return nil, Authorizationf("only the brand owner can finalize the batch")
	}
	if batch.Status == string(ledger.StatusCompleted) {
		return nil, Conflictf("batch %s is already finalized", batchAddress)
	}

	tx, err := c.ledger.FinalizeBatch(ctx, ledger.FinalizeParams{
		BatchAddress: batchAddress,
		BrandOwner:   brandOwnerKey,
	})
	recordLedgerTx("finalizeBatch", err)
	if err != nil {
		return nil, LedgerError(err, "failed to submit finalizeBatch transaction")
	}

	if err := c.cache.UpdateStatus(ctx, batchAddress, string(ledger.StatusCompleted)); err != nil {
		dualWriteDriftTotal.Inc()
		c.logger.Error("cache status update failed after ledger finalize",
			zap.String("batch_address", batchAddress),
			zap.String("transaction", tx),
			zap.Error(err))
	}

	c.logger.Info("batch finalized",
		zap.String("batch_address", batchAddress),
		zap.String("transaction", tx))

	return &FinalizeBatchResult{Transaction: tx}, nil
}
