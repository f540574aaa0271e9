package coordinator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/ledger"
)

// ReconcileReport describes what a reconciliation pass repaired.
type ReconcileReport struct {
	BatchAddress   string `json:"batchAddress"`
	HolderRepaired bool   `json:"holderRepaired"`
	StatusRepaired bool   `json:"statusRepaired"`
	IndexRepaired  bool   `json:"indexRepaired"`
	LogsBackfilled int    `json:"logsBackfilled"`
}

// Repaired reports whether the pass changed anything.
func (r *ReconcileReport) Repaired() bool {
	return r.HolderRepaired || r.StatusRepaired || r.IndexRepaired || r.LogsBackfilled > 0
}

// ReconcileBatch reads ledger truth for one batch and repairs the cache
// projection: holder, status, stage counter, and any stage-log rows a
// failed dual write left missing. The pass is idempotent; running it
// against a consistent projection changes nothing.
func (c *Coordinator) ReconcileBatch(ctx context.Context, batchAddress string) (*ReconcileReport, error) {
	if batchAddress == "" {
		return nil, Validationf("batch address is required")
	}

	onChain, err := c.ledger.GetBatch(ctx, batchAddress)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, NotFoundf("batch %s not found on ledger", batchAddress)
		}
		return nil, LedgerError(err, "failed to fetch batch account")
	}

	row, err := c.cache.GetBatch(ctx, batchAddress)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return c.rebuildBatchRow(ctx, onChain)
		}
		return nil, CacheError(err, "failed to load cached batch")
	}

	report := &ReconcileReport{BatchAddress: batchAddress}

	if row.CurrentHolderKey != onChain.CurrentHolder {
		if err := c.cache.UpdateHolder(ctx, batchAddress, onChain.CurrentHolder); err != nil {
			return nil, CacheError(err, "failed to repair holder")
		}
		report.HolderRepaired = true
	}
	if row.Status != string(onChain.Status) {
		if err := c.cache.UpdateStatus(ctx, batchAddress, string(onChain.Status)); err != nil {
			return nil, CacheError(err, "failed to repair status")
		}
		report.StatusRepaired = true
	}
	if row.NextStageIndex != int(onChain.NextStageIndex) {
		if err := c.cache.SetNextStageIndex(ctx, batchAddress, int(onChain.NextStageIndex)); err != nil {
			return nil, CacheError(err, "failed to repair stage counter")
		}
		report.IndexRepaired = true
	}

	backfilled, err := c.backfillStageLogs(ctx, onChain)
	if err != nil {
		return nil, err
	}
	report.LogsBackfilled = backfilled

	if report.Repaired() {
		driftRepairsTotal.Inc()
		c.logger.Info("cache drift repaired",
			zap.String("batch_address", batchAddress),
			zap.Bool("holder", report.HolderRepaired),
			zap.Bool("status", report.StatusRepaired),
			zap.Bool("index", report.IndexRepaired),
			zap.Int("logs_backfilled", report.LogsBackfilled))
	}

	return report, nil
}

// rebuildBatchRow recreates a cache row that a failed dual write never
// inserted. The human-readable id and creation fields come from the
// ledger account.
func (c *Coordinator) rebuildBatchRow(ctx context.Context, onChain *ledger.BatchAccount) (*ReconcileReport, error) {
	err := c.cache.InsertBatch(ctx, cache.Batch{
		ID:               onChain.Address,
		BrandOwnerKey:    onChain.BrandOwner,
		OnchainID:        onChain.ID,
		ProducerName:     onChain.ProducerName,
		OnchainCreatedAt: c.now().UTC(),
		CurrentHolderKey: onChain.CurrentHolder,
		Status:           string(onChain.Status),
		NextStageIndex:   int(onChain.NextStageIndex),
	})
	if err != nil && !errors.Is(err, cache.ErrDuplicate) {
		return nil, CacheError(err, "failed to rebuild batch row")
	}

	backfilled, err := c.backfillStageLogs(ctx, onChain)
	if err != nil {
		return nil, err
	}

	driftRepairsTotal.Inc()
	c.logger.Info("missing batch row rebuilt from ledger",
		zap.String("batch_address", onChain.Address),
		zap.Int("logs_backfilled", backfilled))

	return &ReconcileReport{
		BatchAddress:   onChain.Address,
		HolderRepaired: true,
		StatusRepaired: true,
		IndexRepaired:  true,
		LogsBackfilled: backfilled,
	}, nil
}

// backfillStageLogs upserts a log row for every ledger stage account,
// filling the holes a failed projection write left behind.
func (c *Coordinator) backfillStageLogs(ctx context.Context, onChain *ledger.BatchAccount) (int, error) {
	count := int(onChain.NextStageIndex)
	if count == 0 {
		return 0, nil
	}

	addresses := make([]string, 0, count)
	for i := 0; i < count; i++ {
		addresses = append(addresses, ledger.StageAddress(c.programID, onChain.Address, uint16(i)))
	}

	stages, err := c.ledger.GetStages(ctx, addresses)
	if err != nil {
		return 0, LedgerError(err, "failed to fetch stage accounts")
	}

	backfilled := 0
	for _, stage := range stages {
		if stage == nil {
			continue
		}
		inserted, err := c.cache.UpsertStageLog(ctx, cache.StageLog{
			BatchID:              onChain.Address,
			StageIndex:           int(stage.Index),
			StageName:            stage.Name,
			PartnerType:          "unknown",
			AddedBy:              stage.Actor,
			IpfsCID:              stage.CID,
			TransactionSignature: "",
		})
		if err != nil {
			return backfilled, CacheError(err, "failed to backfill stage log")
		}
		if inserted {
			backfilled++
		}
	}
	return backfilled, nil
}
