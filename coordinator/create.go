package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/ledger"
)

// CreateBatchInput carries the request fields for batch creation.
type CreateBatchInput struct {
	ProducerName     string
	BrandOwnerKey    string
	InitialHolderKey string
	ParticipantIDs   []string
	Metadata         map[string]string
}

// CreateBatchResult is the successful outcome of batch creation.
type CreateBatchResult struct {
	Transaction  string `json:"transaction"`
	BatchAddress string `json:"batchAddress"`
	BatchID      string `json:"batchId"`
}

// CreateBatch runs the creation protocol: generate a candidate id, hash
// the creation metadata, derive the batch address, write the ledger,
// then project into the cache. Identifier collisions with a concurrent
// creator are retried under the injected policy; any other failure
// aborts immediately. Once the ledger write has succeeded the batch
// exists regardless of what the cache does; cache failures past that
// point are drift, not errors.
func (c *Coordinator) CreateBatch(ctx context.Context, in CreateBatchInput) (*CreateBatchResult, error) {
	if in.ProducerName == "" || in.BrandOwnerKey == "" || in.InitialHolderKey == "" {
		return nil, Validationf("producerName, brandOwnerKey and initialHolderKey are required")
	}
	if !ledger.ValidPublicKey(in.BrandOwnerKey) {
		return nil, Validationf("brandOwnerKey is not a valid public key")
	}
	if !ledger.ValidPublicKey(in.InitialHolderKey) {
		return nil, Validationf("initialHolderKey is not a valid public key")
	}

	dataHash, err := contentHash(in.ProducerName, in.Metadata)
	if err != nil {
		return nil, Validationf("failed to hash creation metadata: %v", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		result, err := c.createAttempt(ctx, in, dataHash, attempt)
		if err == nil {
			return result, nil
		}
		if c.retry.retryable(err) && attempt < c.retry.MaxAttempts {
			idCollisionsTotal.Inc()
			c.logger.Warn("batch id collision, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err))
			lastErr = err
			continue
		}
		if c.retry.retryable(err) {
			lastErr = err
			break
		}
		return nil, err
	}

	return nil, Conflictf("could not create batch after %d attempts: %v", c.retry.MaxAttempts, lastErr)
}

func (c *Coordinator) createAttempt(ctx context.Context, in CreateBatchInput, dataHash string, attempt int) (*CreateBatchResult, error) {
	batchID, err := c.nextBatchID(ctx, in.ProducerName)
	if err != nil {
		return nil, err
	}
	batchAddress := ledger.BatchAddress(c.programID, batchID)

	c.logger.Info("creating batch",
		zap.Int("attempt", attempt),
		zap.String("batch_id", batchID),
		zap.String("batch_address", batchAddress))

	tx, err := c.ledger.CreateBatch(ctx, ledger.CreateBatchParams{
		BatchAddress:  batchAddress,
		BatchID:       batchID,
		ProducerName:  in.ProducerName,
		DataHash:      dataHash,
		BrandOwner:    in.BrandOwnerKey,
		InitialHolder: in.InitialHolderKey,
	})
	recordLedgerTx("createBatch", err)
	if err != nil {
		if IsCollision(err) {
			return nil, err
		}
		return nil, LedgerError(err, "failed to submit createBatch transaction")
	}

	if err := c.cache.InsertBatch(ctx, cache.Batch{
		ID:               batchAddress,
		BrandOwnerKey:    in.BrandOwnerKey,
		OnchainID:        batchID,
		ProducerName:     in.ProducerName,
		OnchainCreatedAt: c.now().UTC(),
		CurrentHolderKey: in.InitialHolderKey,
		Status:           string(ledger.StatusInProgress),
		NextStageIndex:   0,
	}); err != nil {
		if IsCollision(err) {
			// The ledger write already landed; retrying from a fresh id
			// leaves this ledger account orphaned until reconciliation.
			return nil, err
		}
		dualWriteDriftTotal.Inc()
		c.logger.Error("cache insert failed after ledger write, batch cache row missing",
			zap.String("batch_address", batchAddress),
			zap.String("transaction", tx),
			zap.Error(err))
		return &CreateBatchResult{Transaction: tx, BatchAddress: batchAddress, BatchID: batchID}, nil
	}

	if len(in.ParticipantIDs) > 0 {
		if _, err := c.cache.InsertParticipants(ctx, batchAddress, in.ParticipantIDs); err != nil {
			dualWriteDriftTotal.Inc()
			c.logger.Error("participant insert failed after batch creation",
				zap.String("batch_address", batchAddress),
				zap.Error(err))
		}
	}

	return &CreateBatchResult{Transaction: tx, BatchAddress: batchAddress, BatchID: batchID}, nil
}

// contentHash computes the deterministic sha256 over the producer name
// and creation metadata. encoding/json sorts map keys, so the digest is
// stable across field orderings.
func contentHash(producerName string, metadata map[string]string) (string, error) {
	doc := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		doc[k] = v
	}
	doc["producerName"] = producerName

	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
