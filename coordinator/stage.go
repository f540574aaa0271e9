package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/ledger"
)

// Attachment is an optional binary upload accompanying a stage.
type Attachment struct {
	Name   string
	Reader io.Reader
}

// AddStageInput carries the request fields for a stage append. FormData
// is the transport-encoded key/value blob; malformed JSON there is
// tolerated as an empty structure rather than failing the request.
type AddStageInput struct {
	BatchAddress string
	StageName    string
	Notes        string
	UserKey      string
	PartnerType  string
	FormData     string
	Attachment   *Attachment
}

// AddStageResult is the successful outcome of a stage append.
type AddStageResult struct {
	Transaction  string                 `json:"transaction"`
	StageAddress string                 `json:"stageAddress"`
	IpfsCID      string                 `json:"ipfsCid"`
	PartnerType  string                 `json:"partnerType"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// AddStage appends a provenance event. The holder and status gates are
// checked against a fresh ledger snapshot, never the cache, and the
// stage index comes from that same snapshot so authorization and index
// derivation cannot race each other. Content uploads happen only after
// the gates pass. A ledger index collision with a concurrent append is
// retried under the injected policy with a fresh snapshot per attempt;
// the pinned metadata CID is reused across attempts.
func (c *Coordinator) AddStage(ctx context.Context, in AddStageInput) (*AddStageResult, error) {
	if in.StageName == "" || in.UserKey == "" || in.PartnerType == "" {
		return nil, Validationf("stageName, userKey and partnerType are required")
	}

	batch, err := c.fetchBatchForAppend(ctx, in)
	if err != nil {
		return nil, err
	}

	var attachmentURL interface{}
	if in.Attachment != nil {
		cid, err := c.content.PinFile(ctx, in.Attachment.Name, in.Attachment.Reader)
		if err != nil {
			return nil, StorageError(err, "failed to upload attachment")
		}
		attachmentURL = c.content.FileURL(cid)
	}

	metadata := c.buildStageMetadata(in, attachmentURL)

	cid, err := c.content.PinJSON(ctx, fmt.Sprintf("Metadata-%d.json", c.now().UnixMilli()), metadata)
	if err != nil {
		return nil, StorageError(err, "failed to upload stage metadata")
	}
	if cid == "" {
		return nil, StorageError(nil, "content store returned no identifier for stage metadata")
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			// A collision means another append won this index; re-read
			// the ledger so the next attempt uses the new index and
			// re-checks the gates against current state.
			batch, err = c.fetchBatchForAppend(ctx, in)
			if err != nil {
				return nil, err
			}
		}

		stageIndex := batch.NextStageIndex
		stageAddress := ledger.StageAddress(c.programID, in.BatchAddress, stageIndex)

		tx, err := c.ledger.AddStage(ctx, ledger.AddStageParams{
			BatchAddress: in.BatchAddress,
			StageAddress: stageAddress,
			StageIndex:   stageIndex,
			StageName:    in.StageName,
			CID:          cid,
			Actor:        in.UserKey,
		})
		recordLedgerTx("addStage", err)
		if err != nil {
			if c.retry.retryable(err) {
				idCollisionsTotal.Inc()
				c.logger.Warn("stage index collision, retrying",
					zap.String("batch_address", in.BatchAddress),
					zap.Uint16("stage_index", stageIndex),
					zap.Int("attempt", attempt))
				lastErr = err
				continue
			}
			return nil, LedgerError(err, "failed to submit addStage transaction")
		}

		c.projectStage(ctx, in, stageIndex, cid, tx)

		return &AddStageResult{
			Transaction:  tx,
			StageAddress: stageAddress,
			IpfsCID:      cid,
			PartnerType:  in.PartnerType,
			Metadata:     metadata,
		}, nil
	}

	return nil, Conflictf("could not append stage after %d attempts: %v", c.retry.MaxAttempts, lastErr)
}

// fetchBatchForAppend reads the authoritative batch state and applies
// the append gates: the caller must be the on-chain current holder and
// the batch must still be in progress.
func (c *Coordinator) fetchBatchForAppend(ctx context.Context, in AddStageInput) (*ledger.BatchAccount, error) {
	batch, err := c.ledger.GetBatch(ctx, in.BatchAddress)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, NotFoundf("batch %s not found on ledger", in.BatchAddress)
		}
		return nil, LedgerError(err, "failed to fetch batch account")
	}
	if batch.CurrentHolder != in.UserKey {
		return nil, Authorizationf("only the current holder can add a stage")
	}
	if batch.Status == ledger.StatusCompleted {
		return nil, Conflictf("batch %s is finalized; no further stages accepted", in.BatchAddress)
	}
	return batch, nil
}

// buildStageMetadata assembles the off-chain metadata object. Parsed
// form data is merged last and may override the built-in fields, which
// matches the documented request contract.
func (c *Coordinator) buildStageMetadata(in AddStageInput, attachmentURL interface{}) map[string]interface{} {
	metadata := map[string]interface{}{
		"name":        in.StageName,
		"partnerType": in.PartnerType,
		"timestamp":   c.now().UTC().Format(time.RFC3339),
		"addedBy":     in.UserKey,
		"notes":       in.Notes,
		"attachment":  attachmentURL,
	}

	if in.FormData != "" {
		var form map[string]interface{}
		if err := json.Unmarshal([]byte(in.FormData), &form); err != nil {
			c.logger.Warn("malformed formData, using empty structure", zap.Error(err))
		} else {
			for k, v := range form {
				metadata[k] = v
			}
		}
	}
	return metadata
}

// projectStage updates the cache counter and the append-only stage log
// after a successful ledger write. Failures are drift, logged and
// counted, never a rollback.
func (c *Coordinator) projectStage(ctx context.Context, in AddStageInput, stageIndex uint16, cid, tx string) {
	if err := c.cache.SetNextStageIndex(ctx, in.BatchAddress, int(stageIndex)+1); err != nil {
		dualWriteDriftTotal.Inc()
		c.logger.Error("cache stage counter update failed after ledger write",
			zap.String("batch_address", in.BatchAddress),
			zap.String("transaction", tx),
			zap.Error(err))
	}

	if err := c.cache.InsertStageLog(ctx, cache.StageLog{
		BatchID:              in.BatchAddress,
		StageIndex:           int(stageIndex),
		StageName:            in.StageName,
		PartnerType:          in.PartnerType,
		AddedBy:              in.UserKey,
		IpfsCID:              cid,
		TransactionSignature: tx,
	}); err != nil {
		dualWriteDriftTotal.Inc()
		c.logger.Error("stage log insert failed after ledger write",
			zap.String("batch_address", in.BatchAddress),
			zap.Uint16("stage_index", stageIndex),
			zap.Error(err))
	}
}
