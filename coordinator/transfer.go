package coordinator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/ledger"
)

// TransferCustodyInput carries the request fields for a custody
// transfer.
type TransferCustodyInput struct {
	BatchAddress       string
	CurrentHolderKey   string
	NewHolderPartnerID string
}

// TransferCustodyResult is the successful outcome of a transfer.
type TransferCustodyResult struct {
	Transaction string `json:"transaction"`
	NewHolder   string `json:"newHolder"`
}

// TransferCustody validates the holder and participant gates, in that
// order, before touching the ledger. Any gate failure returns an
// authorization error with no side effect; the ledger write happens
// only after both gates pass, and the cache holder update afterwards is
// best-effort.
func (c *Coordinator) TransferCustody(ctx context.Context, in TransferCustodyInput) (*TransferCustodyResult, error) {
	if in.BatchAddress == "" || in.CurrentHolderKey == "" || in.NewHolderPartnerID == "" {
		return nil, Validationf("batch address, currentHolderKey and newHolderPartnerId are required")
	}

	batch, err := c.cache.GetBatch(ctx, in.BatchAddress)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, Authorizationf("only the current holder can transfer custody")
		}
		return nil, CacheError(err, "failed to load batch for transfer")
	}
	if batch.CurrentHolderKey != in.CurrentHolderKey {
		return nil, Authorizationf("only the current holder can transfer custody")
	}

	partner, err := c.cache.GetParticipantPartner(ctx, in.BatchAddress, in.NewHolderPartnerID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, Authorizationf("target partner is not authorized on this batch")
		}
		return nil, CacheError(err, "failed to resolve target participant")
	}

	tx, err := c.ledger.TransferCustody(ctx, ledger.TransferParams{
		BatchAddress:  in.BatchAddress,
		CurrentHolder: in.CurrentHolderKey,
		NewHolder:     partner.PublicKey,
	})
	recordLedgerTx("transferCustody", err)
	if err != nil {
		return nil, LedgerError(err, "failed to submit transferCustody transaction")
	}

	if err := c.cache.UpdateHolder(ctx, in.BatchAddress, partner.PublicKey); err != nil {
		dualWriteDriftTotal.Inc()
		c.logger.Error("cache holder update failed after ledger transfer",
			zap.String("batch_address", in.BatchAddress),
			zap.String("transaction", tx),
			zap.Error(err))
	}

	c.logger.Info("custody transferred",
		zap.String("batch_address", in.BatchAddress),
		zap.String("new_holder", partner.PublicKey),
		zap.String("transaction", tx))

	return &TransferCustodyResult{Transaction: tx, NewHolder: partner.PublicKey}, nil
}
