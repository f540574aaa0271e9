package coordinator

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	base58 "github.com/jbenet/go-base58"
	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/ledger"
)

// fixedNow keeps generated ids and timestamps stable across runs.
var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// testKey returns a well-formed 32-byte base58 public key filled with b.
func testKey(b byte) string {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = b
	}
	return base58.Encode(buf)
}

var errUnexpectedCall = errors.New("unexpected call")

type fakeLedger struct {
	getBatch        func(ctx context.Context, address string) (*ledger.BatchAccount, error)
	getStage        func(ctx context.Context, address string) (*ledger.StageAccount, error)
	createBatch     func(ctx context.Context, p ledger.CreateBatchParams) (string, error)
	addStage        func(ctx context.Context, p ledger.AddStageParams) (string, error)
	transferCustody func(ctx context.Context, p ledger.TransferParams) (string, error)
	finalizeBatch   func(ctx context.Context, p ledger.FinalizeParams) (string, error)

	createCalls   atomic.Int32
	addStageCalls atomic.Int32
	transferCalls atomic.Int32
	finalizeCalls atomic.Int32
}

func (f *fakeLedger) GetBatch(ctx context.Context, address string) (*ledger.BatchAccount, error) {
	if f.getBatch == nil {
		return nil, errUnexpectedCall
	}
	return f.getBatch(ctx, address)
}

func (f *fakeLedger) GetStage(ctx context.Context, address string) (*ledger.StageAccount, error) {
	if f.getStage == nil {
		return nil, errUnexpectedCall
	}
	return f.getStage(ctx, address)
}

// GetStages mirrors the real client: failed fetches yield nil slots.
func (f *fakeLedger) GetStages(ctx context.Context, addresses []string) ([]*ledger.StageAccount, error) {
	results := make([]*ledger.StageAccount, len(addresses))
	for i, addr := range addresses {
		if acct, err := f.GetStage(ctx, addr); err == nil {
			results[i] = acct
		}
	}
	return results, nil
}

func (f *fakeLedger) CreateBatch(ctx context.Context, p ledger.CreateBatchParams) (string, error) {
	f.createCalls.Add(1)
	if f.createBatch == nil {
		return "", errUnexpectedCall
	}
	return f.createBatch(ctx, p)
}

func (f *fakeLedger) AddStage(ctx context.Context, p ledger.AddStageParams) (string, error) {
	f.addStageCalls.Add(1)
	if f.addStage == nil {
		return "", errUnexpectedCall
	}
	return f.addStage(ctx, p)
}

func (f *fakeLedger) TransferCustody(ctx context.Context, p ledger.TransferParams) (string, error) {
	f.transferCalls.Add(1)
	if f.transferCustody == nil {
		return "", errUnexpectedCall
	}
	return f.transferCustody(ctx, p)
}

func (f *fakeLedger) FinalizeBatch(ctx context.Context, p ledger.FinalizeParams) (string, error) {
	f.finalizeCalls.Add(1)
	if f.finalizeBatch == nil {
		return "", errUnexpectedCall
	}
	return f.finalizeBatch(ctx, p)
}

type fakeCache struct {
	maxBatchID             func(ctx context.Context, prefix string) (string, error)
	insertBatch            func(ctx context.Context, b cache.Batch) error
	getBatch               func(ctx context.Context, id string) (*cache.Batch, error)
	listBatchesByUser      func(ctx context.Context, userKey string) ([]cache.Batch, error)
	listWorkstationBatches func(ctx context.Context, userKey string) ([]cache.Batch, error)
	updateHolder           func(ctx context.Context, id, holderKey string) error
	updateStatus           func(ctx context.Context, id, status string) error
	setNextStageIndex      func(ctx context.Context, id string, next int) error
	insertPartner          func(ctx context.Context, p cache.Partner) (*cache.Partner, error)
	listPartnersByOwner    func(ctx context.Context, ownerKey string) ([]cache.Partner, error)
	getPartner             func(ctx context.Context, id string) (*cache.Partner, error)
	getPartnerByKey        func(ctx context.Context, publicKey string) (*cache.Partner, error)
	getUser                func(ctx context.Context, publicKey string) (*cache.User, error)
	insertParticipants     func(ctx context.Context, batchID string, partnerIDs []string) (int, error)
	deleteParticipant      func(ctx context.Context, batchID, partnerID string) (bool, error)
	listParticipants       func(ctx context.Context, batchID string) ([]cache.Participant, error)
	getParticipantPartner  func(ctx context.Context, batchID, partnerID string) (*cache.Partner, error)
	insertStageLog         func(ctx context.Context, l cache.StageLog) error
	upsertStageLog         func(ctx context.Context, l cache.StageLog) (bool, error)
	listStageLogsByActor   func(ctx context.Context, actorKey string) ([]cache.StageLog, error)

	insertBatchCalls        atomic.Int32
	insertParticipantsCalls atomic.Int32
	updateHolderCalls       atomic.Int32
	updateStatusCalls       atomic.Int32
	setNextIndexCalls       atomic.Int32
	insertStageLogCalls     atomic.Int32
}

func (f *fakeCache) MaxBatchID(ctx context.Context, prefix string) (string, error) {
	if f.maxBatchID == nil {
		return "", nil
	}
	return f.maxBatchID(ctx, prefix)
}

func (f *fakeCache) InsertBatch(ctx context.Context, b cache.Batch) error {
	f.insertBatchCalls.Add(1)
	if f.insertBatch == nil {
		return nil
	}
	return f.insertBatch(ctx, b)
}

func (f *fakeCache) GetBatch(ctx context.Context, id string) (*cache.Batch, error) {
	if f.getBatch == nil {
		return nil, cache.ErrNotFound
	}
	return f.getBatch(ctx, id)
}

func (f *fakeCache) ListBatchesByUser(ctx context.Context, userKey string) ([]cache.Batch, error) {
	if f.listBatchesByUser == nil {
		return nil, nil
	}
	return f.listBatchesByUser(ctx, userKey)
}

func (f *fakeCache) ListWorkstationBatches(ctx context.Context, userKey string) ([]cache.Batch, error) {
	if f.listWorkstationBatches == nil {
		return nil, nil
	}
	return f.listWorkstationBatches(ctx, userKey)
}

func (f *fakeCache) UpdateHolder(ctx context.Context, id, holderKey string) error {
	f.updateHolderCalls.Add(1)
	if f.updateHolder == nil {
		return nil
	}
	return f.updateHolder(ctx, id, holderKey)
}

func (f *fakeCache) UpdateStatus(ctx context.Context, id, status string) error {
	f.updateStatusCalls.Add(1)
	if f.updateStatus == nil {
		return nil
	}
	return f.updateStatus(ctx, id, status)
}

func (f *fakeCache) SetNextStageIndex(ctx context.Context, id string, next int) error {
	f.setNextIndexCalls.Add(1)
	if f.setNextStageIndex == nil {
		return nil
	}
	return f.setNextStageIndex(ctx, id, next)
}

func (f *fakeCache) InsertPartner(ctx context.Context, p cache.Partner) (*cache.Partner, error) {
	if f.insertPartner == nil {
		return nil, errUnexpectedCall
	}
	return f.insertPartner(ctx, p)
}

func (f *fakeCache) ListPartnersByOwner(ctx context.Context, ownerKey string) ([]cache.Partner, error) {
	if f.listPartnersByOwner == nil {
		return nil, nil
	}
	return f.listPartnersByOwner(ctx, ownerKey)
}

func (f *fakeCache) GetPartner(ctx context.Context, id string) (*cache.Partner, error) {
	if f.getPartner == nil {
		return nil, cache.ErrNotFound
	}
	return f.getPartner(ctx, id)
}

func (f *fakeCache) GetPartnerByKey(ctx context.Context, publicKey string) (*cache.Partner, error) {
	if f.getPartnerByKey == nil {
		return nil, cache.ErrNotFound
	}
	return f.getPartnerByKey(ctx, publicKey)
}

func (f *fakeCache) GetUser(ctx context.Context, publicKey string) (*cache.User, error) {
	if f.getUser == nil {
		return nil, cache.ErrNotFound
	}
	return f.getUser(ctx, publicKey)
}

func (f *fakeCache) InsertParticipants(ctx context.Context, batchID string, partnerIDs []string) (int, error) {
	f.insertParticipantsCalls.Add(1)
	if f.insertParticipants == nil {
		return len(partnerIDs), nil
	}
	return f.insertParticipants(ctx, batchID, partnerIDs)
}

func (f *fakeCache) DeleteParticipant(ctx context.Context, batchID, partnerID string) (bool, error) {
	if f.deleteParticipant == nil {
		return false, nil
	}
	return f.deleteParticipant(ctx, batchID, partnerID)
}

func (f *fakeCache) ListParticipants(ctx context.Context, batchID string) ([]cache.Participant, error) {
	if f.listParticipants == nil {
		return nil, nil
	}
	return f.listParticipants(ctx, batchID)
}

func (f *fakeCache) GetParticipantPartner(ctx context.Context, batchID, partnerID string) (*cache.Partner, error) {
	if f.getParticipantPartner == nil {
		return nil, cache.ErrNotFound
	}
	return f.getParticipantPartner(ctx, batchID, partnerID)
}

func (f *fakeCache) InsertStageLog(ctx context.Context, l cache.StageLog) error {
	f.insertStageLogCalls.Add(1)
	if f.insertStageLog == nil {
		return nil
	}
	return f.insertStageLog(ctx, l)
}

func (f *fakeCache) UpsertStageLog(ctx context.Context, l cache.StageLog) (bool, error) {
	if f.upsertStageLog == nil {
		return false, nil
	}
	return f.upsertStageLog(ctx, l)
}

func (f *fakeCache) ListStageLogsByActor(ctx context.Context, actorKey string) ([]cache.StageLog, error) {
	if f.listStageLogsByActor == nil {
		return nil, nil
	}
	return f.listStageLogsByActor(ctx, actorKey)
}

type fakeContent struct {
	pinJSON func(ctx context.Context, name string, payload interface{}) (string, error)
	pinFile func(ctx context.Context, name string, r io.Reader) (string, error)

	jsonCalls atomic.Int32
	fileCalls atomic.Int32
}

func (f *fakeContent) PinJSON(ctx context.Context, name string, payload interface{}) (string, error) {
	f.jsonCalls.Add(1)
	if f.pinJSON == nil {
		return "", errUnexpectedCall
	}
	return f.pinJSON(ctx, name, payload)
}

func (f *fakeContent) PinFile(ctx context.Context, name string, r io.Reader) (string, error) {
	f.fileCalls.Add(1)
	if f.pinFile == nil {
		return "", errUnexpectedCall
	}
	return f.pinFile(ctx, name, r)
}

func (f *fakeContent) FileURL(cid string) string {
	return "https://gateway.test/ipfs/" + cid
}

func newTestCoordinator(t *testing.T, l *fakeLedger, c *fakeCache, s *fakeContent) *Coordinator {
	t.Helper()
	return New(Deps{
		Ledger:  l,
		Cache:   c,
		Content: s,
		Logger:  zap.NewNop(),
		Now:     func() time.Time { return fixedNow },
	})
}

func expectKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s error, got %s: %v", want, got, err)
	}
}
