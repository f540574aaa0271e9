package ledger

import "time"

// BatchStatus mirrors the on-chain status enum of a batch account.
type BatchStatus string

const (
	StatusInProgress BatchStatus = "inProgress"
	StatusCompleted  BatchStatus = "completed"
)

// BatchAccount is the decoded state of an on-chain batch account. The
// ledger is authoritative for every field here; in particular
// NextStageIndex must never be substituted with the cached counter.
type BatchAccount struct {
	Address        string      `json:"address"`
	ID             string      `json:"id"`
	ProducerName   string      `json:"producerName"`
	DataHash       string      `json:"dataHash"`
	BrandOwner     string      `json:"brandOwner"`
	CurrentHolder  string      `json:"currentHolder"`
	Status         BatchStatus `json:"status"`
	NextStageIndex uint16      `json:"nextStageIndex"`
}

// StageAccount is the decoded state of an on-chain stage account.
// Stages are append-only; Index is assigned by the ledger program.
type StageAccount struct {
	Address    string    `json:"address"`
	Batch      string    `json:"batch"`
	Index      uint16    `json:"index"`
	Name       string    `json:"name"`
	CID        string    `json:"cid"`
	Actor      string    `json:"actor"`
	RecordedAt time.Time `json:"recordedAt"`
}

// CreateBatchParams carries the arguments of the createBatch instruction.
type CreateBatchParams struct {
	BatchAddress  string `json:"batchAddress"`
	BatchID       string `json:"batchId"`
	ProducerName  string `json:"producerName"`
	DataHash      string `json:"dataHash"`
	BrandOwner    string `json:"brandOwner"`
	InitialHolder string `json:"initialHolder"`
}

// AddStageParams carries the arguments of the addStage instruction.
type AddStageParams struct {
	BatchAddress string `json:"batchAddress"`
	StageAddress string `json:"stageAddress"`
	StageIndex   uint16 `json:"stageIndex"`
	StageName    string `json:"stageName"`
	CID          string `json:"cid"`
	Actor        string `json:"actor"`
}

// TransferParams carries the arguments of the transferCustody instruction.
type TransferParams struct {
	BatchAddress  string `json:"batchAddress"`
	CurrentHolder string `json:"currentHolder"`
	NewHolder     string `json:"newHolder"`
}

// FinalizeParams carries the arguments of the finalizeBatch instruction.
type FinalizeParams struct {
	BatchAddress string `json:"batchAddress"`
	BrandOwner   string `json:"brandOwner"`
}
