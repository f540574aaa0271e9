package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	base58 "github.com/jbenet/go-base58"
	"go.uber.org/zap"
)

// JSON-RPC error codes returned by the ledger node. The standard codes
// follow the JSON-RPC 2.0 spec; the program codes are assigned by the
// batch-tracking program.
const (
	codeMethodNotFound = -32601
	codeInternalError  = -32603

	codeAccountNotFound = -32001
	codeAccountInUse    = -32002
)

var (
	// ErrAccountExists is returned when a write would create an account
	// at an address that is already in use. Batch creation treats this
	// as an id collision and retries with a fresh id.
	ErrAccountExists = errors.New("ledger: account already in use")

	// ErrAccountNotFound is returned by reads of addresses with no
	// account state.
	ErrAccountNotFound = errors.New("ledger: account not found")
)

// Config holds the connection settings for the ledger node.
type Config struct {
	Endpoint       string
	ProgramID      string
	SignerSeed     string
	TimeoutSeconds int
}

// Client talks JSON-RPC 2.0 to a ledger node. All write methods submit
// transactions signed by the facilitator key derived from the configured
// seed; reads return decoded account state. The client carries no
// mutable shared state beyond the request id counter and is safe for
// concurrent use.
type Client struct {
	endpoint   string
	programID  string
	httpClient *http.Client
	logger     *zap.Logger

	signerKey ed25519.PrivateKey
	payerKey  string

	nextID atomic.Uint64
}

// NewClient builds a ledger client. The signer seed is any non-empty
// secret phrase; the facilitator keypair is derived from its sha256.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("ledger: endpoint is required")
	}
	if cfg.SignerSeed == "" {
		return nil, errors.New("ledger: signer seed is required")
	}
	programID := cfg.ProgramID
	if programID == "" {
		programID = DefaultProgramID
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	seed := sha256.Sum256([]byte(cfg.SignerSeed))
	key := ed25519.NewKeyFromSeed(seed[:])
	payer := base58.Encode(key.Public().(ed25519.PublicKey))

	logger.Info("ledger client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("program_id", programID),
		zap.String("payer", payer))

	return &Client{
		endpoint:   cfg.Endpoint,
		programID:  programID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		signerKey:  key,
		payerKey:   payer,
	}, nil
}

// ProgramID returns the program the client submits transactions to.
func (c *Client) ProgramID() string { return c.programID }

// Payer returns the facilitator public key used to fund transactions.
func (c *Client) Payer() string { return c.payerKey }

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC round trip and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return c.mapRPCError(method, rpcResp.Error)
	}
	if out != nil {
		if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
			return fmt.Errorf("%s: %w", method, ErrAccountNotFound)
		}
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// mapRPCError converts node error codes (and the legacy message form of
// the collision error) into sentinel errors callers can test with
// errors.Is.
func (c *Client) mapRPCError(method string, e *rpcError) error {
	switch {
	case e.Code == codeAccountInUse || strings.Contains(e.Message, "already in use"):
		return fmt.Errorf("%s: %w: %s", method, ErrAccountExists, e.Message)
	case e.Code == codeAccountNotFound:
		return fmt.Errorf("%s: %w: %s", method, ErrAccountNotFound, e.Message)
	default:
		return fmt.Errorf("%s: %w", method, e)
	}
}

// signature returns the hex ed25519 signature of the canonical JSON
// encoding of params, proving the facilitator authorized the submission.
func (c *Client) signature(params interface{}) (string, error) {
	msg, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal signing payload: %w", err)
	}
	return hex.EncodeToString(ed25519.Sign(c.signerKey, msg)), nil
}

type txParams struct {
	Program   string      `json:"program"`
	Payer     string      `json:"payer"`
	Signature string      `json:"signature"`
	Args      interface{} `json:"args"`
}

type txResult struct {
	Signature string `json:"signature"`
}

// submit sends a program instruction and returns the transaction
// signature assigned by the node.
func (c *Client) submit(ctx context.Context, method string, args interface{}) (string, error) {
	sig, err := c.signature(args)
	if err != nil {
		return "", err
	}
	var result txResult
	err = c.call(ctx, method, txParams{
		Program:   c.programID,
		Payer:     c.payerKey,
		Signature: sig,
		Args:      args,
	}, &result)
	if err != nil {
		return "", err
	}
	if result.Signature == "" {
		return "", fmt.Errorf("%s: node returned no transaction signature", method)
	}
	return result.Signature, nil
}

// CreateBatch submits the createBatch instruction.
func (c *Client) CreateBatch(ctx context.Context, p CreateBatchParams) (string, error) {
	return c.submit(ctx, "createBatch", p)
}

// AddStage submits the addStage instruction.
func (c *Client) AddStage(ctx context.Context, p AddStageParams) (string, error) {
	return c.submit(ctx, "addStage", p)
}

// TransferCustody submits the transferCustody instruction.
func (c *Client) TransferCustody(ctx context.Context, p TransferParams) (string, error) {
	return c.submit(ctx, "transferCustody", p)
}

// FinalizeBatch submits the finalizeBatch instruction.
func (c *Client) FinalizeBatch(ctx context.Context, p FinalizeParams) (string, error) {
	return c.submit(ctx, "finalizeBatch", p)
}

type accountQuery struct {
	Address string `json:"address"`
}

// GetBatch fetches and decodes a batch account.
func (c *Client) GetBatch(ctx context.Context, address string) (*BatchAccount, error) {
	var acct BatchAccount
	if err := c.call(ctx, "getBatchAccount", accountQuery{Address: address}, &acct); err != nil {
		return nil, err
	}
	acct.Address = address
	return &acct, nil
}

// GetStage fetches and decodes a stage account.
func (c *Client) GetStage(ctx context.Context, address string) (*StageAccount, error) {
	var acct StageAccount
	if err := c.call(ctx, "getStageAccount", accountQuery{Address: address}, &acct); err != nil {
		return nil, err
	}
	acct.Address = address
	return &acct, nil
}

// getStagesConcurrency bounds the fan-out of a multi-account fetch.
const getStagesConcurrency = 8

// GetStages fetches many stage accounts concurrently. The result slice
// is positionally aligned with addresses; entries that fail to resolve
// are nil rather than failing the whole fetch, so one missing account
// never sinks its siblings.
func (c *Client) GetStages(ctx context.Context, addresses []string) ([]*StageAccount, error) {
	results := make([]*StageAccount, len(addresses))
	sem := make(chan struct{}, getStagesConcurrency)

	var wg sync.WaitGroup
	for i, addr := range addresses {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			acct, err := c.GetStage(ctx, addr)
			if err != nil {
				c.logger.Warn("stage account fetch failed",
					zap.String("address", addr),
					zap.Error(err))
				return
			}
			results[i] = acct
		}(i, addr)
	}
	wg.Wait()

	return results, nil
}
