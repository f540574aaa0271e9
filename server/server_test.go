package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/coordinator"
)

type stubService struct {
	createBatch       func(ctx context.Context, in coordinator.CreateBatchInput) (*coordinator.CreateBatchResult, error)
	addStage          func(ctx context.Context, in coordinator.AddStageInput) (*coordinator.AddStageResult, error)
	transferCustody   func(ctx context.Context, in coordinator.TransferCustodyInput) (*coordinator.TransferCustodyResult, error)
	finalizeBatch     func(ctx context.Context, batchAddress, brandOwnerKey string) (*coordinator.FinalizeBatchResult, error)
	addParticipants   func(ctx context.Context, batchAddress string, partnerIDs []string) (int, error)
	removeParticipant func(ctx context.Context, batchAddress, partnerID, brandOwnerKey string) error
	createPartner     func(ctx context.Context, in coordinator.CreatePartnerInput) (*cache.Partner, error)
	listPartners      func(ctx context.Context, ownerKey string) ([]cache.Partner, error)
	checkRole         func(ctx context.Context, publicKey string) (*coordinator.RoleCheckResult, error)
	getBatchDetails   func(ctx context.Context, batchAddress string) (*coordinator.BatchDetails, error)
	getActorHistory   func(ctx context.Context, userKey string) ([]coordinator.HistoryEntry, error)
	listBatches       func(ctx context.Context, userKey string) ([]cache.Batch, error)
	listWorkstation   func(ctx context.Context, userKey string) ([]cache.Batch, error)
	reconcileBatch    func(ctx context.Context, batchAddress string) (*coordinator.ReconcileReport, error)
}

var errStubNotWired = errors.New("stub method not wired")

func (s *stubService) CreateBatch(ctx context.Context, in coordinator.CreateBatchInput) (*coordinator.CreateBatchResult, error) {
	if s.createBatch == nil {
		return nil, errStubNotWired
	}
	return s.createBatch(ctx, in)
}

func (s *stubService) AddStage(ctx context.Context, in coordinator.AddStageInput) (*coordinator.AddStageResult, error) {
	if s.addStage == nil {
		return nil, errStubNotWired
	}
	return s.addStage(ctx, in)
}

func (s *stubService) TransferCustody(ctx context.Context, in coordinator.TransferCustodyInput) (*coordinator.TransferCustodyResult, error) {
	if s.transferCustody == nil {
		return nil, errStubNotWired
	}
	return s.transferCustody(ctx, in)
}

func (s *stubService) FinalizeBatch(ctx context.Context, batchAddress, brandOwnerKey string) (*coordinator.FinalizeBatchResult, error) {
	if s.finalizeBatch == nil {
		return nil, errStubNotWired
	}
	return s.finalizeBatch(ctx, batchAddress, brandOwnerKey)
}

func (s *stubService) AddParticipants(ctx context.Context, batchAddress string, partnerIDs []string) (int, error) {
	if s.addParticipants == nil {
		return 0, errStubNotWired
	}
	return s.addParticipants(ctx, batchAddress, partnerIDs)
}

func (s *stubService) RemoveParticipant(ctx context.Context, batchAddress, partnerID, brandOwnerKey string) error {
	if s.removeParticipant == nil {
		return errStubNotWired
	}
	return s.removeParticipant(ctx, batchAddress, partnerID, brandOwnerKey)
}

func (s *stubService) CreatePartner(ctx context.Context, in coordinator.CreatePartnerInput) (*cache.Partner, error) {
	if s.createPartner == nil {
		return nil, errStubNotWired
	}
	return s.createPartner(ctx, in)
}

func (s *stubService) ListPartners(ctx context.Context, ownerKey string) ([]cache.Partner, error) {
	if s.listPartners == nil {
		return nil, errStubNotWired
	}
	return s.listPartners(ctx, ownerKey)
}

func (s *stubService) CheckRole(ctx context.Context, publicKey string) (*coordinator.RoleCheckResult, error) {
	if s.checkRole == nil {
		return nil, errStubNotWired
	}
	return s.checkRole(ctx, publicKey)
}

func (s *stubService) GetBatchDetails(ctx context.Context, batchAddress string) (*coordinator.BatchDetails, error) {
	if s.getBatchDetails == nil {
		return nil, errStubNotWired
	}
	return s.getBatchDetails(ctx, batchAddress)
}

func (s *stubService) GetActorHistory(ctx context.Context, userKey string) ([]coordinator.HistoryEntry, error) {
	if s.getActorHistory == nil {
		return nil, errStubNotWired
	}
	return s.getActorHistory(ctx, userKey)
}

func (s *stubService) ListBatches(ctx context.Context, userKey string) ([]cache.Batch, error) {
	if s.listBatches == nil {
		return nil, errStubNotWired
	}
	return s.listBatches(ctx, userKey)
}

func (s *stubService) ListWorkstationBatches(ctx context.Context, userKey string) ([]cache.Batch, error) {
	if s.listWorkstation == nil {
		return nil, errStubNotWired
	}
	return s.listWorkstation(ctx, userKey)
}

func (s *stubService) ReconcileBatch(ctx context.Context, batchAddress string) (*coordinator.ReconcileReport, error) {
	if s.reconcileBatch == nil {
		return nil, errStubNotWired
	}
	return s.reconcileBatch(ctx, batchAddress)
}

type stubPinger struct{ err error }

func (p *stubPinger) Ping(ctx context.Context) error { return p.err }

func serve(t *testing.T, svc Service, health Pinger, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	New(svc, health, zap.NewNop()).Router().ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, fields map[string][]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, values := range fields {
		for _, v := range values {
			if err := mw.WriteField(key, v); err != nil {
				t.Fatalf("write field %s: %v", key, err)
			}
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	rec := serve(t, &stubService{}, nil, req)
	if rec.Code != http.StatusOK {
		t.Errorf("healthy status = %d", rec.Code)
	}

	rec = serve(t, &stubService{}, &stubPinger{err: errors.New("pool exhausted")},
		httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", coordinator.Validationf("bad input"), http.StatusBadRequest},
		{"authorization", coordinator.Authorizationf("not the holder"), http.StatusForbidden},
		{"not found", coordinator.NotFoundf("no such batch"), http.StatusNotFound},
		{"conflict", coordinator.Conflictf("already finalized"), http.StatusConflict},
		{"upstream", coordinator.CacheError(errors.New("down"), "query failed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				getBatchDetails: func(ctx context.Context, batchAddress string) (*coordinator.BatchDetails, error) {
					return nil, tt.err
				},
			}
			req := httptest.NewRequest(http.MethodGet, "/api/batches/addr-1", nil)
			rec := serve(t, svc, nil, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}

			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error == "" {
				t.Errorf("error body = %q", rec.Body.String())
			}
		})
	}
}

func TestCreateBatchHandler(t *testing.T) {
	var got coordinator.CreateBatchInput
	svc := &stubService{
		createBatch: func(ctx context.Context, in coordinator.CreateBatchInput) (*coordinator.CreateBatchResult, error) {
			got = in
			return &coordinator.CreateBatchResult{BatchID: "FSN-2025-001", Transaction: "tx-1"}, nil
		},
	}

	body, contentType := multipartBody(t, map[string][]string{
		"producerName":     {"Fazenda Santa Norte"},
		"brandOwnerKey":    {"owner-key"},
		"initialHolderKey": {"holder-key"},
		"participants":     {`["p-1","p-2"]`},
		"region":           {"Minas Gerais"},
		"altitude":         {"1200m"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
	req.Header.Set("Content-Type", contentType)

	rec := serve(t, svc, nil, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if got.ProducerName != "Fazenda Santa Norte" || got.BrandOwnerKey != "owner-key" {
		t.Errorf("input = %+v", got)
	}
	if len(got.ParticipantIDs) != 2 || got.ParticipantIDs[0] != "p-1" {
		t.Errorf("participants = %v, want the decoded JSON array", got.ParticipantIDs)
	}
	if got.Metadata["region"] != "Minas Gerais" || got.Metadata["altitude"] != "1200m" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if _, reservedLeaked := got.Metadata["producerName"]; reservedLeaked {
		t.Error("reserved field leaked into metadata")
	}
}

func TestCreateBatchRepeatedParticipantFields(t *testing.T) {
	var got []string
	svc := &stubService{
		createBatch: func(ctx context.Context, in coordinator.CreateBatchInput) (*coordinator.CreateBatchResult, error) {
			got = in.ParticipantIDs
			return &coordinator.CreateBatchResult{}, nil
		},
	}

	body, contentType := multipartBody(t, map[string][]string{
		"producerName":     {"P"},
		"brandOwnerKey":    {"o"},
		"initialHolderKey": {"h"},
		"participants":     {"p-1", "p-2", "p-3"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
	req.Header.Set("Content-Type", contentType)

	if rec := serve(t, svc, nil, req); rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(got) != 3 {
		t.Errorf("participants = %v, want 3 repeated values", got)
	}
}

func TestAddStageHandler(t *testing.T) {
	var got coordinator.AddStageInput
	svc := &stubService{
		addStage: func(ctx context.Context, in coordinator.AddStageInput) (*coordinator.AddStageResult, error) {
			got = in
			if in.Attachment != nil {
				io.ReadAll(in.Attachment.Reader)
			}
			return &coordinator.AddStageResult{StageAddress: "stage-addr"}, nil
		},
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("stageName", "Roasting")
	mw.WriteField("userKey", "holder-key")
	mw.WriteField("partnerType", "roaster")
	mw.WriteField("formData", `{"moisture":"11%"}`)
	part, _ := mw.CreateFormFile("attachment", "photo.jpg")
	part.Write([]byte("jpeg bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/batches/addr-1/stages", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := serve(t, svc, nil, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got.BatchAddress != "addr-1" || got.StageName != "Roasting" || got.FormData != `{"moisture":"11%"}` {
		t.Errorf("input = %+v", got)
	}
	if got.Attachment == nil || got.Attachment.Name != "photo.jpg" {
		t.Errorf("attachment = %+v", got.Attachment)
	}
}

func TestWorkstationRoutePrecedence(t *testing.T) {
	svc := &stubService{
		listWorkstation: func(ctx context.Context, userKey string) ([]cache.Batch, error) {
			if userKey != "holder-key" {
				t.Errorf("user = %q", userKey)
			}
			return []cache.Batch{}, nil
		},
		// A misrouted request would land here instead.
		getBatchDetails: func(ctx context.Context, batchAddress string) (*coordinator.BatchDetails, error) {
			t.Errorf("workstation request routed to batch details with id %q", batchAddress)
			return nil, coordinator.NotFoundf("misrouted")
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/batches/workstation?user=holder-key", nil)
	if rec := serve(t, svc, nil, req); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestTransferHandler(t *testing.T) {
	var got coordinator.TransferCustodyInput
	svc := &stubService{
		transferCustody: func(ctx context.Context, in coordinator.TransferCustodyInput) (*coordinator.TransferCustodyResult, error) {
			got = in
			return &coordinator.TransferCustodyResult{Transaction: "tx-1", NewHolder: "new-key"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/batches/addr-1/transfer",
		strings.NewReader(`{"currentHolderKey":"holder-key","newHolderPartnerId":"p-1"}`))
	rec := serve(t, svc, nil, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got.BatchAddress != "addr-1" || got.CurrentHolderKey != "holder-key" || got.NewHolderPartnerID != "p-1" {
		t.Errorf("input = %+v", got)
	}
}

func TestFinalizeHandler(t *testing.T) {
	svc := &stubService{
		finalizeBatch: func(ctx context.Context, batchAddress, brandOwnerKey string) (*coordinator.FinalizeBatchResult, error) {
			if batchAddress != "addr-1" || brandOwnerKey != "owner-key" {
				t.Errorf("finalize args = %q, %q", batchAddress, brandOwnerKey)
			}
			return &coordinator.FinalizeBatchResult{Transaction: "tx-1"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/batches/addr-1/finalize",
		strings.NewReader(`{"brandOwnerKey":"owner-key"}`))
	if rec := serve(t, svc, nil, req); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRemoveParticipantHandler(t *testing.T) {
	svc := &stubService{
		removeParticipant: func(ctx context.Context, batchAddress, partnerID, brandOwnerKey string) error {
			if batchAddress != "addr-1" || partnerID != "p-9" || brandOwnerKey != "owner-key" {
				t.Errorf("remove args = %q, %q, %q", batchAddress, partnerID, brandOwnerKey)
			}
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/batches/addr-1/participants/p-9",
		strings.NewReader(`{"brandOwnerKey":"owner-key"}`))
	if rec := serve(t, svc, nil, req); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAddParticipantsHandler(t *testing.T) {
	svc := &stubService{
		addParticipants: func(ctx context.Context, batchAddress string, partnerIDs []string) (int, error) {
			return len(partnerIDs), nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/batches/addr-1/participants",
		strings.NewReader(`{"participantIds":["p-1","p-2"]}`))
	rec := serve(t, svc, nil, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Count != 2 {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCheckRoleHandler(t *testing.T) {
	svc := &stubService{
		checkRole: func(ctx context.Context, publicKey string) (*coordinator.RoleCheckResult, error) {
			return &coordinator.RoleCheckResult{Role: "processor", PublicKey: publicKey}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/check-role",
		strings.NewReader(`{"publicKey":"some-key"}`))
	rec := serve(t, svc, nil, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var result coordinator.RoleCheckResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil || result.Role != "processor" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMalformedJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/batches/addr-1/finalize",
		strings.NewReader(`{not json`))
	if rec := serve(t, &stubService{}, nil, req); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReconcileHandler(t *testing.T) {
	svc := &stubService{
		reconcileBatch: func(ctx context.Context, batchAddress string) (*coordinator.ReconcileReport, error) {
			return &coordinator.ReconcileReport{BatchAddress: batchAddress, HolderRepaired: true}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/reconcile/addr-1", nil)
	rec := serve(t, svc, nil, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var report coordinator.ReconcileReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil || !report.HolderRepaired {
		t.Errorf("body = %s", rec.Body.String())
	}
}
