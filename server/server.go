// Package server exposes the batch lifecycle coordinator over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/cache"
	"github.com/withobsrvr/coffeledger-api/coordinator"
)

// Service is the slice of the coordinator the HTTP layer needs.
type Service interface {
	CreateBatch(ctx context.Context, in coordinator.CreateBatchInput) (*coordinator.CreateBatchResult, error)
	AddStage(ctx context.Context, in coordinator.AddStageInput) (*coordinator.AddStageResult, error)
	TransferCustody(ctx context.Context, in coordinator.TransferCustodyInput) (*coordinator.TransferCustodyResult, error)
	FinalizeBatch(ctx context.Context, batchAddress, brandOwnerKey string) (*coordinator.FinalizeBatchResult, error)
	AddParticipants(ctx context.Context, batchAddress string, partnerIDs []string) (int, error)
	RemoveParticipant(ctx context.Context, batchAddress, partnerID, brandOwnerKey string) error
	CreatePartner(ctx context.Context, in coordinator.CreatePartnerInput) (*cache.Partner, error)
	ListPartners(ctx context.Context, ownerKey string) ([]cache.Partner, error)
	CheckRole(ctx context.Context, publicKey string) (*coordinator.RoleCheckResult, error)
	GetBatchDetails(ctx context.Context, batchAddress string) (*coordinator.BatchDetails, error)
	GetActorHistory(ctx context.Context, userKey string) ([]coordinator.HistoryEntry, error)
	ListBatches(ctx context.Context, userKey string) ([]cache.Batch, error)
	ListWorkstationBatches(ctx context.Context, userKey string) ([]cache.Batch, error)
	ReconcileBatch(ctx context.Context, batchAddress string) (*coordinator.ReconcileReport, error)
}

// Pinger checks a dependency's liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the coordinator to the HTTP routes.
type Server struct {
	svc    Service
	health Pinger
	logger *zap.Logger
}

// New builds a server. health may be nil when no dependency check is
// wanted.
func New(svc Service, health Pinger, logger *zap.Logger) *Server {
	return &Server{svc: svc, health: health, logger: logger}
}

// Router registers every route with its middleware chain.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.loggingMiddleware, metricsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/check-role", s.handleCheckRole).Methods(http.MethodPost)

	api.HandleFunc("/partners", s.handleCreatePartner).Methods(http.MethodPost)
	api.HandleFunc("/partners", s.handleListPartners).Methods(http.MethodGet)

	// Fixed paths must be registered ahead of the {id} routes.
	api.HandleFunc("/batches/workstation", s.handleWorkstation).Methods(http.MethodGet)
	api.HandleFunc("/stages/history", s.handleActorHistory).Methods(http.MethodGet)

	api.HandleFunc("/batches", s.handleCreateBatch).Methods(http.MethodPost)
	api.HandleFunc("/batches", s.handleListBatches).Methods(http.MethodGet)
	api.HandleFunc("/batches/{id}", s.handleBatchDetails).Methods(http.MethodGet)
	api.HandleFunc("/batches/{id}/finalize", s.handleFinalize).Methods(http.MethodPost)
	api.HandleFunc("/batches/{id}/participants", s.handleAddParticipants).Methods(http.MethodPost)
	api.HandleFunc("/batches/{batchId}/participants/{partnerId}", s.handleRemoveParticipant).Methods(http.MethodDelete)
	api.HandleFunc("/batches/{id}/stages", s.handleAddStage).Methods(http.MethodPost)
	api.HandleFunc("/batches/{id}/transfer", s.handleTransfer).Methods(http.MethodPost)

	api.HandleFunc("/admin/reconcile/{id}", s.handleReconcile).Methods(http.MethodPost)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "healthy"}
	code := http.StatusOK
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["cache"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}
