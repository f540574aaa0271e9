package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/withobsrvr/coffeledger-api/coordinator"
)

// maxMultipartMemory bounds the in-memory portion of multipart uploads.
const maxMultipartMemory = 16 << 20

// handleCreateBatch accepts a multipart form: the reserved fields below
// plus arbitrary metadata fields that flow into the creation hash.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		s.writeError(w, r, coordinator.Validationf("malformed multipart form: %v", err))
		return
	}

	in := coordinator.CreateBatchInput{
		ProducerName:     r.FormValue("producerName"),
		BrandOwnerKey:    r.FormValue("brandOwnerKey"),
		InitialHolderKey: r.FormValue("initialHolderKey"),
		ParticipantIDs:   participantValues(r),
		Metadata:         map[string]string{},
	}

	reserved := map[string]bool{
		"producerName": true, "brandOwnerKey": true,
		"initialHolderKey": true, "participants": true,
	}
	for key, values := range r.MultipartForm.Value {
		if reserved[key] || len(values) == 0 {
			continue
		}
		in.Metadata[key] = values[0]
	}

	result, err := s.svc.CreateBatch(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// participantValues reads the participants field either as repeated
// form values or as a single JSON array.
func participantValues(r *http.Request) []string {
	values := r.MultipartForm.Value["participants"]
	if len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[") {
		var ids []string
		if err := json.Unmarshal([]byte(values[0]), &ids); err == nil {
			return ids
		}
	}
	return values
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.svc.ListBatches(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleBatchDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.svc.GetBatchDetails(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BrandOwnerKey string `json:"brandOwnerKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, coordinator.Validationf("malformed request body: %v", err))
		return
	}

	result, err := s.svc.FinalizeBatch(r.Context(), mux.Vars(r)["id"], body.BrandOwnerKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentHolderKey   string `json:"currentHolderKey"`
		NewHolderPartnerID string `json:"newHolderPartnerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, coordinator.Validationf("malformed request body: %v", err))
		return
	}

	result, err := s.svc.TransferCustody(r.Context(), coordinator.TransferCustodyInput{
		BatchAddress:       mux.Vars(r)["id"],
		CurrentHolderKey:   body.CurrentHolderKey,
		NewHolderPartnerID: body.NewHolderPartnerID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.ReconcileBatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
