package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/withobsrvr/coffeledger-api/coordinator"
)

func (s *Server) handleCreatePartner(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BrandOwnerKey string `json:"brandOwnerKey"`
		PublicKey     string `json:"publicKey"`
		Name          string `json:"name"`
		Role          string `json:"role"`
		ContactEmail  string `json:"contactEmail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, coordinator.Validationf("malformed request body: %v", err))
		return
	}

	partner, err := s.svc.CreatePartner(r.Context(), coordinator.CreatePartnerInput{
		BrandOwnerKey: body.BrandOwnerKey,
		PublicKey:     body.PublicKey,
		Name:          body.Name,
		Role:          body.Role,
		ContactEmail:  body.ContactEmail,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, partner)
}

func (s *Server) handleListPartners(w http.ResponseWriter, r *http.Request) {
	partners, err := s.svc.ListPartners(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, partners)
}

func (s *Server) handleAddParticipants(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ParticipantIDs []string `json:"participantIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, coordinator.Validationf("malformed request body: %v", err))
		return
	}

	n, err := s.svc.AddParticipants(r.Context(), mux.Vars(r)["id"], body.ParticipantIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": fmt.Sprintf("%d participant(s) added", n),
		"count":   n,
	})
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BrandOwnerKey string `json:"brandOwnerKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, coordinator.Validationf("malformed request body: %v", err))
		return
	}

	vars := mux.Vars(r)
	if err := s.svc.RemoveParticipant(r.Context(), vars["batchId"], vars["partnerId"], body.BrandOwnerKey); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "participant removed"})
}
