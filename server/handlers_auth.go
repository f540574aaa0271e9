package server

import (
	"encoding/json"
	"net/http"

	"github.com/withobsrvr/coffeledger-api/coordinator"
)

func (s *Server) handleCheckRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PublicKey string `json:"publicKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, coordinator.Validationf("malformed request body: %v", err))
		return
	}

	result, err := s.svc.CheckRole(r.Context(), body.PublicKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
