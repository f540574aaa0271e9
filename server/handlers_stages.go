package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/withobsrvr/coffeledger-api/coordinator"
)

// handleAddStage accepts a multipart form with the stage fields and an
// optional "attachment" file part.
func (s *Server) handleAddStage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		s.writeError(w, r, coordinator.Validationf("malformed multipart form: %v", err))
		return
	}

	in := coordinator.AddStageInput{
		BatchAddress: mux.Vars(r)["id"],
		StageName:    r.FormValue("stageName"),
		Notes:        r.FormValue("notes"),
		UserKey:      r.FormValue("userKey"),
		PartnerType:  r.FormValue("partnerType"),
		FormData:     r.FormValue("formData"),
	}

	if file, header, err := r.FormFile("attachment"); err == nil {
		defer file.Close()
		in.Attachment = &coordinator.Attachment{Name: header.Filename, Reader: file}
	}

	result, err := s.svc.AddStage(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleWorkstation(w http.ResponseWriter, r *http.Request) {
	batches, err := s.svc.ListWorkstationBatches(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleActorHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.GetActorHistory(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
