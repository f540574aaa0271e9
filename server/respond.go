package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/withobsrvr/coffeledger-api/coordinator"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps the coordinator's failure taxonomy onto HTTP codes.
func statusFor(err error) int {
	switch coordinator.KindOf(err) {
	case coordinator.KindValidation:
		return http.StatusBadRequest
	case coordinator.KindAuthorization:
		return http.StatusForbidden
	case coordinator.KindNotFound:
		return http.StatusNotFound
	case coordinator.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
