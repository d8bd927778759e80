package api

import (
	"encoding/json"
	"net/http"

	"github.com/jmcleod/sessiongate/auth"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps a coordinator code to an HTTP status. Input errors are 400,
// infrastructure errors 500, and authentication failures are ordinary 200
// business responses.
func statusFor(code auth.Code) int {
	switch code {
	case auth.CodeMissingInformation:
		return http.StatusBadRequest
	case auth.CodeDatabaseError, auth.CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
