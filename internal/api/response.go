package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/common/indexer"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Status  *domain.RunStatus `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its HTTP status. status, when set, is the
// unchanged run status returned alongside a refusal.
func writeError(w http.ResponseWriter, err error, status *domain.RunStatus) {
	if errors.Is(err, indexer.ErrListingNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: err.Error()})
		return
	}
	var se *apperrors.StandardError
	if !errors.As(err, &se) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL", Message: err.Error()})
		return
	}
	code := http.StatusInternalServerError
	switch se.Code {
	case apperrors.ErrCodeInvalidRequest, apperrors.ErrCodeValidationFailure:
		code = http.StatusBadRequest
	case apperrors.ErrCodeConcurrentRun:
		code = http.StatusConflict
	case apperrors.ErrCodeSiteDisabled:
		code = http.StatusServiceUnavailable
	case apperrors.ErrCodeStorageFailure:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, errorBody{Code: string(se.Code), Message: se.Message, Status: status})
}

// decode reads a JSON body into v, answering 400 itself on failure
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, apperrors.NewInvalidRequestError("malformed JSON body: "+err.Error()), nil)
		return false
	}
	return true
}
