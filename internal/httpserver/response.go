package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	werrors "github.com/adverant/nexus/docverify-worker/internal/errors"
	"github.com/adverant/nexus/docverify-worker/internal/verification"
)

// OutcomeResponse is the JSON form of a verification outcome.
type OutcomeResponse struct {
	IsVerified            bool    `json:"is_verified"`
	Status                string  `json:"verification_status"`
	Notes                 string  `json:"verification_notes"`
	Tier                  string  `json:"tier"`
	ExtractedIdentifier   string  `json:"extracted_identifier,omitempty"`
	ExpectedIdentifier    string  `json:"expected_identifier,omitempty"`
	Similarity            float64 `json:"similarity"`
	Confidence            float64 `json:"confidence"`
	Attempts              int     `json:"ocr_attempts"`
	EarlyExit             bool    `json:"early_exit"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	ErrorCode             string  `json:"error_code,omitempty"`
}

// ResultResponse adds the organization and the provisioning signal.
type ResultResponse struct {
	OrganizationID string          `json:"organization_id"`
	BecameVerified bool            `json:"became_verified"`
	Outcome        OutcomeResponse `json:"outcome"`
}

// FromOutcome maps an outcome to its response.
func FromOutcome(o verification.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		IsVerified:            o.IsVerified,
		Status:                string(o.Status),
		Notes:                 o.Notes,
		Tier:                  string(o.Tier),
		ExtractedIdentifier:   o.Extracted,
		ExpectedIdentifier:    o.Expected,
		Similarity:            o.Similarity,
		Confidence:            o.Confidence,
		Attempts:              o.Attempts,
		EarlyExit:             o.EarlyExit,
		ProcessingTimeSeconds: o.ProcessingTime.Seconds(),
	}
	var pe *werrors.ProcessingError
	if errors.As(o.Err, &pe) {
		resp.ErrorCode = string(pe.Code)
	}
	return resp
}

// FromResult maps a service result to its response.
func FromResult(r *verification.Result) ResultResponse {
	return ResultResponse{
		OrganizationID: r.OrganizationID,
		BecameVerified: r.BecameVerified,
		Outcome:        FromOutcome(r.Outcome),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates worker errors into JSON error envelopes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]interface{}{"error": err.Error()}

	var pe *werrors.ProcessingError
	if errors.As(err, &pe) {
		body = pe.ToMap()
		switch pe.Code {
		case werrors.ErrorMissingInput:
			status = http.StatusBadRequest
		case werrors.ErrorOrganizationNotFound:
			status = http.StatusNotFound
		case werrors.ErrorFileTooLarge:
			status = http.StatusRequestEntityTooLarge
		case werrors.ErrorProcessingTimeout:
			status = http.StatusGatewayTimeout
		case werrors.ErrorDocumentFetch:
			status = http.StatusBadGateway
		}
	} else if errors.Is(err, verification.ErrInvalidStatus) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, body)
}
