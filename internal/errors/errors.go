package errors

import (
	"errors"
	"fmt"
	"time"
)

/**
 * Structured errors for the document verification worker
 *
 * Every failure that crosses a package boundary is a ProcessingError
 * carrying a stable code, the job it belongs to and an optional cause.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorMissingInput         ErrorCode = "MISSING_INPUT"
	ErrorOrganizationNotFound ErrorCode = "ORGANIZATION_NOT_FOUND"
	ErrorFileTooLarge         ErrorCode = "FILE_TOO_LARGE"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorRasterization     ErrorCode = "RASTERIZATION_FAILED"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
	ErrorDocumentFetch ErrorCode = "DOCUMENT_FETCH_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// IsCode reports whether err, or anything it wraps, is a ProcessingError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// details is a shorthand for the key/value pairs attached to an error.
type details = map[string]interface{}

func newError(code ErrorCode, jobID, message string, d details, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      code,
		Message:   message,
		JobID:     jobID,
		Timestamp: time.Now(),
		Details:   d,
		Cause:     cause,
	}
}

// NewProcessingTimeoutError is returned when a job or extraction exceeds its deadline.
func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return newError(ErrorProcessingTimeout, jobID,
		fmt.Sprintf("Processing timed out after %v", duration),
		details{"timeout_duration": duration.String()}, cause)
}

// NewRasterizationError reports that no backend could render page 1.
func NewRasterizationError(jobID string, backend string, cause error) *ProcessingError {
	return newError(ErrorRasterization, jobID,
		fmt.Sprintf("Failed to rasterize document with %s", backend),
		details{"backend": backend}, cause)
}

func NewOCRFailedError(jobID string, attempt string, cause error) *ProcessingError {
	return newError(ErrorOCRFailed, jobID,
		fmt.Sprintf("OCR failed for attempt: %s", attempt),
		details{"attempt": attempt}, cause)
}

func NewMissingInputError(jobID string, field string) *ProcessingError {
	return newError(ErrorMissingInput, jobID,
		fmt.Sprintf("Required input missing: %s", field),
		details{"field": field}, nil)
}

func NewOrganizationNotFoundError(jobID string, organizationID string) *ProcessingError {
	return newError(ErrorOrganizationNotFound, jobID,
		fmt.Sprintf("Organization not found: %s", organizationID),
		details{"organization_id": organizationID}, nil)
}

func NewFileTooLargeError(jobID string, size, limit int64) *ProcessingError {
	return newError(ErrorFileTooLarge, jobID,
		fmt.Sprintf("Document is %d bytes, limit is %d", size, limit),
		details{"size": size, "limit": limit}, nil)
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return newError(ErrorStorageFailed, jobID, "Failed to store verification results", nil, cause)
}

// NewDocumentFetchError wraps artifact lookup and download failures.
func NewDocumentFetchError(jobID string, artifactID string, cause error) *ProcessingError {
	return newError(ErrorDocumentFetch, jobID,
		fmt.Sprintf("Failed to fetch document artifact %s", artifactID),
		details{"artifact_id": artifactID}, cause)
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
