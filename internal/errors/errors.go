package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Structured error taxonomy for the extraction pipeline.
 *
 * Two scopes exist:
 * - document-fatal: the whole document is rejected, no per-page work runs
 * - page-scoped: the error is isolated to one page; sibling pages keep going
 */

// Kind classifies a pipeline error.
type Kind string

const (
	// Document-fatal kinds
	KindDocumentCorrupt     Kind = "DOCUMENT_CORRUPT"
	KindUnsupportedDocument Kind = "UNSUPPORTED_DOCUMENT"

	// Page-scoped kinds
	KindPreprocessing     Kind = "PREPROCESSING_ERROR"
	KindRecognitionFailed Kind = "RECOGNITION_FAILED"
	KindPageTimeout       Kind = "PAGE_TIMEOUT"

	// Document-scoped timeout: the whole job exceeded its processing
	// budget, as opposed to KindPageTimeout which covers one page unit.
	KindProcessingTimeout Kind = "PROCESSING_TIMEOUT"

	// Cancellation propagates document-wide; no result is produced.
	KindCancelled Kind = "CANCELLED"

	// Storage errors
	KindStorageFailed Kind = "STORAGE_FAILED"
)

// PipelineError is the structured error carried through the pipeline.
type PipelineError struct {
	Kind       Kind
	Message    string
	DocumentID string
	Page       int // 1-based page index; 0 for document-level errors
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Factory functions for the taxonomy

func NewDocumentCorrupt(documentID string, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindDocumentCorrupt,
		Message:    "input byte stream is not a valid PDF document",
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewUnsupportedDocument(documentID, reason string) *PipelineError {
	return &PipelineError{
		Kind:       KindUnsupportedDocument,
		Message:    fmt.Sprintf("document cannot be processed: %s", reason),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

func NewPreprocessingError(documentID string, page int, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindPreprocessing,
		Message:    fmt.Sprintf("page %d image could not be normalized", page),
		DocumentID: documentID,
		Page:       page,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewRecognitionFailed(documentID string, page, attempts int, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindRecognitionFailed,
		Message:    fmt.Sprintf("recognition failed on page %d after %d attempts", page, attempts),
		DocumentID: documentID,
		Page:       page,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"attempts": attempts,
		},
		Cause: cause,
	}
}

func NewPageTimeout(documentID string, page int, timeout time.Duration) *PipelineError {
	return &PipelineError{
		Kind:       KindPageTimeout,
		Message:    fmt.Sprintf("page %d exceeded the %v processing budget", page, timeout),
		DocumentID: documentID,
		Page:       page,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"timeout": timeout.String(),
		},
	}
}

func NewProcessingTimeout(documentID string, timeout time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindProcessingTimeout,
		Message:    fmt.Sprintf("document processing exceeded the %v budget", timeout),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"timeout": timeout.String(),
		},
		Cause: cause,
	}
}

func NewCancelled(documentID string) *PipelineError {
	return &PipelineError{
		Kind:       KindCancelled,
		Message:    "document processing was cancelled",
		DocumentID: documentID,
		Timestamp:  time.Now(),
	}
}

func NewStorageFailed(documentID string, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindStorageFailed,
		Message:    "failed to persist extraction results",
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// KindOf returns the Kind of err, or "" when err carries no PipelineError.
func KindOf(err error) Kind {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsDocumentFatal reports whether err aborts the whole document before any
// per-page work. Cancellation is classified separately.
func IsDocumentFatal(err error) bool {
	switch KindOf(err) {
	case KindDocumentCorrupt, KindUnsupportedDocument:
		return true
	}
	return false
}

// IsPageScoped reports whether err is isolated to a single page.
func IsPageScoped(err error) bool {
	switch KindOf(err) {
	case KindPreprocessing, KindRecognitionFailed, KindPageTimeout:
		return true
	}
	return false
}

// IsCancelled reports whether err represents a propagated cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// ToMap converts the error to a map for JSONB storage.
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Kind),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.Page > 0 {
		result["page"] = e.Page
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
