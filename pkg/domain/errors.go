package domain

import "errors"

// Failure kinds shared by every layer. Callers wrap them with context and
// match with errors.Is.
var (
	// ErrValidation marks bad or missing caller input.
	ErrValidation = errors.New("validation failed")
	// ErrExtraction marks an OCR engine failure or undecodable image.
	ErrExtraction = errors.New("text extraction failed")
	// ErrStore marks an artifact storage failure, including key collisions.
	ErrStore = errors.New("artifact storage failed")
	// ErrOwnerNotFound marks a document create whose owner does not exist.
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrModel marks a failed language model call.
	ErrModel = errors.New("language model call failed")
	// ErrNotFound marks a missing document or message.
	ErrNotFound = errors.New("not found")
	// ErrForeignKey marks a write that references a missing document.
	ErrForeignKey = errors.New("referenced document does not exist")
	// ErrForbidden marks access to a document owned by someone else.
	ErrForbidden = errors.New("forbidden")
)
