package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"docmind/internal/util"
	"docmind/pkg/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, errorCodeForStatus(status, msg), msg)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps the domain error taxonomy onto HTTP statuses.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeErrorCode(w, http.StatusBadRequest, "DOCUMENT_INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrExtraction):
		writeErrorCode(w, http.StatusUnprocessableEntity, "DOCUMENT_EXTRACTION_FAILED", "could not read text from the document")
	case errors.Is(err, domain.ErrStore):
		util.LoggerFromContext(r.Context()).Error("artifact storage failed", "err", err)
		writeErrorCode(w, http.StatusBadGateway, "DOCUMENT_STORAGE_FAILED", "document storage unavailable")
	case errors.Is(err, domain.ErrOwnerNotFound):
		writeErrorCode(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForeignKey):
		writeErrorCode(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "document not found")
	case errors.Is(err, domain.ErrForbidden):
		writeErrorCode(w, http.StatusForbidden, "DOCUMENT_FORBIDDEN", "forbidden")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		util.LoggerFromContext(r.Context()).Info("request abandoned", "err", err)
		writeErrorCode(w, http.StatusRequestTimeout, "SYSTEM_REQUEST_CANCELED", "request canceled")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeErrorCode(w, http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR", "internal error")
	}
}

func errorCodeForStatus(status int, msg string) string {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case "file too large":
		return "DOCUMENT_FILE_TOO_LARGE"
	case "invalid form data", "file is required (field: file)":
		return "DOCUMENT_INVALID_UPLOAD_FORM"
	case "rate limited":
		return "SYSTEM_RATE_LIMITED"
	case "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "DOCUMENT_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}
