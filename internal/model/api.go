package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Data  any          `json:"data"`
	Total int          `json:"total"`
	Meta  ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// TriggerRequest is the request body for POST /api/trigger.
type TriggerRequest struct {
	Scenario string            `json:"scenario,omitempty"`
	Endpoint string            `json:"endpoint,omitempty"`
	Input    map[string]string `json:"input,omitempty"`
}

// TriggerResponse is the response body for POST /api/trigger.
type TriggerResponse struct {
	TraceID string `json:"trace_id"`
	Status  string `json:"status"`
}

// RollbackRequest is the request body for POST /api/traces/{trace_id}/rollback.
type RollbackRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TokenRequest is the request body for POST /auth/token.
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// TokenResponse is the response body for POST /auth/token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
