package a2a

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the runtime configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTokenNotFound is returned when a token id does not exist
	ErrTokenNotFound = errors.New("token not found")

	// ErrConversationNotFound is returned when a conversation does not exist
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationClosed is returned when appending to a concluded conversation
	ErrConversationClosed = errors.New("conversation is not active")

	// ErrStoreCorrupt is returned when a persisted store file cannot be parsed.
	// Recovery is an operator task; the store never overwrites the file.
	ErrStoreCorrupt = errors.New("store file is corrupt")

	// ErrInvalidEndpoint is returned when an a2a:// endpoint URI cannot be parsed
	ErrInvalidEndpoint = errors.New("invalid a2a endpoint")
)

// ErrorCode is a stable, enumerable wire error code. Codes appear verbatim
// in HTTP error bodies and, uppercased, on log events.
type ErrorCode string

const (
	CodeMissingToken          ErrorCode = "missing_token"
	CodeTokenInvalidOrExpired ErrorCode = "token_invalid_or_expired"
	CodeTokenExpired          ErrorCode = "token_expired"
	CodeTokenRevoked          ErrorCode = "token_revoked"
	CodePermissionDenied      ErrorCode = "permission_denied"
	CodeRateLimited           ErrorCode = "rate_limited"
	CodeMissingMessage        ErrorCode = "missing_message"
	CodeMissingConversationID ErrorCode = "missing_conversation_id"
	CodeConversationNotFound  ErrorCode = "conversation_not_found"
	CodePeerUnreachable       ErrorCode = "peer_unreachable"
	CodeInternalError         ErrorCode = "internal_error"
)

// statusByCode maps wire error codes to HTTP status codes.
var statusByCode = map[ErrorCode]int{
	CodeMissingToken:          http.StatusUnauthorized,
	CodeTokenInvalidOrExpired: http.StatusUnauthorized,
	CodeTokenExpired:          http.StatusUnauthorized,
	CodeTokenRevoked:          http.StatusUnauthorized,
	CodePermissionDenied:      http.StatusForbidden,
	CodeRateLimited:           http.StatusTooManyRequests,
	CodeMissingMessage:        http.StatusBadRequest,
	CodeMissingConversationID: http.StatusBadRequest,
	CodeConversationNotFound:  http.StatusNotFound,
	CodePeerUnreachable:       http.StatusBadGateway,
	CodeInternalError:         http.StatusInternalServerError,
}

// hintByCode maps wire error codes to operator-visible hints.
var hintByCode = map[ErrorCode]string{
	CodeMissingToken:          "send the invite token as 'Authorization: Bearer fed_…'",
	CodeTokenInvalidOrExpired: "this token is not recognized; request a fresh invite token from the owner",
	CodeTokenExpired:          "this token has expired; request a fresh invite token from the owner",
	CodeTokenRevoked:          "this token was revoked by the owner; request a fresh invite token",
	CodePermissionDenied:      "this token does not grant access to the requested resource",
	CodeRateLimited:           "rate limit reached; retry after the current window resets",
	CodeMissingMessage:        "the request body must include a non-empty 'message' field",
	CodeMissingConversationID: "the request body must include a 'conversation_id' field",
	CodeConversationNotFound:  "the conversation id is unknown to this node",
	CodePeerUnreachable:       "the peer endpoint did not respond; check the host and tunnel",
}

// Status returns the HTTP status for the code, defaulting to 500.
func (c ErrorCode) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Hint returns the operator-visible hint for the code, if any.
func (c ErrorCode) Hint() string {
	return hintByCode[c]
}

// APIError is a wire-level error carrying its code and hint. The pipeline
// converts every path-level failure into one of these; source error text is
// never placed in Message.
type APIError struct {
	Code    ErrorCode
	Message string
	Hint    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError builds an APIError with the code's default hint.
func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message, Hint: code.Hint()}
}

// AsAPIError unwraps err to an *APIError, or wraps it as internal_error.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Code: CodeInternalError, Message: "internal error"}
}
