package model

import "fmt"

// ErrorCode is the stable, taxonomized code surfaced at the tool boundary.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "VALIDATION"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeConflict           ErrorCode = "CONFLICT"
	CodeConsentRequired    ErrorCode = "CONSENT_REQUIRED"
	CodeSafeguardViolation ErrorCode = "SAFEGUARD_VIOLATION"
	CodeFramingViolation   ErrorCode = "FRAMING_VIOLATION"
	CodeProjectViolation   ErrorCode = "PROJECT_VIOLATION"
	CodeStoreError         ErrorCode = "STORE_ERROR"
	CodeUpstreamExhausted  ErrorCode = "UPSTREAM_EXHAUSTED"
	CodeRetentionExpired   ErrorCode = "RETENTION_EXPIRED"
	CodeAmbiguous          ErrorCode = "AMBIGUOUS"
	CodeInvalidSector      ErrorCode = "INVALID_SECTOR"
	CodeHandlerError       ErrorCode = "HANDLER_ERROR"
)

// Error is a coded error carried across the tool boundary. Field names the
// offending parameter for validation errors; Details carries structured
// context (e.g. candidate edge ids on AMBIGUOUS).
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Details any       `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs a coded error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError constructs a VALIDATION error naming the bad field.
func NewValidationError(field, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...), Field: field}
}

// WithDetails attaches structured context and returns the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}
