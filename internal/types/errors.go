package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField   ErrorCode = "validation_missing_required_field"
	ErrCodeValidationUnknownProduct ErrorCode = "validation_unknown_product_code"
	ErrCodeValidationUnknownCredit  ErrorCode = "validation_unknown_credit_code"
	ErrCodeValidationUnknownAction  ErrorCode = "validation_unknown_action_code"
	ErrCodeValidationBadOutcome     ErrorCode = "validation_invalid_settlement_outcome"
	ErrCodeValidationParticipants   ErrorCode = "validation_participants_out_of_range"

	// Auth (401/403)
	ErrCodeAuthTokenMissing    ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid    ErrorCode = "auth_token_invalid"
	ErrCodeAuthAdminKeyInvalid ErrorCode = "auth_admin_key_invalid"

	// Permission (403)
	ErrCodePermissionPromoDisabled ErrorCode = "permission_promo_grants_disabled"
	ErrCodePermissionClubMismatch  ErrorCode = "permission_club_mismatch"

	// Not Found (404)
	ErrCodeNotFoundTransaction  ErrorCode = "not_found_transaction"
	ErrCodeNotFoundCredit       ErrorCode = "not_found_credit"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundClub         ErrorCode = "not_found_club"

	// Conflict (409)
	ErrCodeConflictRequestInProgress  ErrorCode = "conflict_request_in_progress"
	ErrCodeConflictConcurrent         ErrorCode = "conflict_concurrent_modification"
	ErrCodeConflictSourceNotCompleted ErrorCode = "conflict_source_transaction_not_completed"

	// Payment-specific (402)
	ErrCodeCreditUnavailable ErrorCode = "credit_unavailable"

	// Entitlement-specific (403)
	ErrCodeEntitlementDenied ErrorCode = "entitlement_denied"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamPayments   ErrorCode = "upstream_payments_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case s == string(ErrCodeEntitlementDenied):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeCreditUnavailable):
		return http.StatusPaymentRequired // 402
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
