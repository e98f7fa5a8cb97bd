package errors

import "net/http"

// Error code constants.
// Errors carry code + params; backend logs are always in English and clients
// map codes to their own copy.

// Service registry error codes.
const (
	CodeServiceNotFound   = "SERVICE_NOT_FOUND"
	CodeServiceExists     = "SERVICE_ALREADY_EXISTS"
	CodeServiceOwned      = "SERVICE_ALREADY_OWNED"
	CodeServiceEditDenied = "SERVICE_EDIT_DENIED"
)

// Approval workflow error codes.
const (
	CodeRequestNotFound   = "APPROVAL_REQUEST_NOT_FOUND"
	CodeRequestNotPending = "REQUEST_NOT_PENDING"
	CodeDuplicateRequest  = "DUPLICATE_PENDING_REQUEST"
	CodeAlreadyDecided    = "DECISION_ALREADY_RECORDED"
	CodeGateNotEligible   = "GATE_NOT_ELIGIBLE"
	CodeGateUnknown       = "GATE_UNKNOWN"
	CodeApprovalConflict  = "APPROVAL_CONFLICT"
	CodeRequesterInvalid  = "REQUESTER_INVALID"
	CodeCancelNotAllowed  = "CANCEL_NOT_ALLOWED"
)

// Configuration store error codes.
const (
	CodeKVNotFound    = "KV_KEY_NOT_FOUND"
	CodeKVCASConflict = "KV_CAS_CONFLICT"
	CodeKVTxnFailed   = "KV_TXN_FAILED"
	CodeKVBadPath     = "KV_PATH_INVALID"
)

// Sharing error codes.
const (
	CodeShareNotFound   = "SHARE_NOT_FOUND"
	CodeShareNotAllowed = "SHARE_NOT_ALLOWED"
)

// Auth error codes.
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
)

// User error codes.
const (
	CodeUserNotFound = "USER_NOT_FOUND"
	CodeUserExists   = "USER_ALREADY_EXISTS"
)

// Validation error codes.
const (
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
	CodeValidationFailed    = "VALIDATION_FAILED"
)

// Convenience constructors using predefined codes.

// ErrServiceNotFound creates a service not found error. Used both when the
// service row is absent and when the caller may not see it: the two cases are
// deliberately indistinguishable.
func ErrServiceNotFound() *AppError {
	return &AppError{
		Code:       CodeServiceNotFound,
		Message:    "service not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// ErrRequestNotFound creates an approval request not found error.
func ErrRequestNotFound() *AppError {
	return &AppError{
		Code:       CodeRequestNotFound,
		Message:    "approval request not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// ErrCASConflict creates a compare-and-swap conflict carrying the index the
// store holds now, so callers can re-read and retry.
func ErrCASConflict(currentIndex uint64) *AppError {
	err := Conflict(CodeKVCASConflict, "supplied index does not match current entry")
	return err.WithParams(map[string]interface{}{"current_index": currentIndex})
}

// ErrKeyNotFound creates a KV key not found error.
func ErrKeyNotFound() *AppError {
	return &AppError{
		Code:       CodeKVNotFound,
		Message:    "key not found",
		HTTPStatus: http.StatusNotFound,
	}
}
