package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrDuplicateRequestID ErrorType = "DUPLICATE_REQUEST_ID"
	ErrRecordNotFound     ErrorType = "RECORD_NOT_FOUND"
	ErrAlreadyFinal       ErrorType = "ALREADY_FINAL"
	ErrPastPayoutPeriod   ErrorType = "PAST_PAYOUT_PERIOD"
	ErrNameAlreadyExists  ErrorType = "NAME_ALREADY_EXISTS"
	ErrNotFound           ErrorType = "NOT_FOUND"
	ErrUnauthorized       ErrorType = "UNAUTHORIZED"
	ErrAuthFailed         ErrorType = "AUTH_FAILED"
	ErrOwnerResolution    ErrorType = "OWNER_RESOLUTION_FAILED"
	ErrTransferFailed     ErrorType = "TRANSFER_FAILED"
	ErrInvalidRequest     ErrorType = "INVALID_REQUEST"
	ErrUpstream           ErrorType = "UPSTREAM_ERROR"
	ErrPersistence        ErrorType = "PERSISTENCE_FAILED"
	ErrInternal           ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func Newf(errType ErrorType, format string, args ...any) *AppError {
	return New(errType, fmt.Sprintf(format, args...), nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewUnauthorized(msg string) *AppError {
	return New(ErrUnauthorized, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// Is reports whether err carries an AppError of the given type anywhere in its chain.
func Is(err error, errType ErrorType) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// TypeOf returns the AppError type of err, or ErrInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrInternal
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrUnauthorized:
		return http.StatusForbidden
	case ErrNotFound, ErrRecordNotFound:
		return http.StatusNotFound
	case ErrDuplicateRequestID, ErrAlreadyFinal, ErrPastPayoutPeriod, ErrNameAlreadyExists:
		return http.StatusConflict
	case ErrOwnerResolution:
		return http.StatusUnprocessableEntity
	case ErrTransferFailed, ErrUpstream:
		return http.StatusBadGateway
	case ErrPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrDuplicateRequestID:
		return "Request ids are unique per tenant for its lifetime; use a new id."
	case ErrPastPayoutPeriod:
		return "The record is already due and can only be settled."
	case ErrAuthFailed:
		return "Check the X-Api-Key header."
	case ErrUnauthorized:
		return "The calling account lacks the required role."
	case ErrOwnerResolution:
		return "Check the NFT contract address and token id."
	case ErrTransferFailed:
		return "Fund the tenant treasury; the record will be retried on the next settlement."
	case ErrPersistence:
		return "The ledger store is unreachable; retry once it is back."
	default:
		return ""
	}
}
