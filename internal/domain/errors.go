package domain

import (
	"errors"
	"fmt"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so wrapped copies produced by
// WithError still satisfy errors.Is against the sentinel.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: 404,
	}

	// Inbound events

	ErrSignatureInvalid = &AppError{
		Code:       "SIGNATURE_INVALID",
		Message:    "Webhook signature verification failed",
		StatusCode: 401,
	}

	ErrStoreUnavailable = &AppError{
		Code:       "STORE_UNAVAILABLE",
		Message:    "Storage is temporarily unavailable",
		StatusCode: 503,
	}

	ErrDeliveryNotFound = &AppError{
		Code:       "DELIVERY_NOT_FOUND",
		Message:    "Delivery record not found",
		StatusCode: 404,
	}

	// Tenants and credentials

	ErrTenantNotFound = &AppError{
		Code:       "TENANT_NOT_FOUND",
		Message:    "Tenant not found",
		StatusCode: 404,
	}

	ErrInvalidTenantKey = &AppError{
		Code:       "INVALID_TENANT_KEY",
		Message:    "Tenant key must be a lowercase domain name",
		StatusCode: 422,
	}

	ErrDecryption = &AppError{
		Code:       "DECRYPTION_FAILED",
		Message:    "Credential could not be decrypted",
		StatusCode: 500,
	}

	ErrCredentialUnavailable = &AppError{
		Code:       "CREDENTIAL_UNAVAILABLE",
		Message:    "Tenant credential unavailable, reauthorization required",
		StatusCode: 409,
	}

	// Jobs

	ErrJobNotFound = &AppError{
		Code:       "JOB_NOT_FOUND",
		Message:    "Job not found",
		StatusCode: 404,
	}

	ErrJobNotRunning = &AppError{
		Code:       "JOB_NOT_RUNNING",
		Message:    "Job is not in the expected state",
		StatusCode: 409,
	}

	ErrUnknownLane = &AppError{
		Code:       "UNKNOWN_LANE",
		Message:    "Unknown job lane",
		StatusCode: 422,
	}
)
