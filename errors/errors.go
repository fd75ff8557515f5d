package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrInvalidIdentifier = fmt.Errorf("invalid identifier")
	ErrInvalidSender     = fmt.Errorf("invalid sender")
	ErrMissingText       = fmt.Errorf("missing text")
	ErrMissingFile       = fmt.Errorf("missing file")
	ErrUploadFailed      = fmt.Errorf("upload failed")
	ErrPersistenceFailed = fmt.Errorf("persistence failed")

	ErrSenderNotFound  = fmt.Errorf("sender not found in participant directory")
	ErrGatewayDisabled = fmt.Errorf("media gateway is not configured")
	ErrSinkFull        = fmt.Errorf("subscriber outbound buffer is full")
	ErrSinkClosed      = fmt.Errorf("subscriber connection is closed")
	ErrNotJoined       = fmt.Errorf("connection has not joined a room")
	ErrUnauthenticated = fmt.Errorf("verified caller identity required")
	ErrPayloadTooLarge = fmt.Errorf("payload too large")
	ErrInvalidBody     = fmt.Errorf("invalid request body")
	ErrRateLimited     = fmt.Errorf("rate limit exceeded")
	ErrCorruptedRecord = fmt.Errorf("stored record is corrupted")
)

// Reason is the client-visible code of a rejected request.
type Reason string

const (
	ReasonInvalidIdentifier Reason = "InvalidIdentifier"
	ReasonInvalidSender     Reason = "InvalidSender"
	ReasonMissingText       Reason = "MissingText"
	ReasonMissingFile       Reason = "MissingFile"
	ReasonUploadFailed      Reason = "UploadFailed"
	ReasonPersistenceFailed Reason = "PersistenceFailed"
	ReasonInvalidBody       Reason = "InvalidBody"
	ReasonPayloadTooLarge   Reason = "PayloadTooLarge"
	ReasonUnauthenticated   Reason = "Unauthenticated"
	ReasonRateLimited       Reason = "RateLimited"
	ReasonNotJoined         Reason = "NotJoined"
	ReasonInternal          Reason = "Internal"
)

var reasonSentinels = map[Reason]error{
	ReasonInvalidIdentifier: ErrInvalidIdentifier,
	ReasonInvalidSender:     ErrInvalidSender,
	ReasonMissingText:       ErrMissingText,
	ReasonMissingFile:       ErrMissingFile,
	ReasonUploadFailed:      ErrUploadFailed,
	ReasonPersistenceFailed: ErrPersistenceFailed,
	ReasonInvalidBody:       ErrInvalidBody,
	ReasonPayloadTooLarge:   ErrPayloadTooLarge,
	ReasonUnauthenticated:   ErrUnauthenticated,
	ReasonRateLimited:       ErrRateLimited,
	ReasonNotJoined:         ErrNotJoined,
}

// Rejection is the terminal outcome of a send request that was not accepted.
// It matches both its reason sentinel and its cause with errors.Is.
type Rejection struct {
	Reason Reason
	Field  string
	Cause  error
}

func Reject(reason Reason, field string, cause error) *Rejection {
	return &Rejection{Reason: reason, Field: field, Cause: cause}
}

func (r *Rejection) Error() string {
	msg := string(r.Reason)
	if r.Field != "" {
		msg = fmt.Sprintf("%s (%s)", msg, r.Field)
	}
	if r.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, r.Cause)
	}
	return msg
}

func (r *Rejection) Unwrap() []error {
	var errs []error
	if sentinel, ok := reasonSentinels[r.Reason]; ok {
		errs = append(errs, sentinel)
	}
	if r.Cause != nil {
		errs = append(errs, r.Cause)
	}
	return errs
}

// UploadError reports a failed transfer to the external media host.
type UploadError struct {
	Cause error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: %v", e.Cause)
}

func (e *UploadError) Unwrap() []error {
	return []error{ErrUploadFailed, e.Cause}
}

// ReasonCode extracts the client-visible reason of err.
func ReasonCode(err error) Reason {
	var rejection *Rejection
	if stderrors.As(err, &rejection) {
		return rejection.Reason
	}
	for reason, sentinel := range reasonSentinels {
		if stderrors.Is(err, sentinel) {
			return reason
		}
	}
	return ReasonInternal
}

// MapToHTTPStatus separates bad input (4xx) from dependency outages (5xx).
func MapToHTTPStatus(err error) int {
	switch ReasonCode(err) {
	case ReasonInvalidIdentifier, ReasonInvalidSender, ReasonMissingText,
		ReasonMissingFile, ReasonInvalidBody, ReasonNotJoined:
		return http.StatusBadRequest
	case ReasonPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ReasonUnauthenticated:
		return http.StatusUnauthorized
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Cause returns the underlying dependency error of a rejection, if any.
func Cause(err error) error {
	var rejection *Rejection
	if stderrors.As(err, &rejection) {
		return rejection.Cause
	}
	return nil
}
