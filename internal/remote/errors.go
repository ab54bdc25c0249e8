package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code is a remote store error code.
type Code string

// Error codes reported by the remote store.
const (
	CodeResourceExhausted  Code = "resource-exhausted"
	CodePermissionDenied   Code = "permission-denied"
	CodeUnavailable        Code = "unavailable"
	CodeDeadlineExceeded   Code = "deadline-exceeded"
	CodeNotFound           Code = "not-found"
	CodeAlreadyExists      Code = "already-exists"
	CodeFailedPrecondition Code = "failed-precondition"
	CodeAborted            Code = "aborted"
	CodeOutOfRange         Code = "out-of-range"
	CodeUnimplemented      Code = "unimplemented"
	CodeInternal           Code = "internal"
	CodeDataLoss           Code = "data-loss"
	CodeInvalidArgument    Code = "invalid-argument"
	CodeUnknown            Code = "unknown"
)

var knownCodes = []Code{
	CodeResourceExhausted,
	CodePermissionDenied,
	CodeUnavailable,
	CodeDeadlineExceeded,
	CodeNotFound,
	CodeAlreadyExists,
	CodeFailedPrecondition,
	CodeAborted,
	CodeOutOfRange,
	CodeUnimplemented,
	CodeInternal,
	CodeDataLoss,
	CodeInvalidArgument,
}

// Error is a failure reported by the remote store.
//
// Check the class of an error with IsPermanent and IsRetryable:
//
//	if remote.IsPermanent(err) {
//	    // surface to the user, do not queue
//	}
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf returns an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf classifies err. Typed errors report their own code; otherwise
// the text is scanned for a known code (either spelling), then context and
// network failures map to the transient codes.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var re *Error
	if errors.As(err, &re) {
		return normalizeCode(string(re.Code))
	}

	// Deadline and cancellation
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return CodeAborted
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "quota exceeded") || strings.Contains(msg, "quota exhausted") {
		return CodeResourceExhausted
	}
	for _, c := range knownCodes {
		if strings.Contains(msg, string(c)) || strings.Contains(msg, strings.ReplaceAll(string(c), "-", "_")) {
			return c
		}
	}

	// Network failures
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeDeadlineExceeded
		}
		return CodeUnavailable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CodeUnavailable
	}

	return CodeUnknown
}

func normalizeCode(s string) Code {
	c := Code(strings.ReplaceAll(strings.ToLower(s), "_", "-"))
	for _, known := range knownCodes {
		if c == known {
			return c
		}
	}
	return CodeUnknown
}

// IsPermanent returns true for errors that retrying cannot fix without
// outside intervention: an exhausted quota or a denied permission.
func IsPermanent(err error) bool {
	switch CodeOf(err) {
	case CodeResourceExhausted, CodePermissionDenied:
		return true
	}
	return false
}

// IsRetryable returns true for errors whose write should be queued for a
// later attempt. Every non-permanent failure is retryable.
func IsRetryable(err error) bool {
	return err != nil && !IsPermanent(err)
}

// IsQuotaExhausted returns true when the store refused work for quota.
func IsQuotaExhausted(err error) bool {
	return CodeOf(err) == CodeResourceExhausted
}

// FriendlyMessage returns the message shown to users for err.
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())

	switch code := CodeOf(err); {
	case code == CodeResourceExhausted || strings.Contains(msg, "quota"):
		return "The system is currently busy (Daily Quota Reached). Please try again later or contact support."
	case code == CodePermissionDenied:
		return "You don't have permission to perform this action."
	case code == CodeUnavailable || code == CodeDeadlineExceeded || strings.Contains(msg, "network"):
		return "Network connection issue. Please check your internet."
	case code == CodeInvalidArgument || strings.Contains(msg, "size"):
		return "Data too large to save (Limit Exceeded). Please reach out to support."
	case code == CodeNotFound:
		return "The requested data could not be found."
	}
	return "An unexpected system error occurred."
}
