package remote

import "net/http"

// HTTPStatus maps an error code to the HTTP status the document server
// answers with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeResourceExhausted:
		return http.StatusTooManyRequests
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument, CodeOutOfRange:
		return http.StatusBadRequest
	case CodeAlreadyExists, CodeAborted:
		return http.StatusConflict
	case CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case CodeUnimplemented:
		return http.StatusNotImplemented
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// CodeForStatus maps an HTTP status to an error code, for responses that
// carry no code of their own.
func CodeForStatus(status int) Code {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeResourceExhausted
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return CodePermissionDenied
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict:
		return CodeAborted
	case status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented:
		return CodeUnimplemented
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CodeDeadlineExceeded
	case status >= 400 && status < 500:
		return CodeInvalidArgument
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return CodeUnavailable
	}
	return CodeInternal
}
