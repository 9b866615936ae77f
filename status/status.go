// status.go
// This package provides helpers that sort HTTP responses into the scheduler's outcome classes.
package status

import (
	"net/http"
)

// Class is the outcome class an HTTP status code maps to.
type Class int

const (
	// ClassSuccess covers 2xx responses.
	ClassSuccess Class = iota
	// ClassThrottled covers responses where the backend signalled it is over capacity.
	ClassThrottled
	// ClassTransient covers failures that may succeed when retried.
	ClassTransient
	// ClassFatal covers permanent failures.
	ClassFatal
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassThrottled:
		return "throttled"
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// IsSuccessStatusCode checks if the provided HTTP status code is a 2xx code.
func IsSuccessStatusCode(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// IsThrottled checks if the response signals that the backend is over capacity.
//
// - 429 Too Many Requests is always a throttling signal.
// - 503 Service Unavailable is treated as throttling only when it carries a Retry-After header,
// which is how overloaded generative backends commonly shed load.
func IsThrottled(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusServiceUnavailable:
		return resp.Header.Get("Retry-After") != ""
	default:
		return false
	}
}

// IsNonRetryableStatusCode checks if the provided response indicates a non-retryable error.
func IsNonRetryableStatusCode(resp *http.Response) bool {
	nonRetryableStatusCodes := map[int]bool{
		http.StatusBadRequest:                   true,
		http.StatusUnauthorized:                 true,
		http.StatusPaymentRequired:              true,
		http.StatusForbidden:                    true,
		http.StatusNotFound:                     true,
		http.StatusMethodNotAllowed:             true,
		http.StatusNotAcceptable:                true,
		http.StatusProxyAuthRequired:            true,
		http.StatusConflict:                     true,
		http.StatusGone:                         true,
		http.StatusLengthRequired:               true,
		http.StatusPreconditionFailed:           true,
		http.StatusRequestEntityTooLarge:        true,
		http.StatusRequestURITooLong:            true,
		http.StatusUnsupportedMediaType:         true,
		http.StatusRequestedRangeNotSatisfiable: true,
		http.StatusExpectationFailed:            true,
		http.StatusUnprocessableEntity:          true,
		http.StatusLocked:                       true,
		http.StatusFailedDependency:             true,
		http.StatusUpgradeRequired:              true,
		http.StatusPreconditionRequired:         true,
		http.StatusRequestHeaderFieldsTooLarge:  true,
		http.StatusUnavailableForLegalReasons:   true,
	}

	_, isNonRetryable := nonRetryableStatusCodes[resp.StatusCode]
	return isNonRetryable
}

// IsTransientError checks if an HTTP response indicates a transient error.
func IsTransientError(resp *http.Response) bool {
	transientStatusCodes := map[int]bool{
		http.StatusRequestTimeout:      true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
	return resp != nil && transientStatusCodes[resp.StatusCode]
}

// Classify maps a response to its outcome class. Throttling takes precedence over the
// transient class, and anything not explicitly retryable is fatal.
func Classify(resp *http.Response) Class {
	switch {
	case resp == nil:
		return ClassTransient
	case IsSuccessStatusCode(resp.StatusCode):
		return ClassSuccess
	case IsThrottled(resp):
		return ClassThrottled
	case IsTransientError(resp):
		return ClassTransient
	default:
		return ClassFatal
	}
}
