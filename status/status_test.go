// status_test.go
package status

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newResponse(code int, headers map[string]string) *http.Response {
	resp := &http.Response{StatusCode: code, Header: http.Header{}}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

// TestClassify verifies the mapping from HTTP responses to outcome classes.
func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		resp     *http.Response
		expected Class
	}{
		{"OK", newResponse(http.StatusOK, nil), ClassSuccess},
		{"Created", newResponse(http.StatusCreated, nil), ClassSuccess},
		{"TooManyRequests", newResponse(http.StatusTooManyRequests, nil), ClassThrottled},
		{"UnavailableWithRetryAfter", newResponse(http.StatusServiceUnavailable, map[string]string{"Retry-After": "3"}), ClassThrottled},
		{"UnavailableWithoutRetryAfter", newResponse(http.StatusServiceUnavailable, nil), ClassTransient},
		{"RequestTimeout", newResponse(http.StatusRequestTimeout, nil), ClassTransient},
		{"InternalServerError", newResponse(http.StatusInternalServerError, nil), ClassTransient},
		{"BadGateway", newResponse(http.StatusBadGateway, nil), ClassTransient},
		{"GatewayTimeout", newResponse(http.StatusGatewayTimeout, nil), ClassTransient},
		{"BadRequest", newResponse(http.StatusBadRequest, nil), ClassFatal},
		{"Unauthorized", newResponse(http.StatusUnauthorized, nil), ClassFatal},
		{"UnprocessableEntity", newResponse(http.StatusUnprocessableEntity, nil), ClassFatal},
		{"NotImplemented", newResponse(http.StatusNotImplemented, nil), ClassFatal},
		{"NoResponse", nil, ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.resp))
		})
	}
}

func TestIsNonRetryableStatusCode(t *testing.T) {
	assert.True(t, IsNonRetryableStatusCode(newResponse(http.StatusForbidden, nil)))
	assert.False(t, IsNonRetryableStatusCode(newResponse(http.StatusTooManyRequests, nil)))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "success", ClassSuccess.String())
	assert.Equal(t, "throttled", ClassThrottled.String())
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "fatal", ClassFatal.String())
}
