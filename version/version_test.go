// version_test.go
package version

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestGetUserAgentHeader verifies that the GetUserAgentHeader function returns the expected user agent string
func TestGetUserAgentHeader(t *testing.T) {
	expectedUserAgent := fmt.Sprintf("%s/%s", UserAgentBase, Version)
	userAgent := GetUserAgentHeader()

	assert.Equal(t, expectedUserAgent, userAgent, "User agent string should match expected format")
}

func TestGetAppName(t *testing.T) {
	assert.Equal(t, "go-api-admission-scheduler", GetAppName())
	assert.NotEmpty(t, GetVersion())
}
