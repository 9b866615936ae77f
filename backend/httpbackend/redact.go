// httpbackend/redact.go
package httpbackend

import (
	"net/http"
	"net/url"

	"github.com/deploymenttheory/go-api-admission-scheduler/logger"
	"go.uber.org/zap"
)

// sensitiveHeaders lists canonical header keys whose values never reach the logs.
var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Accesstoken":         true,
	"Proxy-Authorization": true,
	"X-Api-Key":           true,
	"Cookie":              true,
	"Set-Cookie":          true,
}

// RedactSensitiveHeaderData redacts sensitive data based on the hideSensitiveData flag.
func RedactSensitiveHeaderData(hideSensitiveData bool, key, value string) string {
	if hideSensitiveData && sensitiveHeaders[http.CanonicalHeaderKey(key)] {
		return "REDACTED"
	}
	return value
}

// logHeaders debug-logs headers with sensitive values redacted.
func logHeaders(log logger.Logger, msg string, header http.Header, hideSensitiveData bool) {
	if log.GetLogLevel() > logger.LogLevelDebug {
		return
	}
	redacted := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		redacted[key] = RedactSensitiveHeaderData(hideSensitiveData, key, values[0])
	}
	log.Debug(msg, zap.Any("Headers", redacted))
}

// RedactURL masks the password of a URL's user info. Unparseable input is returned as is.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return parsed.Redacted()
}
