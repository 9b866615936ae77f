// ratehandler/headers.go
package ratehandler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/deploymenttheory/go-api-admission-scheduler/logger"
	"go.uber.org/zap"
)

// skewBuffer is added to X-RateLimit-Reset based waits to absorb clock skew.
const skewBuffer = 5 * time.Second

// ParseRateLimitHeaders extracts a retry hint from a throttling response. It understands
// 'Retry-After' as delay seconds or an HTTP date, and 'X-RateLimit-Reset' (epoch seconds)
// when 'X-RateLimit-Remaining' is zero. It returns zero when no usable hint is present.
func ParseRateLimitHeaders(resp *http.Response, log logger.Logger) time.Duration {
	if resp == nil {
		return 0
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			if seconds < 0 {
				return 0
			}
			return time.Duration(seconds) * time.Second
		}
		if retryTime, err := http.ParseTime(retryAfter); err == nil {
			wait := time.Until(retryTime)
			if wait < 0 {
				return 0
			}
			return wait
		}
		log.Debug("Unparseable Retry-After header", zap.String("retry_after", retryAfter))
	}

	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
			epoch, err := strconv.ParseInt(reset, 10, 64)
			if err != nil {
				log.Debug("Unparseable X-RateLimit-Reset header", zap.String("reset", reset))
				return 0
			}
			wait := time.Until(time.Unix(epoch, 0)) + skewBuffer
			if wait < 0 {
				return 0
			}
			return wait
		}
	}

	return 0
}
