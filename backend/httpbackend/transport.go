// httpbackend/transport.go
package httpbackend

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/deploymenttheory/go-api-admission-scheduler/logger"
	"go.uber.org/zap"
)

// DefaultMaxRedirects caps the redirects followed for a single invocation.
const DefaultMaxRedirects = 10

// MaxRedirectsError is returned when a request exceeds the redirect cap.
type MaxRedirectsError struct {
	MaxRedirects int
}

func (e *MaxRedirectsError) Error() string {
	return fmt.Sprintf("maximum redirects reached: %d", e.MaxRedirects)
}

// RedirectLoopError is returned when a redirect chain revisits a URL.
type RedirectLoopError struct {
	URL string
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("redirect loop detected at %s", e.URL)
}

// isRedirectError reports whether err was produced by the redirect policy.
func isRedirectError(err error) bool {
	var maxErr *MaxRedirectsError
	var loopErr *RedirectLoopError
	return errors.As(err, &maxErr) || errors.As(err, &loopErr)
}

// redirectPolicy decides which redirects an invocation follows.
type redirectPolicy struct {
	maxRedirects int
	log          logger.Logger
}

// checkRedirect is installed as http.Client.CheckRedirect. req is the upcoming request and
// via the requests already made, oldest first.
func (p *redirectPolicy) checkRedirect(req *http.Request, via []*http.Request) error {
	if p.maxRedirects < 0 {
		return http.ErrUseLastResponse
	}

	last := via[len(via)-1]
	// A body-carrying method is only replayed on 307 and 308, where the method is preserved.
	if last.Method == http.MethodPost || last.Method == http.MethodPatch {
		code := 0
		if req.Response != nil {
			code = req.Response.StatusCode
		}
		if code != http.StatusTemporaryRedirect && code != http.StatusPermanentRedirect {
			p.log.Warn("Redirect on non-idempotent method, not following",
				zap.String("Method", last.Method),
				zap.Int("StatusCode", code),
			)
			return http.ErrUseLastResponse
		}
	}

	if len(via) > p.maxRedirects {
		p.log.Warn("Maximum redirects reached", zap.Int("MaxRedirects", p.maxRedirects))
		return &MaxRedirectsError{MaxRedirects: p.maxRedirects}
	}
	for _, prev := range via {
		if prev.URL.String() == req.URL.String() {
			_ = p.log.Error("Redirect loop detected", zap.String("URL", req.URL.String()))
			return &RedirectLoopError{URL: req.URL.String()}
		}
	}

	if req.URL.Host != via[0].URL.Host {
		for key := range req.Header {
			if sensitiveHeaders[http.CanonicalHeaderKey(key)] {
				req.Header.Del(key)
			}
		}
	}

	p.log.Info("Following redirect",
		zap.String("From", last.URL.String()),
		zap.String("To", req.URL.String()),
		zap.Int("RedirectCount", len(via)),
	)
	return nil
}

// newTransport clones the default transport and routes it through proxyURL when set.
// Credentials in the proxy URL's user info are sent as Proxy-Authorization.
func newTransport(proxyURL string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL == "" {
		return transport, nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("proxy URL must be absolute, got %q", proxyURL)
	}
	transport.Proxy = http.ProxyURL(parsed)
	return transport, nil
}
