package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"

	"github.com/avelis/socialmesh/internal/observability"
)

// hopHeaders are connection-scoped and must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// forwardedContentType is what non-multipart bodies are normalized to.
// Multipart uploads keep their original content-type because the
// boundary parameter is load-bearing.
const forwardedContentType = "application/json"

// proxyHandler forwards requests for one route.
type proxyHandler struct {
	route   *Route
	reverse *httputil.ReverseProxy
	timeout time.Duration
	logger  observability.Logger
}

// newProxyHandler builds the reverse proxy for a route. The transport
// is wrapped in a circuit breaker so a dead backend sheds load fast
// instead of tying up gateway connections until each timeout.
func newProxyHandler(route *Route, timeout time.Duration, logger observability.Logger) *proxyHandler {
	p := &proxyHandler{
		route:   route,
		timeout: timeout,
		logger:  logger,
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: route.Name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	p.reverse = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(route.Backend)
			pr.Out.URL.Path = route.RewritePath(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.Out.Host = route.Backend.Host
			pr.SetXForwarded()

			for _, h := range hopHeaders {
				pr.Out.Header.Del(h)
			}
			if !strings.HasPrefix(pr.In.Header.Get("Content-Type"), "multipart/") {
				pr.Out.Header.Set("Content-Type", forwardedContentType)
			}
		},
		Transport: &breakerTransport{
			base:    http.DefaultTransport,
			breaker: breaker,
		},
		ErrorHandler: p.handleError,
	}
	return p
}

// serve forwards the request with the per-route timeout applied.
func (p *proxyHandler) serve(c *gin.Context) {
	ctx := c.Request.Context()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	p.reverse.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
}

// handleError answers transport-level backend failures. The gateway
// survives; the caller gets a 500 with the underlying cause.
func (p *proxyHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	proxyErrorsTotal.WithLabelValues(p.route.Name).Inc()
	p.logger.Error("backend request failed",
		observability.String("route", p.route.Name),
		observability.String("path", r.URL.Path),
		observability.Error(err))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	body, _ := json.Marshal(gin.H{
		"success": false,
		"message": "Internal server error",
		"error":   err.Error(),
	})
	_, _ = w.Write(body)
}

// breakerTransport runs each round trip through the route's circuit
// breaker. Only transport errors count as failures; backend status
// codes are the backend's business.
type breakerTransport struct {
	base    http.RoundTripper
	breaker *gobreaker.CircuitBreaker
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.breaker.Execute(func() (interface{}, error) {
		return t.base.RoundTrip(req)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*http.Response), nil
}
