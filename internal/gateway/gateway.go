package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avelis/socialmesh/internal/auth"
	"github.com/avelis/socialmesh/internal/config"
	"github.com/avelis/socialmesh/internal/httpapi"
	"github.com/avelis/socialmesh/internal/observability"
	"github.com/avelis/socialmesh/internal/ratelimit"
)

// Gateway is the edge process: rate limit, auth guard, dispatch.
type Gateway struct {
	engine   *gin.Engine
	table    *Table
	verifier *auth.Verifier
	limiter  ratelimit.Limiter
	keyFunc  ratelimit.KeyFunc
	logger   observability.Logger
}

// Option is a functional option for the gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithLimiter sets the request rate limiter.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(g *Gateway) {
		g.limiter = limiter
	}
}

// WithKeyFunc overrides how clients are keyed for rate limiting.
func WithKeyFunc(fn ratelimit.KeyFunc) Option {
	return func(g *Gateway) {
		g.keyFunc = fn
	}
}

// New builds the gateway from configuration.
func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	table, err := NewTable(cfg.Routes)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		table:    table,
		verifier: auth.NewVerifier(cfg.Auth.Secret),
		limiter:  ratelimit.NoopLimiter{},
		keyFunc:  ratelimit.ClientKey,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, route := range table.Routes() {
		route.proxy = newProxyHandler(route, cfg.ForwardTimeout.Duration(), g.logger)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), g.requestLogger())

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Dispatch happens in the catch-all: route resolution is prefix
	// matching over the table, not gin's router.
	engine.NoRoute(g.dispatch)

	g.engine = engine
	return g, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// dispatch is the pipeline every proxied request runs through. Order
// matters: quota before route match before auth before forward, and
// every rejection terminates without touching a backend.
func (g *Gateway) dispatch(c *gin.Context) {
	start := time.Now()

	result, err := g.limiter.Allow(c.Request.Context(), g.keyFunc(c.Request))
	if err == nil && !result.Allowed {
		if result.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds()+1)))
		}
		requestsTotal.WithLabelValues("unmatched", "429").Inc()
		httpapi.RateLimited(c)
		return
	}
	if err != nil {
		// Fail open: a broken counter store must not take the edge down.
		g.logger.Warn("rate limit check failed", observability.Error(err))
	}

	route := g.table.Match(c.Request.URL.Path)
	if route == nil {
		requestsTotal.WithLabelValues("unmatched", "404").Inc()
		httpapi.Error(c, http.StatusNotFound, "Route not found")
		return
	}

	if route.RequiresAuth {
		claims, err := g.verifier.VerifyHeader(c.GetHeader("Authorization"))
		if err != nil {
			authFailuresTotal.Inc()
			requestsTotal.WithLabelValues(route.Name, "401").Inc()
			g.rejectAuth(c, err)
			return
		}
		// The injected identity is the only thing backends trust.
		c.Request.Header.Set(httpapi.HeaderUserID, claims.UserID)
	} else {
		// Never let a client-supplied identity header through.
		c.Request.Header.Del(httpapi.HeaderUserID)
	}

	route.proxy.serve(c)

	status := c.Writer.Status()
	requestsTotal.WithLabelValues(route.Name, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(route.Name).Observe(time.Since(start).Seconds())
}

// rejectAuth terminates the request with 401. Verification failures
// must short-circuit: no partial identity ever reaches a backend.
func (g *Gateway) rejectAuth(c *gin.Context, err error) {
	message := "Invalid token"
	if errors.Is(err, auth.ErrMissingCredential) {
		message = "Authentication required"
	}
	g.logger.Warn("auth guard rejected request",
		observability.String("path", c.Request.URL.Path),
		observability.Error(err))
	httpapi.AbortError(c, http.StatusUnauthorized, message)
}

// requestLogger logs one line per request in the access-log style.
func (g *Gateway) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		g.logger.Info("request",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Duration("duration", time.Since(start)),
			observability.String("client", c.ClientIP()))
	}
}
