// Package httpapi assembles the Public HTTP Surface — spec.md §2 item 10
// / SPEC_FULL.md §4.10. It is a thin wrapper around *gin.Engine rather
// than the teacher's qi.Engine: this gateway's routing needs (one
// catch-all proxy group, a handful of device-management verbs, a
// websocket upgrade, and static doc/metrics endpoints) don't need qi's
// generic request/response binding layer, but the middleware order,
// JSON error envelope, and graceful-shutdown shape below are grounded
// directly on it.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wdcbot/qingfeng"
	"go.uber.org/zap"

	"github.com/shridarpatil/wagateway/internal/authn"
	"github.com/shridarpatil/wagateway/internal/cache"
	"github.com/shridarpatil/wagateway/internal/metrics"
	"github.com/shridarpatil/wagateway/internal/proxy"
	"github.com/shridarpatil/wagateway/internal/queue"
	"github.com/shridarpatil/wagateway/internal/resolver"
	"github.com/shridarpatil/wagateway/internal/store"
	"github.com/shridarpatil/wagateway/internal/supervisor"
	"github.com/shridarpatil/wagateway/internal/webhook"
	"github.com/shridarpatil/wagateway/internal/wsmirror"
)

// Deps collects every service the router wires into request handlers.
// Constructed once at startup (cmd/gateway) and passed through, never a
// package-level singleton — SPEC_FULL.md §9's replacement for the
// teacher's process-global services.
type Deps struct {
	Store      *store.Store
	Resolver   *resolver.Resolver
	Supervisor *supervisor.Supervisor
	Queues     *queue.Manager
	Proxy      *proxy.Proxy
	Dispatcher *webhook.Dispatcher
	Mirror     *wsmirror.Mirror
	Metrics    *metrics.Registry
	Cache      cache.Cache
	Auth       authn.Authenticator
	Log        *zap.Logger

	StopTimeout     time.Duration
	RateLimit       int
	RateLimitWindow time.Duration
	OpenAPISpec     []byte
}

// New builds the gin.Engine with every route spec.md §6 / SPEC_FULL.md §6
// names, wired to Deps.
func New(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(recovery(d.Log), requestID(), requestLogging(d.Log), cors())

	r.GET("/healthz", healthzHandler)

	api := r.Group("/api")
	api.GET("/health", healthHandler)
	if len(d.OpenAPISpec) > 0 {
		api.GET("/openapi.json", func(c *gin.Context) {
			c.Data(http.StatusOK, "application/json; charset=utf-8", d.OpenAPISpec)
		})
		// Swagger UI over the checked-in spec — adapted from the teacher's
		// buildOpenAPISpec/qingfeng.Handler wiring (engine.go).
		api.GET("/docs/*filepath", qingfeng.Handler(qingfeng.Config{
			Title:       "WhatsApp Worker Gateway",
			Description: "Multi-tenant WhatsApp worker gateway API",
			Version:     "1.0.0",
			BasePath:    "/api/docs",
			DocJSON:     d.OpenAPISpec,
		}))
	}
	if d.Metrics != nil {
		api.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	authed := api.Group("")
	authed.Use(auth(d.Auth))
	if d.Cache != nil && d.RateLimit > 0 {
		authed.Use(rateLimit(d.Cache, d.RateLimit, d.RateLimitWindow))
	}

	dh := &deviceHandlers{store: d.Store, res: d.Resolver, sup: d.Supervisor, stopTimeout: d.StopTimeout}
	authed.POST("/devices", dh.Create)
	authed.GET("/devices", dh.List)
	authed.GET("/devices/info", dh.Info)
	authed.PUT("/devices", dh.Update)
	authed.DELETE("/devices", dh.Delete)
	authed.POST("/devices/start", dh.Start)
	authed.POST("/devices/stop", dh.Stop)
	authed.POST("/devices/restart", dh.Restart)

	if d.Mirror != nil {
		authed.GET("/ws", func(c *gin.Context) {
			if err := d.Mirror.ServeSubscriber(c.Writer, c.Request); err != nil {
				respondError(c, err)
			}
		})
	}

	ph := &proxyHandlers{res: d.Resolver, prox: d.Proxy, queues: d.Queues}
	for _, prefix := range []string{"app", "send", "user", "message", "chat", "chats", "group", "newsletter"} {
		authed.Any("/"+prefix+"/*rest", ph.Catch)
	}

	// POST /internal/events is the worker callback surface — SPEC_FULL.md
	// §6 — outside /api and not subject to the bearer-auth group above. No
	// credential is checked on it, and it is served on the same listener as
	// the public API.
	wi := &webhookIngress{res: d.Resolver, dispatcher: d.Dispatcher}
	r.POST("/internal/events", wi.Handle)

	return r
}

// Shutdown stops accepting new connections and drains in-flight ones,
// bounded by timeout — spec.md §5 graceful shutdown (the HTTP half; the
// supervisor half is StopAll, called by the caller after this returns).
func Shutdown(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
