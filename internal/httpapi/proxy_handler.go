package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shridarpatil/wagateway/internal/apperr"
	"github.com/shridarpatil/wagateway/internal/proxy"
	"github.com/shridarpatil/wagateway/internal/queue"
	"github.com/shridarpatil/wagateway/internal/resolver"
	"github.com/shridarpatil/wagateway/internal/webhook"
)

// proxyHandlers implements the catch-all proxy routes and the QR login
// special case — spec.md §4.6/§4.7/§6.
type proxyHandlers struct {
	res     *resolver.Resolver
	prox    *proxy.Proxy
	queues  *queue.Manager
}

// loginPathSuffix identifies the one worker route that runs through the
// QR interceptor — spec.md §4.7.
const loginPathSuffix = "/app/login"

// sendPathPrefix identifies message-send calls, the only catch-all
// traffic spec.md §2/§4.5 serializes through the per-instance send
// queue; everything else (reads, the QR login flow) is forwarded
// directly.
const sendPathPrefix = "/send/"

// Catch handles every proxied request under /api/{app|send|user|message|
// chat|chats|group|newsletter}/… — spec.md §6.
func (h *proxyHandlers) Catch(c *gin.Context) {
	hash, err := resolver.ExtractHash(c.GetHeader("x-instance-id"), c.PostForm("instance_id"), c.Query("instance_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	inst, err := h.res.Resolve(hash)
	if err != nil {
		respondError(c, err)
		return
	}

	path := strings.TrimPrefix(c.Request.URL.Path, "/api")
	accepted := resolver.ProxyActiveStatuses
	if strings.HasSuffix(path, loginPathSuffix) {
		accepted = resolver.LoginActiveStatuses
	}
	if err := resolver.EnsureActive(inst, accepted); err != nil {
		respondError(c, err)
		return
	}

	body, _ := io.ReadAll(c.Request.Body)

	run := func() error {
		result, err := h.prox.Forward(c.Request.Context(), inst.Hash, inst.Port, c.Request.Method, path, c.Request.URL.Query(), body, path == loginPathSuffix)
		if err != nil {
			respondError(c, err)
			return err
		}
		for k, v := range result.Header {
			if len(v) > 0 {
				c.Header(k, v[0])
			}
		}
		c.Data(result.StatusCode, "application/json; charset=utf-8", result.Body)
		return nil
	}

	// Only message-send calls are serialized through the instance's send
	// queue, so a burst of sends against one WhatsApp session respects
	// the configured rate — spec.md §2/§4.5. Reads and the QR login flow
	// are forwarded straight through.
	if path == "/send" || strings.HasPrefix(path, sendPathPrefix) {
		q := h.queues.Get(inst.Hash)
		<-q.Add(0, run)
		return
	}
	run()
}

// webhookIngress implements POST /internal/events, the loopback endpoint
// worker processes call back into with container events — SPEC_FULL.md
// §6, spec.md §4.9/§2 item 9.
type webhookIngress struct {
	res        *resolver.Resolver
	dispatcher *webhook.Dispatcher
}

// Handle extracts the instance hash and decodes the container event,
// then hands both to the webhook dispatcher — spec.md §4.9. Dispatch
// runs synchronously but its own retries/failures never surface to the
// worker caller: the dispatcher swallows everything past logging.
func (h *webhookIngress) Handle(c *gin.Context) {
	hash, err := resolver.ExtractHash(c.GetHeader("x-instance-id"), "", "")
	if err != nil {
		respondError(c, err)
		return
	}
	inst, err := h.res.Resolve(hash)
	if err != nil {
		respondError(c, err)
		return
	}
	var in webhook.Incoming
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, apperr.ValidationErr.WithCause(err))
		return
	}
	h.dispatcher.Handle(c.Request.Context(), inst, in)
	h.res.Invalidate(hash)
	c.Status(http.StatusNoContent)
}

// healthzHandler is a plain liveness probe for container orchestrators,
// distinct from /api/health's richer body.
func healthzHandler(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
