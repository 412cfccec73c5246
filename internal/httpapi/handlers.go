package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shridarpatil/wagateway/internal/apperr"
	"github.com/shridarpatil/wagateway/internal/resolver"
	"github.com/shridarpatil/wagateway/internal/store"
	"github.com/shridarpatil/wagateway/internal/supervisor"
)

// deviceHandlers implements the /api/devices* routes — spec.md §6.
type deviceHandlers struct {
	store *store.Store
	res   *resolver.Resolver
	sup   *supervisor.Supervisor
	stopTimeout time.Duration
}

type createDeviceRequest struct {
	PhoneNumber         string `json:"phoneNumber" binding:"required"`
	Name                string `json:"name"`
	WebhookURL          string `json:"webhookUrl"`
	WebhookSecret       string `json:"webhookSecret"`
	StatusWebhookURL    string `json:"statusWebhookUrl"`
	StatusWebhookSecret string `json:"statusWebhookSecret"`
}

// Create handles POST /api/devices — spec.md §6.
func (h *deviceHandlers) Create(c *gin.Context) {
	var req createDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.ValidationErr.WithCause(err))
		return
	}

	inst, err := h.store.Register(store.RegisterInput{
		PhoneNumber:         req.PhoneNumber,
		Name:                req.Name,
		WebhookURL:          req.WebhookURL,
		WebhookSecret:       req.WebhookSecret,
		StatusWebhookURL:    req.StatusWebhookURL,
		StatusWebhookSecret: req.StatusWebhookSecret,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.res.RefreshBloom()

	respondOK(c, http.StatusCreated, deviceView(inst))
}

// List handles GET /api/devices — spec.md §6.
func (h *deviceHandlers) List(c *gin.Context) {
	var filter store.ListFilter
	if status := c.Query("status"); status != "" {
		filter.Status = &status
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := h.store.List(filter)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]any, len(list))
	for i := range list {
		views[i] = deviceView(&list[i])
	}
	respondOK(c, http.StatusOK, views)
}

// Info handles GET /api/devices/info — spec.md §6.
func (h *deviceHandlers) Info(c *gin.Context) {
	inst, err := h.resolveFromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, deviceView(inst))
}

type updateDeviceRequest struct {
	Name                *string `json:"name"`
	WebhookURL          *string `json:"webhookUrl"`
	WebhookSecret       *string `json:"webhookSecret"`
	StatusWebhookURL    *string `json:"statusWebhookUrl"`
	StatusWebhookSecret *string `json:"statusWebhookSecret"`
}

// Update handles PUT /api/devices — spec.md §6 (whitelisted fields only).
func (h *deviceHandlers) Update(c *gin.Context) {
	inst, err := h.resolveFromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req updateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.ValidationErr.WithCause(err))
		return
	}
	updated, err := h.store.Update(inst.Hash, store.UpdateInput{
		Name:                req.Name,
		WebhookURL:          req.WebhookURL,
		WebhookSecret:       req.WebhookSecret,
		StatusWebhookURL:    req.StatusWebhookURL,
		StatusWebhookSecret: req.StatusWebhookSecret,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.res.Invalidate(inst.Hash)
	respondOK(c, http.StatusOK, deviceView(updated))
}

// Delete handles DELETE /api/devices — spec.md §6.
func (h *deviceHandlers) Delete(c *gin.Context) {
	inst, err := h.resolveFromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}
	h.sup.Stop(inst.Hash, h.stopTimeout)

	ok, err := h.store.Delete(inst.Hash)
	if err != nil {
		respondError(c, err)
		return
	}
	h.res.Invalidate(inst.Hash)
	h.res.RefreshBloom()
	if !ok {
		respondError(c, apperr.InstanceNotFound)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"deleted": true})
}

// Start handles POST /api/devices/start — spec.md §6.
func (h *deviceHandlers) Start(c *gin.Context) {
	inst, err := h.resolveFromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}
	wp, err := h.sup.Start(inst.Hash)
	if err != nil {
		respondError(c, err)
		return
	}
	h.res.Invalidate(inst.Hash)
	respondOK(c, http.StatusOK, gin.H{"pid": wp.PID, "port": wp.Port})
}

// Stop handles POST /api/devices/stop — spec.md §6.
func (h *deviceHandlers) Stop(c *gin.Context) {
	inst, err := h.resolveFromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.sup.Stop(inst.Hash, h.stopTimeout); err != nil {
		respondError(c, err)
		return
	}
	h.res.Invalidate(inst.Hash)
	respondOK(c, http.StatusOK, gin.H{"stopped": true})
}

// Restart handles POST /api/devices/restart — spec.md §6.
func (h *deviceHandlers) Restart(c *gin.Context) {
	inst, err := h.resolveFromRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}
	wp, err := h.sup.Restart(inst.Hash, h.stopTimeout)
	if err != nil {
		respondError(c, err)
		return
	}
	h.res.Invalidate(inst.Hash)
	respondOK(c, http.StatusOK, gin.H{"pid": wp.PID, "port": wp.Port})
}

// resolveFromRequest extracts and resolves the instance hash per spec.md
// §4.4/§6 (header, then body, then query).
func (h *deviceHandlers) resolveFromRequest(c *gin.Context) (*store.Instance, error) {
	hash, err := resolver.ExtractHash(c.GetHeader("x-instance-id"), c.PostForm("instance_id"), c.Query("instance_id"))
	if err != nil {
		return nil, err
	}
	return h.res.Resolve(hash)
}

func deviceView(inst *store.Instance) gin.H {
	return gin.H{
		"deviceHash":  inst.Hash,
		"phoneNumber": inst.PhoneNumber,
		"name":        inst.Name,
		"status":      inst.Status,
		"port":        inst.Port,
		"createdAt":   inst.CreatedAt,
		"updatedAt":   inst.UpdatedAt,
		"lastSeen":    inst.LastSeen,
	}
}

// healthHandler implements GET /api/health — spec.md §6.
func healthHandler(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{"status": "ok"})
}
