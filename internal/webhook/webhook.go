// Package webhook implements the Webhook Dispatcher — spec.md §4.9. It
// maps worker-reported events onto instance status transitions, persists
// the new status, and relays the event to the instance's configured
// webhook URL with an HMAC signature and a fixed, deterministic retry
// schedule.
//
// The retry backoff is intentionally unjittered (unlike the teacher's
// pkg/request.RetryConfig, which adds ±25% jitter) — spec.md's testable
// property S5 requires the three attempts to be spaced roughly 1s and then
// 2s apart, and jitter would make that assertion flaky.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shridarpatil/wagateway/internal/store"
)

const (
	maxAttempts  = 3
	attemptDelay = time.Second // backoff(attempt) = attemptDelay * 2^(attempt-2), attempt >= 2
	reqTimeout   = 10 * time.Second
	userAgent    = "WhatsApp-Gateway-Webhook/1.0"
)

// Event codes recognized from worker-process container events — spec.md
// §4.9's event table.
const (
	CodeLoginSuccess   = "LOGIN_SUCCESS"
	CodeListDevices    = "LIST_DEVICES"
	CodeAuthFailure    = "AUTH_FAILURE"
	CodeContainerStart = "CONTAINER_START"
	CodeContainerStop  = "CONTAINER_STOP"
)

// Incoming is the container event a worker process reports to the
// gateway's event receiver — spec.md §4.9 "{code, message?, result?}".
type Incoming struct {
	Code    string          `json:"code"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// resultNonEmpty reports whether Result decodes to a non-null, non-empty
// JSON value — spec.md §4.9's LIST_DEVICES split.
func (in Incoming) resultNonEmpty() bool {
	if len(in.Result) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(in.Result, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// eventType maps a code (and, for LIST_DEVICES, the result emptiness) to
// the wire `event.type` value in spec.md §4.9's table.
func eventType(in Incoming) string {
	switch in.Code {
	case CodeLoginSuccess:
		return "login_success"
	case CodeListDevices:
		if in.resultNonEmpty() {
			return "connected"
		}
		return "disconnected"
	case CodeAuthFailure:
		return "auth_failed"
	default:
		return "container_event"
	}
}

// Outgoing is the exact wire envelope POSTed to an instance's status
// webhook — spec.md §4.9.
type Outgoing struct {
	Device struct {
		DeviceHash string `json:"deviceHash"`
		Status     string `json:"status"`
	} `json:"device"`
	Event struct {
		Type    string          `json:"type"`
		Code    string          `json:"code"`
		Message string          `json:"message,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
	} `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// Updater persists status/lastSeen changes — satisfied by *store.Store.
type Updater interface {
	Update(hash string, in store.UpdateInput) (*store.Instance, error)
}

// Dispatcher implements spec.md §4.9.
type Dispatcher struct {
	store  Updater
	log    *zap.Logger
	client *http.Client
}

// New constructs a Dispatcher.
func New(st Updater, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:  st,
		log:    log,
		client: &http.Client{Timeout: reqTimeout},
	}
}

// resolveStatus maps an incoming event's code (and, for LIST_DEVICES, its
// result) onto a new status, or "" if the code carries no status
// transition — spec.md §4.9 event table.
func resolveStatus(in Incoming) string {
	switch in.Code {
	case CodeLoginSuccess:
		return store.StatusConnected
	case CodeListDevices:
		if in.resultNonEmpty() {
			return store.StatusConnected
		}
		return store.StatusDisconnected
	case CodeAuthFailure:
		return store.StatusError
	case CodeContainerStart:
		return store.StatusRunning
	case CodeContainerStop:
		return store.StatusStopped
	default:
		return ""
	}
}

// Handle processes a container event reported by a worker process:
// updates the instance's status (and lastSeen) when the event yields one,
// then POSTs the status webhook — spec.md §4.9. webhookUrl/webhookSecret
// (message-delivery webhooks) are out of dispatch scope per spec.md §3
// and are left untouched here.
func (d *Dispatcher) Handle(ctx context.Context, inst *store.Instance, in Incoming) {
	newStatus := resolveStatus(in)
	now := time.Now()

	if newStatus == "" {
		return
	}

	updated, err := d.store.Update(inst.Hash, store.UpdateInput{Status: &newStatus, LastSeen: &now})
	if err != nil {
		d.log.Warn("webhook: failed to persist status transition", zap.String("hash", inst.Hash), zap.Error(err))
	} else {
		inst = updated
	}

	if inst.StatusWebhookURL == "" {
		return
	}

	out := Outgoing{Timestamp: now}
	out.Device.DeviceHash = inst.Hash
	out.Device.Status = newStatus
	out.Event.Type = eventType(in)
	out.Event.Code = in.Code
	out.Event.Message = in.Message
	out.Event.Result = in.Result
	d.send(ctx, inst.StatusWebhookURL, inst.StatusWebhookSecret, out)
}

// send delivers payload to url, signed with secret, retrying up to
// maxAttempts times with deterministic backoff. Failures after the final
// attempt are logged and swallowed — spec.md §4.9 "never throws to the
// caller".
func (d *Dispatcher) send(ctx context.Context, url, secret string, payload Outgoing) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("webhook: failed to marshal payload", zap.Error(err))
		return
	}
	sig := sign(secret, body)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(backoff(attempt))
		}
		lastErr = d.attempt(ctx, url, sig, body)
		if lastErr == nil {
			return
		}
		d.log.Warn("webhook: delivery attempt failed",
			zap.String("url", redactURL(url)),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}
	d.log.Error("webhook: delivery failed after retries",
		zap.String("url", redactURL(url)),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr))
}

func (d *Dispatcher) attempt(ctx context.Context, url, sig string, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if sig != "" {
		req.Header.Set("X-Webhook-Signature", sig)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return "webhook: non-2xx response status " + http.StatusText(e.code)
}

// backoff returns the deterministic, unjittered delay before attempt —
// spec.md §4.9 / S5 (~1s before attempt 2, ~2s before attempt 3).
func backoff(attempt int) time.Duration {
	shift := attempt - 2
	if shift < 0 {
		shift = 0
	}
	return attemptDelay << uint(shift)
}

// sign returns the hex HMAC-SHA256 of body keyed by secret, or "" when no
// secret is configured — spec.md §4.9/P7 scope the signature header to
// "if a statusWebhookSecret is set".
func sign(secret string, body []byte) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// redactURL strips query parameters (which may carry tokens) before
// logging.
func redactURL(url string) string {
	if i := strings.IndexByte(url, '?'); i != -1 {
		return url[:i]
	}
	return url
}
