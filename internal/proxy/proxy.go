// Package proxy implements the Reverse Proxy (spec.md §4.6) and the QR
// Login Interceptor (spec.md §4.7) that sits on top of it.
package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shridarpatil/wagateway/internal/apperr"
)

const requestTimeout = 30 * time.Second

// Proxy forwards requests to a worker process listening on localhost —
// spec.md §4.6.
type Proxy struct {
	client      *http.Client
	basicUser   string
	basicPass   string
	sessionsDir string
	qrWaitDelay time.Duration
	log         *zap.Logger
}

// New constructs a Proxy. basicUser/basicPass are injected into every
// forwarded request — spec.md §4.3's worker env APP_BASIC_AUTH.
func New(basicUser, basicPass, sessionsDir string, qrWaitDelay time.Duration, log *zap.Logger) *Proxy {
	return &Proxy{
		client:      &http.Client{Timeout: requestTimeout},
		basicUser:   basicUser,
		basicPass:   basicPass,
		sessionsDir: sessionsDir,
		qrWaitDelay: qrWaitDelay,
		log:         log,
	}
}

// Result is the relayed worker response.
type Result struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Forward relays method/path/query/body to the worker listening on port,
// then runs the QR login interceptor if loginRoute is set — spec.md
// §4.6/§4.7.
func (p *Proxy) Forward(ctx context.Context, hash string, port int, method, path string, query url.Values, body []byte, loginRoute bool) (*Result, error) {
	target := &url.URL{
		Scheme:   "http",
		Host:     "localhost:" + strconv.Itoa(port),
		Path:     path,
		RawQuery: query.Encode(),
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, apperr.ProxyErr.WithCause(err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(p.basicUser, p.basicPass)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, mapDialError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.ProxyErr.WithCause(err)
	}

	result := &Result{StatusCode: resp.StatusCode, Body: respBody, Header: resp.Header}

	if loginRoute {
		result.Body = p.interceptQR(hash, respBody)
	}
	return result, nil
}

// mapDialError distinguishes "worker process unreachable" (connection
// refused / timeout) from a generic proxy failure — spec.md §7.
func mapDialError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return apperr.ContainerUnreachable.WithCause(err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.ContainerUnreachable.WithCause(err)
	}
	return apperr.ProxyErr.WithCause(err)
}

// loginResult is the worker's /app/login response shape.
type loginResult struct {
	Results struct {
		QRLink string `json:"qr_link"`
		QRCode string `json:"qr_code"`
	} `json:"results"`
}

// interceptQR rewrites a worker's /app/login response so that callers
// receive an embedded base64 QR image instead of a filesystem link —
// spec.md §4.7.
func (p *Proxy) interceptQR(hash string, body []byte) []byte {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body
	}
	results, ok := parsed["results"].(map[string]any)
	if !ok {
		return body
	}
	qrLink, _ := results["qr_link"].(string)
	if qrLink == "" || !strings.Contains(qrLink, "/statics/") {
		return body
	}

	time.Sleep(p.qrWaitDelay)

	filename := filepath.Base(qrLink)
	qrPath := filepath.Join(p.sessionsDir, hash, "statics", "qrcode", filename)
	data, err := os.ReadFile(qrPath)
	if err != nil {
		p.log.Warn("proxy: failed to read qr code file", zap.String("hash", hash), zap.Error(err))
		return body
	}

	delete(results, "qr_link")
	results["qr_code"] = "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	parsed["results"] = results

	rewritten, err := json.Marshal(parsed)
	if err != nil {
		return body
	}
	return rewritten
}
