package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shridarpatil/wagateway/internal/apperr"
)

func testPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func TestForwardInjectsBasicAuthAndRelaysBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "u" || pass != "p" {
			t.Errorf("expected basic auth u:p, got %s:%s (ok=%v)", user, pass, ok)
		}
		if r.URL.Path != "/app/devices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"results":"ok"}`))
	}))
	defer srv.Close()

	p := New("u", "p", t.TempDir(), 0, zap.NewNop())
	res, err := p.Forward(context.Background(), "hash1", testPort(t, srv), http.MethodGet, "/app/devices", url.Values{}, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	if !strings.Contains(string(res.Body), "ok") {
		t.Fatalf("unexpected body %s", res.Body)
	}
}

func TestForwardUnreachableMapsToContainerUnreachable(t *testing.T) {
	p := New("u", "p", t.TempDir(), 0, zap.NewNop())
	_, err := p.Forward(context.Background(), "hash1", 1, http.MethodGet, "/x", url.Values{}, nil, false)
	if err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
	if !errors.Is(err, apperr.ContainerUnreachable) {
		t.Fatalf("expected ContainerUnreachable, got %v", err)
	}
}

func TestInterceptQRRewritesLinkToBase64(t *testing.T) {
	sessionsDir := t.TempDir()
	qrDir := filepath.Join(sessionsDir, "hash1", "statics", "qrcode")
	if err := os.MkdirAll(qrDir, 0o755); err != nil {
		t.Fatal(err)
	}
	imgBytes := []byte("fake-png-bytes")
	if err := os.WriteFile(filepath.Join(qrDir, "scan.png"), imgBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"qr_link": "/statics/qrcode/scan.png"},
		})
	}))
	defer srv.Close()

	p := New("u", "p", sessionsDir, time.Millisecond, zap.NewNop())
	res, err := p.Forward(context.Background(), "hash1", testPort(t, srv), http.MethodGet, "/app/login", url.Values{}, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		t.Fatalf("failed to parse rewritten body: %v", err)
	}
	results := parsed["results"].(map[string]any)
	if _, exists := results["qr_link"]; exists {
		t.Fatal("expected qr_link to be removed")
	}
	qrCode, _ := results["qr_code"].(string)
	wantPrefix := "data:image/png;base64,"
	if !strings.HasPrefix(qrCode, wantPrefix) {
		t.Fatalf("expected qr_code data URL, got %s", qrCode)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(qrCode, wantPrefix))
	if err != nil {
		t.Fatalf("failed to decode qr_code: %v", err)
	}
	if string(decoded) != string(imgBytes) {
		t.Fatalf("decoded qr bytes mismatch: got %q want %q", decoded, imgBytes)
	}
}

func TestInterceptQRPassesThroughWithoutStaticsLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": map[string]any{"status": "already_connected"}})
	}))
	defer srv.Close()

	p := New("u", "p", t.TempDir(), 0, zap.NewNop())
	res, err := p.Forward(context.Background(), "hash1", testPort(t, srv), http.MethodGet, "/app/login", url.Values{}, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed map[string]any
	json.Unmarshal(res.Body, &parsed)
	results := parsed["results"].(map[string]any)
	if results["status"] != "already_connected" {
		t.Fatalf("expected passthrough body, got %v", parsed)
	}
}
