package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shridarpatil/wagateway/internal/store"
)

type fakeStore struct {
	updates []store.UpdateInput
}

func (f *fakeStore) Update(hash string, in store.UpdateInput) (*store.Instance, error) {
	f.updates = append(f.updates, in)
	status := store.StatusActive
	if in.Status != nil {
		status = *in.Status
	}
	return &store.Instance{Hash: hash, Status: status}, nil
}

func TestResolveStatusMapping(t *testing.T) {
	cases := []struct {
		in   Incoming
		want string
	}{
		{Incoming{Code: CodeLoginSuccess}, store.StatusConnected},
		{Incoming{Code: CodeAuthFailure}, store.StatusError},
		{Incoming{Code: CodeContainerStart}, store.StatusRunning},
		{Incoming{Code: CodeContainerStop}, store.StatusStopped},
		{Incoming{Code: "UNKNOWN_CODE"}, ""},
	}
	for _, c := range cases {
		if got := resolveStatus(c.in); got != c.want {
			t.Errorf("resolveStatus(%+v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolveStatusListDevices(t *testing.T) {
	got := resolveStatus(Incoming{Code: CodeListDevices, Result: []byte(`["d1"]`)})
	if got != store.StatusConnected {
		t.Fatalf("expected connected, got %q", got)
	}

	got = resolveStatus(Incoming{Code: CodeListDevices, Result: []byte(`null`)})
	if got != store.StatusDisconnected {
		t.Fatalf("expected disconnected, got %q", got)
	}

	got = resolveStatus(Incoming{Code: CodeListDevices})
	if got != store.StatusDisconnected {
		t.Fatalf("expected disconnected for absent result, got %q", got)
	}
}

func TestDispatcherSignsAndDeliversOnFirstAttempt(t *testing.T) {
	var received int32
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		gotSig = r.Header.Get("X-Webhook-Signature")
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("unexpected User-Agent: %s", ua)
		}
		gotBody, _ = io.ReadAll(r.Body)
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write(gotBody)
		want := hex.EncodeToString(mac.Sum(nil))
		if gotSig != want {
			t.Errorf("signature mismatch: got %s want %s", gotSig, want)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := &fakeStore{}
	d := New(fs, zap.NewNop())
	inst := &store.Instance{Hash: "abc", Status: store.StatusRunning, StatusWebhookURL: srv.URL, StatusWebhookSecret: "secret"}

	d.Handle(context.Background(), inst, Incoming{Code: CodeLoginSuccess})

	if atomic.LoadInt32(&received) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", received)
	}
	if len(fs.updates) == 0 {
		t.Fatal("expected a status update to be persisted")
	}
	if len(gotBody) == 0 {
		t.Fatal("expected a non-empty request body")
	}
}

func TestDispatcherOmitsSignatureHeaderWithoutSecret(t *testing.T) {
	var received int32
	var gotHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		_, gotHeader = r.Header["X-Webhook-Signature"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := &fakeStore{}
	d := New(fs, zap.NewNop())
	inst := &store.Instance{Hash: "abc", Status: store.StatusRunning, StatusWebhookURL: srv.URL}

	d.Handle(context.Background(), inst, Incoming{Code: CodeLoginSuccess})

	if atomic.LoadInt32(&received) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", received)
	}
	if gotHeader {
		t.Fatal("expected no X-Webhook-Signature header when no statusWebhookSecret is configured")
	}
}

func TestDispatcherSkipsUnmappedCodes(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := &fakeStore{}
	d := New(fs, zap.NewNop())
	inst := &store.Instance{Hash: "abc", Status: store.StatusConnected, StatusWebhookURL: srv.URL, StatusWebhookSecret: "s"}

	d.Handle(context.Background(), inst, Incoming{Code: "UNKNOWN_CODE"})

	if atomic.LoadInt32(&received) != 0 {
		t.Fatalf("expected no delivery for an unmapped code, got %d", received)
	}
	if len(fs.updates) != 0 {
		t.Fatalf("expected no status update for an unmapped code, got %d", len(fs.updates))
	}
}

func TestDispatcherRetriesOnFailureThenSwallows(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fs := &fakeStore{}
	d := New(fs, zap.NewNop())
	inst := &store.Instance{Hash: "abc", Status: store.StatusRunning, StatusWebhookURL: srv.URL, StatusWebhookSecret: "s"}

	start := time.Now()
	d.Handle(context.Background(), inst, Incoming{Code: CodeAuthFailure, Message: "bad session"})
	elapsed := time.Since(start)

	if atomic.LoadInt32(&attempts) != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, attempts)
	}
	// backoff(2) + backoff(3) = 1s + 2s
	if elapsed < 3*time.Second {
		t.Fatalf("expected deliveries to span at least 3s of backoff, took %v", elapsed)
	}
}

func TestBackoffSchedule(t *testing.T) {
	if backoff(2) != time.Second {
		t.Fatalf("backoff(2) = %v, want 1s", backoff(2))
	}
	if backoff(3) != 2*time.Second {
		t.Fatalf("backoff(3) = %v, want 2s", backoff(3))
	}
}
