package wsmirror

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func TestProcessDiedBroadcastsProcessStopped(t *testing.T) {
	m := New("user", "pass", zap.NewNop())
	sub := &subscriber{send: make(chan []byte, 1)}
	m.roomFor("abc").join(sub)

	m.ProcessDied("abc")

	select {
	case msg := <-sub.send:
		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("failed to unmarshal broadcast: %v", err)
		}
		if env.Type != "process-stopped" {
			t.Fatalf("expected process-stopped event, got %q", env.Type)
		}
		if env.PhoneNumber != "abc" {
			t.Fatalf("expected event filtered to instance abc, got %q", env.PhoneNumber)
		}
	default:
		t.Fatal("expected subscriber to receive a process-stopped broadcast")
	}
}

func TestProcessDiedTearsDownWorkerConn(t *testing.T) {
	m := New("user", "pass", zap.NewNop())
	wc := &workerConn{hash: "abc", mirror: m, stop: make(chan struct{})}
	m.workers["abc"] = wc

	m.ProcessDied("abc")

	if _, ok := m.workers["abc"]; ok {
		t.Fatal("expected outbound worker connection to be removed")
	}
}
