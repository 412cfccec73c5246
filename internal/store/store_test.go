package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.db")
	s, err := Open(path, 8000, 100)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestRegisterAndFind(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Register(RegisterInput{PhoneNumber: "5511999999999"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(rec.Hash) != 16 {
		t.Fatalf("hash %q not 16 chars", rec.Hash)
	}
	if rec.Port < 8000 {
		t.Fatalf("port %d below base", rec.Port)
	}
	if rec.Status != StatusRegistered {
		t.Fatalf("status = %q, want registered", rec.Status)
	}

	byHash, err := s.FindByHash(rec.Hash)
	if err != nil || byHash == nil {
		t.Fatalf("find by hash: %v, %v", byHash, err)
	}
	if byHash.Port != rec.Port {
		t.Fatalf("port mismatch: %d != %d", byHash.Port, rec.Port)
	}

	byPhone, err := s.FindByPhone("5511999999999")
	if err != nil || byPhone == nil {
		t.Fatalf("find by phone: %v, %v", byPhone, err)
	}
	if byPhone.Hash != rec.Hash {
		t.Fatalf("hash mismatch")
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Register(RegisterInput{PhoneNumber: "1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Register(RegisterInput{PhoneNumber: "1"}); err == nil {
		t.Fatal("expected AlreadyExists error")
	}
}

func TestDeleteReleasesPort(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Register(RegisterInput{PhoneNumber: "2"})
	if err != nil {
		t.Fatal(err)
	}
	port := rec.Port

	ok, err := s.Delete(rec.Hash)
	if err != nil || !ok {
		t.Fatalf("delete: %v, %v", ok, err)
	}
	if s.Ports().InUse(port) {
		t.Fatalf("port %d still marked in use after delete", port)
	}

	// re-registering should be able to reuse the freed port.
	rec2, err := s.Register(RegisterInput{PhoneNumber: "3"})
	if err != nil {
		t.Fatal(err)
	}
	if rec2.Port != port {
		t.Fatalf("expected lowest free port %d reused, got %d", port, rec2.Port)
	}
}

func TestUpdateWhitelist(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Register(RegisterInput{PhoneNumber: "4"})
	if err != nil {
		t.Fatal(err)
	}
	status := StatusActive
	updated, err := s.Update(rec.Hash, UpdateInput{Status: &status})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusActive {
		t.Fatalf("status = %q, want active", updated.Status)
	}
	if !updated.UpdatedAt.After(rec.UpdatedAt) && updated.UpdatedAt != rec.UpdatedAt {
		t.Fatalf("updated_at not refreshed")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Register(RegisterInput{PhoneNumber: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Register(RegisterInput{PhoneNumber: "b"}); err != nil {
		t.Fatal(err)
	}
	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.ByStatus[StatusRegistered] != 2 {
		t.Fatalf("registered count = %d, want 2", st.ByStatus[StatusRegistered])
	}
}
