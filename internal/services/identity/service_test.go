package identity_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"wabridge/internal/domain"
	"wabridge/internal/services/identity"
	"wabridge/internal/store"
)

func openStore(t *testing.T, dir string) *store.FileStore {
	t.Helper()
	s, err := store.Open(context.Background(), dir, store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGenerateIdentity_OnceOnly(t *testing.T) {
	svc := identity.New(openStore(t, t.TempDir()))

	if _, err := svc.LoadIdentity(); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound before init, got %v", err)
	}
	id, fp, err := svc.GenerateIdentity()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if id.IsZero() || len(fp) != 20 {
		t.Fatalf("unexpected identity %v fingerprint %q", id.XPub, fp)
	}
	if _, _, err := svc.GenerateIdentity(); !errors.Is(err, identity.ErrIdentityExists) {
		t.Fatalf("want ErrIdentityExists, got %v", err)
	}
	got, err := svc.FingerprintIdentity()
	if err != nil || got != fp {
		t.Fatalf("fingerprint %q %v, want %q", got, err, fp)
	}
}

func TestGenerateIdentity_RefusesCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	svc := identity.New(openStore(t, dir))
	if err := os.WriteFile(filepath.Join(dir, "session.json"), []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := svc.GenerateIdentity(); !errors.Is(err, domain.FatalSessionError{}) {
		t.Fatalf("want FatalSessionError, got %v", err)
	}
}

func TestCheckPassphrase(t *testing.T) {
	if err := identity.CheckPassphrase("short"); !errors.Is(err, identity.ErrWeakPassphrase) {
		t.Fatalf("weak passphrase accepted: %v", err)
	}
	if err := identity.CheckPassphrase("Correct-Horse-9"); err != nil {
		t.Fatalf("strong passphrase rejected: %v", err)
	}
}
