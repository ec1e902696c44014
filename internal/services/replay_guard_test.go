package services

import (
	"context"
	"testing"
	"time"

	"voucher-api/internal/kvstore"
)

func TestReplayGuardCredentialLifecycle(t *testing.T) {
	guard := NewReplayGuard(kvstore.NewMemoryStore())
	ctx := context.Background()

	live, err := guard.IsCredentialLive(ctx, "cred-1")
	if err != nil {
		t.Fatalf("liveness check: %v", err)
	}
	if live {
		t.Fatal("unregistered credential should not be live")
	}

	if err := guard.RememberCredential(ctx, "cred-1", 40*time.Millisecond); err != nil {
		t.Fatalf("remember: %v", err)
	}

	if live, _ := guard.IsCredentialLive(ctx, "cred-1"); !live {
		t.Fatal("credential should be live inside its ttl")
	}

	time.Sleep(60 * time.Millisecond)

	// Natural expiry is the revocation mechanism
	if live, _ := guard.IsCredentialLive(ctx, "cred-1"); live {
		t.Fatal("credential should not be live after ttl")
	}
}

func TestReplayGuardSessionRoundTrip(t *testing.T) {
	guard := NewReplayGuard(kvstore.NewMemoryStore())
	ctx := context.Background()

	session := Session{
		DeviceID:     "device-a",
		CredentialID: "cred-9",
		ExpiresAt:    time.Now().Add(time.Minute).Unix(),
	}
	if err := guard.SaveSession(ctx, 42, session, time.Minute); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, err := guard.LoadSession(ctx, 42)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a session")
	}
	if *loaded != session {
		t.Fatalf("loaded %+v, want %+v", *loaded, session)
	}
}

func TestReplayGuardLoadSessionMissing(t *testing.T) {
	guard := NewReplayGuard(kvstore.NewMemoryStore())

	loaded, err := guard.LoadSession(context.Background(), 7)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil session, got %+v", loaded)
	}
}
