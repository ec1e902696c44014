package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"voucher-api/internal/credential"
)

func TestContentAccessAuthorize(t *testing.T) {
	env := newRedeemerEnv(t, 100)
	issued := env.issueVoucher(t)
	ctx := context.Background()

	result, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-a", "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	access := NewContentAccess(env.db, env.verifier, env.guard)

	content, err := access.Authorize(ctx, result.Credential, env.content.ID)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if content.Ref != env.content.Ref {
		t.Errorf("content ref = %q, want %q", content.Ref, env.content.Ref)
	}

	// A credential bound to content N fails against content N+1
	_, err = access.Authorize(ctx, result.Credential, env.content.ID+1)
	if !errors.Is(err, ErrWrongContent) {
		t.Fatalf("got %v, want ErrWrongContent", err)
	}

	// Garbage bearer tokens are invalid
	_, err = access.Authorize(ctx, "garbage", env.content.ID)
	if !errors.Is(err, credential.ErrInvalidCredential) {
		t.Fatalf("got %v, want ErrInvalidCredential", err)
	}
}

func TestContentAccessRevoked(t *testing.T) {
	env := newRedeemerEnv(t, 100)
	access := NewContentAccess(env.db, env.verifier, env.guard)
	ctx := context.Background()

	// Sign a structurally valid credential without registering it in the
	// replay guard: liveness absence means revoked
	issued := env.issueVoucher(t)
	result, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-a", "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	claims, err := env.verifier.Verify(result.Credential)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Overwrite the replay marker with an expired one and let it lapse
	if err := env.guard.RememberCredential(ctx, claims.ID, 20*time.Millisecond); err != nil {
		t.Fatalf("remember: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	_, err = access.Authorize(ctx, result.Credential, env.content.ID)
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("got %v, want ErrRevoked", err)
	}
}
