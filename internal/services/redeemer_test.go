package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voucher-api/internal/credential"
	"voucher-api/internal/database"
	"voucher-api/internal/kvstore"
	"voucher-api/internal/models"
	"voucher-api/internal/token"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type redeemerEnv struct {
	db       *gorm.DB
	codec    *token.Codec
	guard    *ReplayGuard
	verifier *credential.Verifier
	redeemer *Redeemer
	issuer   *VoucherIssuer
	merchant models.Merchant
	product  models.Product
	content  models.Content
}

func newRedeemerEnv(t *testing.T, rateLimit int) *redeemerEnv {
	t.Helper()

	// _txlock=immediate serializes writing transactions up front, which is
	// how concurrent same-voucher redemptions queue on SQLite.
	dsn := filepath.Join(t.TempDir(), "redeemer.db") + "?_txlock=immediate&_busy_timeout=10000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	merchant := models.Merchant{Name: "Test Merchant", Slug: "test", Status: "active"}
	if err := db.Create(&merchant).Error; err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	content := models.Content{Ref: "/protected/demo.html", MimeType: "text/html", Kind: "page"}
	if err := db.Create(&content).Error; err != nil {
		t.Fatalf("seed content: %v", err)
	}
	product := models.Product{
		MerchantID:      merchant.ID,
		Name:            "Test Product",
		ContentID:       content.ID,
		DefaultDuration: 15,
		PolicyOneDevice: true,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	credIssuer, err := credential.NewIssuer(privatePEM)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	verifier, err := credential.NewVerifier(publicPEM)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	store := kvstore.NewMemoryStore()
	codec := token.NewCodec("test-secret", 24*time.Hour)
	guard := NewReplayGuard(store)
	limiter := NewRateLimiter(store, rateLimit, time.Minute)

	return &redeemerEnv{
		db:       db,
		codec:    codec,
		guard:    guard,
		verifier: verifier,
		redeemer: NewRedeemer(db, codec, credIssuer, guard, limiter, nil, time.Minute),
		issuer:   NewVoucherIssuer(db, codec, "http://localhost:8080"),
		merchant: merchant,
		product:  product,
		content:  content,
	}
}

func (env *redeemerEnv) issueVoucher(t *testing.T) *IssuedVoucher {
	t.Helper()
	issued, err := env.issuer.Issue(context.Background(), env.merchant.ID, env.product.ID, nil, "")
	if err != nil {
		t.Fatalf("issue voucher: %v", err)
	}
	return issued
}

func TestRedeemHappyPath(t *testing.T) {
	env := newRedeemerEnv(t, 100)
	issued := env.issueVoucher(t)

	result, err := env.redeemer.Redeem(context.Background(), issued.Opaque, "device-a", "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.ContentID != env.content.ID {
		t.Errorf("content id = %d, want %d", result.ContentID, env.content.ID)
	}

	claims, err := env.verifier.Verify(result.Credential)
	if err != nil {
		t.Fatalf("verify credential: %v", err)
	}
	if claims.DeviceID != "device-a" {
		t.Errorf("device id = %q, want device-a", claims.DeviceID)
	}
	if claims.MerchantID != env.merchant.ID {
		t.Errorf("merchant id = %d, want %d", claims.MerchantID, env.merchant.ID)
	}
	voucherID, _ := claims.VoucherID()
	if voucherID != issued.VoucherID {
		t.Errorf("voucher id = %d, want %d", voucherID, issued.VoucherID)
	}

	if live, _ := env.guard.IsCredentialLive(context.Background(), claims.ID); !live {
		t.Error("credential should be registered as live")
	}

	session, err := env.guard.LoadSession(context.Background(), issued.VoucherID)
	if err != nil || session == nil {
		t.Fatalf("session = %+v, %v; want saved session", session, err)
	}
	if session.DeviceID != "device-a" || session.CredentialID != claims.ID {
		t.Errorf("session = %+v, want bound device and credential id", session)
	}

	var redemption models.Redemption
	if err := env.db.Where("voucher_id = ?", issued.VoucherID).First(&redemption).Error; err != nil {
		t.Fatalf("load redemption: %v", err)
	}
	if redemption.DeviceID != "device-a" || redemption.FirstRedeemedAt == nil {
		t.Errorf("redemption = %+v, want first bind recorded", redemption)
	}
	if redemption.FirstIP != "10.0.0.1" || redemption.FirstUserAgent != "test-agent" {
		t.Errorf("audit fields = %q/%q", redemption.FirstIP, redemption.FirstUserAgent)
	}
}

func TestRedeemSameDeviceTwice(t *testing.T) {
	env := newRedeemerEnv(t, 100)
	issued := env.issueVoucher(t)
	ctx := context.Background()

	first, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-a", "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	second, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-a", "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("second redeem: %v", err)
	}

	firstClaims, err := env.verifier.Verify(first.Credential)
	if err != nil {
		t.Fatalf("verify first: %v", err)
	}
	secondClaims, err := env.verifier.Verify(second.Credential)
	if err != nil {
		t.Fatalf("verify second: %v", err)
	}
	if firstClaims.ID == secondClaims.ID {
		t.Fatal("re-redemption must mint a distinct credential id")
	}

	// Both credentials stay live until their own expiries
	for _, id := range []string{firstClaims.ID, secondClaims.ID} {
		if live, _ := env.guard.IsCredentialLive(ctx, id); !live {
			t.Errorf("credential %s should be live", id)
		}
	}
}

func TestRedeemUnknownVoucher(t *testing.T) {
	env := newRedeemerEnv(t, 100)

	opaque := env.codec.Encode(123456789, int64(env.merchant.ID), time.Now())
	_, err := env.redeemer.Redeem(context.Background(), opaque, "device-a", "10.0.0.1", "ua")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("got %v, want ErrInvalidCode", err)
	}
}

func TestRedeemVoidedVoucher(t *testing.T) {
	env := newRedeemerEnv(t, 100)
	issued := env.issueVoucher(t)
	ctx := context.Background()

	if err := env.issuer.Void(ctx, issued.VoucherID); err != nil {
		t.Fatalf("void: %v", err)
	}

	_, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-a", "10.0.0.1", "ua")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("got %v, want ErrInvalidCode", err)
	}
}

func TestRedeemMerchantMismatch(t *testing.T) {
	env := newRedeemerEnv(t, 100)
	issued := env.issueVoucher(t)

	// A validly signed token naming a different tenant must not redeem
	foreign := env.codec.Encode(issued.VoucherID, int64(env.merchant.ID)+1, time.Now())
	_, err := env.redeemer.Redeem(context.Background(), foreign, "device-a", "10.0.0.1", "ua")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("got %v, want ErrInvalidCode", err)
	}
}

func TestRedeemTokenErrorsPropagate(t *testing.T) {
	env := newRedeemerEnv(t, 100)
	ctx := context.Background()

	if _, err := env.redeemer.Redeem(ctx, "garbage", "device-a", "10.0.0.1", "ua"); !errors.Is(err, token.ErrMalformed) {
		t.Fatalf("got %v, want ErrMalformed", err)
	}

	stale := env.codec.Encode(1, 1, time.Now().Add(-25*time.Hour))
	if _, err := env.redeemer.Redeem(ctx, stale, "device-a", "10.0.0.1", "ua"); !errors.Is(err, token.ErrStale) {
		t.Fatalf("got %v, want ErrStale", err)
	}
}

func TestRedeemDeviceMismatchKeepsVoucherRedeemable(t *testing.T) {
	env := newRedeemerEnv(t, 100)
	issued := env.issueVoucher(t)
	ctx := context.Background()

	if _, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-a", "10.0.0.1", "ua"); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	_, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-b", "10.0.0.2", "ua")
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("got %v, want ErrDeviceMismatch", err)
	}

	// The binding is untouched and the bound device can still redeem
	var redemption models.Redemption
	if err := env.db.Where("voucher_id = ?", issued.VoucherID).First(&redemption).Error; err != nil {
		t.Fatalf("load redemption: %v", err)
	}
	if redemption.DeviceID != "device-a" {
		t.Fatalf("binding moved to %q", redemption.DeviceID)
	}
	if _, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-a", "10.0.0.1", "ua"); err != nil {
		t.Fatalf("bound device re-redeem: %v", err)
	}
}

func TestRedeemConfigurationError(t *testing.T) {
	env := newRedeemerEnv(t, 100)
	issued := env.issueVoucher(t)

	if err := env.db.Unscoped().Delete(&models.Product{}, env.product.ID).Error; err != nil {
		t.Fatalf("delete product: %v", err)
	}

	_, err := env.redeemer.Redeem(context.Background(), issued.Opaque, "device-a", "10.0.0.1", "ua")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("got %v, want ErrConfiguration", err)
	}
}

func TestRedeemRateLimited(t *testing.T) {
	env := newRedeemerEnv(t, 2)
	issued := env.issueVoucher(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-a", "10.0.0.1", "ua"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	_, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-a", "10.0.0.1", "ua")
	if !errors.Is(err, ErrRateExceeded) {
		t.Fatalf("got %v, want ErrRateExceeded", err)
	}

	// Another address is unaffected
	if _, err := env.redeemer.Redeem(ctx, issued.Opaque, "device-a", "10.0.0.9", "ua"); err != nil {
		t.Fatalf("other address: %v", err)
	}
}

func TestRedeemConcurrentFirstBind(t *testing.T) {
	env := newRedeemerEnv(t, 100)
	issued := env.issueVoucher(t)

	type outcome struct {
		device string
		err    error
	}
	results := make(chan outcome, 2)

	var wg sync.WaitGroup
	for _, device := range []string{"device-a", "device-b"} {
		wg.Add(1)
		go func(device string) {
			defer wg.Done()
			_, err := env.redeemer.Redeem(context.Background(), issued.Opaque, device, fmt.Sprintf("10.0.0.%d", len(device)), "ua")
			results <- outcome{device: device, err: err}
		}(device)
	}
	wg.Wait()
	close(results)

	var winner string
	var mismatches int
	for r := range results {
		switch {
		case r.err == nil:
			if winner != "" {
				t.Fatal("both devices won the first bind")
			}
			winner = r.device
		case errors.Is(r.err, ErrDeviceMismatch):
			mismatches++
		default:
			t.Fatalf("device %s: unexpected error %v", r.device, r.err)
		}
	}
	if winner == "" || mismatches != 1 {
		t.Fatalf("winner = %q, mismatches = %d; want one winner and one mismatch", winner, mismatches)
	}

	var redemption models.Redemption
	if err := env.db.Where("voucher_id = ?", issued.VoucherID).First(&redemption).Error; err != nil {
		t.Fatalf("load redemption: %v", err)
	}
	if redemption.DeviceID != winner {
		t.Fatalf("bound device = %q, want winner %q", redemption.DeviceID, winner)
	}
}
