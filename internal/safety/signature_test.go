package safety

import (
	"crypto/ed25519"
	"encoding/hex"
	"strconv"
	"testing"
	"time"
)

func TestVerifyDiscordSignature_ValidFreshBody(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	body := `{"type":1}`
	message := []byte(timestamp + body)
	sig := ed25519.Sign(priv, message)
	sigHex := hex.EncodeToString(sig)

	if !VerifyDiscordSignature(pub, sigHex, timestamp, body, now) {
		t.Fatal("expected valid signature with fresh timestamp to verify")
	}
}

func TestVerifyDiscordSignature_StaleTimestampRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	now := time.Now()
	stale := now.Add(-1 * time.Hour)
	timestamp := strconv.FormatInt(stale.Unix(), 10)
	body := `{"type":1}`
	sig := ed25519.Sign(priv, []byte(timestamp+body))
	sigHex := hex.EncodeToString(sig)

	if VerifyDiscordSignature(pub, sigHex, timestamp, body, now) {
		t.Fatal("expected stale timestamp to be rejected regardless of valid signature")
	}
}

func TestVerifyDiscordSignature_TamperedBodyRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	body := `{"type":1}`
	sig := ed25519.Sign(priv, []byte(timestamp+body))
	sigHex := hex.EncodeToString(sig)

	tamperedBody := `{"type":2}`
	if VerifyDiscordSignature(pub, sigHex, timestamp, tamperedBody, now) {
		t.Fatal("expected tampered body to fail signature verification")
	}
}

func TestVerifyDiscordSignature_NonHexInputRejected(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	if VerifyDiscordSignature(pub, "not-hex-!!", timestamp, "body", now) {
		t.Fatal("expected non-hex signature to return false, not panic or error")
	}
}

func TestVerifyHMACSHA256Signature_ExactFormatMatches(t *testing.T) {
	secret := "webhook-secret"
	body := `{"event":"message"}`
	header := ComputeHMACSHA256Signature(secret, body)

	if !VerifyHMACSHA256Signature(secret, header, body) {
		t.Fatal("expected matching HMAC signature to verify")
	}
}

func TestVerifyHMACSHA256Signature_WrongSecretRejected(t *testing.T) {
	body := `{"event":"message"}`
	header := ComputeHMACSHA256Signature("secret-a", body)

	if VerifyHMACSHA256Signature("secret-b", header, body) {
		t.Fatal("expected mismatched secret to fail verification")
	}
}

func TestVerifyHMACSHA256Signature_MissingPrefixRejected(t *testing.T) {
	secret := "webhook-secret"
	body := `{"event":"message"}`
	header := ComputeHMACSHA256Signature(secret, body)
	bareDigest := header[len("sha256="):]

	if VerifyHMACSHA256Signature(secret, bareDigest, body) {
		t.Fatal("expected signature header without sha256= prefix to be rejected")
	}
}
