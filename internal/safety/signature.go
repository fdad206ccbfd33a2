package safety

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DiscordFreshnessWindow bounds how far a webhook timestamp may drift from
// the verifier's clock, in either direction, before it is rejected as
// stale/replayed — independent of whether the cryptographic signature
// itself verifies.
const DiscordFreshnessWindow = 5 * time.Second

// VerifyDiscordSignature verifies an Ed25519-signed Discord interaction
// webhook: the signed message is `timestamp || body`, hex-encoded signature
// in sig, hex/base64-agnostic public key already decoded into publicKey.
//
// Freshness (timestamp within DiscordFreshnessWindow of now) is enforced
// independently of the cryptographic check: a tampered body with a fresh
// timestamp fails on signature; a validly-signed body with a stale
// timestamp fails on freshness. Both must pass.
func VerifyDiscordSignature(publicKey ed25519.PublicKey, signatureHex, timestamp, body string, now time.Time) bool {
	if !withinFreshnessWindow(timestamp, now) {
		return false
	}

	sig, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}

	message := []byte(timestamp + body)
	return ed25519.Verify(publicKey, message, sig)
}

func withinFreshnessWindow(timestamp string, now time.Time) bool {
	sec, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return false
	}
	ts := time.Unix(sec, 0)
	diff := now.Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	return diff <= DiscordFreshnessWindow
}

// hmacSHA256Prefix is the format WhatsApp/Slack-style webhooks prepend to
// the hex-encoded HMAC digest.
const hmacSHA256Prefix = "sha256="

// VerifyHMACSHA256Signature verifies a webhook signature of the exact form
// "sha256=<hex>" against HMAC-SHA256(secret, body), using a constant-time
// comparison. Any other format (missing prefix, non-hex digest, wrong
// length) returns false without attempting a comparison.
func VerifyHMACSHA256Signature(secret, signatureHeader, body string) bool {
	if !strings.HasPrefix(signatureHeader, hmacSHA256Prefix) {
		return false
	}
	digestHex := strings.TrimPrefix(signatureHeader, hmacSHA256Prefix)
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(digest, expected) == 1
}

// ComputeHMACSHA256Signature returns the "sha256=<hex>" signature header
// value for body under secret, for producing test fixtures and outbound
// callback signing.
func ComputeHMACSHA256Signature(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return fmt.Sprintf("%s%s", hmacSHA256Prefix, hex.EncodeToString(mac.Sum(nil)))
}
