// Package signature implements shared-secret HMAC verification for inbound
// webhooks and backend completion callbacks.
//
// All platforms share the same primitive: HMAC-SHA256 over a selection of
// signed bytes, hex-encoded, compared in constant time. Platforms differ
// only in which bytes are signed and where the declared signature travels,
// so each scheme gets a thin wrapper that builds the signed byte string and
// strips the platform's signature prefix.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Sign computes the hex-encoded HMAC-SHA256 of signed using secret.
func Sign(signed, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(signed)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether declared is a valid hex HMAC-SHA256 of signed
// under secret. It returns false, never an error, on a missing or
// malformed declared signature. Comparison is constant-time.
func Verify(signed []byte, declared string, secret []byte) bool {
	if declared == "" || len(secret) == 0 {
		return false
	}
	declaredMAC, err := hex.DecodeString(declared)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(signed)
	return hmac.Equal(mac.Sum(nil), declaredMAC)
}

// VerifyGitHub verifies a GitHub-style "sha256=<hex>" header signature
// computed over the exact raw request body.
func VerifyGitHub(body []byte, header string, secret []byte) bool {
	declared, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	return Verify(body, declared, secret)
}

// SlackBaseString builds the Slack v0 signing base string:
// "v0:<timestamp>:<raw body>".
func SlackBaseString(timestamp string, body []byte) []byte {
	signed := make([]byte, 0, len("v0:")+len(timestamp)+1+len(body))
	signed = append(signed, "v0:"...)
	signed = append(signed, timestamp...)
	signed = append(signed, ':')
	signed = append(signed, body...)
	return signed
}

// VerifySlack verifies a Slack "v0=<hex>" header signature computed over
// the v0 base string of the request timestamp and raw body.
func VerifySlack(body []byte, timestamp, header string, secret []byte) bool {
	declared, ok := strings.CutPrefix(header, "v0=")
	if !ok {
		return false
	}
	return Verify(SlackBaseString(timestamp, body), declared, secret)
}

// CallbackBaseString builds the canonical signed string for a backend
// completion callback: "sessionID:messageID:success:timestamp". The fixed
// field order keeps verification independent of JSON key ordering.
func CallbackBaseString(sessionID, messageID string, success bool, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%d", sessionID, messageID, strconv.FormatBool(success), timestamp))
}

// SignCallback computes the signature the backend attaches to a completion
// callback. Exported for tests and for local backend stubs.
func SignCallback(sessionID, messageID string, success bool, timestamp int64, secret []byte) string {
	return Sign(CallbackBaseString(sessionID, messageID, success, timestamp), secret)
}

// VerifyCallback verifies a completion callback signature.
func VerifyCallback(sessionID, messageID string, success bool, timestamp int64, declared string, secret []byte) bool {
	return Verify(CallbackBaseString(sessionID, messageID, success, timestamp), declared, secret)
}
