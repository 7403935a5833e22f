package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names set by RequestSigner.
const (
	HeaderAPIKey    = "X-Marketsim-Key"
	HeaderTimestamp = "X-Marketsim-Timestamp"
	HeaderSignature = "X-Marketsim-Signature"
)

// RequestSigner signs outbound oracle requests. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body), base64 encoded.
type RequestSigner struct {
	Key    string
	Secret string
}

// Headers returns the auth headers for a request sent now.
func (r *RequestSigner) Headers(method, path, body string) map[string]string {
	return r.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (r *RequestSigner) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    r.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(r.Secret), ts+method+path+body),
	}
}

// Verify reports whether sig matches the request. Comparison is constant time.
func (r *RequestSigner) Verify(method, path, body, ts, sig string) bool {
	want := hmacSHA256Base64([]byte(r.Secret), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(sig))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (r *RequestSigner) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("RequestSigner{key=%s, secret=%s}", redact(r.Key), redact(r.Secret))
}
