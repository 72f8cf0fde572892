package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

const SignatureHeader = "X-Judge-Signature"

const maxSignedBody = 1 << 20

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// RequireSignature rejects requests whose body does not match the X-Judge-Signature header.
// The body is restored for the next handler.
func RequireSignature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given, err := hex.DecodeString(r.Header.Get(SignatureHeader))
			if err != nil || len(given) == 0 {
				writeUnauthorized(w, "missing or malformed signature")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeUnauthorized(w, "failed to read request body")
				return
			}
			if len(body) > maxSignedBody {
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				return
			}

			mac := hmac.New(sha256.New, []byte(secret))
			mac.Write(body)
			if !hmac.Equal(given, mac.Sum(nil)) {
				writeUnauthorized(w, "signature mismatch")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
