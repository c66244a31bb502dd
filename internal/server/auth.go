package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/brandrag/internal/logging"
)

// apiKeyHeader is accepted as an alternative to "Authorization: Bearer".
const apiKeyHeader = "X-API-Key"

// parseAPIKeys splits a comma-separated key list. Several keys may be active
// at once so a new key can be rolled out before the old one is revoked.
func parseAPIKeys(raw string) [][]byte {
	var keys [][]byte
	for k := range strings.SplitSeq(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return keys
}

// authMiddleware rejects requests that do not present one of keys. With no
// keys configured it is a no-op. Keys are compared in constant time and are
// never logged.
func authMiddleware(keys [][]byte, next http.Handler) http.Handler {
	if len(keys) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			logging.FromContext(r.Context()).Warn("auth: credentials missing")
			w.Header().Set("WWW-Authenticate", `Bearer realm="brandrag"`)
			writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "authorization required"})
			return
		}
		if !keyMatches(keys, []byte(token)) {
			logging.FromContext(r.Context()).Warn("auth: invalid token", slog.Int("token_len", len(token)))
			w.Header().Set("WWW-Authenticate", `Bearer realm="brandrag" error="invalid_token"`)
			writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// keyMatches checks token against every key so the response time does not
// reveal which key, if any, was close.
func keyMatches(keys [][]byte, token []byte) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare(k, token)
	}
	return match == 1
}

// requestToken returns the bearer token, falling back to X-API-Key.
func requestToken(r *http.Request) string {
	if scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(tok)
	}
	return strings.TrimSpace(r.Header.Get(apiKeyHeader))
}
