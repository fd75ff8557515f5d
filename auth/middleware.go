package auth

import (
	"chat-relay/errors"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// RequireCaller rejects requests without a valid token and injects the
// verified caller into the request context.
// Browsers cannot set headers on a WebSocket upgrade, so the token is also
// accepted as the access_token query parameter.
func RequireCaller(verifier *Verifier, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				unauthorized(w, "authorization token is missing")
				return
			}

			claims, err := verifier.Verify(tokenStr)
			if err != nil {
				log.Debug("Rejected token", "path", r.URL.Path, "error", err)
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := WithCaller(r.Context(), Caller{UserID: claims.UserID, Roles: claims.Roles})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(errors.ReasonUnauthenticated),
		"message": message,
	})
}
