package server

import (
	"context"
	"net/http"

	"TrackHub/core/auth"
	"TrackHub/errs"
)

type ctxKey string

const ownerIDKey ctxKey = "ownerID"

// AuthMiddleware requires a valid bearer token and stores its subject as
// the owner id in the request context.
func (h *Handler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, r, http.StatusUnauthorized, errs.Unauthorized("authorization header is required"))
			return
		}

		token, err := auth.BearerToken(authHeader)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		ownerID, err := auth.ParseToken(token, h.jwtSecret)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, errs.Unauthorized("invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// OwnerIDFromContext returns the authenticated owner id, or "".
func OwnerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ownerIDKey).(string)
	return id
}
