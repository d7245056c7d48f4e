package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	GuestIDHeader = "X-Guest-ID"

	// GuestIDParam carries the guest id where headers cannot be set, as on
	// a websocket handshake from a browser.
	GuestIDParam = "guest_id"
)

type ctxKey int

const (
	guestIDKey ctxKey = iota
	tokenKey
)

// GuestMiddleware identifies the guest cart of the caller. A missing or
// malformed X-Guest-ID gets a fresh id, echoed back so the client can keep it.
func GuestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		guestID := r.Header.Get(GuestIDHeader)
		if guestID == "" {
			guestID = r.URL.Query().Get(GuestIDParam)
		}
		if _, err := uuid.Parse(guestID); err != nil {
			guestID = uuid.NewString()
		}

		w.Header().Set(GuestIDHeader, guestID)
		ctx := context.WithValue(r.Context(), guestIDKey, guestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerTokenMiddleware extracts the bearer token, if any. The token is passed
// through to the cart API, which is the one validating it.
func BearerTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), tokenKey, strings.TrimSpace(token))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getGuestID(ctx context.Context) string {
	if id, ok := ctx.Value(guestIDKey).(string); ok {
		return id
	}
	return ""
}

func getToken(ctx context.Context) string {
	if token, ok := ctx.Value(tokenKey).(string); ok {
		return token
	}
	return ""
}
