package presence

import (
	"log"
	"net/http"
	"strings"

	ws "github.com/coder/websocket"

	"fitpass/internal/auth"
	"fitpass/internal/metrics"
)

// Handler returns an HTTP handler that authenticates the observer, upgrades
// the connection to WebSocket, and runs it as a hub client. The bearer token
// is taken from the Authorization header or, for browser WebSocket clients
// that cannot set headers, the token query parameter.
func Handler(hub *Hub, snapshot SnapshotFunc, signingKey, issuer string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		claims, err := auth.Parse(tokenStr, signingKey, issuer)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // cross-origin mobile and dashboard clients
		})
		if err != nil {
			log.Printf("presence: accept: %v", err)
			return
		}

		metrics.PresenceClients.Inc()
		defer metrics.PresenceClients.Dec()

		client := NewClient(hub, conn, claims, snapshot)
		client.Run(r.Context())
	}
}

func bearerToken(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return r.URL.Query().Get("token")
}
