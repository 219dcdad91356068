package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/kuzzle-realtime/internal/connection"
	"github.com/rickgao/kuzzle-realtime/internal/metrics"
	"github.com/rickgao/kuzzle-realtime/internal/router"
	"github.com/rickgao/kuzzle-realtime/internal/session"
	"github.com/rickgao/kuzzle-realtime/internal/writer"
)

// newHealthHandler serves /health and the Prometheus endpoint.
// journal and pool are nil when the journal is disabled.
func newHealthHandler(
	metricsPath string,
	sess *session.Session,
	mgr connection.Manager,
	rt *router.Router,
	journal *writer.NotificationWriter,
	pool *pgxpool.Pool,
) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		conn := mgr.Stats()
		health.Components["connection"] = map[string]any{
			"connected":  conn.Connected,
			"reconnects": conn.Reconnects,
			"messages":   conn.MessagesReceived,
		}
		if !conn.Connected {
			health.Status = "degraded"
		}

		subs := sess.Realtime().Stats()
		health.Components["subscriptions"] = map[string]any{
			"rooms":     subs.Rooms,
			"channels":  subs.Channels,
			"observers": subs.Observers,
			"pending":   sess.Requester().Pending(),
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}

			rs := rt.Stats()
			ws := journal.Stats()
			health.Components["journal"] = map[string]any{
				"queued":   rs.Buffer.Count,
				"dropped":  rs.Dropped,
				"inserted": ws.Inserts,
				"failed":   ws.Failed,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
