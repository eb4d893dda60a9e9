package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/matchkeeper/matchsync/internal/channel"
	"github.com/matchkeeper/matchsync/internal/publisher"
	"github.com/matchkeeper/matchsync/internal/reconcile"
)

// Status reports connectivity and the pending-sync backlog. The UI renders
// these instead of blocking data entry on connectivity.
func Status(ch *channel.Channel, syn *reconcile.Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := syn.PendingCounts(r.Context())
		if err != nil {
			http.Error(w, "failed to read pending counts", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			State   channel.State    `json:"state"`
			Pending map[string]int64 `json:"pending"`
		}{State: ch.CurrentState(), Pending: counts})
	}
}

// Flush runs one reconciliation pass on demand.
func Flush(syn *reconcile.Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := syn.FlushOnce(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Synced int `json:"synced"`
			Failed int `json:"failed"`
		}{Synced: res.Synced, Failed: res.Failed})
	}
}

// Drain replays the outbox on demand, mainly for diagnostics; the usual
// trigger is a reconnect.
func Drain(pub *publisher.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := pub.Drain(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Synced  int `json:"synced"`
			Failed  int `json:"failed"`
			Skipped int `json:"skipped"`
		}{Synced: res.Synced, Failed: res.Failed, Skipped: res.Skipped})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
