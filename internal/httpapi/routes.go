package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matchkeeper/matchsync/internal/channel"
	"github.com/matchkeeper/matchsync/internal/publisher"
	"github.com/matchkeeper/matchsync/internal/reconcile"
)

func SetupRoutes(ch *channel.Channel, pub *publisher.Service, syn *reconcile.Syncer) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/status", Status(ch, syn))
	r.Post("/flush", Flush(syn))
	r.Post("/drain", Drain(pub))
	return r
}
