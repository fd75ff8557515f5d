package server

import (
	"chat-relay/auth"
	"chat-relay/infrastructure/http/middleware"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires both front ends behind the auth collaborator.
func NewRouter(
	log *slog.Logger,
	verifier *auth.Verifier,
	limiter *middleware.RateLimiter,
	messages *MessageServer,
	ws *WSServer,
) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/up", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireCaller(verifier, log))

		r.Get("/ws", ws.Connect)
		r.Get("/rooms/{roomId}/messages", messages.GetMessages)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)

			r.Post("/rooms/{roomId}/messages/text", messages.SendText)
			r.Post("/rooms/{roomId}/messages/audio", messages.SendAudio)
		})
	})

	return r
}
