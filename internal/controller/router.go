package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rophim/server/pkg/rest"
)

func (c controller) GetMux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(c.requestIdMw)
	r.Use(c.requestLoggingMw)
	r.Use(c.metrics.Middleware)
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		rest.WriteJSON(w, http.StatusOK, rest.Envelope{"status": "ok"})
	})
	r.Handle("/metrics", c.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/hls", func(r chi.Router) {
			r.Post("/analyze", c.analyzeStream)
			r.Get("/proxy", c.proxyStream)
		})

		r.Route("/watch-party", func(r chi.Router) {
			r.Get("/ws", c.serveWs)

			r.Group(func(r chi.Router) {
				r.Use(c.gzipMw)
				r.Post("/", c.createRoom)
				r.Get("/public", c.listPublicRooms)
				r.Get("/private", c.listPrivateRooms)
				r.Route("/{room-id}", func(r chi.Router) {
					r.Get("/", c.getRoom)
					r.Delete("/", c.deleteRoom)
					r.Post("/join", c.joinRoom)
					r.Post("/leave", c.leaveRoom)
					r.Post("/heartbeat", c.heartbeat)
					r.Post("/state", c.updateState)
					r.Patch("/settings", c.updateSettings)
					r.Post("/chat", c.sendMessage)
				})
			})
		})
	})

	return r
}
