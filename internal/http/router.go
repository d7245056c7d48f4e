package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cartHandler *CartHandler, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(GuestMiddleware)
	r.Use(BearerTokenMiddleware)

	r.With(middleware.Timeout(requestTimeout)).Get("/health", cartHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			// long-lived websocket, kept out of the request timeout
			r.Get("/events", cartHandler.Events)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))

				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
				r.Get("/sync", cartHandler.GetSyncState)
				r.Post("/sync", cartHandler.RetrySync)
				r.Delete("/sync", cartHandler.EndSession)
			})
		})
	})

	return r
}
