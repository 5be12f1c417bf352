package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// UsersRouter registers the account, session and catalog routes.
// limit guards the unauthenticated endpoints; requireSession guards the rest.
func UsersRouter(r chi.Router, authHandler *AuthHandler, bookHandler *BookHandler, requireSession, limit func(http.Handler) http.Handler) {
	r.With(limit).Post("/registro", authHandler.Register)
	r.With(limit).Post("/login", authHandler.Login)

	r.Route("/{userID}", func(r chi.Router) {
		r.With(limit).Post("/refrescar", authHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Post("/logout", authHandler.Logout)
			r.Get("/libros", bookHandler.List)
			r.Get("/libros/buscar", bookHandler.Search)
			r.Post("/libros/compras", bookHandler.Purchase)
		})
	})
}
