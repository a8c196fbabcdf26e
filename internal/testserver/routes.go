// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package testserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
)

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.withTraceID, s.withLogging, withGZip)

	router.Group(func(r chi.Router) {
		r.Use(s.auth)

		r.Post(adapter.RouteGetUpdates, s.getUpdates)
		r.With(s.commitHashing).Post(adapter.RouteCommit, s.commit)
		r.Post(adapter.RouteClear, s.clear)
	})

	router.MethodNotAllowed(CheckHTTPMethod(router))

	return router
}

// CheckHTTPMethod returns a MethodNotAllowed handler that answers 404 for a
// method the matched route does not serve, hiding the route from callers.
func CheckHTTPMethod(router *chi.Mux) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var foundRoute chi.Route
		for _, route := range router.Routes() {
			if route.Pattern == r.URL.Path {
				foundRoute = route
				break
			}
		}

		if _, ok := foundRoute.Handlers[r.Method]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		router.ServeHTTP(w, r)
	}
}
