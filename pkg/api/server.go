/*
YggdrasilDB REST API

This is the REST API for YggdrasilDB, a persistent namespaced ordered
index over a transactional document store.

Version: 1.0.0
Host: localhost:8080
BasePath: /api/v1

SecurityDefinitions:
  - ApiKeyAuth:
    type: apiKey
    in: header
    name: X-API-Key

swagger:meta
*/
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/ssargent/yggdrasil/pkg/index"
)

// NewRouter builds the full route tree for the given service.
func NewRouter(svc *index.Service, config ServerConfig, metrics *Metrics) http.Handler {
	server := NewServer(svc, config, metrics)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint (unprotected for scraping)
	r.Handle("/metrics", promhttp.Handler())

	// API key authentication middleware for protected routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(metrics.InstrumentAuthMiddleware(apiKeyMiddleware(config.APIKey)))

		// Health check
		r.Get("/health", metrics.InstrumentHandler("GET", "/api/v1/health", server.handleHealth))

		// Namespace catalog and lifecycle
		r.Get("/trees", metrics.InstrumentHandler("GET", "/api/v1/trees", server.handleListTrees))
		r.Post("/trees/clear-all", metrics.InstrumentHandler("POST", "/api/v1/trees/clear-all", server.handleClearAll))
		r.Put("/trees/{ns}", metrics.InstrumentHandler("PUT", "/api/v1/trees/{ns}", server.handleInitTree))
		r.Post("/trees/{ns}/clear", metrics.InstrumentHandler("POST", "/api/v1/trees/{ns}/clear", server.handleClearTree))
		r.Get("/trees/{ns}/validate", metrics.InstrumentHandler("GET", "/api/v1/trees/{ns}/validate", server.handleValidate))

		// Items
		r.Post("/trees/{ns}/items", metrics.InstrumentHandler("POST", "/api/v1/trees/{ns}/items", server.handleInsertItem))
		r.Put("/trees/{ns}/items", metrics.InstrumentHandler("PUT", "/api/v1/trees/{ns}/items", server.handleReplaceItem))
		r.Post("/trees/{ns}/items/get", metrics.InstrumentHandler("POST", "/api/v1/trees/{ns}/items/get", server.handleGetItem))
		r.Post("/trees/{ns}/items/delete", metrics.InstrumentHandler("POST", "/api/v1/trees/{ns}/items/delete", server.handleDeleteItem))
		r.Post("/trees/{ns}/paginate", metrics.InstrumentHandler("POST", "/api/v1/trees/{ns}/paginate", server.handlePaginate))
	})

	// Swagger documentation (unprotected)
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", config.Port)),
	))

	return r
}

// StartServer starts the HTTP server with all routes configured
func StartServer(svc *index.Service, config ServerConfig) error {
	metrics := NewMetrics()
	r := NewRouter(svc, config, metrics)

	addr := fmt.Sprintf("%s:%d", config.Bind, config.Port)
	fmt.Printf("Starting YggdrasilDB REST API server on %s\n", addr)
	fmt.Printf("Metrics available at: http://%s/metrics\n", addr)
	return http.ListenAndServe(addr, r)
}
