package main

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"
)

//go:embed openapi.yaml
var openapiYAML []byte

// routes wires middlewares and endpoints. Adjust CORS for your frontend hosts.
func (a *App) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:3000", "https://*.onrender.com"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Write(openapiYAML)
	})

	r.Mount("/swagger", httpSwagger.Handler(
		httpSwagger.URL("/api/openapi.yaml"),
	))

	r.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Post("/session", a.handleNewSession)

		api.Group(func(pr chi.Router) {
			pr.Use(a.sessionMiddleware)

			pr.Get("/analysis", a.handleGetAnalysis)
			pr.Get("/analysis/stream", a.handleAnalysisStream)

			pr.Route("/workflow", func(wr chi.Router) {
				wr.Get("/", a.handleGetWorkflow)
				wr.Post("/image", a.handleSelectImage)
				wr.Delete("/image", a.handleClearImage)
				wr.Post("/run", a.handleRun)
				wr.Put("/location", a.handleSetLocation)
				wr.Post("/locate", a.handleLocate)
			})

			pr.Post("/capture", a.handleCapture)
			pr.Get("/dashboard-stats", a.handleDashboardStats)
			pr.Get("/weather", a.handleWeather)
		})
	})

	return r
}
