package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/list-validator/internal/metrics"
	"github.com/ignite/list-validator/internal/workflow"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Workflow triggers: each executes its stage synchronously and
		// returns the stage result
		r.Post("/workflows/"+workflow.StepCreateListJob, h.RunWorkflowStep(workflow.StepCreateListJob))
		r.Post("/workflows/"+workflow.StepVerifyChunk, h.RunWorkflowStep(workflow.StepVerifyChunk))
		r.Post("/workflows/"+workflow.StepCompleteJob, h.RunWorkflowStep(workflow.StepCompleteJob))

		// Query and export surface
		r.Get("/list-progress/{userId}/{listId}", h.GetListProgress)
		r.Get("/list-details/{userId}/{listId}", h.GetListDetails)
		r.Get("/user-lists/{userId}", h.GetUserLists)
		r.Get("/download-validated-data/{userId}/{listId}", h.DownloadValidatedData)
		r.Delete("/delete-list/{userId}/{listId}", h.DeleteList)
	})

	return r
}
