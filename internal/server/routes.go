package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Event streaming (SSE)
	r.Get("/events", s.streamEvents)

	// Projects
	r.Route("/projects", func(r chi.Router) {
		r.Get("/", s.listProjects)
		r.Post("/", s.createProject)
		r.Get("/{projectID}", s.getProject)
	})

	// Sessions
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/fork", s.forkSession)
			r.Post("/agents", s.spawnAgent)

			r.Get("/tasks", s.listTasks)
			r.Post("/tasks", s.createTask)
		})
	})

	// Tasks addressed directly (the owning session is looked up)
	r.Route("/tasks/{taskID}", func(r chi.Router) {
		r.Get("/", s.getTask)
		r.Patch("/", s.updateTask)
		r.Delete("/", s.deleteTask)
		r.Post("/notes", s.addTaskNote)
	})

	// Threads
	r.Route("/threads/{threadID}", func(r chi.Router) {
		r.Get("/events", s.getThreadEvents)
		r.Post("/messages", s.postMessage)
		r.Post("/system-prompt", s.postSystemPrompt)
		r.Get("/pending-approvals", s.getPendingApprovals)
	})

	// Approvals
	r.Post("/approvals/{callID}", s.respondApproval)
}
