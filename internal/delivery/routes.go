package delivery

import (
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	Auth     *AuthHandler
	Recorder *RecorderHandler
	Pipeline *PipelineHandler
	Sessions *SessionHandler
}

func RegisterRoutes(r chi.Router, h Handlers, auth ports.AuthService) {
	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(auth, h.Auth.log))

		// login
		r.Post("/login", h.Auth.Login)

		// recorder
		r.Get("/recorder", h.Recorder.Get)
		r.Post("/recorder/start", h.Recorder.Start)
		r.Post("/recorder/pause", h.Recorder.Pause)
		r.Post("/recorder/resume", h.Recorder.Resume)
		r.Post("/recorder/stop", h.Recorder.Stop)
		r.Post("/recorder/restart", h.Recorder.Restart)
		r.Post("/recorder/discard", h.Recorder.Discard)

		// pipeline
		r.Get("/pipeline", h.Pipeline.Get)
		r.Post("/pipeline/finish", h.Pipeline.Finish)
		r.Post("/pipeline/retry", h.Pipeline.Retry)
		r.Put("/pipeline/draft", h.Pipeline.UpdateDraft)
		r.Post("/pipeline/assist", h.Pipeline.Assist)
		r.Post("/pipeline/copy", h.Pipeline.Copy)
		r.Post("/pipeline/save", h.Pipeline.Save)
		r.Post("/pipeline/cancel", h.Pipeline.Cancel)
		r.Post("/pipeline/reset", h.Pipeline.Reset)
		r.Get("/templates", h.Pipeline.Templates)

		// history
		r.Get("/sessions/{id}", h.Sessions.Get)
		r.Get("/patients/{id}/sessions", h.Sessions.ListForPatient)
	})
}
