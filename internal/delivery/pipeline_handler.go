package delivery

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/domain"
	"github.com/Vovarama1992/go-utils/logger"
)

// PipelineHandler exposes the pipeline to the dashboard. Finish and Retry
// answer 202 and keep running in the background; the dashboard follows them
// over the websocket.
type PipelineHandler struct {
	pipeline *domain.PipelineService
	rec      *domain.Recorder
	log      *logger.ZapLogger

	// bg outlives requests; background runs are bound to it.
	bg context.Context
}

func NewPipelineHandler(
	bg context.Context,
	pipeline *domain.PipelineService,
	rec *domain.Recorder,
	log *logger.ZapLogger,
) *PipelineHandler {
	return &PipelineHandler{
		pipeline: pipeline,
		rec:      rec,
		log:      log,
		bg:       bg,
	}
}

// GET /api/pipeline
func (h *PipelineHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// GET /api/templates
func (h *PipelineHandler) Templates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Templates())
}

// POST /api/pipeline/finish
func (h *PipelineHandler) Finish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientID     string  `json:"patientId"`
		AppointmentID *string `json:"appointmentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, badJSON(err), "PIPE", "FINISH")
		return
	}
	if req.PatientID == "" {
		writeError(w, h.log, domain.ErrPatientRequired, "PIPE", "FINISH")
		return
	}
	if err := h.pipeline.CanFinish(); err != nil {
		writeError(w, h.log, err, "PIPE", "FINISH")
		return
	}
	if h.rec.State() == domain.RecorderIdle {
		writeError(w, h.log, apperrors.ErrNoRecording, "PIPE", "FINISH")
		return
	}

	h.background("FINISH", func(ctx context.Context) error {
		return h.pipeline.Finish(ctx, h.rec, req.PatientID, req.AppointmentID)
	})
	writeJSON(w, http.StatusAccepted, h.pipeline.Snapshot())
}

// POST /api/pipeline/retry
func (h *PipelineHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.CanRetry(); err != nil {
		writeError(w, h.log, err, "PIPE", "RETRY")
		return
	}
	h.background("RETRY", h.pipeline.Retry)
	writeJSON(w, http.StatusAccepted, h.pipeline.Snapshot())
}

// PUT /api/pipeline/draft
func (h *PipelineHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID *string `json:"templateId"`
		Text       *string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, badJSON(err), "PIPE", "DRAFT")
		return
	}

	if req.TemplateID != nil {
		if err := h.pipeline.SelectTemplate(*req.TemplateID); err != nil {
			writeError(w, h.log, err, "PIPE", "DRAFT")
			return
		}
	}
	if req.Text != nil {
		if err := h.pipeline.Edit(*req.Text); err != nil {
			writeError(w, h.log, err, "PIPE", "DRAFT")
			return
		}
	}
	writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// POST /api/pipeline/assist
func (h *PipelineHandler) Assist(w http.ResponseWriter, r *http.Request) {
	h.sync(w, "ASSIST", h.pipeline.Assist(r.Context()))
}

// POST /api/pipeline/copy
func (h *PipelineHandler) Copy(w http.ResponseWriter, r *http.Request) {
	h.sync(w, "COPY", h.pipeline.Copy(r.Context()))
}

// POST /api/pipeline/save
func (h *PipelineHandler) Save(w http.ResponseWriter, r *http.Request) {
	h.sync(w, "SAVE", h.pipeline.Save(r.Context()))
}

// POST /api/pipeline/cancel
func (h *PipelineHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.pipeline.Cancel()
	writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// POST /api/pipeline/reset
func (h *PipelineHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.sync(w, "RESET", h.pipeline.Reset())
}

func (h *PipelineHandler) sync(w http.ResponseWriter, op string, err error) {
	if err != nil {
		writeError(w, h.log, err, "PIPE", op)
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// background runs fn detached from the request. Stage failures reach the
// dashboard as pipeline events; here they are only logged.
func (h *PipelineHandler) background(op string, fn func(context.Context) error) {
	go func() {
		if err := fn(h.bg); err != nil {
			h.log.Log(logger.LogEntry{
				Level:   "warn",
				Message: logTag("HTTP", "PIPE", op, "END"),
				Error:   err,
			})
		}
	}()
}
