package delivery

import (
	"net/http"

	"github.com/Vovarama1992/fonodesk/internal/domain"
	"github.com/Vovarama1992/go-utils/logger"
)

type RecorderHandler struct {
	rec *domain.Recorder
	log *logger.ZapLogger
}

func NewRecorderHandler(rec *domain.Recorder, log *logger.ZapLogger) *RecorderHandler {
	return &RecorderHandler{
		rec: rec,
		log: log,
	}
}

// GET /api/recorder
func (h *RecorderHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rec.Snapshot())
}

func (h *RecorderHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.do(w, "START", h.rec.Start(r.Context()))
}

func (h *RecorderHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.do(w, "PAUSE", h.rec.Pause())
}

func (h *RecorderHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.do(w, "RESUME", h.rec.Resume())
}

func (h *RecorderHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.do(w, "STOP", h.rec.Stop(r.Context()))
}

func (h *RecorderHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.do(w, "RESTART", h.rec.Restart(r.Context()))
}

func (h *RecorderHandler) Discard(w http.ResponseWriter, r *http.Request) {
	h.do(w, "DISCARD", h.rec.Discard())
}

// do answers with the recorder snapshot after op, or with the op's error.
func (h *RecorderHandler) do(w http.ResponseWriter, op string, err error) {
	if err != nil {
		writeError(w, h.log, err, "REC", op)
		return
	}
	writeJSON(w, http.StatusOK, h.rec.Snapshot())
}
