package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/domain"
	"github.com/Vovarama1992/fonodesk/internal/domain/stations"
	"github.com/Vovarama1992/go-utils/logger"
)

var (
	errBadRequest   = errors.New("bad request")
	errUnauthorized = errors.New("unauthorized")
)

func badJSON(err error) error {
	return fmt.Errorf("invalid json: %w: %w", errBadRequest, err)
}

type errorBody struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Message  string `json:"message,omitempty"`
	Recovery string `json:"recovery,omitempty"`
}

// classify maps an error onto an HTTP status and a machine-readable kind.
func classify(err error) (int, string) {
	var (
		dev  *apperrors.DeviceError
		up   *apperrors.UploadError
		sess *apperrors.SessionCreateError
		tr   *apperrors.TranscriptionError
		save *apperrors.SaveError
	)

	switch {
	case errors.As(err, &dev):
		switch dev.Kind {
		case apperrors.DevicePermissionDenied:
			return http.StatusForbidden, string(dev.Kind)
		case apperrors.DeviceBusy:
			return http.StatusConflict, string(dev.Kind)
		default:
			return http.StatusServiceUnavailable, string(dev.Kind)
		}
	case errors.As(err, &up):
		switch up.Kind {
		case apperrors.UploadOversize:
			return http.StatusRequestEntityTooLarge, string(up.Kind)
		case apperrors.UploadInvalidType:
			return http.StatusUnsupportedMediaType, string(up.Kind)
		default:
			return http.StatusBadGateway, string(up.Kind)
		}
	case errors.As(err, &sess):
		return http.StatusBadGateway, "session_create"
	case errors.As(err, &tr):
		if tr.Kind == apperrors.TranscriptionTimeout {
			return http.StatusGatewayTimeout, string(tr.Kind)
		}
		return http.StatusBadGateway, string(tr.Kind)
	case errors.As(err, &save):
		return http.StatusBadGateway, "save"

	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, apperrors.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, apperrors.ErrStageOrder):
		return http.StatusConflict, "stage_order"
	case errors.Is(err, apperrors.ErrTranscriptionInFlight):
		return http.StatusConflict, "transcription_in_flight"
	case errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, apperrors.ErrNoRecording):
		return http.StatusConflict, "no_recording"
	case errors.Is(err, apperrors.ErrEmptyRecording):
		return http.StatusUnprocessableEntity, "empty_recording"
	case errors.Is(err, apperrors.ErrUnknownTemplate):
		return http.StatusBadRequest, "unknown_template"
	case errors.Is(err, domain.ErrPatientRequired):
		return http.StatusBadRequest, "patient_required"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, stations.ErrNoAssistant):
		return http.StatusNotImplemented, "assistant_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// logTag builds a bracketed log tag such as [HTTP][PIPE][FINISH][FAIL].
func logTag(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString("[" + p + "]")
	}
	return b.String()
}

// writeError answers with the JSON error body. ops name the failing
// operation, outermost first.
func writeError(w http.ResponseWriter, log *logger.ZapLogger, err error, ops ...string) {
	status, kind := classify(err)
	body := errorBody{Error: err.Error(), Kind: kind}
	if f, ok := apperrors.AsStageFailure(err); ok {
		body.Message = f.UserMessage()
		body.Recovery = string(f.Recovery())
	}

	if log != nil {
		level := "warn"
		if status >= http.StatusInternalServerError {
			level = "error"
		}
		tag := append(append([]string{"HTTP"}, ops...), "FAIL")
		log.Log(logger.LogEntry{
			Level:   level,
			Message: logTag(tag...),
			Fields:  map[string]any{"status": status, "kind": kind},
			Error:   err,
		})
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
