package stations

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
)

// MaxUploadBytes is the largest recording accepted by storage.
const MaxUploadBytes = 100 << 20

type UploadTarget struct {
	PatientID     string
	AppointmentID *string
}

type S1Upload struct {
	storage ports.Storage
	log     *logger.ZapLogger
}

func NewS1Upload(storage ports.Storage, log *logger.ZapLogger) *S1Upload {
	return &S1Upload{storage: storage, log: log}
}

// Run validates the recording locally and transfers it. Progress is reported
// as a clamped, non-decreasing percentage that ends at 100 on success.
// Failures are never retried here.
func (s *S1Upload) Run(
	ctx context.Context,
	rec *models.Recording,
	target UploadTarget,
	progress ports.ProgressFunc,
) (string, error) {
	start := time.Now()

	if err := validateRecording(rec); err != nil {
		s.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[S1][REJECT]",
			Fields:  map[string]any{"bytes": rec.Size(), "mime": mimeOf(rec)},
			Error:   err,
		})
		return "", err
	}

	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S1][START]",
		Fields:  map[string]any{"bytes": rec.Size(), "patient": target.PatientID},
	})

	report := monotonic(progress)
	report(0)

	url, err := s.storage.Upload(ctx, rec.Data, ports.UploadMeta{
		PatientID:     target.PatientID,
		AppointmentID: target.AppointmentID,
		MimeType:      rec.MimeType,
	}, report)
	if err == nil && url == "" {
		err = errors.New("storage returned empty url")
	}
	if err != nil {
		s.log.Log(logger.LogEntry{Level: "error", Message: "[S1][FAIL]", Error: err})
		return "", &apperrors.UploadError{Kind: apperrors.UploadNetwork, Err: err}
	}

	report(100)
	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S1][OK]",
		Fields:  map[string]any{"url": url, "dur": time.Since(start).String()},
	})
	return url, nil
}

func validateRecording(rec *models.Recording) error {
	if rec.Size() == 0 {
		return apperrors.ErrEmptyRecording
	}
	if rec.Size() > MaxUploadBytes {
		return &apperrors.UploadError{
			Kind: apperrors.UploadOversize,
			Err:  fmt.Errorf("%d bytes exceeds %d", rec.Size(), MaxUploadBytes),
		}
	}
	mt, _, err := mime.ParseMediaType(rec.MimeType)
	if err != nil {
		return &apperrors.UploadError{Kind: apperrors.UploadInvalidType, Err: err}
	}
	if !strings.HasPrefix(mt, "audio/") {
		return &apperrors.UploadError{
			Kind: apperrors.UploadInvalidType,
			Err:  fmt.Errorf("media type %q", mt),
		}
	}
	return nil
}

func mimeOf(rec *models.Recording) string {
	if rec == nil {
		return ""
	}
	return rec.MimeType
}

// monotonic wraps fn so it only ever sees increasing values within 0..100.
func monotonic(fn ports.ProgressFunc) ports.ProgressFunc {
	var (
		mu   sync.Mutex
		last = -1
	)
	return func(p int) {
		p = min(max(p, 0), 100)
		mu.Lock()
		if p <= last {
			mu.Unlock()
			return
		}
		last = p
		mu.Unlock()
		if fn != nil {
			fn(p)
		}
	}
}
