package stations

import (
	"context"
	"errors"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
)

type S2RegisterSession struct {
	repo ports.SessionRepository
	log  *logger.ZapLogger
}

func NewS2RegisterSession(repo ports.SessionRepository, log *logger.ZapLogger) *S2RegisterSession {
	return &S2RegisterSession{repo: repo, log: log}
}

// Run records the uploaded audio as a session. On failure the audio stays in
// storage and the caller retries with the same AudioURL.
func (s *S2RegisterSession) Run(ctx context.Context, in models.NewAudioSession) (*models.AudioSession, error) {
	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S2][START]",
		Fields:  map[string]any{"url": in.AudioURL, "patient": in.PatientID},
	})

	sess, err := s.repo.CreateSession(ctx, in)
	if err == nil && sess == nil {
		err = errors.New("store returned no session")
	}
	if err != nil {
		s.log.Log(logger.LogEntry{
			Level:   "error",
			Message: "[S2][FAIL]",
			Fields:  map[string]any{"url": in.AudioURL},
			Error:   err,
		})
		return nil, &apperrors.SessionCreateError{AudioURL: in.AudioURL, Err: err}
	}

	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S2][OK]",
		Fields:  map[string]any{"session": sess.ID},
	})
	return sess, nil
}
