package ports

import (
	"context"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/models"
)

type SessionRepository interface {
	CreateSession(ctx context.Context, in models.NewAudioSession) (*models.AudioSession, error)
	GetSession(ctx context.Context, id string) (*models.AudioSession, error)
	ListPatientSessions(ctx context.Context, patientID string) ([]models.AudioSession, error)

	// BeginTranscription moves the session to "transcribing" when it is
	// uploaded, failed, or holds a transcribing lease older than staleBefore.
	// It returns false when another attempt owns the session.
	BeginTranscription(ctx context.Context, sessionID string, staleBefore time.Time) (bool, error)
	// CompleteTranscription stores the transcript and marks the session
	// transcribed in one transaction.
	CompleteTranscription(ctx context.Context, tr models.Transcript) error
	FailTranscription(ctx context.Context, sessionID string) error
	GetTranscript(ctx context.Context, sessionID string) (*models.Transcript, error)
}

type ReportRepository interface {
	CreateReport(ctx context.Context, in models.NewReport) (*models.Report, error)
}
