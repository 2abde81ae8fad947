package stations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
)

const DefaultTranscriptionTimeout = 5 * time.Minute

type S3Transcribe struct {
	repo    ports.SessionRepository
	stt     ports.Transcriber
	timeout time.Duration
	lang    language.Tag
	log     *logger.ZapLogger

	group singleflight.Group
}

// NewS3Transcribe builds the transcription station. defaultLang is used when a
// call carries no usable hint; an unparsable value falls back to pt-BR.
func NewS3Transcribe(
	repo ports.SessionRepository,
	stt ports.Transcriber,
	timeout time.Duration,
	defaultLang string,
	log *logger.ZapLogger,
) *S3Transcribe {
	if timeout <= 0 {
		timeout = DefaultTranscriptionTimeout
	}
	tag, err := language.Parse(defaultLang)
	if err != nil || tag == language.Und {
		tag = language.BrazilianPortuguese
	}
	return &S3Transcribe{repo: repo, stt: stt, timeout: timeout, lang: tag, log: log}
}

// Language normalizes a hint into a BCP 47 tag string.
func (s *S3Transcribe) Language(hint string) string {
	if hint == "" {
		return s.lang.String()
	}
	tag, err := language.Parse(hint)
	if err != nil || tag == language.Und {
		return s.lang.String()
	}
	return tag.String()
}

// Run transcribes the session's audio. Concurrent calls for one session join
// the pending call. The call itself is detached from ctx so a caller that
// walks away does not leave the session stuck in "transcribing"; it is bounded
// by the transcription timeout instead.
func (s *S3Transcribe) Run(ctx context.Context, sessionID, audioURL, hint string) (*models.Transcript, error) {
	lang := s.Language(hint)
	detached := context.WithoutCancel(ctx)

	ch := s.group.DoChan(sessionID, func() (any, error) {
		return s.transcribe(detached, sessionID, audioURL, lang)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Transcript), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *S3Transcribe) transcribe(ctx context.Context, sessionID, audioURL, lang string) (*models.Transcript, error) {
	start := time.Now()
	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S3][START]",
		Fields:  map[string]any{"session": sessionID, "lang": lang},
	})

	// transcribed is terminal
	if tr, err := s.repo.GetTranscript(ctx, sessionID); err == nil && tr != nil {
		s.log.Log(logger.LogEntry{Level: "info", Message: "[S3][CACHED]", Fields: map[string]any{"session": sessionID}})
		return tr, nil
	}

	ok, err := s.repo.BeginTranscription(ctx, sessionID, time.Now().Add(-s.timeout))
	if err != nil {
		return nil, s.fail(ctx, sessionID, apperrors.TranscriptionBackend, fmt.Errorf("begin transcription: %w", err), false)
	}
	if !ok {
		s.log.Log(logger.LogEntry{Level: "warn", Message: "[S3][BUSY]", Fields: map[string]any{"session": sessionID}})
		return nil, fmt.Errorf("session %s: %w", sessionID, apperrors.ErrTranscriptionInFlight)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.stt.Transcribe(callCtx, audioURL, sessionID, lang)
	if err != nil {
		kind := apperrors.TranscriptionBackend
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			kind = apperrors.TranscriptionTimeout
		}
		return nil, s.fail(ctx, sessionID, kind, err, true)
	}

	tr := models.Transcript{
		SessionID: sessionID,
		Text:      text,
		Language:  lang,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CompleteTranscription(ctx, tr); err != nil {
		return nil, s.fail(ctx, sessionID, apperrors.TranscriptionBackend, fmt.Errorf("complete transcription: %w", err), true)
	}

	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S3][OK]",
		Fields: map[string]any{
			"session": sessionID,
			"text":    trim(text, 120),
			"dur":     time.Since(start).String(),
		},
	})
	return &tr, nil
}

// fail marks the session failed when this attempt owned it and wraps err.
func (s *S3Transcribe) fail(ctx context.Context, sessionID string, kind apperrors.TranscriptionErrorKind, err error, owned bool) error {
	s.log.Log(logger.LogEntry{
		Level:   "error",
		Message: "[S3][FAIL]",
		Fields:  map[string]any{"session": sessionID, "kind": string(kind)},
		Error:   err,
	})
	if owned {
		if ferr := s.repo.FailTranscription(ctx, sessionID); ferr != nil {
			s.log.Log(logger.LogEntry{Level: "error", Message: "[S3][FAIL][MARK]", Error: ferr})
		}
	}
	return &apperrors.TranscriptionError{Kind: kind, SessionID: sessionID, Err: err}
}
