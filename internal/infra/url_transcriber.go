package infra

import (
	"context"
	"fmt"

	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
)

// URLTranscriber fetches stored audio and hands it to a speech engine.
type URLTranscriber struct {
	storage ports.Storage
	stt     ports.STTService
	log     *logger.ZapLogger
}

func NewURLTranscriber(storage ports.Storage, stt ports.STTService, log *logger.ZapLogger) *URLTranscriber {
	return &URLTranscriber{storage: storage, stt: stt, log: log}
}

func (t *URLTranscriber) Transcribe(ctx context.Context, audioURL, sessionID, lang string) (string, error) {
	audio, mimeType, err := t.storage.Fetch(ctx, audioURL)
	if err != nil {
		return "", fmt.Errorf("fetch audio: %w", err)
	}

	text, raw, err := t.stt.Recognize(ctx, audio, mimeType, lang)
	if err != nil {
		t.log.Log(logger.LogEntry{
			Level:   "error",
			Message: "[STT][FAIL]",
			Fields:  map[string]any{"session": sessionID, "raw": string(raw)},
			Error:   err,
		})
		return "", err
	}

	t.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[STT][OK]",
		Fields:  map[string]any{"session": sessionID, "bytes": len(audio), "chars": len(text)},
	})
	return text, nil
}
