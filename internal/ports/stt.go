package ports

import "context"

// STTService recognizes speech in an audio payload.
type STTService interface {
	Recognize(ctx context.Context, audio []byte, mimeType, lang string) (text string, raw []byte, err error)
}

// Transcriber runs speech-to-text against audio that already lives in storage.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL, sessionID, lang string) (string, error)
}
