package ports

import "context"

// MediaCapture grants exclusive access to the microphone.
type MediaCapture interface {
	Acquire(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is one live microphone stream.
//
// Chunks delivers encoded audio as it is produced. The channel is closed once
// the stream has flushed everything after Stop, or immediately after Release.
// Release must be safe to call more than once.
type CaptureStream interface {
	Chunks() <-chan []byte
	MimeType() string
	Pause() error
	Resume() error
	Stop() error
	Release() error
	ActiveTracks() int
}
