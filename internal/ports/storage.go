package ports

import "context"

type UploadMeta struct {
	PatientID     string
	AppointmentID *string
	MimeType      string
}

// ProgressFunc receives upload progress as an integer percentage 0..100.
type ProgressFunc func(percent int)

type Storage interface {
	Upload(ctx context.Context, data []byte, meta UploadMeta, progress ProgressFunc) (audioURL string, err error)
	Fetch(ctx context.Context, audioURL string) (data []byte, mimeType string, err error)
}
