package models

import "time"

type SessionStatus string

const (
	SessionUploaded     SessionStatus = "uploaded"
	SessionTranscribing SessionStatus = "transcribing"
	SessionTranscribed  SessionStatus = "transcribed"
	SessionFailed       SessionStatus = "failed"
)

// CanBeginTranscription reports whether a new transcription attempt may start
// from this status. A stale "transcribing" lease is handled by the store.
func (s SessionStatus) CanBeginTranscription() bool {
	return s == SessionUploaded || s == SessionFailed
}

type AudioSession struct {
	ID              string        `db:"id" json:"id"`
	PatientID       string        `db:"patient_id" json:"patientId"`
	AppointmentID   *string       `db:"appointment_id" json:"appointmentId,omitempty"`
	AudioURL        string        `db:"audio_url" json:"audioUrl"` // durable URL returned by storage
	FileSizeBytes   int64         `db:"file_size_bytes" json:"fileSizeBytes"`
	DurationSeconds int           `db:"duration_seconds" json:"durationSeconds"`
	Status          SessionStatus `db:"status" json:"status"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

// NewAudioSession is the registration payload sent after a successful upload.
type NewAudioSession struct {
	PatientID       string
	AppointmentID   *string
	AudioURL        string
	FileSizeBytes   int64
	DurationSeconds int
}
