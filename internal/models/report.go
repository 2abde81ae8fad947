package models

import "time"

type ReportStatus string

const (
	ReportDraftStatus ReportStatus = "draft"
	ReportApproved    ReportStatus = "approved"
)

// ReportDraft is the editable buffer seeded from a transcript. It is never
// persisted on its own.
type ReportDraft struct {
	TemplateID   string `json:"templateId"`
	EditableText string `json:"text"`
}

type Report struct {
	ID        string       `db:"id" json:"id"`
	PatientID string       `db:"patient_id" json:"patientId"`
	SessionID *string      `db:"session_id" json:"sessionId,omitempty"`
	Type      string       `db:"type" json:"type"`
	Content   string       `db:"content" json:"content"`
	Status    ReportStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
}

type NewReport struct {
	PatientID string
	SessionID *string
	Type      string
	Content   string
	Status    ReportStatus
}

// ReportTemplate is one entry of the externally supplied template catalog.
type ReportTemplate struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	// Guidance is handed to the draft assistant when the operator asks for a rewrite.
	Guidance string `yaml:"guidance" json:"guidance,omitempty"`
}
