package domain

import (
	"fmt"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/models"
)

type Stage string

const (
	StageIdle             Stage = "idle"
	StageRecorded         Stage = "recorded"
	StageUploading        Stage = "uploading"
	StageUploadFailed     Stage = "upload_failed"
	StageUploaded         Stage = "uploaded"
	StageRegistering      Stage = "registering"
	StageRegisterFailed   Stage = "register_failed"
	StageRegistered       Stage = "registered"
	StageTranscribing     Stage = "transcribing"
	StageTranscribeFailed Stage = "transcribe_failed"
	StageReviewing        Stage = "reviewing"
	StageSaving           Stage = "saving"
	StageSaveFailed       Stage = "save_failed"
	StageSaved            Stage = "saved"
)

// InFlight reports whether the stage is waiting on I/O.
func (s Stage) InFlight() bool {
	switch s {
	case StageUploading, StageRegistering, StageTranscribing, StageSaving:
		return true
	}
	return false
}

func (s Stage) Failed() bool {
	switch s {
	case StageUploadFailed, StageRegisterFailed, StageTranscribeFailed, StageSaveFailed:
		return true
	}
	return false
}

// PipelineState is everything one take produced so far. Artifacts of
// successful stages survive later failures so a retry resumes where it broke.
type PipelineState struct {
	Stage Stage

	PatientID     string
	AppointmentID *string

	// Recording is held until the upload succeeds.
	Recording       *models.Recording
	SizeBytes       int64
	DurationSeconds int
	Progress        int

	AudioURL   string
	Session    *models.AudioSession
	Transcript *models.Transcript
	Draft      *models.ReportDraft
	Report     *models.Report

	Err error
}

// ================= EVENTS =================

type Event interface{ event() }

type (
	EvRecorded struct {
		Recording     *models.Recording
		PatientID     string
		AppointmentID *string
	}
	EvUploadStarted  struct{}
	EvUploadProgress struct{ Percent int }
	EvUploaded       struct{ AudioURL string }
	EvUploadFailed   struct{ Err error }

	EvRegisterStarted struct{}
	EvRegistered      struct{ Session *models.AudioSession }
	EvRegisterFailed  struct{ Err error }

	EvTranscribeStarted struct{}
	EvTranscribed       struct {
		Transcript *models.Transcript
		Draft      models.ReportDraft
	}
	EvTranscribeFailed struct{ Err error }

	EvDraftEdited struct{ Draft models.ReportDraft }
	EvSaveStarted struct{}
	EvSaved       struct{ Report *models.Report }
	EvSaveFailed  struct{ Err error }

	EvReset struct{}
)

func (EvRecorded) event()          {}
func (EvUploadStarted) event()     {}
func (EvUploadProgress) event()    {}
func (EvUploaded) event()          {}
func (EvUploadFailed) event()      {}
func (EvRegisterStarted) event()   {}
func (EvRegistered) event()        {}
func (EvRegisterFailed) event()    {}
func (EvTranscribeStarted) event() {}
func (EvTranscribed) event()       {}
func (EvTranscribeFailed) event()  {}
func (EvDraftEdited) event()       {}
func (EvSaveStarted) event()       {}
func (EvSaved) event()             {}
func (EvSaveFailed) event()        {}
func (EvReset) event()             {}

// Reduce applies ev to s. It is the only place stage transitions happen; an
// event that does not fit the current stage is rejected with ErrStageOrder
// and s is returned unchanged.
func Reduce(s PipelineState, ev Event) (PipelineState, error) {
	reject := func() (PipelineState, error) {
		return s, fmt.Errorf("%T in stage %s: %w", ev, s.Stage, apperrors.ErrStageOrder)
	}
	in := func(stages ...Stage) bool {
		for _, st := range stages {
			if s.Stage == st {
				return true
			}
		}
		return false
	}

	switch e := ev.(type) {
	case EvReset:
		return PipelineState{Stage: StageIdle}, nil

	case EvRecorded:
		if !in(StageIdle, StageSaved) {
			return reject()
		}
		if e.Recording.Size() == 0 {
			return s, apperrors.ErrEmptyRecording
		}
		return PipelineState{
			Stage:           StageRecorded,
			PatientID:       e.PatientID,
			AppointmentID:   e.AppointmentID,
			Recording:       e.Recording,
			SizeBytes:       e.Recording.Size(),
			DurationSeconds: e.Recording.DurationSeconds,
		}, nil

	case EvUploadStarted:
		if !in(StageRecorded, StageUploadFailed) {
			return reject()
		}
		s.Stage = StageUploading
		s.Progress = 0
		s.Err = nil

	case EvUploadProgress:
		if !in(StageUploading) {
			return reject()
		}
		p := min(max(e.Percent, 0), 100)
		if p > s.Progress {
			s.Progress = p
		}

	case EvUploaded:
		if !in(StageUploading) {
			return reject()
		}
		s.Stage = StageUploaded
		s.Progress = 100
		s.AudioURL = e.AudioURL
		s.Recording = nil

	case EvUploadFailed:
		if !in(StageUploading) {
			return reject()
		}
		s.Stage = StageUploadFailed
		s.Err = e.Err

	case EvRegisterStarted:
		if !in(StageUploaded, StageRegisterFailed) {
			return reject()
		}
		s.Stage = StageRegistering
		s.Err = nil

	case EvRegistered:
		if !in(StageRegistering) {
			return reject()
		}
		s.Stage = StageRegistered
		s.Session = e.Session

	case EvRegisterFailed:
		if !in(StageRegistering) {
			return reject()
		}
		s.Stage = StageRegisterFailed
		s.Err = e.Err

	case EvTranscribeStarted:
		if !in(StageRegistered, StageTranscribeFailed) {
			return reject()
		}
		s.Stage = StageTranscribing
		s.Err = nil

	case EvTranscribed:
		if !in(StageTranscribing) {
			return reject()
		}
		s.Stage = StageReviewing
		s.Transcript = e.Transcript
		d := e.Draft
		s.Draft = &d

	case EvTranscribeFailed:
		if !in(StageTranscribing) {
			return reject()
		}
		s.Stage = StageTranscribeFailed
		s.Err = e.Err

	case EvDraftEdited:
		if !in(StageReviewing, StageSaveFailed) {
			return reject()
		}
		d := e.Draft
		s.Draft = &d

	case EvSaveStarted:
		if !in(StageReviewing, StageSaveFailed) {
			return reject()
		}
		s.Stage = StageSaving
		s.Err = nil

	case EvSaved:
		if !in(StageSaving) {
			return reject()
		}
		s.Stage = StageSaved
		s.Report = e.Report
		s.Draft = nil

	case EvSaveFailed:
		if !in(StageSaving) {
			return reject()
		}
		s.Stage = StageSaveFailed
		s.Err = e.Err

	default:
		return reject()
	}
	return s, nil
}

// ================= VIEW =================

type PipelineFailure struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Recovery string `json:"recovery,omitempty"`
}

// PipelineView is the JSON shape of PipelineState served to the dashboard.
type PipelineView struct {
	Stage           Stage                `json:"stage"`
	PatientID       string               `json:"patientId,omitempty"`
	AppointmentID   *string              `json:"appointmentId,omitempty"`
	HasRecording    bool                 `json:"hasRecording"`
	SizeBytes       int64                `json:"sizeBytes,omitempty"`
	DurationSeconds int                  `json:"durationSeconds,omitempty"`
	Progress        int                  `json:"progress"`
	AudioURL        string               `json:"audioUrl,omitempty"`
	Session         *models.AudioSession `json:"session,omitempty"`
	Transcript      *models.Transcript   `json:"transcript,omitempty"`
	Draft           *models.ReportDraft  `json:"draft,omitempty"`
	Report          *models.Report       `json:"report,omitempty"`
	Failure         *PipelineFailure     `json:"failure,omitempty"`
}

func (s PipelineState) View() PipelineView {
	v := PipelineView{
		Stage:           s.Stage,
		PatientID:       s.PatientID,
		AppointmentID:   s.AppointmentID,
		HasRecording:    s.Recording != nil,
		SizeBytes:       s.SizeBytes,
		DurationSeconds: s.DurationSeconds,
		Progress:        s.Progress,
		AudioURL:        s.AudioURL,
		Session:         s.Session,
		Transcript:      s.Transcript,
		Report:          s.Report,
	}
	if s.Draft != nil {
		d := *s.Draft
		v.Draft = &d
	}
	if s.Err != nil {
		v.Failure = &PipelineFailure{Error: s.Err.Error()}
		if f, ok := apperrors.AsStageFailure(s.Err); ok {
			v.Failure.Message = f.UserMessage()
			v.Failure.Recovery = string(f.Recovery())
		}
	}
	return v
}
