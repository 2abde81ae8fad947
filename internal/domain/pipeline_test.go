package domain

import (
	"testing"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustReduce(t *testing.T, s PipelineState, evs ...Event) PipelineState {
	t.Helper()
	var err error
	for _, ev := range evs {
		s, err = Reduce(s, ev)
		require.NoError(t, err, "%T", ev)
	}
	return s
}

func recordedState(t *testing.T) PipelineState {
	return mustReduce(t, PipelineState{Stage: StageIdle}, EvRecorded{
		Recording: &models.Recording{Data: []byte("opus"), DurationSeconds: 5, MimeType: "audio/ogg"},
		PatientID: "p1",
	})
}

func TestReduceHappyPath(t *testing.T) {
	s := recordedState(t)
	assert.Equal(t, StageRecorded, s.Stage)
	assert.EqualValues(t, 4, s.SizeBytes)

	s = mustReduce(t, s,
		EvUploadStarted{},
		EvUploadProgress{Percent: 40},
		EvUploaded{AudioURL: "https://store/abc"},
	)
	assert.Equal(t, StageUploaded, s.Stage)
	assert.Nil(t, s.Recording)
	assert.Equal(t, 100, s.Progress)

	s = mustReduce(t, s,
		EvRegisterStarted{},
		EvRegistered{Session: &models.AudioSession{ID: "S1"}},
		EvTranscribeStarted{},
		EvTranscribed{
			Transcript: &models.Transcript{SessionID: "S1", Text: "texto"},
			Draft:      models.ReportDraft{TemplateID: "resumo", EditableText: "texto"},
		},
	)
	assert.Equal(t, StageReviewing, s.Stage)
	require.NotNil(t, s.Draft)

	s = mustReduce(t, s,
		EvDraftEdited{Draft: models.ReportDraft{TemplateID: "resumo", EditableText: "novo"}},
		EvSaveStarted{},
		EvSaved{Report: &models.Report{ID: "r1"}},
	)
	assert.Equal(t, StageSaved, s.Stage)
	assert.Nil(t, s.Draft)
	assert.Equal(t, "S1", s.Session.ID)
}

func TestReduceRejectsSkippedStages(t *testing.T) {
	cases := []struct {
		name string
		from Stage
		ev   Event
	}{
		{"upload from idle", StageIdle, EvUploadStarted{}},
		{"register before upload", StageRecorded, EvRegisterStarted{}},
		{"transcribe before session", StageUploaded, EvTranscribeStarted{}},
		{"save before review", StageRegistered, EvSaveStarted{}},
		{"edit while transcribing", StageTranscribing, EvDraftEdited{}},
		{"record while uploading", StageUploading, EvRecorded{Recording: &models.Recording{Data: []byte("x")}}},
		{"progress after upload", StageUploaded, EvUploadProgress{Percent: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := PipelineState{Stage: tc.from}
			out, err := Reduce(in, tc.ev)
			assert.ErrorIs(t, err, apperrors.ErrStageOrder)
			assert.Equal(t, in, out)
		})
	}
}

func TestReduceRejectsEmptyRecording(t *testing.T) {
	_, err := Reduce(PipelineState{Stage: StageIdle}, EvRecorded{Recording: &models.Recording{}})
	assert.ErrorIs(t, err, apperrors.ErrEmptyRecording)
}

func TestReduceProgressIsClampedAndMonotonic(t *testing.T) {
	s := mustReduce(t, recordedState(t), EvUploadStarted{})

	var seen []int
	for _, p := range []int{-5, 10, 60, 30, 250} {
		s = mustReduce(t, s, EvUploadProgress{Percent: p})
		seen = append(seen, s.Progress)
	}
	assert.Equal(t, []int{0, 10, 60, 60, 100}, seen)
}

func TestReduceFailuresKeepArtifacts(t *testing.T) {
	s := mustReduce(t, recordedState(t), EvUploadStarted{}, EvUploadFailed{Err: &apperrors.UploadError{Kind: apperrors.UploadNetwork}})
	assert.Equal(t, StageUploadFailed, s.Stage)
	assert.NotNil(t, s.Recording, "bytes must survive for a resubmit")

	s = mustReduce(t, s, EvUploadStarted{}, EvUploaded{AudioURL: "u"}, EvRegisterStarted{},
		EvRegisterFailed{Err: &apperrors.SessionCreateError{AudioURL: "u"}})
	assert.Equal(t, StageRegisterFailed, s.Stage)
	assert.Equal(t, "u", s.AudioURL)

	s = mustReduce(t, s, EvRegisterStarted{}, EvRegistered{Session: &models.AudioSession{ID: "S1"}},
		EvTranscribeStarted{}, EvTranscribeFailed{Err: &apperrors.TranscriptionError{Kind: apperrors.TranscriptionBackend}})
	assert.Equal(t, StageTranscribeFailed, s.Stage)
	assert.Equal(t, "S1", s.Session.ID)

	view := s.View()
	require.NotNil(t, view.Failure)
	assert.Equal(t, string(apperrors.RecoveryRetryTranscription), view.Failure.Recovery)
	assert.NotEmpty(t, view.Failure.Message)

	s = mustReduce(t, s, EvTranscribeStarted{})
	assert.Nil(t, s.Err)
}

func TestReduceSaveFailureRetainsDraft(t *testing.T) {
	draft := models.ReportDraft{TemplateID: "resumo", EditableText: "texto editado"}
	s := PipelineState{Stage: StageReviewing, Draft: &draft}

	s = mustReduce(t, s, EvSaveStarted{}, EvSaveFailed{Err: &apperrors.SaveError{}})
	assert.Equal(t, StageSaveFailed, s.Stage)
	assert.Equal(t, "texto editado", s.Draft.EditableText)

	s = mustReduce(t, s, EvSaveStarted{})
	assert.Equal(t, StageSaving, s.Stage)
}

func TestReduceResetFromAnyStage(t *testing.T) {
	for _, st := range []Stage{StageUploading, StageTranscribeFailed, StageReviewing, StageSaved} {
		s, err := Reduce(PipelineState{Stage: st, AudioURL: "u"}, EvReset{})
		require.NoError(t, err)
		assert.Equal(t, PipelineState{Stage: StageIdle}, s)
	}
}
