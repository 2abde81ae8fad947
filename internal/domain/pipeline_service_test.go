package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/domain/stations"
	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/fonodesk/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	storage *testutil.FakeStorage
	store   *testutil.MemoryStore
	stt     *testutil.FakeTranscriber
	clip    *testutil.FakeClipboard
	svc     *PipelineService
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	log := testutil.Logger()
	f := &pipelineFixture{
		storage: testutil.NewFakeStorage("https://store/abc"),
		store:   testutil.NewMemoryStore(),
		stt:     testutil.NewFakeTranscriber("Paciente apresentou melhora na articulação"),
		clip:    &testutil.FakeClipboard{},
	}
	f.store.NextID = "S1"
	templates := []models.ReportTemplate{{ID: "evolucao", Title: "Evolução"}, {ID: "resumo", Title: "Resumo"}}

	f.svc = NewPipelineService(
		stations.NewS1Upload(f.storage, log),
		stations.NewS2RegisterSession(f.store, log),
		stations.NewS3Transcribe(f.store, f.stt, time.Second, "pt-BR", log),
		stations.NewS4Review(f.store, f.clip, nil, templates, log),
		log,
		PipelineConfig{RoomID: "room-1"},
	)
	return f
}

func drain(ch <-chan ports.PipelineEvent) []ports.PipelineEvent {
	var out []ports.PipelineEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func newTake(data string) *models.Recording {
	return &models.Recording{Data: []byte(data), DurationSeconds: 5, MimeType: "audio/webm;codecs=opus"}
}

func TestPipelineEndToEndSuccess(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)

	rec, capture, _ := newTestRecorder(t)
	require.NoError(t, rec.Start(ctx))
	capture.Last().Emit([]byte("five seconds of opus"))
	for range 5 {
		rec.Tick()
	}
	require.NoError(t, rec.Stop(ctx))

	require.NoError(t, f.svc.Finish(ctx, rec, "p1", nil))
	assert.Equal(t, RecorderIdle, rec.State())

	view := f.svc.Snapshot()
	require.Equal(t, StageReviewing, view.Stage)
	assert.Equal(t, "https://store/abc", view.AudioURL)
	assert.Equal(t, "S1", view.Session.ID)
	assert.Equal(t, 5, view.Session.DurationSeconds)
	assert.False(t, view.HasRecording)
	require.NotNil(t, view.Draft)
	assert.Equal(t, "Paciente apresentou melhora na articulação", view.Draft.EditableText)

	require.NoError(t, f.svc.Edit(view.Draft.EditableText+" — revisado"))
	require.NoError(t, f.svc.SelectTemplate("resumo"))
	require.NoError(t, f.svc.Save(ctx))

	require.Len(t, f.store.Reports, 1)
	rep := f.store.Reports[0]
	assert.Equal(t, "Paciente apresentou melhora na articulação — revisado", rep.Content)
	assert.Equal(t, "resumo", rep.Type)
	assert.Equal(t, models.ReportApproved, rep.Status)
	assert.Equal(t, "S1", *rep.SessionID)
	assert.Equal(t, StageSaved, f.svc.Stage())

	var stages []string
	var sawProgress bool
	for _, ev := range drain(f.svc.Events()) {
		assert.Equal(t, "room-1", ev.RoomID)
		if ev.Type == ports.EventStage {
			stages = append(stages, ev.Stage)
		}
		if ev.Type == ports.EventProgress {
			sawProgress = true
		}
	}
	assert.True(t, sawProgress)
	assert.Equal(t, []string{
		"recorded", "uploading", "uploaded", "registering", "registered",
		"transcribing", "reviewing", "saving", "saved",
	}, stages)
}

func TestPipelineUploadFailureThenRetryReusesBytes(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	f.storage.Fail = 1

	err := f.svc.Submit(ctx, newTake("original bytes"), "p1", nil)
	var up *apperrors.UploadError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, apperrors.UploadNetwork, up.Kind)

	view := f.svc.Snapshot()
	assert.Equal(t, StageUploadFailed, view.Stage)
	assert.True(t, view.HasRecording)
	require.NotNil(t, view.Failure)
	assert.Equal(t, string(apperrors.RecoveryResubmitUpload), view.Failure.Recovery)

	require.NoError(t, f.svc.Retry(ctx))
	require.Len(t, f.storage.Uploads, 2)
	assert.Equal(t, []byte("original bytes"), f.storage.Uploads[1])
	assert.Equal(t, StageReviewing, f.svc.Stage())
	assert.Len(t, f.store.CreateCalls, 1)
}

func TestPipelineSessionRetryReusesAudioURL(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	f.store.FailCreate = 1

	err := f.svc.Submit(ctx, newTake("x"), "p1", nil)
	var sce *apperrors.SessionCreateError
	require.True(t, errors.As(err, &sce))
	assert.Equal(t, StageRegisterFailed, f.svc.Stage())

	require.NoError(t, f.svc.Retry(ctx))
	assert.Equal(t, 1, f.storage.UploadCount(), "upload must not run again")
	require.Len(t, f.store.CreateCalls, 2)
	assert.Equal(t, "https://store/abc", f.store.CreateCalls[1].AudioURL)
	assert.Equal(t, StageReviewing, f.svc.Stage())
}

func TestPipelineTranscriptionRetryReusesSession(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	f.stt.Fail = 1

	err := f.svc.Submit(ctx, newTake("x"), "p1", nil)
	var te *apperrors.TranscriptionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StageTranscribeFailed, f.svc.Stage())
	assert.Equal(t, "S1", f.svc.Snapshot().Session.ID)

	require.NoError(t, f.svc.Retry(ctx))
	assert.Equal(t, 2, f.stt.Calls("S1"))
	assert.Len(t, f.store.CreateCalls, 1)
	assert.Equal(t, StageReviewing, f.svc.Stage())
}

func TestPipelineSaveFailureRetainsDraft(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	require.NoError(t, f.svc.Submit(ctx, newTake("x"), "p1", nil))
	require.NoError(t, f.svc.Edit("texto final"))

	f.store.FailReport = 1
	err := f.svc.Save(ctx)
	var se *apperrors.SaveError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageSaveFailed, f.svc.Stage())
	assert.Equal(t, "texto final", f.svc.Snapshot().Draft.EditableText)

	require.NoError(t, f.svc.Retry(ctx))
	require.Equal(t, 1, f.store.ReportCount())
	assert.Equal(t, "texto final", f.store.Reports[0].Content)
}

func TestPipelineRejectsEmptyRecording(t *testing.T) {
	f := newPipelineFixture(t)
	err := f.svc.Submit(context.Background(), &models.Recording{MimeType: "audio/ogg"}, "p1", nil)
	assert.ErrorIs(t, err, apperrors.ErrEmptyRecording)
	assert.Equal(t, StageIdle, f.svc.Stage())
	assert.Zero(t, f.storage.UploadCount())
}

func TestPipelineBusyAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	f.stt.Gate = make(chan struct{})
	defer close(f.stt.Gate)

	done := make(chan error, 1)
	go func() { done <- f.svc.Submit(ctx, newTake("x"), "p1", nil) }()

	require.Eventually(t, func() bool { return f.svc.Stage() == StageTranscribing }, time.Second, time.Millisecond)
	assert.ErrorIs(t, f.svc.Submit(ctx, newTake("y"), "p1", nil), apperrors.ErrBusy)
	assert.ErrorIs(t, f.svc.Retry(ctx), apperrors.ErrStageOrder)
	assert.ErrorIs(t, f.svc.Reset(), apperrors.ErrBusy)

	f.svc.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled run did not return")
	}
	assert.Equal(t, StageIdle, f.svc.Stage())

	// the session created before cancel is left alone
	assert.NotEmpty(t, f.store.Status("S1"))
}

func TestPipelineReviewOpsOutsideReview(t *testing.T) {
	f := newPipelineFixture(t)
	assert.ErrorIs(t, f.svc.Edit("x"), apperrors.ErrStageOrder)
	assert.ErrorIs(t, f.svc.SelectTemplate("resumo"), apperrors.ErrStageOrder)
	assert.ErrorIs(t, f.svc.Save(context.Background()), apperrors.ErrStageOrder)
	assert.ErrorIs(t, f.svc.Copy(context.Background()), apperrors.ErrStageOrder)
}

func TestPipelineCopyAndUnknownTemplate(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	require.NoError(t, f.svc.Submit(ctx, newTake("x"), "p1", nil))

	require.NoError(t, f.svc.Copy(ctx))
	assert.Equal(t, []string{"Paciente apresentou melhora na articulação"}, f.clip.Copied)
	assert.Zero(t, f.store.ReportCount())

	assert.ErrorIs(t, f.svc.SelectTemplate("nope"), apperrors.ErrUnknownTemplate)
	assert.Equal(t, "evolucao", f.svc.Snapshot().Draft.TemplateID)
}

func TestPipelineFinishRequiresTake(t *testing.T) {
	f := newPipelineFixture(t)
	rec, _, _ := newTestRecorder(t)
	assert.ErrorIs(t, f.svc.Finish(context.Background(), rec, "p1", nil), apperrors.ErrNoRecording)
}

func TestPipelineCancelDuringFinalization(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t)
	rec, capture, _ := newTestRecorder(t)
	capture.FlushDelay = 200 * time.Millisecond

	require.NoError(t, rec.Start(ctx))
	stream := capture.Last()
	stream.Emit([]byte("take"))

	done := make(chan error, 1)
	go func() { done <- f.svc.Finish(ctx, rec, "p1", nil) }()
	require.Eventually(t, func() bool { return f.svc.Busy() && stream.Stopped() }, time.Second, time.Millisecond)

	f.svc.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("finish did not return after cancel")
	}

	assert.Equal(t, StageIdle, f.svc.Stage())
	assert.Zero(t, f.storage.UploadCount())
	assert.True(t, stream.Released())
	assert.Equal(t, RecorderIdle, rec.State())
	assert.False(t, f.svc.Busy())
}
