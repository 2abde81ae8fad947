package infra

import (
	"context"
	"testing"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	appt := "appt-7"
	sess, err := store.CreateSession(ctx, models.NewAudioSession{
		PatientID:       "p1",
		AppointmentID:   &appt,
		AudioURL:        "https://store/abc",
		FileSizeBytes:   1234,
		DurationSeconds: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, models.SessionUploaded, sess.Status)

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://store/abc", got.AudioURL)
	assert.Equal(t, "appt-7", *got.AppointmentID)
	assert.EqualValues(t, 1234, got.FileSizeBytes)

	ok, err := store.BeginTranscription(ctx, sess.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	// a second attempt while the lease is fresh is refused
	ok, err = store.BeginTranscription(ctx, sess.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.CompleteTranscription(ctx, models.Transcript{
		SessionID: sess.ID,
		Text:      "Paciente apresentou melhora na articulação",
		Language:  "pt-BR",
		CreatedAt: time.Now(),
	}))

	got, err = store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTranscribed, got.Status)

	tr, err := store.GetTranscript(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "Paciente apresentou melhora na articulação", tr.Text)

	// transcribed is terminal
	ok, err = store.BeginTranscription(ctx, sess.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStaleLeaseAndFailure(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	sess, err := store.CreateSession(ctx, models.NewAudioSession{PatientID: "p1", AudioURL: "u"})
	require.NoError(t, err)

	ok, err := store.BeginTranscription(ctx, sess.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	// a lease older than staleBefore may be taken over
	ok, err = store.BeginTranscription(ctx, sess.ID, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.FailTranscription(ctx, sess.ID))
	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, got.Status)

	err = store.CompleteTranscription(ctx, models.Transcript{SessionID: sess.ID, Text: "x"})
	assert.ErrorIs(t, err, ErrLeaseLost)
	tr, err := store.GetTranscript(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, tr)

	ok, err = store.BeginTranscription(ctx, sess.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "failed sessions can be retried")
}

func TestSQLiteMissingRows(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	sess, err := store.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, sess)

	ok, err := store.BeginTranscription(ctx, "nope", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	hash, err := store.PasswordHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestSQLiteListPatientSessions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	for _, p := range []string{"p1", "p2", "p1"} {
		_, err := store.CreateSession(ctx, models.NewAudioSession{PatientID: p, AudioURL: "u-" + p})
		require.NoError(t, err)
	}

	list, err := store.ListPatientSessions(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, s := range list {
		assert.Equal(t, "p1", s.PatientID)
		assert.Nil(t, s.AppointmentID)
	}
}

func TestSQLiteReportsAndOperator(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	sess, err := store.CreateSession(ctx, models.NewAudioSession{PatientID: "p1", AudioURL: "u"})
	require.NoError(t, err)

	rep, err := store.CreateReport(ctx, models.NewReport{
		PatientID: "p1",
		SessionID: &sess.ID,
		Type:      "resumo",
		Content:   "texto — revisado",
		Status:    models.ReportApproved,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, models.ReportApproved, rep.Status)

	require.NoError(t, store.SetPasswordHash(ctx, "h1"))
	require.NoError(t, store.SetPasswordHash(ctx, "h2"))
	hash, err := store.PasswordHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "h2", hash)
}
