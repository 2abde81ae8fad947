package stations

import (
	"context"
	"errors"
	"testing"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/Vovarama1992/fonodesk/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTemplates = []models.ReportTemplate{
	{ID: "evolucao", Title: "Evolução"},
	{ID: "resumo", Title: "Resumo", Guidance: "Resuma em tópicos."},
}

func newReview(store *testutil.MemoryStore, clip *testutil.FakeClipboard, assistant *testutil.FakeAssistant) *S4Review {
	if assistant == nil {
		return NewS4Review(store, clip, nil, testTemplates, testutil.Logger())
	}
	return NewS4Review(store, clip, assistant, testTemplates, testutil.Logger())
}

func TestS4ReviewOpenAndSave(t *testing.T) {
	store := testutil.NewMemoryStore()
	s4 := newReview(store, &testutil.FakeClipboard{}, nil)

	d := s4.Open(&models.Transcript{SessionID: "S1", Text: "Paciente apresentou melhora na articulação"})
	assert.Equal(t, "evolucao", d.TemplateID)
	assert.Equal(t, "Paciente apresentou melhora na articulação", d.EditableText)

	d, err := s4.SelectTemplate(d, "resumo")
	require.NoError(t, err)
	d = s4.Edit(d, d.EditableText+" — revisado")

	sid := "S1"
	rep, err := s4.Save(context.Background(), d, "p1", &sid)
	require.NoError(t, err)
	assert.Equal(t, "Paciente apresentou melhora na articulação — revisado", rep.Content)
	assert.Equal(t, "resumo", rep.Type)
	assert.Equal(t, models.ReportApproved, rep.Status)
	assert.Equal(t, "S1", *rep.SessionID)
	assert.Equal(t, 1, store.ReportCount())
}

func TestS4ReviewUnknownTemplate(t *testing.T) {
	store := testutil.NewMemoryStore()
	s4 := newReview(store, &testutil.FakeClipboard{}, nil)
	d := s4.Open(&models.Transcript{Text: "x"})

	same, err := s4.SelectTemplate(d, "nope")
	assert.ErrorIs(t, err, apperrors.ErrUnknownTemplate)
	assert.Equal(t, d, same)

	d.TemplateID = "nope"
	_, err = s4.Save(context.Background(), d, "p1", nil)
	assert.ErrorIs(t, err, apperrors.ErrUnknownTemplate)
	assert.Zero(t, store.ReportCount())
}

func TestS4ReviewSaveFailure(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.FailReport = 1
	s4 := newReview(store, &testutil.FakeClipboard{}, nil)
	d := s4.Edit(s4.Open(nil), "texto editado")

	_, err := s4.Save(context.Background(), d, "p1", nil)
	var se *apperrors.SaveError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, apperrors.RecoveryRetrySave, se.Recovery())

	rep, err := s4.Save(context.Background(), d, "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, "texto editado", rep.Content)
	assert.Equal(t, 1, store.ReportCount())
}

func TestS4ReviewCopyDoesNotPersist(t *testing.T) {
	store := testutil.NewMemoryStore()
	clip := &testutil.FakeClipboard{}
	s4 := newReview(store, clip, nil)

	require.NoError(t, s4.Copy(context.Background(), models.ReportDraft{EditableText: "copiar"}))
	assert.Equal(t, []string{"copiar"}, clip.Copied)
	assert.Zero(t, store.ReportCount())
}

func TestS4ReviewAssist(t *testing.T) {
	s4 := newReview(testutil.NewMemoryStore(), &testutil.FakeClipboard{}, &testutil.FakeAssistant{Prefix: "• "})
	d := models.ReportDraft{TemplateID: "resumo", EditableText: "texto"}

	out, err := s4.Assist(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "• texto", out.EditableText)
	assert.Equal(t, "resumo", out.TemplateID)
}

func TestS4ReviewAssistFailureKeepsDraft(t *testing.T) {
	s4 := newReview(testutil.NewMemoryStore(), &testutil.FakeClipboard{}, &testutil.FakeAssistant{Err: testutil.ErrFake})
	d := models.ReportDraft{TemplateID: "resumo", EditableText: "texto"}

	out, err := s4.Assist(context.Background(), d)
	assert.ErrorIs(t, err, testutil.ErrFake)
	assert.Equal(t, d, out)

	_, err = newReview(testutil.NewMemoryStore(), &testutil.FakeClipboard{}, nil).Assist(context.Background(), d)
	assert.ErrorIs(t, err, ErrNoAssistant)
}
