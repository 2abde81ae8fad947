package stations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
)

var ErrNoAssistant = errors.New("draft assistant is not configured")

type S4Review struct {
	reports   ports.ReportRepository
	clipboard ports.Clipboard
	assistant ports.DraftAssistant // optional
	templates []models.ReportTemplate
	log       *logger.ZapLogger
}

func NewS4Review(
	reports ports.ReportRepository,
	clipboard ports.Clipboard,
	assistant ports.DraftAssistant,
	templates []models.ReportTemplate,
	log *logger.ZapLogger,
) *S4Review {
	return &S4Review{
		reports:   reports,
		clipboard: clipboard,
		assistant: assistant,
		templates: templates,
		log:       log,
	}
}

func (s *S4Review) Templates() []models.ReportTemplate {
	out := make([]models.ReportTemplate, len(s.templates))
	copy(out, s.templates)
	return out
}

func (s *S4Review) template(id string) (models.ReportTemplate, bool) {
	for _, t := range s.templates {
		if t.ID == id {
			return t, true
		}
	}
	return models.ReportTemplate{}, false
}

// Open seeds a draft with the transcript text and the first catalog template.
func (s *S4Review) Open(tr *models.Transcript) models.ReportDraft {
	d := models.ReportDraft{}
	if tr != nil {
		d.EditableText = tr.Text
	}
	if len(s.templates) > 0 {
		d.TemplateID = s.templates[0].ID
	}
	return d
}

func (s *S4Review) SelectTemplate(d models.ReportDraft, id string) (models.ReportDraft, error) {
	if _, ok := s.template(id); !ok {
		return d, fmt.Errorf("template %q: %w", id, apperrors.ErrUnknownTemplate)
	}
	d.TemplateID = id
	return d, nil
}

func (s *S4Review) Edit(d models.ReportDraft, text string) models.ReportDraft {
	d.EditableText = text
	return d
}

// Save persists the draft as an approved report. The draft is left untouched
// so a failed save can be resubmitted with the same content.
func (s *S4Review) Save(ctx context.Context, d models.ReportDraft, patientID string, sessionID *string) (*models.Report, error) {
	if _, ok := s.template(d.TemplateID); !ok {
		return nil, fmt.Errorf("template %q: %w", d.TemplateID, apperrors.ErrUnknownTemplate)
	}

	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S4][SAVE]",
		Fields:  map[string]any{"patient": patientID, "template": d.TemplateID, "text": trim(d.EditableText, 120)},
	})

	rep, err := s.reports.CreateReport(ctx, models.NewReport{
		PatientID: patientID,
		SessionID: sessionID,
		Type:      d.TemplateID,
		Content:   d.EditableText,
		Status:    models.ReportApproved,
	})
	if err == nil && rep == nil {
		err = errors.New("store returned no report")
	}
	if err != nil {
		s.log.Log(logger.LogEntry{Level: "error", Message: "[S4][SAVE][FAIL]", Error: err})
		return nil, &apperrors.SaveError{Err: err}
	}

	s.log.Log(logger.LogEntry{Level: "info", Message: "[S4][SAVE][OK]", Fields: map[string]any{"report": rep.ID}})
	return rep, nil
}

func (s *S4Review) Copy(ctx context.Context, d models.ReportDraft) error {
	if err := s.clipboard.Copy(ctx, d.EditableText); err != nil {
		s.log.Log(logger.LogEntry{Level: "error", Message: "[S4][COPY][FAIL]", Error: err})
		return fmt.Errorf("copy draft: %w", err)
	}
	return nil
}

// Assist asks the draft assistant to restructure the text for the selected
// template. On failure the original draft is returned unchanged.
func (s *S4Review) Assist(ctx context.Context, d models.ReportDraft) (models.ReportDraft, error) {
	if s.assistant == nil {
		return d, ErrNoAssistant
	}
	tpl, ok := s.template(d.TemplateID)
	if !ok {
		return d, fmt.Errorf("template %q: %w", d.TemplateID, apperrors.ErrUnknownTemplate)
	}

	guidance := tpl.Guidance
	if guidance == "" {
		guidance = tpl.Title
	}

	s.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[S4][ASSIST][IN]",
		Fields:  map[string]any{"template": tpl.ID, "text": trim(d.EditableText, 180)},
	})

	out, err := s.assistant.Rewrite(ctx, guidance, d.EditableText)
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("assistant returned empty text")
	}
	if err != nil {
		s.log.Log(logger.LogEntry{Level: "error", Message: "[S4][ASSIST][ERR]", Error: err})
		return d, fmt.Errorf("assist draft: %w", err)
	}

	s.log.Log(logger.LogEntry{Level: "info", Message: "[S4][ASSIST][OUT]", Fields: map[string]any{"text": trim(out, 220)}})
	d.EditableText = out
	return d, nil
}
