package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/domain/stations"
	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
)

// errStale is returned to a run whose pipeline was cancelled or reset while
// it was suspended. Its results are dropped.
var errStale = fmt.Errorf("pipeline run superseded: %w", context.Canceled)

var ErrPatientRequired = errors.New("patient id is required")

type PipelineConfig struct {
	RoomID   string
	Language string
}

// PipelineService drives one take at a time through upload, session
// registration, transcription and review. All stage changes go through
// Reduce.
type PipelineService struct {
	s1 *stations.S1Upload
	s2 *stations.S2RegisterSession
	s3 *stations.S3Transcribe
	s4 *stations.S4Review

	log *logger.ZapLogger
	cfg PipelineConfig

	mu      sync.Mutex
	state   PipelineState
	gen     uint64
	running bool
	cancel  context.CancelFunc

	events chan ports.PipelineEvent
}

func NewPipelineService(
	s1 *stations.S1Upload,
	s2 *stations.S2RegisterSession,
	s3 *stations.S3Transcribe,
	s4 *stations.S4Review,
	log *logger.ZapLogger,
	cfg PipelineConfig,
) *PipelineService {
	return &PipelineService{
		s1:     s1,
		s2:     s2,
		s3:     s3,
		s4:     s4,
		log:    log,
		cfg:    cfg,
		state:  PipelineState{Stage: StageIdle},
		events: make(chan ports.PipelineEvent, 100),
	}
}

func (p *PipelineService) Events() <-chan ports.PipelineEvent { return p.events }

func (p *PipelineService) Templates() []models.ReportTemplate { return p.s4.Templates() }

func (p *PipelineService) Snapshot() PipelineView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.View()
}

func (p *PipelineService) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Stage
}

// Busy reports whether an operation currently holds the pipeline.
func (p *PipelineService) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Publish sends ev to dashboard subscribers. Events are dropped when nobody
// drains the channel.
func (p *PipelineService) Publish(ev ports.PipelineEvent) {
	ev.RoomID = p.cfg.RoomID
	select {
	case p.events <- ev:
	default:
		p.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[PIPE][EVENT][DROP]",
			Fields:  map[string]any{"type": ev.Type, "stage": ev.Stage},
		})
	}
}

// ========================================================================
// RUN CONTROL
// ========================================================================

// begin claims the pipeline for one operation. It fails with ErrBusy when
// another operation holds it.
func (p *PipelineService) begin(ctx context.Context) (context.Context, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil, 0, apperrors.ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	return runCtx, p.gen, nil
}

func (p *PipelineService) end(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	p.running = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *PipelineService) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

// apply reduces ev into the state of generation gen and publishes the
// resulting stage.
func (p *PipelineService) apply(gen uint64, ev Event) (PipelineState, error) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return PipelineState{}, errStale
	}
	prev := p.state.Stage
	next, err := Reduce(p.state, ev)
	if err != nil {
		p.mu.Unlock()
		return next, err
	}
	p.state = next
	p.mu.Unlock()

	if _, progress := ev.(EvUploadProgress); progress {
		pct := next.Progress
		p.Publish(ports.PipelineEvent{Type: ports.EventProgress, Stage: string(next.Stage), Progress: &pct})
		return next, nil
	}
	if prev != next.Stage || next.Err != nil {
		p.publishStage(next)
	}
	return next, nil
}

func (p *PipelineService) publishStage(s PipelineState) {
	ev := ports.PipelineEvent{Type: ports.EventStage, Stage: string(s.Stage)}
	if s.Session != nil {
		ev.SessionID = s.Session.ID
	}
	if s.Stage == StageUploading || s.Stage == StageUploaded {
		pct := s.Progress
		ev.Progress = &pct
	}
	if s.Err != nil {
		ev.Error = s.Err.Error()
		if f, ok := apperrors.AsStageFailure(s.Err); ok {
			ev.Error = f.UserMessage()
			ev.Recovery = string(f.Recovery())
		}
	}
	p.Publish(ev)
}

// ========================================================================
// ENTRY POINTS
// ========================================================================

// CanFinish reports whether a new take would be accepted right now.
func (p *PipelineService) CanFinish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return apperrors.ErrBusy
	}
	if st := p.state.Stage; st != StageIdle && st != StageSaved {
		return fmt.Errorf("finish in stage %s: %w", st, apperrors.ErrStageOrder)
	}
	return nil
}

// CanRetry reports whether the pipeline holds a failed stage to resume.
func (p *PipelineService) CanRetry() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return apperrors.ErrBusy
	}
	if !p.state.Stage.Failed() {
		return fmt.Errorf("retry in stage %s: %w", p.state.Stage, apperrors.ErrStageOrder)
	}
	return nil
}

// Finish finalizes the recorder's take (stopping it first when it is still
// live) and runs the pipeline on it. The run is claimed before the flush so
// Cancel also abandons a take that is still finalizing.
func (p *PipelineService) Finish(ctx context.Context, rec *Recorder, patientID string, appointmentID *string) error {
	if patientID == "" {
		return ErrPatientRequired
	}
	if err := p.CanFinish(); err != nil {
		return err
	}

	runCtx, gen, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer p.end(gen)

	recording, err := rec.FinishWhileRecording(runCtx)
	if !p.current(gen) {
		if err == nil {
			p.log.Log(logger.LogEntry{
				Level:   "info",
				Message: "[PIPE][FINISH][DROP]",
				Fields:  map[string]any{"bytes": recording.Size()},
			})
		}
		return errStale
	}
	if err != nil {
		return err
	}
	return p.run(runCtx, gen, recording, patientID, appointmentID)
}

// Submit takes ownership of recording and runs it through upload, session
// registration and transcription. It returns once the pipeline reaches
// review or a stage fails.
func (p *PipelineService) Submit(ctx context.Context, recording *models.Recording, patientID string, appointmentID *string) error {
	if recording.Size() == 0 {
		return apperrors.ErrEmptyRecording
	}

	runCtx, gen, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer p.end(gen)
	return p.run(runCtx, gen, recording, patientID, appointmentID)
}

func (p *PipelineService) run(ctx context.Context, gen uint64, recording *models.Recording, patientID string, appointmentID *string) error {
	if recording.Size() == 0 {
		return apperrors.ErrEmptyRecording
	}
	if _, err := p.apply(gen, EvRecorded{
		Recording:     recording,
		PatientID:     patientID,
		AppointmentID: appointmentID,
	}); err != nil {
		return err
	}

	p.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[PIPE][START]",
		Fields: map[string]any{
			"patient":  patientID,
			"bytes":    recording.Size(),
			"duration": recording.DurationSeconds,
		},
	})
	return p.advance(ctx, gen)
}

// Retry resumes from the failed stage with the artifacts already produced:
// the same bytes, the same audio URL, the same session or the same draft.
func (p *PipelineService) Retry(ctx context.Context) error {
	stage := p.Stage()
	switch stage {
	case StageUploadFailed, StageRegisterFailed, StageTranscribeFailed:
	case StageSaveFailed:
		return p.Save(ctx)
	default:
		return fmt.Errorf("retry in stage %s: %w", stage, apperrors.ErrStageOrder)
	}

	runCtx, gen, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer p.end(gen)

	p.log.Log(logger.LogEntry{Level: "info", Message: "[PIPE][RETRY]", Fields: map[string]any{"stage": string(stage)}})
	return p.advance(runCtx, gen)
}

// advance runs stations until review is reached or one of them fails.
func (p *PipelineService) advance(ctx context.Context, gen uint64) error {
	start := time.Now()
	for {
		p.mu.Lock()
		stage, current := p.state.Stage, p.gen
		p.mu.Unlock()
		if current != gen {
			return errStale
		}

		var err error
		switch stage {
		case StageRecorded, StageUploadFailed:
			err = p.upload(ctx, gen)
		case StageUploaded, StageRegisterFailed:
			err = p.register(ctx, gen)
		case StageRegistered, StageTranscribeFailed:
			err = p.transcribe(ctx, gen)
		default:
			p.log.Log(logger.LogEntry{
				Level:   "info",
				Message: "[PIPE][DONE]",
				Fields:  map[string]any{"stage": string(stage), "dur": time.Since(start).String()},
			})
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *PipelineService) upload(ctx context.Context, gen uint64) error {
	s, err := p.apply(gen, EvUploadStarted{})
	if err != nil {
		return err
	}

	url, err := p.s1.Run(ctx, s.Recording, stations.UploadTarget{
		PatientID:     s.PatientID,
		AppointmentID: s.AppointmentID,
	}, func(pct int) {
		_, _ = p.apply(gen, EvUploadProgress{Percent: pct})
	})
	if err != nil {
		return p.failed(gen, EvUploadFailed{Err: err}, err)
	}
	_, err = p.apply(gen, EvUploaded{AudioURL: url})
	return err
}

func (p *PipelineService) register(ctx context.Context, gen uint64) error {
	s, err := p.apply(gen, EvRegisterStarted{})
	if err != nil {
		return err
	}

	sess, err := p.s2.Run(ctx, models.NewAudioSession{
		PatientID:       s.PatientID,
		AppointmentID:   s.AppointmentID,
		AudioURL:        s.AudioURL,
		FileSizeBytes:   s.SizeBytes,
		DurationSeconds: s.DurationSeconds,
	})
	if err != nil {
		return p.failed(gen, EvRegisterFailed{Err: err}, err)
	}
	_, err = p.apply(gen, EvRegistered{Session: sess})
	return err
}

func (p *PipelineService) transcribe(ctx context.Context, gen uint64) error {
	s, err := p.apply(gen, EvTranscribeStarted{})
	if err != nil {
		return err
	}

	tr, err := p.s3.Run(ctx, s.Session.ID, s.AudioURL, p.cfg.Language)
	if err != nil {
		return p.failed(gen, EvTranscribeFailed{Err: err}, err)
	}
	_, err = p.apply(gen, EvTranscribed{Transcript: tr, Draft: p.s4.Open(tr)})
	return err
}

// failed records a stage failure. A run cancelled while suspended reports the
// cancellation instead.
func (p *PipelineService) failed(gen uint64, ev Event, cause error) error {
	if _, err := p.apply(gen, ev); err != nil {
		return err
	}
	p.log.Log(logger.LogEntry{Level: "error", Message: "[PIPE][FAIL]", Error: cause})
	return cause
}

// ========================================================================
// REVIEW
// ========================================================================

// draft returns the current draft when the pipeline is in review.
func (p *PipelineService) draft() (models.ReportDraft, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Stage != StageReviewing && p.state.Stage != StageSaveFailed {
		return models.ReportDraft{}, 0, fmt.Errorf("draft in stage %s: %w", p.state.Stage, apperrors.ErrStageOrder)
	}
	return *p.state.Draft, p.gen, nil
}

func (p *PipelineService) SelectTemplate(templateID string) error {
	d, gen, err := p.draft()
	if err != nil {
		return err
	}
	d, err = p.s4.SelectTemplate(d, templateID)
	if err != nil {
		return err
	}
	_, err = p.apply(gen, EvDraftEdited{Draft: d})
	return err
}

func (p *PipelineService) Edit(text string) error {
	d, gen, err := p.draft()
	if err != nil {
		return err
	}
	_, err = p.apply(gen, EvDraftEdited{Draft: p.s4.Edit(d, text)})
	return err
}

func (p *PipelineService) Assist(ctx context.Context) error {
	if _, _, err := p.draft(); err != nil {
		return err
	}
	runCtx, gen, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer p.end(gen)

	d, _, err := p.draft()
	if err != nil {
		return err
	}
	d, err = p.s4.Assist(runCtx, d)
	if err != nil {
		return err
	}
	_, err = p.apply(gen, EvDraftEdited{Draft: d})
	return err
}

func (p *PipelineService) Copy(ctx context.Context) error {
	d, _, err := p.draft()
	if err != nil {
		return err
	}
	return p.s4.Copy(ctx, d)
}

// Save persists the draft as an approved report.
func (p *PipelineService) Save(ctx context.Context) error {
	if _, _, err := p.draft(); err != nil {
		return err
	}
	runCtx, gen, err := p.begin(ctx)
	if err != nil {
		return err
	}
	defer p.end(gen)

	s, err := p.apply(gen, EvSaveStarted{})
	if err != nil {
		return err
	}

	var sessionID *string
	if s.Session != nil {
		id := s.Session.ID
		sessionID = &id
	}
	rep, err := p.s4.Save(runCtx, *s.Draft, s.PatientID, sessionID)
	if err != nil {
		return p.failed(gen, EvSaveFailed{Err: err}, err)
	}
	_, err = p.apply(gen, EvSaved{Report: rep})
	return err
}

// ========================================================================
// CANCEL / RESET
// ========================================================================

// Cancel abandons the current take at any stage. Work in flight is cancelled
// and its results are ignored. Audio already uploaded and sessions already
// created are left as they are.
func (p *PipelineService) Cancel() {
	p.mu.Lock()
	prev := p.state.Stage
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.running = false
	p.state, _ = Reduce(p.state, EvReset{})
	s := p.state
	p.mu.Unlock()

	p.log.Log(logger.LogEntry{Level: "info", Message: "[PIPE][CANCEL]", Fields: map[string]any{"from": string(prev)}})
	p.publishStage(s)
}

// Reset clears a finished or failed pipeline. It refuses while an operation
// is in flight; use Cancel for that.
func (p *PipelineService) Reset() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return apperrors.ErrBusy
	}
	p.gen++
	p.state, _ = Reduce(p.state, EvReset{})
	s := p.state
	p.mu.Unlock()

	p.publishStage(s)
	return nil
}
