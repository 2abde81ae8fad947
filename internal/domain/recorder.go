package domain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"go.uber.org/multierr"
)

type RecorderState string

const (
	RecorderIdle      RecorderState = "idle"
	RecorderRecording RecorderState = "recording"
	RecorderPaused    RecorderState = "paused"
	RecorderStopped   RecorderState = "stopped"
)

type RecorderConfig struct {
	// TickInterval drives the elapsed clock. Zero disables the internal
	// ticker; callers then advance the clock with Tick.
	TickInterval time.Duration

	// FlushTimeout bounds how long Stop waits for the stream to flush.
	// Zero means DefaultFlushTimeout.
	FlushTimeout time.Duration

	OnTransition func(from, to RecorderState)
	OnTick       func(elapsed int)
}

const DefaultFlushTimeout = 10 * time.Second

var (
	errFlushTimeout = fmt.Errorf("stream flush timed out: %w", context.DeadlineExceeded)
	errTakeAborted  = fmt.Errorf("take discarded while flushing: %w", apperrors.ErrNoRecording)
)

type RecorderSnapshot struct {
	State        RecorderState `json:"state"`
	Elapsed      int           `json:"elapsed"`
	ActiveTracks int           `json:"activeTracks"`
	HeldBytes    int64         `json:"heldBytes"`
	HeldDuration int           `json:"heldDuration"`
}

// take is a single live capture: the stream plus every chunk it produced.
// Exactly one take exists while recording or paused.
type take struct {
	stream ports.CaptureStream
	chunks [][]byte

	done      chan struct{} // closed when the stream's chunk channel closes
	stopClock chan struct{}
	clockOnce sync.Once

	abort     chan struct{} // closed by Discard/Close to end a pending flush
	abortOnce sync.Once
}

func (t *take) haltClock() {
	t.clockOnce.Do(func() { close(t.stopClock) })
}

func (t *take) interrupt() {
	t.abortOnce.Do(func() { close(t.abort) })
}

// Recorder drives one microphone. Operations are serialized; state reads
// (Snapshot, Tick, chunk collection) only take the state lock.
type Recorder struct {
	capture ports.MediaCapture
	log     *logger.ZapLogger
	cfg     RecorderConfig

	op sync.Mutex

	mu      sync.Mutex
	state   RecorderState
	take    *take
	held    *models.Recording
	elapsed int
}

func NewRecorder(capture ports.MediaCapture, log *logger.ZapLogger, cfg RecorderConfig) *Recorder {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	return &Recorder{
		capture: capture,
		log:     log,
		cfg:     cfg,
		state:   RecorderIdle,
	}
}

func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Snapshot() RecorderSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := RecorderSnapshot{State: r.state, Elapsed: r.elapsed}
	if r.take != nil {
		s.ActiveTracks = r.take.stream.ActiveTracks()
	}
	if r.held != nil {
		s.HeldBytes = r.held.Size()
		s.HeldDuration = r.held.DurationSeconds
	}
	return s
}

// ========================================================================
// START
// ========================================================================

func (r *Recorder) Start(ctx context.Context) error {
	r.op.Lock()
	defer r.op.Unlock()

	if st := r.State(); st != RecorderIdle {
		return fmt.Errorf("start from %s: %w", st, apperrors.ErrInvalidState)
	}
	return r.startLocked(ctx)
}

func (r *Recorder) startLocked(ctx context.Context) error {
	stream, err := r.capture.Acquire(ctx)
	if err != nil {
		var dev *apperrors.DeviceError
		if !errors.As(err, &dev) && ctx.Err() == nil {
			err = &apperrors.DeviceError{Kind: apperrors.DeviceUnsupported, Err: err}
		}
		r.log.Log(logger.LogEntry{
			Level:   "error",
			Message: "[REC][START][FAIL]",
			Error:   err,
		})
		return err
	}

	t := &take{
		stream:    stream,
		done:      make(chan struct{}),
		stopClock: make(chan struct{}),
		abort:     make(chan struct{}),
	}

	r.mu.Lock()
	r.take = t
	r.held = nil
	r.elapsed = 0
	r.mu.Unlock()

	go r.collect(t)
	if r.cfg.TickInterval > 0 {
		go r.runClock(t)
	}

	r.transition(RecorderRecording)
	r.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[REC][START]",
		Fields:  map[string]any{"mime": stream.MimeType()},
	})
	return nil
}

func (r *Recorder) collect(t *take) {
	defer close(t.done)
	for chunk := range t.stream.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		r.mu.Lock()
		if r.take == t {
			t.chunks = append(t.chunks, chunk)
		}
		r.mu.Unlock()
	}
}

// ========================================================================
// CLOCK
// ========================================================================

func (r *Recorder) runClock(t *take) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopClock:
			return
		case <-ticker.C:
			r.tick(t)
		}
	}
}

// Tick advances the elapsed clock by one second when recording.
func (r *Recorder) Tick() {
	r.tick(nil)
}

func (r *Recorder) tick(t *take) {
	r.mu.Lock()
	if r.state != RecorderRecording || (t != nil && r.take != t) {
		r.mu.Unlock()
		return
	}
	r.elapsed++
	elapsed := r.elapsed
	r.mu.Unlock()

	if r.cfg.OnTick != nil {
		r.cfg.OnTick(elapsed)
	}
}

// ========================================================================
// PAUSE / RESUME
// ========================================================================

func (r *Recorder) Pause() error {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	if r.state != RecorderRecording {
		r.mu.Unlock()
		return nil
	}
	stream := r.take.stream
	r.mu.Unlock()

	if err := stream.Pause(); err != nil {
		return fmt.Errorf("pause stream: %w", err)
	}
	r.transition(RecorderPaused)
	return nil
}

func (r *Recorder) Resume() error {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	if r.state != RecorderPaused {
		r.mu.Unlock()
		return nil
	}
	stream := r.take.stream
	r.mu.Unlock()

	if err := stream.Resume(); err != nil {
		return fmt.Errorf("resume stream: %w", err)
	}
	r.transition(RecorderRecording)
	return nil
}

// ========================================================================
// STOP
// ========================================================================

// Stop asks the stream to flush and waits for the flush to complete before
// finalizing the take. The finalized recording stays with the recorder until
// TakeRecording.
func (r *Recorder) Stop(ctx context.Context) error {
	r.op.Lock()
	defer r.op.Unlock()
	return r.stopLocked(ctx)
}

func (r *Recorder) stopLocked(ctx context.Context) error {
	r.mu.Lock()
	st, t := r.state, r.take
	r.mu.Unlock()

	if st != RecorderRecording && st != RecorderPaused {
		return fmt.Errorf("stop from %s: %w", st, apperrors.ErrInvalidState)
	}

	t.haltClock()

	if err := t.stream.Stop(); err != nil {
		return multierr.Append(fmt.Errorf("stop stream: %w", err), r.abandon(t))
	}

	flush := time.NewTimer(r.cfg.FlushTimeout)
	defer flush.Stop()

	select {
	case <-t.done:
	case <-ctx.Done():
		return multierr.Append(ctx.Err(), r.abandon(t))
	case <-t.abort:
		return multierr.Append(errTakeAborted, r.abandon(t))
	case <-flush.C:
		r.log.Log(logger.LogEntry{
			Level:   "error",
			Message: "[REC][STOP][TIMEOUT]",
			Fields:  map[string]any{"timeout": r.cfg.FlushTimeout.String()},
		})
		return multierr.Append(errFlushTimeout, r.abandon(t))
	}

	r.mu.Lock()
	rec := &models.Recording{
		Data:            bytes.Join(t.chunks, nil),
		DurationSeconds: r.elapsed,
		MimeType:        t.stream.MimeType(),
	}
	r.take = nil
	r.held = rec
	r.elapsed = 0
	r.mu.Unlock()

	if err := t.stream.Release(); err != nil {
		r.log.Log(logger.LogEntry{Level: "error", Message: "[REC][RELEASE][FAIL]", Error: err})
	}

	r.transition(RecorderStopped)
	r.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[REC][STOP]",
		Fields: map[string]any{
			"bytes":    len(rec.Data),
			"chunks":   len(t.chunks),
			"duration": rec.DurationSeconds,
		},
	})
	return nil
}

// TakeRecording hands the finalized recording to the caller. The recorder
// drops its reference and returns to idle.
func (r *Recorder) TakeRecording() (*models.Recording, error) {
	r.op.Lock()
	defer r.op.Unlock()
	return r.takeLocked()
}

func (r *Recorder) takeLocked() (*models.Recording, error) {
	r.mu.Lock()
	if r.state != RecorderStopped || r.held == nil {
		r.mu.Unlock()
		return nil, apperrors.ErrNoRecording
	}
	rec := r.held
	r.held = nil
	r.mu.Unlock()

	r.transition(RecorderIdle)
	return rec, nil
}

// FinishWhileRecording finalizes a live take first, then hands it off. A
// recording is never handed off before its flush completed.
func (r *Recorder) FinishWhileRecording(ctx context.Context) (*models.Recording, error) {
	r.op.Lock()
	defer r.op.Unlock()

	switch r.State() {
	case RecorderRecording, RecorderPaused:
		if err := r.stopLocked(ctx); err != nil {
			return nil, err
		}
	case RecorderIdle:
		return nil, apperrors.ErrNoRecording
	}
	return r.takeLocked()
}

// ========================================================================
// RESTART / DISCARD / CLOSE
// ========================================================================

// Restart drops the current take (or held recording) and starts a new one.
// The previous stream is released before a new one is acquired.
func (r *Recorder) Restart(ctx context.Context) error {
	r.interruptFlush()
	r.op.Lock()
	defer r.op.Unlock()

	if err := r.discardLocked(); err != nil {
		r.log.Log(logger.LogEntry{Level: "error", Message: "[REC][RESTART][RELEASE]", Error: err})
	}
	return r.startLocked(ctx)
}

// Discard drops the take at any point, including while a Stop is still
// waiting for the flush.
func (r *Recorder) Discard() error {
	r.interruptFlush()
	r.op.Lock()
	defer r.op.Unlock()
	return r.discardLocked()
}

// interruptFlush ends a pending flush wait so the operation lock frees up.
func (r *Recorder) interruptFlush() {
	r.mu.Lock()
	t := r.take
	r.mu.Unlock()
	if t != nil {
		t.interrupt()
	}
}

func (r *Recorder) discardLocked() error {
	r.mu.Lock()
	st, t := r.state, r.take
	r.mu.Unlock()

	switch st {
	case RecorderIdle:
		return nil
	case RecorderStopped:
		r.mu.Lock()
		r.held = nil
		r.elapsed = 0
		r.mu.Unlock()
		r.transition(RecorderIdle)
		return nil
	default:
		r.log.Log(logger.LogEntry{Level: "info", Message: "[REC][DISCARD]"})
		return r.abandon(t)
	}
}

// Close releases the microphone on component teardown.
func (r *Recorder) Close() error {
	return r.Discard()
}

// abandon releases the stream without finalizing and returns to idle.
func (r *Recorder) abandon(t *take) error {
	t.haltClock()
	err := t.stream.Release()

	r.mu.Lock()
	if r.take == t {
		r.take = nil
	}
	r.held = nil
	r.elapsed = 0
	r.mu.Unlock()

	r.transition(RecorderIdle)
	if err != nil {
		return fmt.Errorf("release stream: %w", err)
	}
	return nil
}

func (r *Recorder) transition(to RecorderState) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()

	if from != to && r.cfg.OnTransition != nil {
		r.cfg.OnTransition(from, to)
	}
}
