//go:build unix

package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"go.uber.org/multierr"
)

// startupWindow is how long a fresh ffmpeg must survive before the device is
// considered open.
var startupWindow = 400 * time.Millisecond

const releaseWait = 2 * time.Second

func (c *FFmpegCapture) Acquire(ctx context.Context) (ports.CaptureStream, error) {
	select {
	case c.streams <- struct{}{}:
	default:
		return nil, &apperrors.DeviceError{Kind: apperrors.DeviceBusy}
	}

	s, err := c.start(ctx)
	if err != nil {
		<-c.streams
		return nil, err
	}
	return s, nil
}

func (c *FFmpegCapture) start(ctx context.Context) (*ffmpegStream, error) {
	start := time.Now()
	cmd := exec.Command(c.path, c.args()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: maxStderrPreview * 4}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, classifyCaptureError("", err)
	}

	s := &ffmpegStream{
		capture: c,
		cmd:     cmd,
		stdin:   stdin,
		stderr:  stderr,
		ch:      make(chan []byte, 64),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go s.pump(stdout)

	select {
	case <-s.exited:
		c.log.Log(logger.LogEntry{
			Level:   "error",
			Message: "[CAPTURE][OPEN][FAIL]",
			Fields:  map[string]any{"stderr": trimPreview(stderr.String())},
			Error:   s.waitErr,
		})
		return nil, classifyCaptureError(stderr.String(), s.waitErr)
	case <-ctx.Done():
		_ = s.kill()
		<-s.exited
		return nil, ctx.Err()
	case <-time.After(startupWindow):
	}

	c.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[CAPTURE][OPEN]",
		Fields: map[string]any{
			"format": c.format,
			"device": c.device,
			"pid":    cmd.Process.Pid,
			"dur":    time.Since(start).String(),
		},
	})
	return s, nil
}

type ffmpegStream struct {
	capture *FFmpegCapture
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *tailBuffer

	ch     chan []byte
	quit   chan struct{}
	exited chan struct{}
	// waitErr is set before exited is closed.
	waitErr error

	mu       sync.Mutex
	paused   bool
	stopped  bool
	released bool
}

// pump forwards stdout to ch until EOF, then reaps the process.
func (s *ffmpegStream) pump(stdout io.Reader) {
	buf := make([]byte, captureChunkBytes)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := bytes.Clone(buf[:n])
			select {
			case s.ch <- chunk:
			case <-s.quit:
			}
		}
		if err != nil {
			break
		}
	}
	s.waitErr = s.cmd.Wait()
	close(s.exited)
	close(s.ch)
}

func (s *ffmpegStream) Chunks() <-chan []byte { return s.ch }

func (s *ffmpegStream) MimeType() string { return captureMime }

func (s *ffmpegStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.released {
		return apperrors.ErrInvalidState
	}
	if err := s.cmd.Process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("pause ffmpeg: %w", err)
	}
	s.paused = true
	return nil
}

func (s *ffmpegStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.released {
		return apperrors.ErrInvalidState
	}
	if err := s.cmd.Process.Signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("resume ffmpeg: %w", err)
	}
	s.paused = false
	return nil
}

// Stop asks ffmpeg to finish the file. Chunks closes once the trailer is out.
func (s *ffmpegStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return apperrors.ErrInvalidState
	}
	if s.stopped {
		return nil
	}
	s.stopped = true

	var err error
	if s.paused {
		err = s.cmd.Process.Signal(syscall.SIGCONT)
		s.paused = false
	}
	if _, werr := io.WriteString(s.stdin, "q"); werr != nil {
		err = multierr.Append(err, fmt.Errorf("send quit: %w", werr))
	}
	return multierr.Append(err, s.stdin.Close())
}

func (s *ffmpegStream) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	wasStopped := s.stopped
	s.mu.Unlock()

	close(s.quit)

	var err error
	select {
	case <-s.exited:
	default:
		err = s.kill()
		select {
		case <-s.exited:
		case <-time.After(releaseWait):
			err = multierr.Append(err, errors.New("ffmpeg did not exit after kill"))
		}
	}
	if !wasStopped {
		err = multierr.Append(err, ignoreClosed(s.stdin.Close()))
	}

	<-s.capture.streams
	s.capture.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[CAPTURE][RELEASE]",
		Fields:  map[string]any{"pid": s.cmd.Process.Pid},
		Error:   err,
	})
	return err
}

func (s *ffmpegStream) ActiveTracks() int {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return 0
	}
	select {
	case <-s.exited:
		return 0
	default:
		return 1
	}
}

func (s *ffmpegStream) kill() error {
	// a stopped process must be continued before it can die cleanly
	_ = s.cmd.Process.Signal(syscall.SIGCONT)
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill ffmpeg: %w", err)
	}
	return nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
