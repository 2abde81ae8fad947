// Package testutil provides in-memory fakes of the ports used by the
// pipeline, plus a no-op logger, for package tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"go.uber.org/zap"
)

// Logger returns a logger that discards everything.
func Logger() *logger.ZapLogger {
	return logger.NewZapLogger(zap.NewNop().Sugar())
}

// FakeCapture hands out FakeStreams and tracks how many are live at once.
type FakeCapture struct {
	mu sync.Mutex

	// Err, when set, is returned by the next Acquire and then cleared.
	Err error
	// FinalChunk is emitted by every stream when it is stopped, mimicking
	// a recorder that flushes its last buffer asynchronously.
	FinalChunk []byte
	FlushDelay time.Duration
	Mime       string

	streams   []*FakeStream
	active    int
	maxActive int
}

func NewFakeCapture() *FakeCapture {
	return &FakeCapture{Mime: "audio/webm;codecs=opus"}
}

func (c *FakeCapture) Acquire(ctx context.Context) (ports.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Err != nil {
		err := c.Err
		c.Err = nil
		return nil, err
	}

	s := &FakeStream{
		capture: c,
		ch:      make(chan []byte, 256),
		final:   c.FinalChunk,
		delay:   c.FlushDelay,
		mime:    c.Mime,
	}
	c.streams = append(c.streams, s)
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	return s, nil
}

// Last returns the most recently acquired stream.
func (c *FakeCapture) Last() *FakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

func (c *FakeCapture) Acquired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *FakeCapture) ActiveStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *FakeCapture) MaxActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive
}

func (c *FakeCapture) released() {
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
}

type FakeStream struct {
	capture *FakeCapture

	mu       sync.Mutex
	ch       chan []byte
	closed   bool
	released bool
	paused   bool
	stopped  bool
	final    []byte
	delay    time.Duration
	mime     string
}

// Emit pushes a chunk as if the device produced it. Chunks emitted after the
// stream closed are dropped.
func (s *FakeStream) Emit(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- chunk
}

func (s *FakeStream) Chunks() <-chan []byte { return s.ch }

func (s *FakeStream) MimeType() string { return s.mime }

func (s *FakeStream) Pause() error {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	return nil
}

func (s *FakeStream) Resume() error {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	return nil
}

func (s *FakeStream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *FakeStream) Stop() error {
	s.mu.Lock()
	if s.stopped || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	go func() {
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		if len(s.final) > 0 {
			s.ch <- s.final
		}
		close(s.ch)
		s.closed = true
	}()
	return nil
}

func (s *FakeStream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.released {
		s.released = true
		s.capture.released()
	}
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
	return nil
}

func (s *FakeStream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Stopped reports whether Stop was called.
func (s *FakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *FakeStream) ActiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return 0
	}
	return 1
}
