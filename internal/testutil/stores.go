package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/Vovarama1992/fonodesk/internal/ports"
)

var ErrFake = errors.New("fake failure")

// ================================================================
// STORAGE
// ================================================================

type FakeStorage struct {
	mu sync.Mutex

	// Fail makes the next N uploads return Err.
	Fail int
	Err  error
	URL  string

	Uploads  [][]byte
	Progress []int
	objects  map[string][]byte
}

func NewFakeStorage(url string) *FakeStorage {
	return &FakeStorage{URL: url, Err: ErrFake, objects: make(map[string][]byte)}
}

func (s *FakeStorage) Upload(ctx context.Context, data []byte, meta ports.UploadMeta, progress ports.ProgressFunc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Uploads = append(s.Uploads, data)
	if s.Fail > 0 {
		s.Fail--
		return "", s.Err
	}
	for _, p := range []int{0, 50, 100} {
		s.Progress = append(s.Progress, p)
		if progress != nil {
			progress(p)
		}
	}
	s.objects[s.URL] = data
	return s.URL, nil
}

func (s *FakeStorage) Fetch(ctx context.Context, audioURL string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[audioURL]
	if !ok {
		return nil, "", fmt.Errorf("object %s: %w", audioURL, ErrFake)
	}
	return data, "audio/webm", nil
}

func (s *FakeStorage) UploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Uploads)
}

// ================================================================
// SESSIONS + REPORTS
// ================================================================

type MemoryStore struct {
	mu sync.Mutex

	// NextID is used for the next created session, then cleared.
	NextID string
	// FailCreate makes the next N CreateSession calls fail.
	FailCreate int
	// FailReport makes the next N CreateReport calls fail.
	FailReport int

	Sessions    map[string]*models.AudioSession
	Transcripts map[string]*models.Transcript
	Reports     []models.Report
	CreateCalls []models.NewAudioSession
	Hash        string

	seq int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Sessions:    make(map[string]*models.AudioSession),
		Transcripts: make(map[string]*models.Transcript),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, in models.NewAudioSession) (*models.AudioSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls = append(m.CreateCalls, in)
	if m.FailCreate > 0 {
		m.FailCreate--
		return nil, ErrFake
	}

	id := m.NextID
	m.NextID = ""
	if id == "" {
		m.seq++
		id = fmt.Sprintf("session-%d", m.seq)
	}
	now := time.Now()
	s := &models.AudioSession{
		ID:              id,
		PatientID:       in.PatientID,
		AppointmentID:   in.AppointmentID,
		AudioURL:        in.AudioURL,
		FileSizeBytes:   in.FileSizeBytes,
		DurationSeconds: in.DurationSeconds,
		Status:          models.SessionUploaded,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.Sessions[id] = s
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.AudioSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListPatientSessions(ctx context.Context, patientID string) ([]models.AudioSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AudioSession
	for _, s := range m.Sessions {
		if s.PatientID == patientID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MemoryStore) BeginTranscription(ctx context.Context, sessionID string, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[sessionID]
	if !ok {
		return false, nil
	}
	stale := s.Status == models.SessionTranscribing && s.UpdatedAt.Before(staleBefore)
	if !s.Status.CanBeginTranscription() && !stale {
		return false, nil
	}
	s.Status = models.SessionTranscribing
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) CompleteTranscription(ctx context.Context, tr models.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[tr.SessionID]
	if !ok {
		return ErrFake
	}
	s.Status = models.SessionTranscribed
	s.UpdatedAt = time.Now()
	cp := tr
	m.Transcripts[tr.SessionID] = &cp
	return nil
}

func (m *MemoryStore) FailTranscription(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Sessions[sessionID]; ok {
		s.Status = models.SessionFailed
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryStore) GetTranscript(ctx context.Context, sessionID string) (*models.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.Transcripts[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *tr
	return &cp, nil
}

func (m *MemoryStore) CreateReport(ctx context.Context, in models.NewReport) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReport > 0 {
		m.FailReport--
		return nil, ErrFake
	}
	r := models.Report{
		ID:        fmt.Sprintf("report-%d", len(m.Reports)+1),
		PatientID: in.PatientID,
		SessionID: in.SessionID,
		Type:      in.Type,
		Content:   in.Content,
		Status:    in.Status,
		CreatedAt: time.Now(),
	}
	m.Reports = append(m.Reports, r)
	return &r, nil
}

func (m *MemoryStore) PasswordHash(ctx context.Context) (string, error) {
	return m.Hash, nil
}

func (m *MemoryStore) ReportCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Reports)
}

func (m *MemoryStore) Status(id string) models.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Sessions[id]; ok {
		return s.Status
	}
	return ""
}

// ================================================================
// TRANSCRIBER
// ================================================================

// FakeTranscriber returns Text, or Err for the next Fail calls. When Gate is
// set, every call blocks until Gate is closed or the context ends.
type FakeTranscriber struct {
	mu sync.Mutex

	Text string
	Fail int
	Err  error
	Gate chan struct{}

	calls    map[string]int
	inFlight map[string]int
	maxPer   int
	Langs    []string
}

func NewFakeTranscriber(text string) *FakeTranscriber {
	return &FakeTranscriber{
		Text:     text,
		Err:      ErrFake,
		calls:    make(map[string]int),
		inFlight: make(map[string]int),
	}
}

func (t *FakeTranscriber) Transcribe(ctx context.Context, audioURL, sessionID, lang string) (string, error) {
	t.mu.Lock()
	t.calls[sessionID]++
	t.inFlight[sessionID]++
	if t.inFlight[sessionID] > t.maxPer {
		t.maxPer = t.inFlight[sessionID]
	}
	t.Langs = append(t.Langs, lang)
	gate := t.Gate
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight[sessionID]--
		t.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Fail > 0 {
		t.Fail--
		return "", t.Err
	}
	return t.Text, nil
}

func (t *FakeTranscriber) Calls(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[sessionID]
}

// MaxConcurrent is the highest number of simultaneous calls seen for one session.
func (t *FakeTranscriber) MaxConcurrent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxPer
}

// ================================================================
// CLIPBOARD / ASSISTANT
// ================================================================

type FakeClipboard struct {
	mu     sync.Mutex
	Copied []string
}

func (c *FakeClipboard) Copy(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Copied = append(c.Copied, text)
	return nil
}

type FakeAssistant struct {
	Prefix string
	Err    error
}

func (a *FakeAssistant) Rewrite(ctx context.Context, guidance, text string) (string, error) {
	if a.Err != nil {
		return "", a.Err
	}
	return a.Prefix + text, nil
}
