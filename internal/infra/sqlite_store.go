package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-workstation alternative to PostgresStore.
// Timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	schema, err := LoadSchema(SQLiteSchemaName)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (*models.AudioSession, error) {
	var (
		sess                 models.AudioSession
		appointment          sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&sess.ID,
		&sess.PatientID,
		&appointment,
		&sess.AudioURL,
		&sess.FileSizeBytes,
		&sess.DurationSeconds,
		&sess.Status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	if appointment.Valid {
		a := appointment.String
		sess.AppointmentID = &a
	}
	sess.CreatedAt = fromUnix(createdAt)
	sess.UpdatedAt = fromUnix(updatedAt)
	return &sess, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, in models.NewAudioSession) (*models.AudioSession, error) {
	now := time.Now().UTC()
	sess := &models.AudioSession{
		ID:              uuid.NewString(),
		PatientID:       in.PatientID,
		AppointmentID:   in.AppointmentID,
		AudioURL:        in.AudioURL,
		FileSizeBytes:   in.FileSizeBytes,
		DurationSeconds: in.DurationSeconds,
		Status:          models.SessionUploaded,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_sessions (id, patient_id, appointment_id, audio_url, file_size_bytes, duration_seconds, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.PatientID, sess.AppointmentID, sess.AudioURL, sess.FileSizeBytes,
		sess.DurationSeconds, string(sess.Status), toUnix(now), toUnix(now))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.AudioSession, error) {
	sess, err := scanSQLiteSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM audio_sessions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListPatientSessions(ctx context.Context, patientID string) ([]models.AudioSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM audio_sessions
		WHERE patient_id = ?
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.AudioSession
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) BeginTranscription(ctx context.Context, sessionID string, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audio_sessions
		SET status = 'transcribing', updated_at = ?
		WHERE id = ?
		  AND (status IN ('uploaded', 'failed')
		       OR (status = 'transcribing' AND updated_at < ?))
	`, toUnix(time.Now()), sessionID, toUnix(staleBefore))
	if err != nil {
		return false, fmt.Errorf("begin transcription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("begin transcription: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) CompleteTranscription(ctx context.Context, tr models.Transcript) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE audio_sessions
		SET status = 'transcribed', updated_at = ?
		WHERE id = ? AND status = 'transcribing'
	`, toUnix(time.Now()), tr.SessionID)
	if err != nil {
		return fmt.Errorf("mark transcribed: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("session %s: %w", tr.SessionID, ErrLeaseLost)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcripts (session_id, text, language, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE
		SET text = excluded.text, language = excluded.language, created_at = excluded.created_at
	`, tr.SessionID, tr.Text, tr.Language, toUnix(tr.CreatedAt)); err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) FailTranscription(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audio_sessions
		SET status = 'failed', updated_at = ?
		WHERE id = ? AND status = 'transcribing'
	`, toUnix(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("fail transcription: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, sessionID string) (*models.Transcript, error) {
	var (
		t         models.Transcript
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, text, language, created_at
		FROM transcripts
		WHERE session_id = ?
	`, sessionID).Scan(&t.SessionID, &t.Text, &t.Language, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	t.CreatedAt = fromUnix(createdAt)
	return &t, nil
}

func (s *SQLiteStore) CreateReport(ctx context.Context, in models.NewReport) (*models.Report, error) {
	rep := &models.Report{
		ID:        uuid.NewString(),
		PatientID: in.PatientID,
		SessionID: in.SessionID,
		Type:      in.Type,
		Content:   in.Content,
		Status:    in.Status,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, patient_id, session_id, type, content, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rep.ID, rep.PatientID, rep.SessionID, rep.Type, rep.Content, string(rep.Status), toUnix(rep.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	return rep, nil
}

func (s *SQLiteStore) PasswordHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM operator_auth WHERE id = 1`).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get operator: %w", err)
	}
	return hash, nil
}

func (s *SQLiteStore) SetPasswordHash(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operator_auth (id, password_hash) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET password_hash = excluded.password_hash
	`, hash)
	if err != nil {
		return fmt.Errorf("set operator password: %w", err)
	}
	return nil
}
