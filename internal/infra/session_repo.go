package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLeaseLost is returned when a transcription result arrives for a session
// that is no longer in "transcribing".
var ErrLeaseLost = errors.New("transcription lease lost")

// PostgresStore persists sessions, transcripts, reports and the operator
// credential.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (r *PostgresStore) Migrate(ctx context.Context) error {
	schema, err := LoadSchema(PostgresSchemaName)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ======================= SESSIONS =======================

const sessionColumns = `id, patient_id, appointment_id, audio_url, file_size_bytes, duration_seconds, status, created_at, updated_at`

func scanSession(row pgx.Row) (*models.AudioSession, error) {
	var s models.AudioSession
	err := row.Scan(
		&s.ID,
		&s.PatientID,
		&s.AppointmentID,
		&s.AudioURL,
		&s.FileSizeBytes,
		&s.DurationSeconds,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresStore) CreateSession(ctx context.Context, in models.NewAudioSession) (*models.AudioSession, error) {
	query := `
		INSERT INTO audio_sessions (id, patient_id, appointment_id, audio_url, file_size_bytes, duration_seconds, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + sessionColumns

	s, err := scanSession(r.pool.QueryRow(ctx, query,
		uuid.NewString(),
		in.PatientID,
		in.AppointmentID,
		in.AudioURL,
		in.FileSizeBytes,
		in.DurationSeconds,
		models.SessionUploaded,
	))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (r *PostgresStore) GetSession(ctx context.Context, id string) (*models.AudioSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM audio_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *PostgresStore) ListPatientSessions(ctx context.Context, patientID string) ([]models.AudioSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM audio_sessions
		 WHERE patient_id = $1
		 ORDER BY created_at DESC`,
		patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.AudioSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PostgresStore) BeginTranscription(ctx context.Context, sessionID string, staleBefore time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE audio_sessions
		SET status = 'transcribing', updated_at = now()
		WHERE id = $1
		  AND (status IN ('uploaded', 'failed')
		       OR (status = 'transcribing' AND updated_at < $2))
	`, sessionID, staleBefore)
	if err != nil {
		return false, fmt.Errorf("begin transcription: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresStore) CompleteTranscription(ctx context.Context, tr models.Transcript) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE audio_sessions
		SET status = 'transcribed', updated_at = now()
		WHERE id = $1 AND status = 'transcribing'
	`, tr.SessionID)
	if err != nil {
		return fmt.Errorf("mark transcribed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("session %s: %w", tr.SessionID, ErrLeaseLost)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO transcripts (session_id, text, language, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET text = EXCLUDED.text, language = EXCLUDED.language, created_at = EXCLUDED.created_at
	`, tr.SessionID, tr.Text, tr.Language, tr.CreatedAt); err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresStore) FailTranscription(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE audio_sessions
		SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status = 'transcribing'
	`, sessionID)
	if err != nil {
		return fmt.Errorf("fail transcription: %w", err)
	}
	return nil
}

func (r *PostgresStore) GetTranscript(ctx context.Context, sessionID string) (*models.Transcript, error) {
	var t models.Transcript
	err := r.pool.QueryRow(ctx, `
		SELECT session_id, text, language, created_at
		FROM transcripts
		WHERE session_id = $1
	`, sessionID).Scan(&t.SessionID, &t.Text, &t.Language, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	return &t, nil
}

// ======================= REPORTS =======================

func (r *PostgresStore) CreateReport(ctx context.Context, in models.NewReport) (*models.Report, error) {
	rep := models.Report{
		ID:        uuid.NewString(),
		PatientID: in.PatientID,
		SessionID: in.SessionID,
		Type:      in.Type,
		Content:   in.Content,
		Status:    in.Status,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO reports (id, patient_id, session_id, type, content, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, rep.ID, rep.PatientID, rep.SessionID, rep.Type, rep.Content, rep.Status).Scan(&rep.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	return &rep, nil
}

// ======================= OPERATOR =======================

func (r *PostgresStore) PasswordHash(ctx context.Context) (string, error) {
	var hash string
	err := r.pool.QueryRow(ctx, `SELECT password_hash FROM operator_auth WHERE id = 1`).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get operator: %w", err)
	}
	return hash, nil
}

func (r *PostgresStore) SetPasswordHash(ctx context.Context, hash string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO operator_auth (id, password_hash) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET password_hash = EXCLUDED.password_hash
	`, hash)
	if err != nil {
		return fmt.Errorf("set operator password: %w", err)
	}
	return nil
}
