package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func env(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestLoadDefaultsWithRequiredEnv(t *testing.T) {
	cfg, err := LoadFrom("", env(map[string]string{
		"DATABASE_URL": "sqlite:fonodesk.db",
		"AUTH_SECRET":  secret,
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorageLocal, cfg.Storage.Backend)
	assert.Equal(t, STTWhisper, cfg.STT.Backend)
	assert.Equal(t, "pt-BR", cfg.Language)
	assert.Equal(t, 5*time.Minute, cfg.TranscriptionTimeout)
	assert.Len(t, cfg.Templates, 3)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fonodesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
database_url: postgres://localhost/fono
auth_secret: `+secret+`
transcription_timeout: 2m
storage:
  backend: http
  url: https://storage.example.com/storage/v1
  bucket: sessions
templates:
  - id: resumo
    title: Resumo
`), 0o644))

	cfg, err := LoadFrom(path, env(map[string]string{
		"PORT":            "7000",
		"ALLOWED_ORIGINS": "https://app.example.com, http://localhost:5173",
	}))
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "postgres://localhost/fono", cfg.DatabaseURL)
	assert.Equal(t, 2*time.Minute, cfg.TranscriptionTimeout)
	assert.Equal(t, StorageHTTP, cfg.Storage.Backend)
	assert.Equal(t, "sessions", cfg.Storage.Bucket)
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:5173"}, cfg.AllowedOrigins)
	require.Len(t, cfg.Templates, 1)
	assert.Equal(t, "resumo", cfg.Templates[0].ID)
}

func TestLoadTemplatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - id: alta
    title: Relatório de alta
    guidance: Resuma a evolução completa.
`), 0o644))

	cfg, err := LoadFrom("", env(map[string]string{
		"DATABASE_URL":          "sqlite::memory:",
		"AUTH_SECRET":           secret,
		"REPORT_TEMPLATES":      path,
		"TRANSCRIPTION_TIMEOUT": "90",
	}))
	require.NoError(t, err)
	require.Len(t, cfg.Templates, 1)
	assert.Equal(t, "Relatório de alta", cfg.Templates[0].Title)
	assert.Equal(t, 90*time.Second, cfg.TranscriptionTimeout)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	_, err := LoadFrom("", env(map[string]string{
		"AUTH_SECRET":     "short",
		"STORAGE_BACKEND": "ftp",
		"STT_BACKEND":     "yandex",
	}))
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "DATABASE_URL is not set")
	assert.Contains(t, msg, "AUTH_SECRET must be at least 32 bytes")
	assert.Contains(t, msg, `unknown STORAGE_BACKEND "ftp"`)
	assert.Contains(t, msg, "YANDEX_SPEECHKIT_API_KEY is required")
}

func TestValidateDuplicateTemplates(t *testing.T) {
	cfg := Defaults()
	cfg.DatabaseURL = "x"
	cfg.AuthSecret = secret
	cfg.Templates = append(cfg.Templates, cfg.Templates[0])
	assert.ErrorContains(t, cfg.Validate(), "duplicate report template")
}

func TestBadDuration(t *testing.T) {
	_, err := LoadFrom("", env(map[string]string{
		"DATABASE_URL":          "x",
		"AUTH_SECRET":           secret,
		"TRANSCRIPTION_TIMEOUT": "soon",
	}))
	assert.ErrorContains(t, err, "TRANSCRIPTION_TIMEOUT")
}
