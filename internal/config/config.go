// Package config loads agent settings from an optional YAML file, then the
// environment, then built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/models"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	StorageHTTP  = "http"
	StorageLocal = "local"

	STTWhisper = "whisper"
	STTYandex  = "yandex"
)

type StorageConfig struct {
	Backend string `yaml:"backend"`

	// http
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`

	// local
	Dir       string `yaml:"dir"`
	PublicURL string `yaml:"public_url"`
}

type STTConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type OpenRouterConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	URL    string `yaml:"url"`
}

type CaptureConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	// Format and Device are passed to ffmpeg as -f and -i.
	Format string `yaml:"format"`
	Device string `yaml:"device"`
}

type Config struct {
	Port           string        `yaml:"port"`
	DatabaseURL    string        `yaml:"database_url"`
	AuthSecret     string        `yaml:"auth_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RoomID         string        `yaml:"room_id"`

	// OperatorPassword, when set, replaces the stored operator password hash
	// on startup.
	OperatorPassword string `yaml:"operator_password"`

	Storage    StorageConfig    `yaml:"storage"`
	STT        STTConfig        `yaml:"stt"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Capture    CaptureConfig    `yaml:"capture"`

	Language             string        `yaml:"language"`
	TranscriptionTimeout time.Duration `yaml:"transcription_timeout"`

	TemplatesFile string                  `yaml:"templates_file"`
	Templates     []models.ReportTemplate `yaml:"templates"`
}

// Defaults returns a config with every optional value filled in.
func Defaults() Config {
	return Config{
		Port:                 "8080",
		TokenTTL:             12 * time.Hour,
		AllowedOrigins:       []string{"*"},
		RoomID:               "workstation",
		Storage:              StorageConfig{Backend: StorageLocal, Dir: "./audio", Bucket: "audio"},
		STT:                  STTConfig{Backend: STTWhisper, URL: "https://api.openai.com", Model: "whisper-1"},
		OpenRouter:           OpenRouterConfig{Model: "openai/gpt-4o-mini", URL: "https://openrouter.ai/api/v1/chat/completions"},
		Capture:              CaptureConfig{FFmpegPath: "ffmpeg"},
		Language:             "pt-BR",
		TranscriptionTimeout: 5 * time.Minute,
		Templates:            DefaultTemplates(),
	}
}

func DefaultTemplates() []models.ReportTemplate {
	return []models.ReportTemplate{
		{ID: "evolucao", Title: "Evolução de sessão", Guidance: "Descreva a evolução do paciente na sessão, em parágrafos curtos."},
		{ID: "resumo", Title: "Resumo", Guidance: "Resuma o atendimento em tópicos objetivos."},
		{ID: "anamnese", Title: "Anamnese", Guidance: "Organize em: queixa principal, histórico, observações e conduta."},
	}
}

// Load reads CONFIG_FILE (if set) and the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"), os.LookupEnv)
}

func LoadFrom(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}

	if cfg.TemplatesFile != "" {
		tpls, err := loadTemplates(cfg.TemplatesFile)
		if err != nil {
			return nil, err
		}
		cfg.Templates = tpls
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs error
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}

	str("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("AUTH_SECRET", &cfg.AuthSecret)
	str("OPERATOR_PASSWORD", &cfg.OperatorPassword)
	str("ROOM_ID", &cfg.RoomID)
	dur("TOKEN_TTL", &cfg.TokenTTL)
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("STORAGE_URL", &cfg.Storage.URL)
	str("STORAGE_BUCKET", &cfg.Storage.Bucket)
	str("STORAGE_KEY", &cfg.Storage.Key)
	str("STORAGE_DIR", &cfg.Storage.Dir)
	str("STORAGE_PUBLIC_URL", &cfg.Storage.PublicURL)

	str("STT_BACKEND", &cfg.STT.Backend)
	str("STT_URL", &cfg.STT.URL)
	str("STT_API_KEY", &cfg.STT.APIKey)
	str("STT_MODEL", &cfg.STT.Model)
	if cfg.STT.Backend == STTYandex {
		str("YANDEX_SPEECHKIT_API_KEY", &cfg.STT.APIKey)
	}

	str("OPENROUTER_API_KEY", &cfg.OpenRouter.APIKey)
	str("OPENROUTER_MODEL", &cfg.OpenRouter.Model)

	str("FFMPEG_PATH", &cfg.Capture.FFmpegPath)
	str("CAPTURE_FORMAT", &cfg.Capture.Format)
	str("CAPTURE_DEVICE", &cfg.Capture.Device)

	str("LANGUAGE", &cfg.Language)
	dur("TRANSCRIPTION_TIMEOUT", &cfg.TranscriptionTimeout)
	str("REPORT_TEMPLATES", &cfg.TemplatesFile)

	return errs
}

// parseDuration accepts Go durations ("90s") or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type templatesFile struct {
	Templates []models.ReportTemplate `yaml:"templates"`
}

func loadTemplates(path string) ([]models.ReportTemplate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var f templatesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	return f.Templates, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if c.DatabaseURL == "" {
		add("DATABASE_URL is not set")
	}
	if c.AuthSecret == "" {
		add("AUTH_SECRET is not set")
	} else if len(c.AuthSecret) < 32 {
		add("AUTH_SECRET must be at least 32 bytes")
	}
	if c.TranscriptionTimeout <= 0 {
		add("TRANSCRIPTION_TIMEOUT must be positive")
	}

	switch c.Storage.Backend {
	case StorageHTTP:
		if c.Storage.URL == "" || c.Storage.Bucket == "" {
			add("STORAGE_URL and STORAGE_BUCKET are required for the http backend")
		}
	case StorageLocal:
		if c.Storage.Dir == "" {
			add("STORAGE_DIR is required for the local backend")
		}
	default:
		add("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}

	switch c.STT.Backend {
	case STTWhisper:
		if c.STT.URL == "" {
			add("STT_URL is required for the whisper backend")
		}
	case STTYandex:
		if c.STT.APIKey == "" {
			add("YANDEX_SPEECHKIT_API_KEY is required for the yandex backend")
		}
	default:
		add("unknown STT_BACKEND %q", c.STT.Backend)
	}

	if len(c.Templates) == 0 {
		add("at least one report template is required")
	}
	seen := make(map[string]bool, len(c.Templates))
	for _, t := range c.Templates {
		if t.ID == "" {
			add("report template without id")
			continue
		}
		if seen[t.ID] {
			add("duplicate report template %q", t.ID)
		}
		seen[t.ID] = true
	}

	return errs
}
