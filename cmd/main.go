package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/config"
	"github.com/Vovarama1992/fonodesk/internal/delivery"
	ws "github.com/Vovarama1992/fonodesk/internal/delivery/ws"
	"github.com/Vovarama1992/fonodesk/internal/domain"
	"github.com/Vovarama1992/fonodesk/internal/domain/stations"
	"github.com/Vovarama1992/fonodesk/internal/infra"
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// store is what the agent needs from its database.
type store interface {
	ports.SessionRepository
	ports.ReportRepository
	ports.OperatorRepository
	SetPasswordHash(ctx context.Context, hash string) error
}

func main() {

	// LOGGER
	zcore, _ := zap.NewProduction()
	defer func() { _ = zcore.Sync() }()
	zl := logger.NewZapLogger(zcore.Sugar())

	// CONFIG
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DATABASE
	db, closeDB, err := openStore(ctx, cfg.DatabaseURL, zl)
	if err != nil {
		panic("database: " + err.Error())
	}

	if cfg.OperatorPassword != "" {
		hash, err := domain.HashPassword(cfg.OperatorPassword)
		if err != nil {
			panic("hash operator password: " + err.Error())
		}
		if err := db.SetPasswordHash(ctx, hash); err != nil {
			panic("store operator password: " + err.Error())
		}
	}

	authService, err := domain.NewAuthService(db, cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		panic("auth: " + err.Error())
	}

	// STORAGE
	var (
		storage    ports.Storage
		localAudio http.Handler
	)
	switch cfg.Storage.Backend {
	case config.StorageHTTP:
		storage = infra.NewHTTPStorage(cfg.Storage.URL, cfg.Storage.Bucket, cfg.Storage.Key, nil)
	default:
		public := cfg.Storage.PublicURL
		if public == "" {
			public = "http://localhost:" + cfg.Port
		}
		local, err := infra.NewLocalStorage(cfg.Storage.Dir, public)
		if err != nil {
			panic("local storage: " + err.Error())
		}
		storage = local
		localAudio = local.Handler()
	}

	// SPEECH TO TEXT
	var stt ports.STTService
	switch cfg.STT.Backend {
	case config.STTYandex:
		stt = infra.NewYandexSTTService(cfg.STT.APIKey, cfg.STT.URL, nil)
	default:
		stt = infra.NewWhisperSTT(cfg.STT.URL, cfg.STT.APIKey, cfg.STT.Model, nil)
	}
	transcriber := infra.NewURLTranscriber(storage, stt, zl)

	// GPT CLIENT
	var assistant ports.DraftAssistant
	if cfg.OpenRouter.APIKey != "" {
		assistant = infra.NewGPTClient(cfg.OpenRouter.APIKey, cfg.OpenRouter.Model, cfg.OpenRouter.URL, nil)
	}

	// STATIONS
	s1 := stations.NewS1Upload(storage, zl)
	s2 := stations.NewS2RegisterSession(db, zl)
	s3 := stations.NewS3Transcribe(db, transcriber, cfg.TranscriptionTimeout, cfg.Language, zl)
	s4 := stations.NewS4Review(db, infra.NewSystemClipboard(), assistant, cfg.Templates, zl)

	// PIPELINE
	pipeline := domain.NewPipelineService(s1, s2, s3, s4, zl, domain.PipelineConfig{
		RoomID:   cfg.RoomID,
		Language: cfg.Language,
	})

	// RECORDER
	capture := infra.NewFFmpegCapture(cfg.Capture.FFmpegPath, cfg.Capture.Format, cfg.Capture.Device, zl)
	recorder := domain.NewRecorder(capture, zl, domain.RecorderConfig{
		TickInterval: time.Second,
		OnTransition: func(from, to domain.RecorderState) {
			pipeline.Publish(ports.PipelineEvent{Type: ports.EventRecorder, RecorderState: string(to)})
		},
		OnTick: func(elapsed int) {
			pipeline.Publish(ports.PipelineEvent{Type: ports.EventRecorder, RecorderState: string(domain.RecorderRecording), Elapsed: &elapsed})
		},
	})

	// WS HUB
	hub := ws.NewHub(zl)
	go hub.Run(ctx, pipeline.Events())

	// ROUTER
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Auth"},
		AllowCredentials: true,
	}))

	delivery.RegisterRoutes(r, delivery.Handlers{
		Auth:     delivery.NewAuthHandler(authService, zl),
		Recorder: delivery.NewRecorderHandler(recorder, zl),
		Pipeline: delivery.NewPipelineHandler(ctx, pipeline, recorder, zl),
		Sessions: delivery.NewSessionHandler(db, zl),
	}, authService)

	r.With(delivery.AuthMiddleware(authService, zl)).Get("/ws", ws.WSHandler(
		hub,
		ws.NewUpgrader(cfg.AllowedOrigins),
		cfg.RoomID,
		func() any { return pipeline.Snapshot() },
		zl,
	))

	if localAudio != nil {
		r.Handle(infra.LocalStoragePrefix+"*", localAudio)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zl.Log(logger.LogEntry{
		Level:   "info",
		Message: "server started",
		Fields: map[string]any{
			"port":    cfg.Port,
			"storage": cfg.Storage.Backend,
			"stt":     cfg.STT.Backend,
			"room":    cfg.RoomID,
		},
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Log(logger.LogEntry{
			Level:   "error",
			Message: "server crashed",
			Error:   err,
		})
	}

	pipeline.Cancel()
	if err := multierr.Combine(recorder.Close(), closeDB()); err != nil {
		zl.Log(logger.LogEntry{Level: "error", Message: "shutdown", Error: err})
	}
	zl.Log(logger.LogEntry{Level: "info", Message: "server stopped"})
}

// openStore picks SQLite for "sqlite:<path>" URLs and Postgres otherwise.
func openStore(ctx context.Context, dsn string, zl *logger.ZapLogger) (store, func() error, error) {
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		s, err := infra.OpenSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		zl.Log(logger.LogEntry{Level: "info", Message: "database ready", Fields: map[string]any{"driver": "sqlite", "path": path}})
		return s, s.Close, nil
	}

	pool, err := infra.NewPgxPool(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	pg := infra.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	zl.Log(logger.LogEntry{Level: "info", Message: "database ready", Fields: map[string]any{"driver": "postgres"}})
	return pg, func() error { pool.Close(); return nil }, nil
}
