package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medscribe/audio"
	"medscribe/config"
	"medscribe/consult"
	"medscribe/insight"
	"medscribe/log"
	"medscribe/metrics"
	"medscribe/server"
	"medscribe/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(cfg.Logging.Output, cfg.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "log: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if err := run(cfg); err != nil {
		log.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	met := metrics.New()

	var repo consult.Repository
	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		repo = consult.NewRepository(db)
		log.Info("database connected")
	} else {
		log.Warn("no database configured, sessions will not be persisted")
	}

	audioCtx, err := openAudio(cfg)
	if err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	defer audioCtx.Close()

	dialer := &transport.DeepgramDialer{
		Model:      cfg.Transcription.Model,
		Language:   cfg.Transcription.Language,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	}
	tokens := &transport.StaticTokenSource{
		URL: cfg.Transcription.Endpoint,
		Key: cfg.Transcription.APIKey,
	}

	manager := consult.NewManager(consult.ManagerDeps{
		NewCapturer: func() (*audio.Capturer, error) {
			return audio.NewCapturer(audioCtx, nil, audio.CaptureConfig{
				SampleRate: uint32(cfg.Audio.SampleRate),
				Channels:   uint32(cfg.Audio.Channels),
			}, cfg.Audio.GetFrameDuration()), nil
		},
		NewTransport: func(id uuid.UUID, h transport.Handler) *transport.Transport {
			return transport.New(transport.Config{
				ConsultationID: id.String(),
				BaseDelay:      cfg.Transcription.GetBaseDelay(),
				MaxDelay:       cfg.Transcription.GetMaxDelay(),
				MaxAttempts:    cfg.Transcription.MaxReconnects,
				Metrics:        met,
			}, dialer, tokens, h)
		},
		Analyzer: &insight.HTTPAnalyzer{
			Endpoint: cfg.Analysis.Endpoint,
			APIKey:   cfg.Analysis.APIKey,
			Timeout:  cfg.Analysis.GetTimeout(),
		},
		Repo:           repo,
		Metrics:        met,
		ThrottleWindow: cfg.Analysis.GetThrottleWindow(),
		MinChars:       cfg.Analysis.MinChars,
	})

	root := chi.NewRouter()
	root.Handle("/metrics", promhttp.Handler())
	root.Mount("/", server.NewHandler(manager, met).Router())

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	manager.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// openAudio selects the capture backend: a WAV replay context for
// development, the platform microphone otherwise.
func openAudio(cfg *config.Config) (audio.Context, error) {
	if cfg.Audio.FakeWAV != "" {
		log.Infof("replaying audio from %s", cfg.Audio.FakeWAV)
		return audio.NewFakeContext(cfg.Audio.FakeWAV, true)
	}
	return audio.NewContext()
}
