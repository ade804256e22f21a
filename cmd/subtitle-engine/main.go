package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	subtitleengine "github.com/snarg/subtitle-engine"
	"github.com/snarg/subtitle-engine/internal/api"
	"github.com/snarg/subtitle-engine/internal/auth"
	"github.com/snarg/subtitle-engine/internal/config"
	"github.com/snarg/subtitle-engine/internal/database"
	"github.com/snarg/subtitle-engine/internal/events"
	"github.com/snarg/subtitle-engine/internal/metrics"
	"github.com/snarg/subtitle-engine/internal/pipeline"
	"github.com/snarg/subtitle-engine/internal/storage"
	"github.com/snarg/subtitle-engine/internal/transcribe"
	"github.com/snarg/subtitle-engine/internal/transliterate"
)

var version = "dev"

const ingestRetries = 3

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "local transient audio directory (overrides AUDIO_DIR)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("subtitle-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx, subtitleengine.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	// Transient audio storage
	storeLog := log.With().Str("component", "storage").Logger()
	store, err := storage.New(cfg.S3, cfg.AudioDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	if sweeper := storage.NewSweeper(store, cfg.S3.SweepTTL, cfg.S3.SweepInterval, storeLog); sweeper != nil {
		var bg storage.BackgroundService = sweeper
		bg.Start()
		defer bg.Stop()
	}
	ingester := storage.NewIngester(store, ingestRetries)

	// Speech recognition
	region := cfg.Recognition.Region
	if region == "" {
		region = cfg.S3.Region
	}
	jobs, err := transcribe.NewAWSJobService(ctx, region)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transcription service")
	}
	recognizer := transcribe.NewRecognizer(jobs, transcribe.NewResultFetcher(30*time.Second, 3), transcribe.RecognizerOptions{
		JobPrefix:     cfg.Recognition.JobPrefix,
		PollInterval:  cfg.Recognition.PollInterval,
		MaxPolls:      cfg.Recognition.MaxPolls,
		Timeout:       cfg.Recognition.Timeout,
		StatusRetries: cfg.Recognition.StatusRetries,
		Log:           log.With().Str("component", "recognizer").Logger(),
	})

	// Transliteration
	tc := cfg.Transliteration
	if tc.APIKey == "" && tc.BaseURL == "" {
		log.Warn().Msg("OPENAI_API_KEY not set, transliteration requests will fail")
	}
	transliterator, err := transliterate.New(
		transliterate.NewOpenAICompleter(tc.APIKey, tc.BaseURL, tc.Model),
		transliterate.Options{
			SourceLanguage: cfg.Recognition.LanguageCode,
			TargetLanguage: tc.TargetLanguage,
			Temperature:    tc.Temperature,
			Concurrency:    tc.Concurrency,
			MaxRetries:     tc.MaxRetries,
			CallTimeout:    tc.Timeout,
			Log:            log.With().Str("component", "transliterator").Logger(),
		})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transliterator")
	}

	// Authentication
	var authn auth.Authenticator
	if cfg.RedisURL != "" {
		sessions, err := auth.NewRedisSessions(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer sessions.Close()
		authn = sessions
		log.Info().Msg("authenticating against redis sessions")
	} else {
		tokens, err := auth.ParseStaticTokens(cfg.AuthTokens)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid AUTH_TOKENS")
		}
		if tokens.Len() == 0 {
			log.Warn().Msg("no AUTH_TOKENS or REDIS_URL configured, all API requests will be rejected")
		}
		authn = tokens
	}

	// MQTT (optional)
	var (
		publisher events.Publisher = events.Nop{}
		mqttCheck api.ConnectionChecker
	)
	if cfg.MQTTBrokerURL != "" {
		mqtt, err := events.Connect(events.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		publisher = mqtt
		mqttCheck = mqtt
	}

	pipe := pipeline.New(pipeline.Options{
		Ingester:       ingester,
		Recognizer:     recognizer,
		Transliterator: transliterator,
		Store:          db,
		Events:         publisher,
		LanguageCode:   cfg.Recognition.LanguageCode,
		Log:            log.With().Str("component", "pipeline").Logger(),
	})
	prometheus.MustRegister(metrics.NewCollector(db.Pool, pipe))

	// HTTP Server
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		DB:          db,
		Auth:        authn,
		Pipeline:    pipe,
		Subtitles:   db,
		Events:      publisher,
		MQTT:        mqttCheck,
		StorageType: store.Type(),
		Version:     version,
		StartTime:   startTime,
		Log:         log.With().Str("component", "http").Logger(),
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Requests get ShutdownGrace to finish, then are cancelled. The extra
	// minute covers their transient audio cleanup.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+time.Minute)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("subtitle-engine stopped")
}
