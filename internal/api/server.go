package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/subtitle-engine/internal/auth"
	"github.com/snarg/subtitle-engine/internal/config"
	"github.com/snarg/subtitle-engine/internal/events"
	"github.com/snarg/subtitle-engine/internal/metrics"
)

// Pipeline is the request-scoped audio-to-subtitle pipeline.
type Pipeline interface {
	Transcriber
	SubtitleCreator
}

type ServerOptions struct {
	Config      *config.Config
	DB          Pinger
	Auth        auth.Authenticator
	Pipeline    Pipeline
	Subtitles   SubtitleStore
	Events      events.Publisher
	MQTT        ConnectionChecker // nil when no broker is configured
	StorageType string
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

type Server struct {
	http  *http.Server
	grace time.Duration
	log   zerolog.Logger

	// cancelRequests cancels the base context of every request.
	cancelRequests context.CancelFunc
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		health := NewHealthHandler(opts.DB, opts.MQTT, opts.StorageType, opts.Version, opts.StartTime)
		r.Get("/health", health.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(opts.Auth))
			r.Post("/transcribe", NewTranscribeHandler(opts.Pipeline, cfg.MaxUploadSize).ServeHTTP)
			r.Post("/transliterate", NewTransliterateHandler(opts.Pipeline).ServeHTTP)
			NewSubtitlesHandler(opts.Subtitles, opts.Events).Routes(r)
		})
	})

	base, cancel := context.WithCancel(context.Background())
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			BaseContext:  func(net.Listener) context.Context { return base },
		},
		grace:          cfg.ShutdownGrace,
		log:            opts.Log,
		cancelRequests: cancel,
	}
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server starting")
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and gives in-flight requests the
// configured grace period. Requests still running after that have their
// contexts cancelled, and Shutdown waits for them to return so their
// cleanup completes before the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Dur("grace", s.grace).Msg("http server shutting down")
	defer s.cancelRequests()

	graceCtx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()
	err := s.http.Shutdown(graceCtx)
	if err == nil || ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	s.log.Warn().Msg("grace period over, cancelling in-flight requests")
	s.cancelRequests()
	return s.http.Shutdown(ctx)
}
