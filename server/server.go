package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/clinote/internal/profile"
	"github.com/hrygo/clinote/plugin/ai/preprocess"
	serverai "github.com/hrygo/clinote/server/ai"
	"github.com/hrygo/clinote/server/internal/observability"
	"github.com/hrygo/clinote/server/middleware"
	apiv1 "github.com/hrygo/clinote/server/router/api/v1"
	"github.com/hrygo/clinote/server/runner/embedding"
	notesvc "github.com/hrygo/clinote/server/service/note"
	"github.com/hrygo/clinote/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Metrics *observability.Metrics
	AI      *serverai.Provider

	echoServer        *echo.Echo
	embeddingRunner   *embedding.Runner
	runnerCancelFuncs []context.CancelFunc
}

// NewServer wires the API. With AI disabled only note reads and health endpoints work.
func NewServer(_ context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Profile: profile,
		Store:   store,
		Metrics: observability.NewMetrics(),
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(echomiddleware.Recover())
	echoServer.Use(middleware.RequestContext(slog.Default(), s.Metrics))
	echoServer.Use(middleware.NewRateLimiter(profile.RateLimitRPS, profile.RateLimitBurst).Middleware())
	s.echoServer = echoServer

	provider, err := serverai.NewProvider(profile, store, s.Metrics)
	switch {
	case errors.Is(err, serverai.ErrDisabled):
		slog.Warn("AI is disabled; note generation and queries are unavailable")
	case err != nil:
		return nil, err
	default:
		s.AI = provider
	}

	var noteService *notesvc.Service
	var queryEngine apiv1.QueryEngine
	if s.AI != nil {
		noteService = notesvc.NewService(store, s.AI.Controller, s.AI.NoteEmbedder,
			notesvc.WithMasker(preprocess.PatternMasker{}),
			notesvc.WithEmbeddingRecorder(s.Metrics),
		)
		queryEngine = s.AI.Engine
		s.embeddingRunner = embedding.NewRunner(store, s.AI.NoteEmbedder)
		s.embeddingRunner.SetRecorder(s.Metrics)
	} else {
		noteService = notesvc.NewService(store, nil, nil)
	}

	apiv1.NewAPIV1Service(profile, noteService, queryEngine, s.Metrics).Register(echoServer)
	return s, nil
}

// Handler exposes the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.echoServer.Listener = listener

	s.StartBackgroundRunners(ctx)

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	for _, cancelFunc := range s.runnerCancelFuncs {
		if cancelFunc != nil {
			cancelFunc()
		}
	}

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("server stopped properly")
}

func (s *Server) StartBackgroundRunners(ctx context.Context) {
	if s.embeddingRunner == nil {
		return
	}
	runnerCtx, cancel := context.WithCancel(ctx)
	s.runnerCancelFuncs = append(s.runnerCancelFuncs, cancel)

	go func() {
		s.embeddingRunner.Run(runnerCtx)
	}()
	slog.Info("embedding runner started")
}
