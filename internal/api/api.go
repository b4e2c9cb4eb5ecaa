// Package api provides HTTP handlers and the main API server logic for VisitPipe.
//
// It exposes RESTful endpoints for driving visit sessions, contract draft
// auto-save, the offline sync queue, OTP verification, and manager
// notifications. The API integrates with the visit, draft, syncqueue, sms,
// and store modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fieldops/VisitPipe/internal/approval"
	"github.com/fieldops/VisitPipe/internal/draft"
	"github.com/fieldops/VisitPipe/internal/sms"
	"github.com/fieldops/VisitPipe/internal/store"
	"github.com/fieldops/VisitPipe/internal/syncqueue"
	"github.com/fieldops/VisitPipe/internal/visit"
)

// DefaultShutdownTimeout bounds graceful HTTP shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr      string
	SaverCfg  draft.Config
	haveSaver bool
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address, e.g. ":8080".
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAutoSaveConfig sets the auto-save tuning used for per-visit savers.
func WithAutoSaveConfig(cfg draft.Config) Option {
	return func(o *Opts) {
		o.SaverCfg = cfg
		o.haveSaver = true
	}
}

// Server hosts the VisitPipe HTTP API. One AutoSaver exists per open visit,
// created lazily on the first draft operation and torn down with the session.
type Server struct {
	addr     string
	registry *visit.Registry
	st       store.Store
	queue    *syncqueue.Queue
	approver *approval.Requester
	otp      *sms.OTPManager
	saverCfg draft.Config

	mu     sync.Mutex
	savers map[string]*draft.AutoSaver
}

// NewServer wires the API server from its collaborators.
func NewServer(registry *visit.Registry, st store.Store, queue *syncqueue.Queue, approver *approval.Requester, otp *sms.OTPManager, opts ...Option) *Server {
	cfg := Opts{Addr: ":8080"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.haveSaver {
		cfg.SaverCfg = draft.DefaultConfig()
	}
	return &Server{
		addr:     cfg.Addr,
		registry: registry,
		st:       st,
		queue:    queue,
		approver: approver,
		otp:      otp,
		saverCfg: cfg.SaverCfg,
		savers:   make(map[string]*draft.AutoSaver),
	}
}

// Routes builds the HTTP mux for the server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /visits/start", s.startVisitHandler)
	mux.HandleFunc("GET /visits/{id}", s.getVisitHandler)
	mux.HandleFunc("POST /visits/{id}/events", s.visitEventHandler)
	mux.HandleFunc("POST /visits/{id}/oor/request", s.oorRequestHandler)
	mux.HandleFunc("POST /visits/{id}/oor/approve", s.oorApproveHandler)
	mux.HandleFunc("POST /visits/{id}/draft", s.saveDraftHandler)
	mux.HandleFunc("GET /visits/{id}/draft", s.getDraftHandler)
	mux.HandleFunc("DELETE /visits/{id}/draft", s.deleteDraftHandler)
	mux.HandleFunc("POST /otp/send", s.otpSendHandler)
	mux.HandleFunc("POST /otp/verify", s.otpVerifyHandler)
	mux.HandleFunc("GET /queue/status", s.queueStatusHandler)
	mux.HandleFunc("POST /queue/sync", s.queueSyncHandler)
	mux.HandleFunc("POST /queue/online", s.queueOnlineHandler)
	mux.HandleFunc("GET /notifications", s.notificationsHandler)
	mux.HandleFunc("POST /notifications/{id}/read", s.notificationReadHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("VisitPipe API running", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("VisitPipe API shutting down")

	s.stopSavers()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API shutdown failed: %w", err)
	}
	return nil
}

// saverFor returns the AutoSaver for a visit, creating it on first use. The
// relational store doubles as the audit sink.
func (s *Server) saverFor(visitID string) *draft.AutoSaver {
	s.mu.Lock()
	defer s.mu.Unlock()
	if saver, ok := s.savers[visitID]; ok {
		return saver
	}
	saver := draft.NewAutoSaver(visitID, s.st, s.st, s.saverCfg)
	s.savers[visitID] = saver
	return saver
}

// dropSaver stops and forgets a visit's AutoSaver.
func (s *Server) dropSaver(visitID string) {
	s.mu.Lock()
	saver, ok := s.savers[visitID]
	delete(s.savers, visitID)
	s.mu.Unlock()
	if ok {
		saver.Stop()
	}
}

func (s *Server) stopSavers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, saver := range s.savers {
		saver.Stop()
		delete(s.savers, id)
	}
}
