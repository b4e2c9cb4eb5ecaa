// Package visit provides the in-memory registry of active sessions.
package visit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/region"
)

// Registry tracks active visit sessions by visit ID. Sessions exist only in
// memory until finalized; finalized sessions are removed by the caller after
// the visit record has been handed to persistence.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	checker  region.Checker
}

// NewRegistry creates an empty session registry using the given region checker.
func NewRegistry(checker region.Checker) *Registry {
	slog.Debug("Creating visit session registry")
	return &Registry{
		sessions: make(map[string]*Session),
		checker:  checker,
	}
}

// StartVisit creates a new session for the rep, dispatches START_VISIT, and
// indexes it by the assigned visit ID.
func (r *Registry) StartVisit(ctx context.Context, salesRepID string) (*Session, error) {
	if salesRepID == "" {
		return nil, models.ErrEmptySalesRepID
	}

	s := NewSession(salesRepID, r.checker)
	if !s.Dispatch(ctx, models.EventStartVisit, EventPayload{}) {
		return nil, fmt.Errorf("failed to start visit for rep %s", salesRepID)
	}

	r.mu.Lock()
	r.sessions[s.VisitID()] = s
	r.mu.Unlock()

	slog.Info("Registry started visit", "visitID", s.VisitID(), "salesRepID", salesRepID)
	return s, nil
}

// Get returns the session for a visit ID, or nil when not found.
func (r *Registry) Get(visitID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[visitID]
}

// Remove drops a session from the registry, e.g. after finalization.
func (r *Registry) Remove(visitID string) {
	r.mu.Lock()
	delete(r.sessions, visitID)
	r.mu.Unlock()
	slog.Debug("Registry removed session", "visitID", visitID)
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
