// Package draft provides debounced auto-save of in-progress contract drafts.
//
// The AutoSaver accumulates draft data as the agent fills the contract form,
// persists it after a quiet period, skips writes when nothing changed, and
// retries transient failures with linearly increasing backoff. A monotonic
// generation counter guarantees a superseded save attempt can never clobber
// the result of a newer one.
package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/store"
)

// SaveStatus is the user-visible state of the auto-save cycle.
type SaveStatus string

const (
	StatusIdle   SaveStatus = "idle"
	StatusSaving SaveStatus = "saving"
	StatusSaved  SaveStatus = "saved"
	StatusError  SaveStatus = "error"
)

// Default timing constants.
const (
	// DefaultDebounce is the quiet period after the last input change.
	DefaultDebounce = 2 * time.Second
	// DefaultBaseRetryDelay is multiplied by the attempt number for backoff.
	DefaultBaseRetryDelay = time.Second
	// DefaultMaxRetries bounds the save attempts per cycle.
	DefaultMaxRetries = 3
	// DefaultSavedDisplayWindow is how long the "saved" status is shown
	// before reverting to idle.
	DefaultSavedDisplayWindow = 2 * time.Second
	// DefaultSaveTimeout bounds a single save attempt so a hung request
	// cannot stall the retry counter.
	DefaultSaveTimeout = 15 * time.Second
)

// ErrSaveTimeout is recorded when a save attempt exceeds the save timeout.
var ErrSaveTimeout = errors.New("draft save attempt timed out")

// DraftStore is the subset of store operations the AutoSaver needs.
type DraftStore interface {
	CreateDraft(d models.ContractDraft) (string, error)
	UpdateDraft(id string, d models.ContractDraft) error
	GetLatestDraft(visitID string) (*models.ContractDraft, error)
	DeleteDraft(id string) error
}

// AuditSink receives audit entries for successful saves. Sink failures are
// logged and swallowed; they are a side channel, not part of the save contract.
type AuditSink interface {
	AppendAudit(e models.AuditEntry) error
}

// Config holds auto-save tuning parameters.
type Config struct {
	Enabled            bool
	Debounce           time.Duration
	BaseRetryDelay     time.Duration
	MaxRetries         int
	SavedDisplayWindow time.Duration
	SaveTimeout        time.Duration
}

// DefaultConfig returns the reference auto-save configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Debounce:           DefaultDebounce,
		BaseRetryDelay:     DefaultBaseRetryDelay,
		MaxRetries:         DefaultMaxRetries,
		SavedDisplayWindow: DefaultSavedDisplayWindow,
		SaveTimeout:        DefaultSaveTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.SavedDisplayWindow <= 0 {
		c.SavedDisplayWindow = DefaultSavedDisplayWindow
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = DefaultSaveTimeout
	}
}

// AutoSaver persists one visit's contract draft without explicit user action.
// One AutoSaver exists per open visit; its lifetime equals the visit's.
type AutoSaver struct {
	mu sync.Mutex

	cfg   Config
	store DraftStore
	audit AuditSink

	visitID string

	current   models.ContractDraft
	hasData   bool
	draftID   string // server-assigned after the first create
	lastSaved string // serialization of the last successful save

	status      SaveStatus
	lastSavedAt time.Time
	lastErr     error

	// generation increments for every new save intent; completions carrying a
	// stale generation are discarded so an old in-flight request can never
	// overwrite a newer result.
	generation uint64

	debounceTimer *time.Timer
	retryTimer    *time.Timer
	revertTimer   *time.Timer

	onSaved func(models.ContractDraft)
	onError func(error)
}

// NewAutoSaver creates an AutoSaver for the given visit.
func NewAutoSaver(visitID string, st DraftStore, audit AuditSink, cfg Config) *AutoSaver {
	cfg.applyDefaults()
	slog.Debug("Creating AutoSaver", "visitID", visitID, "debounce", cfg.Debounce, "maxRetries", cfg.MaxRetries)
	return &AutoSaver{
		cfg:     cfg,
		store:   st,
		audit:   audit,
		visitID: visitID,
		status:  StatusIdle,
	}
}

// OnSaved registers a callback invoked after each successful save.
func (a *AutoSaver) OnSaved(fn func(models.ContractDraft)) {
	a.mu.Lock()
	a.onSaved = fn
	a.mu.Unlock()
}

// OnError registers a callback invoked after retries are exhausted.
func (a *AutoSaver) OnError(fn func(error)) {
	a.mu.Lock()
	a.onError = fn
	a.mu.Unlock()
}

// Status returns the current save status and the time of the last success.
func (a *AutoSaver) Status() (SaveStatus, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, a.lastSavedAt
}

// LastError returns the error that drove the status to error, if any.
func (a *AutoSaver) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Update records new draft data and (re)starts the debounce timer. Each call
// before the timer fires cancels and replaces it, so the save happens only
// after a quiet period.
func (a *AutoSaver) Update(d models.ContractDraft) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d.VisitID = a.visitID
	a.current = d
	a.hasData = true

	if !a.cfg.Enabled {
		return
	}

	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
	}
	gen := a.nextGenerationLocked()
	a.debounceTimer = time.AfterFunc(a.cfg.Debounce, func() {
		a.save(gen, 1)
	})
	slog.Debug("AutoSaver Update: debounce restarted", "visitID", a.visitID, "debounce", a.cfg.Debounce)
}

// ManualSave cancels any pending debounce and saves immediately, bypassing
// the debounce window. Used for explicit "save and exit". It performs a
// single attempt and returns its error, if any.
func (a *AutoSaver) ManualSave() error {
	a.mu.Lock()
	if !a.hasData {
		a.mu.Unlock()
		return nil
	}
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
		a.debounceTimer = nil
	}
	gen := a.nextGenerationLocked()
	a.mu.Unlock()

	return a.saveOnce(gen)
}

// LoadDraft fetches the most recently updated draft for a visit, for
// crash/session recovery. When found, the AutoSaver adopts the draft's ID so
// subsequent saves update it instead of creating a second draft. Returns
// (nil, nil) when no draft exists.
func (a *AutoSaver) LoadDraft(visitID string) (*models.ContractDraft, error) {
	d, err := a.store.GetLatestDraft(visitID)
	if err != nil {
		slog.Error("AutoSaver LoadDraft failed", "error", err, "visitID", visitID)
		return nil, fmt.Errorf("failed to load draft for visit %s: %w", visitID, err)
	}
	if d == nil {
		slog.Debug("AutoSaver LoadDraft: no draft found", "visitID", visitID)
		return nil, nil
	}

	a.mu.Lock()
	a.draftID = d.ID
	a.current = *d
	a.hasData = true
	a.lastSaved = serializeDraft(*d)
	a.mu.Unlock()

	slog.Info("AutoSaver LoadDraft: resumed draft", "visitID", visitID, "draftID", d.ID, "completion", d.Completion)
	return d, nil
}

// DeleteDraft removes the draft once the visit is finalized and clears local
// tracking so a new draft would be created if editing resumed.
func (a *AutoSaver) DeleteDraft() error {
	a.mu.Lock()
	id := a.draftID
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
		a.debounceTimer = nil
	}
	if a.retryTimer != nil {
		a.retryTimer.Stop()
		a.retryTimer = nil
	}
	// Invalidate any in-flight attempt.
	a.nextGenerationLocked()
	a.draftID = ""
	a.lastSaved = ""
	a.hasData = false
	a.status = StatusIdle
	a.mu.Unlock()

	if id == "" {
		return nil
	}
	if err := a.store.DeleteDraft(id); err != nil {
		slog.Error("AutoSaver DeleteDraft failed", "error", err, "draftID", id)
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	slog.Debug("AutoSaver DeleteDraft succeeded", "visitID", a.visitID, "draftID", id)
	return nil
}

// Stop cancels all pending timers. Further updates are ignored by generation
// checks on their completions.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextGenerationLocked()
	for _, t := range []*time.Timer{a.debounceTimer, a.retryTimer, a.revertTimer} {
		if t != nil {
			t.Stop()
		}
	}
	a.debounceTimer, a.retryTimer, a.revertTimer = nil, nil, nil
}

// nextGenerationLocked bumps and returns the save generation. Callers must
// hold the mutex.
func (a *AutoSaver) nextGenerationLocked() uint64 {
	a.generation++
	return a.generation
}

// save runs one attempt of a debounced save cycle. attempt is 1-based.
func (a *AutoSaver) save(gen uint64, attempt int) {
	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		slog.Debug("AutoSaver save: superseded, skipping", "visitID", a.visitID)
		return
	}
	serialized := serializeDraft(a.current)
	if serialized == a.lastSaved {
		a.mu.Unlock()
		slog.Debug("AutoSaver save: data unchanged, skipping write", "visitID", a.visitID)
		return
	}
	a.status = StatusSaving
	d := a.current
	draftID := a.draftID
	a.mu.Unlock()

	err := a.persist(draftID, d)

	a.mu.Lock()
	if gen != a.generation {
		// A newer save intent superseded this attempt while it was in
		// flight; discard its outcome entirely.
		a.mu.Unlock()
		slog.Debug("AutoSaver save: stale completion discarded", "visitID", a.visitID)
		return
	}
	if err == nil {
		a.completeLocked(serialized, d)
		a.mu.Unlock()
		return
	}

	slog.Warn("AutoSaver save attempt failed", "visitID", a.visitID, "attempt", attempt, "error", err)
	if attempt < a.cfg.MaxRetries {
		delay := time.Duration(attempt) * a.cfg.BaseRetryDelay
		a.retryTimer = time.AfterFunc(delay, func() {
			a.save(gen, attempt+1)
		})
		a.mu.Unlock()
		return
	}

	a.status = StatusError
	a.lastErr = err
	onError := a.onError
	a.mu.Unlock()

	slog.Error("AutoSaver save failed after retries", "visitID", a.visitID, "attempts", attempt, "error", err)
	if onError != nil {
		onError(err)
	}
}

// saveOnce performs a single immediate attempt (manual save path).
func (a *AutoSaver) saveOnce(gen uint64) error {
	a.mu.Lock()
	serialized := serializeDraft(a.current)
	if serialized == a.lastSaved {
		a.mu.Unlock()
		slog.Debug("AutoSaver ManualSave: data unchanged, skipping write", "visitID", a.visitID)
		return nil
	}
	a.status = StatusSaving
	d := a.current
	draftID := a.draftID
	a.mu.Unlock()

	err := a.persist(draftID, d)

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.generation {
		return err
	}
	if err != nil {
		a.status = StatusError
		a.lastErr = err
		return err
	}
	a.completeLocked(serialized, d)
	return nil
}

// persist performs the create-or-update against the store, bounded by the
// save timeout. On the first successful create the server-assigned draft ID
// is captured for future updates.
func (a *AutoSaver) persist(draftID string, d models.ContractDraft) error {
	type outcome struct {
		id  string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		if draftID == "" {
			id, err := a.store.CreateDraft(d)
			done <- outcome{id: id, err: err}
			return
		}
		err := a.store.UpdateDraft(draftID, d)
		if errors.Is(err, store.ErrNotFound) {
			// The draft vanished server-side (e.g. purged); recreate it.
			slog.Warn("AutoSaver persist: draft missing on update, recreating", "visitID", a.visitID, "draftID", draftID)
			id, cerr := a.store.CreateDraft(d)
			done <- outcome{id: id, err: cerr}
			return
		}
		done <- outcome{id: draftID, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return out.err
		}
		a.mu.Lock()
		a.draftID = out.id
		a.mu.Unlock()
		return nil
	case <-time.After(a.cfg.SaveTimeout):
		return ErrSaveTimeout
	}
}

// completeLocked records a successful save. Callers must hold the mutex.
func (a *AutoSaver) completeLocked(serialized string, d models.ContractDraft) {
	a.lastSaved = serialized
	a.status = StatusSaved
	a.lastSavedAt = time.Now()
	a.lastErr = nil
	onSaved := a.onSaved

	if a.revertTimer != nil {
		a.revertTimer.Stop()
	}
	a.revertTimer = time.AfterFunc(a.cfg.SavedDisplayWindow, func() {
		a.mu.Lock()
		if a.status == StatusSaved {
			a.status = StatusIdle
		}
		a.mu.Unlock()
	})

	slog.Debug("AutoSaver save succeeded", "visitID", a.visitID, "draftID", a.draftID, "completion", d.ComputeCompletion())

	a.appendAudit(d)
	if onSaved != nil {
		go onSaved(d)
	}
}

// appendAudit writes the save side-channel audit entry. Failures are logged,
// never surfaced.
func (a *AutoSaver) appendAudit(d models.ContractDraft) {
	if a.audit == nil {
		return
	}
	entry := models.AuditEntry{
		VisitID:     a.visitID,
		SalesRepID:  d.SalesRepID,
		Action:      "draft_autosave",
		Description: fmt.Sprintf("contract draft saved at stage %s", d.DeriveStage()),
		Completion:  d.ComputeCompletion(),
		CreatedAt:   time.Now(),
	}
	if err := a.audit.AppendAudit(entry); err != nil {
		slog.Warn("AutoSaver audit append failed", "visitID", a.visitID, "error", err)
	}
}

// serializeDraft produces the canonical comparison form of a draft's data
// fields. Volatile fields (ID, timestamps, derived values) are excluded so
// only genuine data changes trigger a write.
func serializeDraft(d models.ContractDraft) string {
	d.ID = ""
	d.Completion = 0
	d.CurrentStage = ""
	d.CreatedAt = time.Time{}
	d.UpdatedAt = time.Time{}
	b, err := json.Marshal(d)
	if err != nil {
		// Marshal of a plain struct cannot realistically fail; fall back to a
		// non-matching value so the save proceeds.
		return fmt.Sprintf("unserializable:%v", err)
	}
	return string(b)
}
