// Package store provides an in-memory Store implementation for tests.
package store

import (
	"sync"
	"time"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/util"
)

// InMemoryStore is a simple in-memory store used by tests and single-process
// development setups.
type InMemoryStore struct {
	mu            sync.RWMutex
	drafts        map[string]models.ContractDraft
	visits        map[string]models.VisitRecord
	reps          map[string]models.SalesRep
	notifications map[string]models.Notification
	audit         []models.AuditEntry
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		drafts:        make(map[string]models.ContractDraft),
		visits:        make(map[string]models.VisitRecord),
		reps:          make(map[string]models.SalesRep),
		notifications: make(map[string]models.Notification),
	}
}

func (s *InMemoryStore) CreateDraft(d models.ContractDraft) (string, error) {
	if d.VisitID == "" {
		return "", models.ErrEmptyVisitID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = util.GenerateDraftID()
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.Refresh(now)
	s.drafts[d.ID] = d
	return d.ID, nil
}

func (s *InMemoryStore) UpdateDraft(id string, d models.ContractDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.drafts[id]
	if !ok {
		return ErrNotFound
	}
	d.ID = id
	d.VisitID = existing.VisitID
	d.CreatedAt = existing.CreatedAt
	d.Refresh(time.Now())
	s.drafts[id] = d
	return nil
}

func (s *InMemoryStore) GetLatestDraft(visitID string) (*models.ContractDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.ContractDraft
	for id := range s.drafts {
		d := s.drafts[id]
		if d.VisitID != visitID {
			continue
		}
		if latest == nil || d.UpdatedAt.After(latest.UpdatedAt) {
			copied := d
			latest = &copied
		}
	}
	return latest, nil
}

func (s *InMemoryStore) DeleteDraft(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
	return nil
}

func (s *InMemoryStore) DeleteDraftsByVisit(visitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.drafts {
		if d.VisitID == visitID {
			delete(s.drafts, id)
		}
	}
	return nil
}

func (s *InMemoryStore) PurgeDraftsBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, d := range s.drafts {
		if d.UpdatedAt.Before(cutoff) {
			delete(s.drafts, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) SaveVisit(v models.VisitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[v.VisitID] = v
	return nil
}

func (s *InMemoryStore) GetVisit(visitID string) (*models.VisitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visits[visitID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *InMemoryStore) ListVisitsByRep(salesRepID string) ([]models.VisitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var visits []models.VisitRecord
	for _, v := range s.visits {
		if v.SalesRepID == salesRepID {
			visits = append(visits, v)
		}
	}
	return visits, nil
}

func (s *InMemoryStore) SaveSalesRep(rep models.SalesRep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reps[rep.ID] = rep
	return nil
}

func (s *InMemoryStore) GetSalesRep(id string) (*models.SalesRep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.reps[id]
	if !ok {
		return nil, nil
	}
	return &rep, nil
}

func (s *InMemoryStore) CreateNotification(n models.Notification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = util.GenerateRandomID("n_", 32)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Status == "" {
		n.Status = models.NotificationStatusUnread
	}
	s.notifications[n.ID] = n
	return n.ID, nil
}

func (s *InMemoryStore) ListUnreadNotifications(recipientID string) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && n.Status == models.NotificationStatusUnread {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkNotificationRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = models.NotificationStatusRead
	s.notifications[id] = n
	return nil
}

func (s *InMemoryStore) AppendAudit(e models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = util.GenerateAuditID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *InMemoryStore) ListAuditByVisit(visitID string) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []models.AuditEntry
	for _, e := range s.audit {
		if e.VisitID == visitID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
