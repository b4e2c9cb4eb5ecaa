// Package syncqueue provides the offline operation queue and its local
// durable mirror.
package syncqueue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/fieldops/VisitPipe/internal/models"
)

// LocalStore is the durable key-value mirror of the in-memory queue. Records
// are keyed by operation ID and upserted/deleted individually, so the mirror
// never needs a whole-collection rewrite.
type LocalStore interface {
	// Put inserts or replaces an operation record.
	Put(op models.QueuedOperation) error
	// Delete removes an operation record by ID.
	Delete(id string) error
	// GetAll returns every stored operation in insertion order.
	GetAll() ([]models.QueuedOperation, error)
	Close() error
}

// BadgerStore implements LocalStore on a badger database.
type BadgerStore struct {
	db *badger.DB
}

// Compile-time check that BadgerStore implements LocalStore.
var _ LocalStore = (*BadgerStore)(nil)

// NewBadgerStore opens (creating if necessary) a badger database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty; slog covers our needs
	db, err := badger.Open(opts)
	if err != nil {
		slog.Error("Failed to open badger queue store", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to open local queue store: %w", err)
	}
	slog.Debug("BadgerStore opened", "dir", dir)
	return &BadgerStore{db: db}, nil
}

// Put inserts or replaces an operation record.
func (s *BadgerStore) Put(op models.QueuedOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal queued operation %s: %w", op.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(op.ID), data)
	})
	if err != nil {
		slog.Error("BadgerStore Put failed", "error", err, "id", op.ID)
		return fmt.Errorf("failed to persist queued operation %s: %w", op.ID, err)
	}
	slog.Debug("BadgerStore Put succeeded", "id", op.ID, "kind", op.Kind)
	return nil
}

// Delete removes an operation record by ID.
func (s *BadgerStore) Delete(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(id))
	})
	if err != nil {
		slog.Error("BadgerStore Delete failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete queued operation %s: %w", id, err)
	}
	return nil
}

// GetAll returns every stored operation, ordered by insertion sequence.
func (s *BadgerStore) GetAll() ([]models.QueuedOperation, error) {
	var ops []models.QueuedOperation
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var op models.QueuedOperation
				if err := json.Unmarshal(val, &op); err != nil {
					slog.Error("BadgerStore GetAll unmarshal failed", "error", err, "key", string(item.Key()))
					// Skip corrupt records rather than failing rehydration
					return nil
				}
				ops = append(ops, op)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("BadgerStore GetAll failed", "error", err)
		return nil, fmt.Errorf("failed to read queued operations: %w", err)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Seq < ops[j].Seq })
	slog.Debug("BadgerStore GetAll succeeded", "count", len(ops))
	return ops, nil
}

// Close closes the badger database.
func (s *BadgerStore) Close() error {
	slog.Debug("Closing badger queue store")
	return s.db.Close()
}

// MemoryStore is an in-memory LocalStore for tests.
type MemoryStore struct {
	mu  sync.Mutex
	ops map[string]models.QueuedOperation
}

// Compile-time check that MemoryStore implements LocalStore.
var _ LocalStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory queue mirror.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: make(map[string]models.QueuedOperation)}
}

func (s *MemoryStore) Put(op models.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = op
	return nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

func (s *MemoryStore) GetAll() ([]models.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]models.QueuedOperation, 0, len(s.ops))
	for _, op := range s.ops {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Seq < ops[j].Seq })
	return ops, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
