package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexreach/tierbilling/internal/models"
)

// MemoryStore keeps the ledger in process memory. Used for local runs
// without a database and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.SubscriptionLedger
	events  map[string]string
	locks   *keyedMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]models.SubscriptionLedger),
		events:  make(map[string]string),
		locks:   newKeyedMutex(),
	}
}

func (s *MemoryStore) Get(ctx context.Context, externalSubscriptionID string) (*models.SubscriptionLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[externalSubscriptionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *MemoryStore) Create(ctx context.Context, entry *models.SubscriptionLedger) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ExternalSubscriptionID]; ok {
		return false, nil
	}
	now := time.Now()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	s.entries[entry.ExternalSubscriptionID] = *entry
	return true, nil
}

func (s *MemoryStore) Update(ctx context.Context, entry *models.SubscriptionLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[entry.ExternalSubscriptionID]
	if !ok {
		return ErrNotFound
	}
	entry.CreatedAt = existing.CreatedAt
	entry.UpdatedAt = time.Now()
	s.entries[entry.ExternalSubscriptionID] = *entry
	return nil
}

func (s *MemoryStore) RecordPayment(ctx context.Context, externalSubscriptionID string, status models.PaymentStatus, amount int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[externalSubscriptionID]
	if !ok {
		return ErrNotFound
	}
	entry.LastPaymentStatus = &status
	entry.LastPaymentAmount = &amount
	entry.LastPaymentDate = &at
	entry.UpdatedAt = time.Now()
	s.entries[externalSubscriptionID] = entry
	return nil
}

func (s *MemoryStore) WithSubscriptionLock(ctx context.Context, externalSubscriptionID string, fn func(ctx context.Context, tx Store) error) error {
	unlock := s.locks.Lock(externalSubscriptionID)
	defer unlock()
	return fn(ctx, s)
}

func (s *MemoryStore) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *MemoryStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventID] = eventType
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
