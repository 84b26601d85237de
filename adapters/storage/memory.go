package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"tender-cost/internal/errors"
)

// MemoryStore is an in-memory storage backend (for testing and
// ephemeral sessions). Records are copied through JSON on the way in
// and out so callers never alias stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	pricing map[string][]byte
	boq     map[string][]byte
}

// NewMemoryStore creates a memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pricing: make(map[string][]byte),
		boq:     make(map[string][]byte),
	}
}

func (s *MemoryStore) SaveTenderPricing(ctx context.Context, record *PricingRecord) error {
	if record.LastUpdated.IsZero() {
		record.LastUpdated = time.Now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Storage("failed to marshal pricing record", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricing[record.TenderID] = data
	return nil
}

func (s *MemoryStore) GetTenderPricing(ctx context.Context, tenderID string) (*PricingRecord, error) {
	s.mu.RLock()
	data, ok := s.pricing[tenderID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("tender pricing", tenderID)
	}

	var record PricingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Storage("failed to unmarshal pricing record", err)
	}
	return &record, nil
}

func (s *MemoryStore) CreateOrUpdateBOQ(ctx context.Context, record *BOQRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		if prev, ok := s.boq[record.TenderID]; ok {
			var existing BOQRecord
			if err := json.Unmarshal(prev, &existing); err == nil {
				record.ID = existing.ID
			}
		}
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.LastUpdated.IsZero() {
		record.LastUpdated = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return errors.Storage("failed to marshal BOQ record", err)
	}
	s.boq[record.TenderID] = data
	return nil
}

func (s *MemoryStore) GetBOQByTenderID(ctx context.Context, tenderID string) (*BOQRecord, error) {
	s.mu.RLock()
	data, ok := s.boq[tenderID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("BOQ", tenderID)
	}

	var record BOQRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Storage("failed to unmarshal BOQ record", err)
	}
	return &record, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
