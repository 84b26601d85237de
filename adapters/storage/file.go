package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"tender-cost/internal/errors"
)

// FileStore is a file-based storage backend. Each tender gets its own
// directory with pricing.json and boq.json.
type FileStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileStore creates a file store rooted at basePath
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.Storage("failed to create storage directory", err)
	}
	return &FileStore{basePath: basePath}, nil
}

func (s *FileStore) SaveTenderPricing(ctx context.Context, record *PricingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.LastUpdated.IsZero() {
		record.LastUpdated = time.Now().UTC()
	}
	return s.write(record.TenderID, "pricing.json", record)
}

func (s *FileStore) GetTenderPricing(ctx context.Context, tenderID string) (*PricingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record PricingRecord
	if err := s.read(tenderID, "pricing.json", &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *FileStore) CreateOrUpdateBOQ(ctx context.Context, record *BOQRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		var existing BOQRecord
		if err := s.read(record.TenderID, "boq.json", &existing); err == nil {
			record.ID = existing.ID
		}
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.LastUpdated.IsZero() {
		record.LastUpdated = time.Now().UTC()
	}
	return s.write(record.TenderID, "boq.json", record)
}

func (s *FileStore) GetBOQByTenderID(ctx context.Context, tenderID string) (*BOQRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record BOQRecord
	if err := s.read(tenderID, "boq.json", &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) write(tenderID, name string, v interface{}) error {
	dir := filepath.Join(s.basePath, tenderID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Storage("failed to create tender directory", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Storage("failed to marshal record", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return errors.Storage("failed to write record", err)
	}
	return nil
}

func (s *FileStore) read(tenderID, name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.basePath, tenderID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound("tender record", tenderID)
		}
		return errors.Storage("failed to read record", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Storage("failed to unmarshal record", err)
	}
	return nil
}
