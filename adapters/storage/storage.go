// Package storage provides the persistence backends for tender pricing
// snapshots and BOQ rollups. Supported backends: memory, file, sqlite.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tender-cost/core/model"
	"tender-cost/internal/errors"
)

// Backend is a storage backend type
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

// PricingRecord is the persisted raw pricing state of one tender
type PricingRecord struct {
	TenderID           string                        `json:"tender_id"`
	Pricing            map[string]*model.PricingData `json:"pricing"`
	DefaultPercentages model.PercentageSet           `json:"default_percentages"`
	LastUpdated        time.Time                     `json:"last_updated"`
}

// BOQRecord is the persisted BOQ rollup of one tender
type BOQRecord struct {
	ID          string          `json:"id"`
	TenderID    string          `json:"tender_id"`
	ProjectID   string          `json:"project_id,omitempty"`
	Items       []model.BOQItem `json:"items"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Totals      model.BOQTotals `json:"totals"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Store combines the pricing and BOQ repositories
type Store interface {
	// SaveTenderPricing persists the raw per-item pricing map plus the
	// tender defaults
	SaveTenderPricing(ctx context.Context, record *PricingRecord) error

	// GetTenderPricing retrieves a tender's pricing state; a missing
	// tender is a NOT_FOUND error
	GetTenderPricing(ctx context.Context, tenderID string) (*PricingRecord, error)

	// CreateOrUpdateBOQ upserts the BOQ rollup, assigning an id on
	// first create
	CreateOrUpdateBOQ(ctx context.Context, record *BOQRecord) error

	// GetBOQByTenderID retrieves the rollup; a missing tender is a
	// NOT_FOUND error
	GetBOQByTenderID(ctx context.Context, tenderID string) (*BOQRecord, error)

	// Close closes the store
	Close() error
}

// Factory creates stores by backend type
func Factory(backend Backend, config map[string]string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		path := config["path"]
		if path == "" {
			path = ".tender-cost"
		}
		return NewFileStore(path)
	case BackendSQLite:
		path := config["path"]
		if path == "" {
			path = "tender-cost.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, errors.Newf(errors.TypeConfig, "unsupported storage backend: %s", backend)
	}
}

// IsNotFound reports whether an error is a missing-record error
func IsNotFound(err error) bool {
	return errors.IsType(err, errors.TypeNotFound)
}
