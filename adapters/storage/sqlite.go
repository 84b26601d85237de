package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tender-cost/internal/errors"
)

// SQLiteStore persists records in a local sqlite database. Full records
// are kept as JSON payloads; the columns that matter for lookups and
// dashboards (tender id, total value, timestamps) are first-class.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a sqlite store at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=10000")
	if err != nil {
		return nil, errors.Storage("failed to open sqlite database", err)
	}

	// Single writer plus concurrent readers under WAL.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Storage("failed to enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=10000"); err != nil {
		db.Close()
		return nil, errors.Storage("failed to set busy_timeout", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS tender_pricing (
			tender_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			last_updated DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS boq (
			id TEXT PRIMARY KEY,
			tender_id TEXT NOT NULL UNIQUE,
			project_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			total_value REAL NOT NULL DEFAULT 0,
			last_updated DATETIME NOT NULL
		)`,
	}
	for _, t := range tables {
		if _, err := s.db.Exec(t); err != nil {
			return errors.Storage("migration failed", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveTenderPricing(ctx context.Context, record *PricingRecord) error {
	if record.LastUpdated.IsZero() {
		record.LastUpdated = time.Now().UTC()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Storage("failed to marshal pricing record", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tender_pricing (tender_id, payload, last_updated) VALUES (?, ?, ?)
		 ON CONFLICT(tender_id) DO UPDATE SET payload = excluded.payload, last_updated = excluded.last_updated`,
		record.TenderID, string(payload), record.LastUpdated)
	if err != nil {
		return errors.Storage("failed to save pricing record", err)
	}
	return nil
}

func (s *SQLiteStore) GetTenderPricing(ctx context.Context, tenderID string) (*PricingRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM tender_pricing WHERE tender_id = ?`, tenderID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("tender pricing", tenderID)
	}
	if err != nil {
		return nil, errors.Storage("failed to query pricing record", err)
	}

	var record PricingRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, errors.Storage("failed to unmarshal pricing record", err)
	}
	return &record, nil
}

func (s *SQLiteStore) CreateOrUpdateBOQ(ctx context.Context, record *BOQRecord) error {
	if record.ID == "" {
		var existingID string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM boq WHERE tender_id = ?`, record.TenderID).Scan(&existingID)
		if err == nil {
			record.ID = existingID
		}
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.LastUpdated.IsZero() {
		record.LastUpdated = time.Now().UTC()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Storage("failed to marshal BOQ record", err)
	}

	totalValue, _ := record.TotalValue.Float64()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO boq (id, tender_id, project_id, payload, total_value, last_updated) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tender_id) DO UPDATE SET
			payload = excluded.payload,
			project_id = excluded.project_id,
			total_value = excluded.total_value,
			last_updated = excluded.last_updated`,
		record.ID, record.TenderID, record.ProjectID, string(payload), totalValue, record.LastUpdated)
	if err != nil {
		return errors.Storage("failed to save BOQ record", err)
	}
	return nil
}

func (s *SQLiteStore) GetBOQByTenderID(ctx context.Context, tenderID string) (*BOQRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM boq WHERE tender_id = ?`, tenderID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("BOQ", tenderID)
	}
	if err != nil {
		return nil, errors.Storage("failed to query BOQ record", err)
	}

	var record BOQRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, errors.Storage("failed to unmarshal BOQ record", err)
	}
	return &record, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
