// Package engine provides the tender pricing service: the explicit,
// host-constructed instance that wires stores, coordinators,
// repositories, events and audit together. CLI and any other surface
// are thin wrappers around it.
package engine

import (
	"context"

	"go.uber.org/zap"

	"tender-cost/adapters/storage"
	"tender-cost/audit"
	"tender-cost/core/events"
	"tender-cost/core/model"
	"tender-cost/core/persist"
	"tender-cost/core/state"
	"tender-cost/internal/errors"
	"tender-cost/internal/logging"
)

// Service owns one pricing session per open tender. It is constructed
// once at startup and handed to whoever hosts the engine; nothing in
// this package self-registers globally.
type Service struct {
	store      storage.Store
	dispatcher *events.Dispatcher
	sink       audit.Sink
	opts       persist.Options

	sessions map[string]*Session
}

// Session is the live pricing state of one open tender
type Session struct {
	Store       *state.Store
	Coordinator *persist.Coordinator
}

// NewService creates the pricing service. The dispatcher and sink may
// be nil (events and audit then degrade to no-ops).
func NewService(store storage.Store, dispatcher *events.Dispatcher, sink audit.Sink, opts persist.Options) *Service {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		sink:       sink,
		opts:       opts,
		sessions:   make(map[string]*Session),
	}
}

// Open returns the session for a tender, creating it on first use.
// A freshly created session is warm-loaded from the pricing repository
// when a persisted snapshot exists.
func (s *Service) Open(ctx context.Context, tenderID, projectID string, items []model.QuantityItem, defaults model.PercentageSet) (*Session, error) {
	if sess, ok := s.sessions[tenderID]; ok {
		return sess, nil
	}

	st := state.New(tenderID, projectID, items, defaults, s.sink)
	if err := s.warmLoad(ctx, tenderID, st); err != nil {
		return nil, err
	}

	coord := persist.New(s.store, s.dispatcher, s.sink, s.opts)
	coord.SetOnPersisted(st.ClearDirty)
	st.SetOnMutate(func() {
		coord.Mutated(st.Snapshot())
	})

	sess := &Session{Store: st, Coordinator: coord}
	s.sessions[tenderID] = sess
	return sess, nil
}

// Refresh re-reads the persisted pricing snapshot into an open
// session's store, discarding unpersisted edits
func (s *Service) Refresh(ctx context.Context, tenderID string) error {
	sess, ok := s.sessions[tenderID]
	if !ok {
		return errors.NotFound("tender session", tenderID)
	}
	return s.warmLoad(ctx, tenderID, sess.Store)
}

// Invalidate drops a tender session without persisting
func (s *Service) Invalidate(tenderID string) {
	sess, ok := s.sessions[tenderID]
	if !ok {
		return
	}
	sess.Coordinator.Stop()
	delete(s.sessions, tenderID)
}

// Flush persists every open session's outstanding state synchronously.
// The dirty flag clears through the coordinator's persisted callback.
func (s *Service) Flush() error {
	var firstErr error
	for id, sess := range s.sessions {
		if err := sess.Coordinator.Flush(); err != nil {
			logging.Error("flush failed",
				zap.String("tender_id", id),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close flushes and stops all sessions, then closes the store
func (s *Service) Close() error {
	err := s.Flush()
	for _, sess := range s.sessions {
		sess.Coordinator.Stop()
	}
	s.sessions = make(map[string]*Session)
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Service) warmLoad(ctx context.Context, tenderID string, st *state.Store) error {
	record, err := s.store.GetTenderPricing(ctx, tenderID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return err
	}

	st.Load(record.Pricing, record.DefaultPercentages)
	s.sink.Record(audit.Event{
		Category: audit.CategoryTenderPricing,
		Action:   audit.ActionWarmup,
		Key:      tenderID,
		Level:    audit.LevelInfo,
		Status:   audit.StatusOK,
		Metadata: map[string]interface{}{
			"items_loaded": len(record.Pricing),
		},
	})
	return nil
}
