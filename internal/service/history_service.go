package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/crypto-temple/internal/errors"
	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/storage"
	"github.com/crypto-temple/internal/types"
)

// HistoryService appends and updates divination records. Every mutation
// is a load-modify-save of the whole collection under one mutex, so
// writers inside this process never lose each other's updates. Writers in
// other processes sharing the same document can still race.
type HistoryService struct {
	store  storage.HistoryStore
	now    func() time.Time
	logger *logging.Logger

	mu sync.Mutex
}

// NewHistoryService creates a history service. now may be nil.
func NewHistoryService(store storage.HistoryStore, now func() time.Time) *HistoryService {
	if now == nil {
		now = time.Now
	}
	return &HistoryService{
		store:  store,
		now:    now,
		logger: logging.WithComponent("history"),
	}
}

// Record appends a new, not yet notified record and returns it. The id is
// the creation time in unix milliseconds, bumped when two records land in
// the same millisecond.
func (s *HistoryService) Record(ctx context.Context, project types.ProjectInfo, result types.DivinationResult) (*types.HistoryRecord, error) {
	var created types.HistoryRecord
	err := s.Update(ctx, func(records []types.HistoryRecord) ([]types.HistoryRecord, bool) {
		taken := make(map[string]struct{}, len(records))
		for _, r := range records {
			taken[r.ID] = struct{}{}
		}
		ts := s.now().UnixMilli()
		for {
			if _, ok := taken[strconv.FormatInt(ts, 10)]; !ok {
				break
			}
			ts++
		}
		created = types.HistoryRecord{
			ID:        strconv.FormatInt(ts, 10),
			Timestamp: ts,
			Project:   project,
			Result:    result,
		}
		return append(records, created), true
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"id":      created.ID,
		"project": project.Name,
	}).Info("History record saved")
	return &created, nil
}

// List returns every record in insertion order
func (s *HistoryService) List(ctx context.Context) ([]types.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.store.Load(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("load history", err)
	}
	return records, nil
}

// Get returns a single record
func (s *HistoryService) Get(ctx context.Context, id string) (*types.HistoryRecord, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, apperrors.NewNotFoundError("history record", id)
}

// Feedback stores the user's verdict on a record
func (s *HistoryService) Feedback(ctx context.Context, id string, verdict types.Feedback) (*types.HistoryRecord, error) {
	if !verdict.IsValid() {
		return nil, apperrors.NewInvalidParameterError("verdict", "must be accurate or inaccurate")
	}

	var updated *types.HistoryRecord
	err := s.Update(ctx, func(records []types.HistoryRecord) ([]types.HistoryRecord, bool) {
		for i := range records {
			if records[i].ID == id {
				records[i].Feedback = verdict
				r := records[i]
				updated = &r
				return records, true
			}
		}
		return records, false
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperrors.NewNotFoundError("history record", id)
	}
	return updated, nil
}

// Update loads the collection, applies fn and saves the result when fn
// reports a change.
func (s *HistoryService) Update(ctx context.Context, fn func([]types.HistoryRecord) ([]types.HistoryRecord, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.store.Load(ctx)
	if err != nil {
		return apperrors.NewStorageError("load history", err)
	}

	records, changed := fn(records)
	if !changed {
		return nil
	}
	if err := s.store.Save(ctx, records); err != nil {
		return apperrors.NewStorageError("save history", err)
	}
	return nil
}
