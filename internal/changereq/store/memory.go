package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"peopleops/internal/changereq/models"
	"peopleops/pkg/domain"
	"peopleops/pkg/platform/sentinel"
)

// InMemory keeps change requests in a map. Used by unit tests and dev mode;
// semantics mirror the Postgres store, including the conditional transition.
type InMemory struct {
	mu       sync.RWMutex
	requests map[domain.ChangeRequestID]*models.ChangeRequest
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[domain.ChangeRequestID]*models.ChangeRequest)}
}

func (s *InMemory) Create(_ context.Context, cr *models.ChangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[cr.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *cr
	s.requests[cr.ID] = &cp
	return nil
}

func (s *InMemory) Get(_ context.Context, id domain.ChangeRequestID) (*models.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cr, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *cr
	return &cp, nil
}

func (s *InMemory) ListPending(_ context.Context) ([]*models.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ChangeRequest
	for _, cr := range s.requests {
		if cr.Status == models.StatusPending {
			cp := *cr
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemory) ListByRequester(_ context.Context, requestedBy string) ([]*models.ChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ChangeRequest
	for _, cr := range s.requests {
		if cr.RequestedBy == requestedBy {
			cp := *cr
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// TryTransition is the sole mutation point for status. It succeeds only when
// the stored status still equals from; a false return means another decision
// already won the race.
func (s *InMemory) TryTransition(_ context.Context, id domain.ChangeRequestID, from, to models.Status, reviewedBy string, reviewedAt time.Time, decisionReason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cr, ok := s.requests[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if cr.Status != from {
		return false, nil
	}
	cr.Status = to
	cr.ReviewedBy = reviewedBy
	t := reviewedAt
	cr.ReviewedAt = &t
	cr.DecisionReason = decisionReason
	cr.UpdatedAt = reviewedAt
	return true, nil
}

func sortNewestFirst(list []*models.ChangeRequest) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
