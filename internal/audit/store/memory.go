package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"peopleops/internal/audit"
	"peopleops/pkg/domain"
	"peopleops/pkg/platform/sentinel"
)

// InMemory keeps audit entries in a slice. Append-only: nothing is ever
// mutated or removed.
type InMemory struct {
	mu      sync.RWMutex
	entries []*audit.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *InMemory) Get(_ context.Context, id domain.AuditEntryID) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) Query(_ context.Context, q audit.Query) (*audit.Page, error) {
	q.Normalize()

	s.mu.RLock()
	var matched []*audit.Entry
	for _, e := range s.entries {
		if matches(e, q) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (q.Page - 1) * q.Limit
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	return &audit.Page{
		Items: matched[start:end],
		Total: total,
		PageN: q.Page,
		Limit: q.Limit,
	}, nil
}

func matches(e *audit.Entry, q audit.Query) bool {
	if q.Module != "" && e.Module != q.Module {
		return false
	}
	if q.ModelName != "" && e.ModelName != q.ModelName {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.ActionType != "" && e.ActionType != q.ActionType {
		return false
	}
	if q.Q != "" {
		needle := strings.ToLower(q.Q)
		haystacks := []string{e.TargetID, e.DecisionReason, string(e.Module), e.ModelName}
		found := false
		for _, h := range haystacks {
			if strings.Contains(strings.ToLower(h), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
