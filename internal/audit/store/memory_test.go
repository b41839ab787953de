package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"peopleops/internal/audit"
	"peopleops/internal/changereq/models"
	"peopleops/pkg/domain"
	"peopleops/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) newEntry(module models.Module, createdAt time.Time) *audit.Entry {
	return &audit.Entry{
		ID:              domain.NewAuditEntryID(),
		Action:          audit.ActionChangeRequestApproved,
		ActorID:         "U1",
		ActorRole:       models.RoleHR,
		Module:          module,
		ModelName:       "Employee",
		ActionType:      models.ActionUpdate,
		TargetID:        "E1",
		ChangeRequestID: domain.NewChangeRequestID(),
		After:           models.Document{"firstName": "Jane"},
		ApprovedBy:      "U2",
		ApprovedAt:      createdAt,
		CreatedAt:       createdAt,
	}
}

func (s *MemoryStoreSuite) TestAppendAndGet() {
	entry := s.newEntry(models.ModulePIM, time.Now())
	s.Require().NoError(s.store.Append(s.ctx, entry))

	found, err := s.store.Get(s.ctx, entry.ID)
	s.Require().NoError(err)
	s.Equal(entry.ChangeRequestID, found.ChangeRequestID)

	_, err = s.store.Get(s.ctx, domain.NewAuditEntryID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestQueryFiltering() {
	base := time.Now()
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.store.Append(s.ctx, s.newEntry(models.ModulePIM, base.Add(time.Duration(i)*time.Minute))))
	}
	for i := 0; i < 2; i++ {
		s.Require().NoError(s.store.Append(s.ctx, s.newEntry(models.ModuleLeave, base.Add(time.Duration(i)*time.Second))))
	}

	s.Run("module filter returns exactly the matching subset", func() {
		page, err := s.store.Query(s.ctx, audit.Query{Module: models.ModulePIM})
		s.Require().NoError(err)
		s.Equal(3, page.Total)
		s.Len(page.Items, 3)
		for _, e := range page.Items {
			s.Equal(models.ModulePIM, e.Module)
		}
	})

	s.Run("results are newest first", func() {
		page, err := s.store.Query(s.ctx, audit.Query{})
		s.Require().NoError(err)
		s.Require().Len(page.Items, 5)
		for i := 1; i < len(page.Items); i++ {
			s.False(page.Items[i].CreatedAt.After(page.Items[i-1].CreatedAt))
		}
	})

	s.Run("actionType filter", func() {
		deleted := s.newEntry(models.ModulePIM, base)
		deleted.ActionType = models.ActionDelete
		s.Require().NoError(s.store.Append(s.ctx, deleted))

		page, err := s.store.Query(s.ctx, audit.Query{ActionType: models.ActionDelete})
		s.Require().NoError(err)
		s.Equal(1, page.Total)
	})
}

func (s *MemoryStoreSuite) TestQuerySubstring() {
	now := time.Now()
	e1 := s.newEntry(models.ModulePIM, now)
	e1.TargetID = "EMP-1042"
	e2 := s.newEntry(models.ModuleLeave, now)
	e2.DecisionReason = "Duplicate submission"
	s.Require().NoError(s.store.Append(s.ctx, e1))
	s.Require().NoError(s.store.Append(s.ctx, e2))

	s.Run("matches targetId case-insensitively", func() {
		page, err := s.store.Query(s.ctx, audit.Query{Q: "emp-10"})
		s.Require().NoError(err)
		s.Equal(1, page.Total)
		s.Equal("EMP-1042", page.Items[0].TargetID)
	})

	s.Run("matches decision reason", func() {
		page, err := s.store.Query(s.ctx, audit.Query{Q: "duplicate"})
		s.Require().NoError(err)
		s.Equal(1, page.Total)
	})

	s.Run("no match yields empty page", func() {
		page, err := s.store.Query(s.ctx, audit.Query{Q: "nothing-here"})
		s.Require().NoError(err)
		s.Equal(0, page.Total)
		s.Empty(page.Items)
	})
}

func (s *MemoryStoreSuite) TestQueryPagination() {
	base := time.Now()
	for i := 0; i < 25; i++ {
		s.Require().NoError(s.store.Append(s.ctx, s.newEntry(models.ModulePIM, base.Add(time.Duration(i)*time.Second))))
	}

	page1, err := s.store.Query(s.ctx, audit.Query{Page: 1, Limit: 10})
	s.Require().NoError(err)
	s.Equal(25, page1.Total)
	s.Len(page1.Items, 10)

	page3, err := s.store.Query(s.ctx, audit.Query{Page: 3, Limit: 10})
	s.Require().NoError(err)
	s.Len(page3.Items, 5)

	page9, err := s.store.Query(s.ctx, audit.Query{Page: 9, Limit: 10})
	s.Require().NoError(err)
	s.Empty(page9.Items)

	s.Run("limit is clamped to the maximum", func() {
		page, err := s.store.Query(s.ctx, audit.Query{Page: 1, Limit: 10_000})
		s.Require().NoError(err)
		s.Equal(audit.MaxLimit, page.Limit)
	})
}
