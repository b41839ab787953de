// Package audit defines the append-only record of maker-checker decisions and
// the query surface over it. Rows are never mutated or deleted.
package audit

import (
	"time"

	"peopleops/internal/changereq/models"
	"peopleops/pkg/domain"
)

// Action tags the decision an entry records.
type Action string

const (
	ActionChangeRequestApproved Action = "CHANGE_REQUEST_APPROVED"
	ActionChangeRequestRejected Action = "CHANGE_REQUEST_REJECTED"
)

// Entry is one immutable audit record for a terminal decision. Before is nil
// for CREATE actions; AppliedResult is the persisted state returned by the
// applier, which may differ from After due to server-assigned defaults.
type Entry struct {
	ID              domain.AuditEntryID    `json:"id"`
	Action          Action                 `json:"action"`
	ActorID         string                 `json:"actorId"` // the original requester
	ActorRole       models.Role            `json:"actorRole"`
	Module          models.Module          `json:"module"`
	ModelName       string                 `json:"modelName"`
	ActionType      models.Action          `json:"actionType"`
	TargetID        string                 `json:"targetId,omitempty"`
	ChangeRequestID domain.ChangeRequestID `json:"changeRequestId"`
	Before          models.Document        `json:"before,omitempty"`
	After           models.Document        `json:"after,omitempty"`
	AppliedResult   models.Document        `json:"appliedResult,omitempty"`
	ApprovedBy      string                 `json:"approvedBy"`
	ApprovedAt      time.Time              `json:"approvedAt"`
	DecisionReason  string                 `json:"decisionReason,omitempty"`
	IP              string                 `json:"ip,omitempty"`
	UserAgent       string                 `json:"userAgent,omitempty"`
	Meta            map[string]string      `json:"meta,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
}

// Query selects audit entries. Zero-valued filters are ignored. Q matches
// substrings (case-insensitive) across targetId, decision reason, module, and
// modelName.
type Query struct {
	Module     models.Module
	ModelName  string
	Action     Action
	ActionType models.Action
	Q          string
	Page       int
	Limit      int
}

// DefaultLimit and MaxLimit bound pagination.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Normalize clamps pagination to sane bounds.
func (q *Query) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
}

// Page is one page of audit entries, newest first.
type Page struct {
	Items []*Entry `json:"items"`
	Total int      `json:"total"`
	PageN int      `json:"page"`
	Limit int      `json:"limit"`
}
