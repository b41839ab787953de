package models

import (
	"encoding/json"
	"time"

	"peopleops/pkg/domain"
	dErrors "peopleops/pkg/domain-errors"
)

// Status is the lifecycle state of a change request. PENDING is the only
// non-terminal state; once APPROVED or REJECTED the status never changes.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Action is the kind of mutation a change request proposes.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// ParseAction validates an action tag from a trust boundary.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCreate, ActionUpdate, ActionDelete:
		return Action(s), nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "action must be one of CREATE, UPDATE, DELETE")
}

// RequiresTarget reports whether the action mutates an existing entity.
func (a Action) RequiresTarget() bool {
	return a == ActionUpdate || a == ActionDelete
}

// Module tags the HR area a change request belongs to.
type Module string

const (
	ModulePIM         Module = "PIM"
	ModuleLeave       Module = "LEAVE"
	ModuleTime        Module = "TIME"
	ModulePerformance Module = "PERFORMANCE"
	ModuleRecruitment Module = "RECRUITMENT"
	ModuleAdmin       Module = "ADMIN"
)

var knownModules = map[Module]bool{
	ModulePIM:         true,
	ModuleLeave:       true,
	ModuleTime:        true,
	ModulePerformance: true,
	ModuleRecruitment: true,
	ModuleAdmin:       true,
}

// Modules lists every known module tag.
func Modules() []Module {
	return []Module{ModulePIM, ModuleLeave, ModuleTime, ModulePerformance, ModuleRecruitment, ModuleAdmin}
}

// ParseModule validates a module tag from a trust boundary.
func ParseModule(s string) (Module, error) {
	if !knownModules[Module(s)] {
		return "", dErrors.New(dErrors.CodeValidation, "unknown module: "+s)
	}
	return Module(s), nil
}

// MaxPayloadBytes caps the serialized size of an opaque payload.
const MaxPayloadBytes = 1 << 20

// Document is an opaque structured value: the proposed payload and the
// before/after snapshots. The core validates structure only, never fields.
type Document map[string]any

// Clone returns a shallow copy so callers cannot mutate stored payloads.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// validatePayload enforces the structural contract: present, map-like, within
// the size cap.
func validatePayload(payload Document) error {
	if payload == nil {
		return dErrors.New(dErrors.CodeValidation, "payload must be a structured object")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "payload must be serializable")
	}
	if len(raw) > MaxPayloadBytes {
		return dErrors.New(dErrors.CodeValidation, "payload exceeds the 1 MiB size cap")
	}
	return nil
}

// ChangeRequest is a proposed mutation awaiting a maker-checker decision.
// Payload is immutable after creation; review fields are unset while PENDING
// and set together on the terminal transition.
type ChangeRequest struct {
	ID              domain.ChangeRequestID
	Status          Status
	Module          Module
	ModelName       string
	Action          Action
	TargetID        string
	Payload         Document
	Reason          string
	RequestedBy     string
	RequestedByRole Role
	ReviewedBy      string
	ReviewedAt      *time.Time
	DecisionReason  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewChangeRequestParams carries the requester's intent.
type NewChangeRequestParams struct {
	Module          Module
	ModelName       string
	Action          Action
	TargetID        string
	Payload         Document
	Reason          string
	RequestedBy     string
	RequestedByRole Role
}

// NewChangeRequest validates the intent and returns a PENDING request.
func NewChangeRequest(p NewChangeRequestParams, now time.Time) (*ChangeRequest, error) {
	if !knownModules[p.Module] {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown module: "+string(p.Module))
	}
	if p.ModelName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "modelName is required")
	}
	if _, err := ParseAction(string(p.Action)); err != nil {
		return nil, err
	}
	if p.Action.RequiresTarget() && p.TargetID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "targetId is required for "+string(p.Action))
	}
	if err := validatePayload(p.Payload); err != nil {
		return nil, err
	}
	if p.RequestedBy == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "requestedBy is required")
	}
	if _, err := ParseRole(string(p.RequestedByRole)); err != nil {
		return nil, err
	}

	return &ChangeRequest{
		ID:              domain.NewChangeRequestID(),
		Status:          StatusPending,
		Module:          p.Module,
		ModelName:       p.ModelName,
		Action:          p.Action,
		TargetID:        p.TargetID,
		Payload:         p.Payload.Clone(),
		Reason:          p.Reason,
		RequestedBy:     p.RequestedBy,
		RequestedByRole: p.RequestedByRole,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
