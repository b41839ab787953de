// Package domain holds the uuid-backed identifier types shared across the
// service. Distinct types keep a change-request id from ever being passed
// where an audit entry id is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "peopleops/pkg/domain-errors"
)

type (
	// ChangeRequestID identifies a proposed mutation awaiting decision.
	ChangeRequestID uuid.UUID

	// AuditEntryID identifies one immutable audit record.
	AuditEntryID uuid.UUID
)

// NewChangeRequestID returns a fresh random id.
func NewChangeRequestID() ChangeRequestID { return ChangeRequestID(uuid.New()) }

// NewAuditEntryID returns a fresh random id.
func NewAuditEntryID() AuditEntryID { return AuditEntryID(uuid.New()) }

func (id ChangeRequestID) String() string { return uuid.UUID(id).String() }
func (id ChangeRequestID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id AuditEntryID) String() string { return uuid.UUID(id).String() }
func (id AuditEntryID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// The ids cross JSON boundaries as their canonical string form.

func (id ChangeRequestID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ChangeRequestID) UnmarshalText(b []byte) error {
	parsed, err := ParseChangeRequestID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id AuditEntryID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AuditEntryID) UnmarshalText(b []byte) error {
	parsed, err := ParseAuditEntryID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseChangeRequestID parses and validates an id from a trust boundary.
// IDs must be valid, non-empty, non-nil UUIDs.
func ParseChangeRequestID(s string) (ChangeRequestID, error) {
	u, err := parseNonNilUUID(s)
	if err != nil {
		return ChangeRequestID{}, err
	}
	return ChangeRequestID(u), nil
}

// ParseAuditEntryID parses and validates an id from a trust boundary.
func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseNonNilUUID(s)
	if err != nil {
		return AuditEntryID{}, err
	}
	return AuditEntryID(u), nil
}

func parseNonNilUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeValidation, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id must not be the nil UUID")
	}
	return u, nil
}
