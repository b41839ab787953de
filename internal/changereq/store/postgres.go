package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"peopleops/internal/changereq/models"
	"peopleops/pkg/domain"
	"peopleops/pkg/platform/sentinel"
	txcontext "peopleops/pkg/platform/tx"
)

// Postgres persists change requests. Writes join an ambient transaction when
// the Approval Engine has opened one.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const changeRequestColumns = `
	id, status, module, model_name, action, target_id, payload, reason,
	requested_by, requested_by_role, reviewed_by, reviewed_at, decision_reason,
	created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, cr *models.ChangeRequest) error {
	payload, err := json.Marshal(cr.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO change_requests (
			id, status, module, model_name, action, target_id, payload, reason,
			requested_by, requested_by_role, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(cr.ID),
		string(cr.Status),
		string(cr.Module),
		cr.ModelName,
		string(cr.Action),
		nullString(cr.TargetID),
		payload,
		nullString(cr.Reason),
		cr.RequestedBy,
		string(cr.RequestedByRole),
		cr.CreatedAt,
		cr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert change request: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id domain.ChangeRequestID) (*models.ChangeRequest, error) {
	query := `SELECT` + changeRequestColumns + ` FROM change_requests WHERE id = $1`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(id))
	cr, err := scanChangeRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get change request: %w", err)
	}
	return cr, nil
}

func (s *Postgres) ListPending(ctx context.Context) ([]*models.ChangeRequest, error) {
	query := `SELECT` + changeRequestColumns + `
		FROM change_requests
		WHERE status = $1
		ORDER BY created_at DESC`
	return s.list(ctx, query, string(models.StatusPending))
}

func (s *Postgres) ListByRequester(ctx context.Context, requestedBy string) ([]*models.ChangeRequest, error) {
	query := `SELECT` + changeRequestColumns + `
		FROM change_requests
		WHERE requested_by = $1
		ORDER BY created_at DESC`
	return s.list(ctx, query, requestedBy)
}

// TryTransition performs the conditional status update. RowsAffected tells us
// whether this caller won; zero rows with an existing id means another
// decision got there first.
func (s *Postgres) TryTransition(ctx context.Context, id domain.ChangeRequestID, from, to models.Status, reviewedBy string, reviewedAt time.Time, decisionReason string) (bool, error) {
	query := `
		UPDATE change_requests
		SET status = $1, reviewed_by = $2, reviewed_at = $3, decision_reason = $4, updated_at = $3
		WHERE id = $5 AND status = $6
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		string(to),
		reviewedBy,
		reviewedAt,
		nullString(decisionReason),
		uuid.UUID(id),
		string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition change request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition change request: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Zero rows either means the id is unknown or another decision already
	// flipped the status; the caller treats those differently.
	var one int
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT 1 FROM change_requests WHERE id = $1`, uuid.UUID(id))
	if err := row.Scan(&one); errors.Is(err, sql.ErrNoRows) {
		return false, sentinel.ErrNotFound
	} else if err != nil {
		return false, fmt.Errorf("transition change request: %w", err)
	}
	return false, nil
}

func (s *Postgres) list(ctx context.Context, query string, args ...any) ([]*models.ChangeRequest, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change requests: %w", err)
	}
	defer rows.Close()

	var out []*models.ChangeRequest
	for rows.Next() {
		cr, err := scanChangeRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change request: %w", err)
		}
		out = append(out, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change requests: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChangeRequest(row rowScanner) (*models.ChangeRequest, error) {
	var (
		cr             models.ChangeRequest
		id             uuid.UUID
		status         string
		module         string
		action         string
		role           string
		targetID       sql.NullString
		payload        []byte
		reason         sql.NullString
		reviewedBy     sql.NullString
		reviewedAt     sql.NullTime
		decisionReason sql.NullString
	)

	err := row.Scan(
		&id, &status, &module, &cr.ModelName, &action, &targetID, &payload, &reason,
		&cr.RequestedBy, &role, &reviewedBy, &reviewedAt, &decisionReason,
		&cr.CreatedAt, &cr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cr.ID = domain.ChangeRequestID(id)
	cr.Status = models.Status(status)
	cr.Module = models.Module(module)
	cr.Action = models.Action(action)
	cr.RequestedByRole = models.Role(role)
	cr.TargetID = targetID.String
	cr.Reason = reason.String
	cr.ReviewedBy = reviewedBy.String
	cr.DecisionReason = decisionReason.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		cr.ReviewedAt = &t
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cr.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &cr, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
