package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"peopleops/internal/audit"
	"peopleops/internal/changereq/models"
	"peopleops/pkg/domain"
	"peopleops/pkg/platform/sentinel"
	txcontext "peopleops/pkg/platform/tx"
)

// Postgres persists audit entries. Append joins the decision's ambient
// transaction and also writes a transactional-outbox row so the Kafka
// publisher can fan the event out after commit.
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

const auditColumns = `
	id, action, actor_id, actor_role, module, model_name, action_type,
	target_id, change_request_id, before, after, applied_result,
	approved_by, approved_at, decision_reason, ip, user_agent, meta, created_at`

func (s *Postgres) Append(ctx context.Context, entry *audit.Entry) error {
	before, err := marshalNullable(entry.Before)
	if err != nil {
		return fmt.Errorf("marshal before snapshot: %w", err)
	}
	after, err := marshalNullable(entry.After)
	if err != nil {
		return fmt.Errorf("marshal after snapshot: %w", err)
	}
	applied, err := marshalNullable(entry.AppliedResult)
	if err != nil {
		return fmt.Errorf("marshal applied result: %w", err)
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	exec := s.execer(ctx)
	_, err = exec.ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		string(entry.Action),
		entry.ActorID,
		string(entry.ActorRole),
		string(entry.Module),
		entry.ModelName,
		string(entry.ActionType),
		nullString(entry.TargetID),
		uuid.UUID(entry.ChangeRequestID),
		before,
		after,
		applied,
		entry.ApprovedBy,
		entry.ApprovedAt,
		nullString(entry.DecisionReason),
		entry.IP,
		entry.UserAgent,
		meta,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	// Outbox row rides the same transaction: the Kafka event exists exactly
	// when the audit row does.
	payload, err := json.Marshal(outboxPayload(entry))
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO outbox (id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), string(entry.Action), payload, time.Now())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id domain.AuditEntryID) (*audit.Entry, error) {
	query := `SELECT` + auditColumns + ` FROM audit_logs WHERE id = $1`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(id))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	return entry, nil
}

func (s *Postgres) Query(ctx context.Context, q audit.Query) (*audit.Page, error) {
	q.Normalize()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Module != "" {
		where = append(where, "module = "+arg(string(q.Module)))
	}
	if q.ModelName != "" {
		where = append(where, "model_name = "+arg(q.ModelName))
	}
	if q.Action != "" {
		where = append(where, "action = "+arg(string(q.Action)))
	}
	if q.ActionType != "" {
		where = append(where, "action_type = "+arg(string(q.ActionType)))
	}
	if q.Q != "" {
		p := arg("%" + q.Q + "%")
		where = append(where, fmt.Sprintf(
			"(coalesce(target_id, '') ILIKE %[1]s OR coalesce(decision_reason, '') ILIKE %[1]s OR module ILIKE %[1]s OR model_name ILIKE %[1]s)", p))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	row := s.execer(ctx).QueryRowContext(ctx, "SELECT count(*) FROM audit_logs"+cond, args...)
	if err := row.Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}

	query := "SELECT" + auditColumns + " FROM audit_logs" + cond +
		" ORDER BY created_at DESC LIMIT " + arg(q.Limit) + " OFFSET " + arg((q.Page-1)*q.Limit)

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var items []*audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return &audit.Page{Items: items, Total: total, PageN: q.Page, Limit: q.Limit}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*audit.Entry, error) {
	var (
		entry           audit.Entry
		id              uuid.UUID
		action          string
		actorRole       string
		module          string
		actionType      string
		targetID        sql.NullString
		changeRequestID uuid.UUID
		before          []byte
		after           []byte
		applied         []byte
		decisionReason  sql.NullString
		meta            []byte
	)

	err := row.Scan(
		&id, &action, &entry.ActorID, &actorRole, &module, &entry.ModelName, &actionType,
		&targetID, &changeRequestID, &before, &after, &applied,
		&entry.ApprovedBy, &entry.ApprovedAt, &decisionReason, &entry.IP, &entry.UserAgent, &meta, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.ID = domain.AuditEntryID(id)
	entry.Action = audit.Action(action)
	entry.ActorRole = models.Role(actorRole)
	entry.Module = models.Module(module)
	entry.ActionType = models.Action(actionType)
	entry.TargetID = targetID.String
	entry.ChangeRequestID = domain.ChangeRequestID(changeRequestID)
	entry.DecisionReason = decisionReason.String

	if err := unmarshalNullable(before, &entry.Before); err != nil {
		return nil, fmt.Errorf("unmarshal before snapshot: %w", err)
	}
	if err := unmarshalNullable(after, &entry.After); err != nil {
		return nil, fmt.Errorf("unmarshal after snapshot: %w", err)
	}
	if err := unmarshalNullable(applied, &entry.AppliedResult); err != nil {
		return nil, fmt.Errorf("unmarshal applied result: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &entry.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	return &entry, nil
}

// outboxPayload is the JSON structure published to Kafka. Snapshots stay in
// Postgres; the stream carries the decision facts.
func outboxPayload(entry *audit.Entry) map[string]any {
	return map[string]any{
		"id":              entry.ID.String(),
		"action":          string(entry.Action),
		"actorId":         entry.ActorID,
		"actorRole":       string(entry.ActorRole),
		"module":          string(entry.Module),
		"modelName":       entry.ModelName,
		"actionType":      string(entry.ActionType),
		"targetId":        entry.TargetID,
		"changeRequestId": entry.ChangeRequestID.String(),
		"approvedBy":      entry.ApprovedBy,
		"approvedAt":      entry.ApprovedAt.Format(time.RFC3339Nano),
		"decisionReason":  entry.DecisionReason,
	}
}

func marshalNullable(doc models.Document) ([]byte, error) {
	if doc == nil {
		return nil, nil
	}
	return json.Marshal(doc)
}

func unmarshalNullable(raw []byte, doc *models.Document) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, doc)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
