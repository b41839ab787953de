package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"peopleops/internal/audit"
	"peopleops/internal/changereq/models"
	"peopleops/internal/platform/metrics"
	"peopleops/pkg/domain"
	dErrors "peopleops/pkg/domain-errors"
	"peopleops/pkg/platform/sentinel"
	"peopleops/pkg/requestcontext"
)

// Store persists change requests. TryTransition is the concurrency primitive:
// it must succeed only when the stored status still equals from.
type Store interface {
	Create(ctx context.Context, cr *models.ChangeRequest) error
	Get(ctx context.Context, id domain.ChangeRequestID) (*models.ChangeRequest, error)
	ListPending(ctx context.Context) ([]*models.ChangeRequest, error)
	ListByRequester(ctx context.Context, requestedBy string) ([]*models.ChangeRequest, error)
	TryTransition(ctx context.Context, id domain.ChangeRequestID, from, to models.Status, reviewedBy string, reviewedAt time.Time, decisionReason string) (bool, error)
}

// AuditStore appends immutable decision records. It fails only on storage
// faults; business validation happened upstream.
type AuditStore interface {
	Append(ctx context.Context, entry *audit.Entry) error
}

// Applier executes the proposed mutation against domain data. See
// internal/applier for the contract.
type Applier interface {
	Apply(ctx context.Context, module models.Module, modelName string, action models.Action, targetID string, payload models.Document) (models.Document, error)
	Read(ctx context.Context, module models.Module, modelName string, targetID string) (models.Document, error)
}

// Authorizer answers whether a role may approve changes for a module.
type Authorizer interface {
	CanApprove(ctx context.Context, role models.Role, module models.Module) (bool, error)
}

// Notifier announces lifecycle events to interested listeners (approver UIs).
// Implementations must be best-effort; the engine never fails a decision over
// a notification.
type Notifier interface {
	RequestCreated(ctx context.Context, cr *models.ChangeRequest)
	RequestDecided(ctx context.Context, cr *models.ChangeRequest, outcome models.Status)
}

// Decision is the engine's answer to an approve or reject call.
type Decision struct {
	OK       bool `json:"ok"`
	Approved bool `json:"approved"`
}

// Service is the Approval Engine. It exclusively owns the write path into the
// change request and audit stores during a decision.
type Service struct {
	store    Store
	auditLog AuditStore
	applier  Applier
	authz    Authorizer
	txr      TxRunner
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(store Store, auditLog AuditStore, app Applier, authz Authorizer, txr TxRunner, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		auditLog: auditLog,
		applier:  app,
		authz:    authz,
		txr:      txr,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("peopleops/changereq"),
	}
}

// Create validates and persists a new PENDING change request.
func (s *Service) Create(ctx context.Context, params models.NewChangeRequestParams) (*models.ChangeRequest, error) {
	now := requestcontext.Now(ctx)
	cr, err := models.NewChangeRequest(params, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, cr); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist change request")
	}

	s.metrics.IncRequestCreated(string(cr.Module))
	if s.notifier != nil {
		s.notifier.RequestCreated(ctx, cr)
	}
	s.logger.InfoContext(ctx, "change request created",
		"change_request_id", cr.ID.String(),
		"module", cr.Module,
		"action", cr.Action,
		"requested_by", cr.RequestedBy,
	)
	return cr, nil
}

// Pending lists PENDING requests, newest first. Only actors who can approve
// for at least one module may see the queue.
func (s *Service) Pending(ctx context.Context, viewerRole models.Role) ([]*models.ChangeRequest, error) {
	anyModule := false
	for _, module := range models.Modules() {
		allowed, err := s.authz.CanApprove(ctx, viewerRole, module)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "authorization check failed")
		}
		if allowed {
			anyModule = true
			break
		}
	}
	if !anyModule {
		return nil, dErrors.New(dErrors.CodeForbidden, "role holds no approval authority")
	}

	list, err := s.store.ListPending(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending change requests")
	}
	return list, nil
}

// Mine lists the requester's own submissions, any status, newest first.
func (s *Service) Mine(ctx context.Context, requestedBy string) ([]*models.ChangeRequest, error) {
	list, err := s.store.ListByRequester(ctx, requestedBy)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list change requests")
	}
	return list, nil
}

// Get loads one change request.
func (s *Service) Get(ctx context.Context, id domain.ChangeRequestID) (*models.ChangeRequest, error) {
	cr, err := s.store.Get(ctx, id)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) || isNotFound(err) {
			return nil, dErrors.New(dErrors.CodeNotFound, "change request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load change request")
	}
	return cr, nil
}

// Approve applies the proposed mutation and commits the status flip together
// with the audit row. The Applier call happens before and outside the
// transaction; a failure there leaves the request PENDING with no side
// effects, so callers may retry the whole call.
func (s *Service) Approve(ctx context.Context, id domain.ChangeRequestID, approverID string, approverRole models.Role) (*Decision, error) {
	ctx, span := s.tracer.Start(ctx, "changereq.Approve",
		trace.WithAttributes(attribute.String("change_request.id", id.String())))
	defer span.End()

	cr, err := s.loadPendingForDecision(ctx, id, approverID, approverRole)
	if err != nil {
		return nil, err
	}

	// Before-snapshot via the applier's read path; CREATE has no prior state.
	var before models.Document
	if cr.Action != models.ActionCreate {
		before, err = s.applier.Read(ctx, cr.Module, cr.ModelName, cr.TargetID)
		if err != nil {
			s.metrics.IncApplierFailure()
			return nil, dErrors.Wrap(err, dErrors.CodeApplierFailed, "failed to snapshot current state")
		}
	}

	applied, err := s.applier.Apply(ctx, cr.Module, cr.ModelName, cr.Action, cr.TargetID, cr.Payload)
	if err != nil {
		// The request stays PENDING; the applier contract guarantees no
		// partial write, so retrying the whole call is safe.
		s.metrics.IncApplierFailure()
		return nil, dErrors.Wrap(err, dErrors.CodeApplierFailed, "mutation applier failed")
	}

	now := requestcontext.Now(ctx)
	entry := s.buildEntry(ctx, cr, audit.ActionChangeRequestApproved, approverID, now, "")
	entry.Before = before
	entry.After = cr.Payload
	entry.AppliedResult = applied

	if err := s.commitDecision(ctx, cr, models.StatusApproved, approverID, now, "", entry); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			// The applier side effect already happened and another decision
			// won the race. Surface the conflict and leave reconciliation to
			// operational alerting; the applier is not assumed idempotent.
			s.logger.ErrorContext(ctx, "decision lost race after applier side effect",
				"change_request_id", id.String(),
				"approver", approverID,
			)
		}
		return nil, err
	}

	s.metrics.IncDecision("approved")
	if s.notifier != nil {
		s.notifier.RequestDecided(ctx, cr, models.StatusApproved)
	}
	s.logger.InfoContext(ctx, "change request approved",
		"change_request_id", id.String(),
		"approved_by", approverID,
	)
	return &Decision{OK: true, Approved: true}, nil
}

// Reject records a terminal rejection. The Mutation Applier is never invoked.
func (s *Service) Reject(ctx context.Context, id domain.ChangeRequestID, approverID string, approverRole models.Role, decisionReason string) (*Decision, error) {
	ctx, span := s.tracer.Start(ctx, "changereq.Reject",
		trace.WithAttributes(attribute.String("change_request.id", id.String())))
	defer span.End()

	cr, err := s.loadPendingForDecision(ctx, id, approverID, approverRole)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	entry := s.buildEntry(ctx, cr, audit.ActionChangeRequestRejected, approverID, now, decisionReason)

	if err := s.commitDecision(ctx, cr, models.StatusRejected, approverID, now, decisionReason, entry); err != nil {
		return nil, err
	}

	s.metrics.IncDecision("rejected")
	if s.notifier != nil {
		s.notifier.RequestDecided(ctx, cr, models.StatusRejected)
	}
	s.logger.InfoContext(ctx, "change request rejected",
		"change_request_id", id.String(),
		"rejected_by", approverID,
	)
	return &Decision{OK: true, Approved: false}, nil
}

// loadPendingForDecision runs the shared steps 1-3 of approve and reject:
// load, pending check, authorization.
func (s *Service) loadPendingForDecision(ctx context.Context, id domain.ChangeRequestID, approverID string, approverRole models.Role) (*models.ChangeRequest, error) {
	cr, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cr.Status != models.StatusPending {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "change request already decided")
	}
	if approverID == cr.RequestedBy {
		// Maker-checker: the proposer can never be the decider.
		return nil, dErrors.New(dErrors.CodeForbidden, "requester cannot decide their own change request")
	}
	allowed, err := s.authz.CanApprove(ctx, approverRole, cr.Module)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "authorization check failed")
	}
	if !allowed {
		return nil, dErrors.New(dErrors.CodeForbidden, "role not permitted to approve for module "+string(cr.Module))
	}
	return cr, nil
}

// commitDecision flips the status and appends the audit row as one unit. The
// conditional transition decides the race; losers roll back untouched.
func (s *Service) commitDecision(ctx context.Context, cr *models.ChangeRequest, to models.Status, approverID string, now time.Time, decisionReason string, entry *audit.Entry) error {
	err := s.txr.RunInTx(ctx, func(txCtx context.Context) error {
		won, err := s.store.TryTransition(txCtx, cr.ID, models.StatusPending, to, approverID, now, decisionReason)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to transition change request")
		}
		if !won {
			s.metrics.IncRaceLost()
			return dErrors.New(dErrors.CodeInvariantViolation, "change request already decided")
		}
		if err := s.auditLog.Append(txCtx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
		}
		return nil
	})
	return err
}

func (s *Service) buildEntry(ctx context.Context, cr *models.ChangeRequest, action audit.Action, approverID string, now time.Time, decisionReason string) *audit.Entry {
	return &audit.Entry{
		ID:              domain.NewAuditEntryID(),
		Action:          action,
		ActorID:         cr.RequestedBy,
		ActorRole:       cr.RequestedByRole,
		Module:          cr.Module,
		ModelName:       cr.ModelName,
		ActionType:      cr.Action,
		TargetID:        cr.TargetID,
		ChangeRequestID: cr.ID,
		ApprovedBy:      approverID,
		ApprovedAt:      now,
		DecisionReason:  decisionReason,
		IP:              requestcontext.ClientIP(ctx),
		UserAgent:       requestcontext.UserAgent(ctx),
		Meta:            buildMeta(ctx, cr),
		CreatedAt:       now,
	}
}

// buildMeta fills the extensible bag: the requester tag for display plus a
// normalized user-agent summary.
func buildMeta(ctx context.Context, cr *models.ChangeRequest) map[string]string {
	meta := map[string]string{
		"requestedByUsername": cr.RequestedBy,
	}
	if raw := requestcontext.UserAgent(ctx); raw != "" {
		ua := useragent.New(raw)
		if name, version := ua.Browser(); name != "" {
			meta["uaBrowser"] = name + " " + version
		}
		if os := ua.OS(); os != "" {
			meta["uaOS"] = os
		}
	}
	return meta
}

func isNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}
