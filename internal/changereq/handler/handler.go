// Package handler exposes the change-request workflow and audit query surface
// over HTTP. It owns request decoding and response shaping; all business rules
// live in the service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"peopleops/internal/audit"
	"peopleops/internal/changereq/models"
	"peopleops/internal/changereq/service"
	"peopleops/internal/platform/middleware"
	"peopleops/pkg/domain"
	dErrors "peopleops/pkg/domain-errors"
	"peopleops/pkg/platform/httputil"
	"peopleops/pkg/platform/sentinel"
	"peopleops/pkg/requestcontext"
)

// AuditQuerier is the read surface over the audit log.
type AuditQuerier interface {
	Get(ctx context.Context, id domain.AuditEntryID) (*audit.Entry, error)
	Query(ctx context.Context, q audit.Query) (*audit.Page, error)
}

type Handler struct {
	svc    *service.Service
	audits AuditQuerier
	auth   middleware.JWTValidator
	logger *slog.Logger
}

func New(svc *service.Service, audits AuditQuerier, auth middleware.JWTValidator, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, audits: audits, auth: auth, logger: logger}
}

// Routes mounts the authenticated API.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.auth, h.logger))

		r.Route("/change-requests", func(r chi.Router) {
			r.Post("/", h.createChangeRequest)
			r.Get("/pending", h.listPending)
			r.Get("/mine", h.listMine)
			r.Get("/{id}", h.getChangeRequest)
			r.Post("/{id}/approve", h.approve)
			r.Post("/{id}/reject", h.reject)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.queryAudit)
			r.Get("/{id}/diff", h.auditDiff)
		})
	})
}

type createRequest struct {
	Module    string          `json:"module"`
	ModelName string          `json:"modelName"`
	Action    string          `json:"action"`
	TargetID  string          `json:"targetId"`
	Payload   models.Document `json:"payload"`
	Reason    string          `json:"reason"`
}

type changeRequestResponse struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	Module          string          `json:"module"`
	ModelName       string          `json:"modelName"`
	Action          string          `json:"action"`
	TargetID        string          `json:"targetId,omitempty"`
	Payload         models.Document `json:"payload"`
	Reason          string          `json:"reason,omitempty"`
	RequestedBy     string          `json:"requestedBy"`
	RequestedByRole string          `json:"requestedByRole"`
	ReviewedBy      string          `json:"reviewedBy,omitempty"`
	ReviewedAt      string          `json:"reviewedAt,omitempty"`
	DecisionReason  string          `json:"decisionReason,omitempty"`
	CreatedAt       string          `json:"createdAt"`
	UpdatedAt       string          `json:"updatedAt"`
}

func toResponse(cr *models.ChangeRequest) changeRequestResponse {
	resp := changeRequestResponse{
		ID:              cr.ID.String(),
		Status:          string(cr.Status),
		Module:          string(cr.Module),
		ModelName:       cr.ModelName,
		Action:          string(cr.Action),
		TargetID:        cr.TargetID,
		Payload:         cr.Payload,
		Reason:          cr.Reason,
		RequestedBy:     cr.RequestedBy,
		RequestedByRole: string(cr.RequestedByRole),
		ReviewedBy:      cr.ReviewedBy,
		DecisionReason:  cr.DecisionReason,
		CreatedAt:       cr.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:       cr.UpdatedAt.UTC().Format(timeLayout),
	}
	if cr.ReviewedAt != nil {
		resp.ReviewedAt = cr.ReviewedAt.UTC().Format(timeLayout)
	}
	return resp
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (h *Handler) createChangeRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}

	role, err := models.ParseRole(requestcontext.ActorRole(r.Context()))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token carries no recognized role"))
		return
	}

	cr, err := h.svc.Create(r.Context(), models.NewChangeRequestParams{
		Module:          models.Module(req.Module),
		ModelName:       req.ModelName,
		Action:          models.Action(req.Action),
		TargetID:        req.TargetID,
		Payload:         req.Payload,
		Reason:          req.Reason,
		RequestedBy:     requestcontext.ActorID(r.Context()),
		RequestedByRole: role,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(cr))
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	role, err := models.ParseRole(requestcontext.ActorRole(r.Context()))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token carries no recognized role"))
		return
	}
	list, err := h.svc.Pending(r.Context(), role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponseList(list))
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Mine(r.Context(), requestcontext.ActorID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponseList(list))
}

func toResponseList(list []*models.ChangeRequest) []changeRequestResponse {
	out := make([]changeRequestResponse, 0, len(list))
	for _, cr := range list {
		out = append(out, toResponse(cr))
	}
	return out
}

func (h *Handler) getChangeRequest(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseChangeRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cr, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(cr))
}

type decideRequest struct {
	DecisionReason string `json:"decisionReason"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	id, err := domain.ParseChangeRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	role, err := models.ParseRole(requestcontext.ActorRole(r.Context()))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token carries no recognized role"))
		return
	}
	actorID := requestcontext.ActorID(r.Context())

	var dec *service.Decision
	if approve {
		dec, err = h.svc.Approve(r.Context(), id, actorID, role)
	} else {
		var req decideRequest
		// Reject bodies are optional; an empty body means no stated reason.
		if r.Body != nil && r.ContentLength != 0 {
			if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
				return
			}
		}
		dec, err = h.svc.Reject(r.Context(), id, actorID, role, req.DecisionReason)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dec)
}

func (h *Handler) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		Module:     models.Module(r.URL.Query().Get("module")),
		ModelName:  r.URL.Query().Get("modelName"),
		Action:     audit.Action(r.URL.Query().Get("action")),
		ActionType: models.Action(r.URL.Query().Get("actionType")),
		Q:          r.URL.Query().Get("q"),
		Page:       intQueryParam(r, "page"),
		Limit:      intQueryParam(r, "limit"),
	}
	page, err := h.audits.Query(r.Context(), q)
	if err != nil {
		httputil.WriteError(w, mapStorageErr(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

type diffResponse struct {
	AuditEntryID    string   `json:"auditEntryId"`
	ChangeRequestID string   `json:"changeRequestId"`
	ChangedKeys     []string `json:"changedKeys"`
}

func (h *Handler) auditDiff(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseAuditEntryID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.audits.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, mapStorageErr(err))
		return
	}

	// Diff against the state the applier actually persisted; rejected entries
	// carry no snapshots and diff to nothing.
	after := entry.AppliedResult
	if after == nil {
		after = entry.After
	}
	keys, err := audit.ChangedKeys(entry.Before, after)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to diff snapshots"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, diffResponse{
		AuditEntryID:    entry.ID.String(),
		ChangeRequestID: entry.ChangeRequestID.String(),
		ChangedKeys:     keys,
	})
}

func intQueryParam(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// mapStorageErr translates store sentinels into coded errors; already-coded
// errors pass through.
func mapStorageErr(err error) error {
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "audit entry not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "audit query failed")
}
