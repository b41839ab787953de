package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"peopleops/internal/applier"
	auditstore "peopleops/internal/audit/store"
	"peopleops/internal/changereq/handler"
	"peopleops/internal/changereq/models"
	"peopleops/internal/changereq/service"
	crstore "peopleops/internal/changereq/store"
	"peopleops/internal/jwtauth"
	"peopleops/internal/platform/middleware"
)

type HandlerSuite struct {
	suite.Suite
	server *httptest.Server
	jwt    *jwtauth.Service
	coll   *applier.Collection
	audits *auditstore.InMemory
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.coll = applier.NewCollection()
	registry := applier.NewRegistry()
	registry.Register(models.ModulePIM, "Employee", s.coll)

	s.audits = auditstore.NewInMemory()
	svc := service.New(crstore.NewInMemory(), s.audits, registry,
		service.DefaultPolicy(), service.NewMemoryTxRunner(), nil, nil, logger)

	s.jwt = jwtauth.NewService("test-signing-key", "peopleops", "peopleops-api")

	h := handler.New(svc, s.audits, s.jwt, logger)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)
	h.Routes(r)

	s.server = httptest.NewServer(r)
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) token(userID, role string) string {
	tok, err := s.jwt.GenerateAccessToken(userID, role, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *HandlerSuite) do(method, path, token string, body any) *http.Response {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.server.URL+path, buf)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *HandlerSuite) decode(resp *http.Response, into any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(into))
}

func (s *HandlerSuite) createChangeRequest(token string, body map[string]any) map[string]any {
	resp := s.do(http.MethodPost, "/change-requests", token, body)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var out map[string]any
	s.decode(resp, &out)
	return out
}

func updateEmployeeBody(targetID string) map[string]any {
	return map[string]any{
		"module":    "PIM",
		"modelName": "Employee",
		"action":    "UPDATE",
		"targetId":  targetID,
		"payload":   map[string]any{"salaryGrade": "B3"},
		"reason":    "annual adjustment",
	}
}

func (s *HandlerSuite) TestCreateReturnsPendingRequest() {
	s.coll.Seed("emp-1", models.Document{"id": "emp-1", "salaryGrade": "B2"})

	out := s.createChangeRequest(s.token("u-emp", "EMPLOYEE"), updateEmployeeBody("emp-1"))
	s.Equal("PENDING", out["status"])
	s.Equal("u-emp", out["requestedBy"])
	s.Equal("EMPLOYEE", out["requestedByRole"])
	s.NotEmpty(out["id"])
	s.NotEmpty(out["createdAt"])
}

func (s *HandlerSuite) TestCreateRejectsMalformedBody() {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/change-requests",
		bytes.NewReader([]byte("{not json")))
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+s.token("u-emp", "EMPLOYEE"))
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)

	s.Equal(http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	s.decode(resp, &body)
	s.Equal("bad_request", body["error"])
}

func (s *HandlerSuite) TestCreateValidationFailure() {
	body := updateEmployeeBody("") // UPDATE without a target
	resp := s.do(http.MethodPost, "/change-requests", s.token("u-emp", "EMPLOYEE"), body)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	var out map[string]string
	s.decode(resp, &out)
	s.Equal("validation", out["error"])
	s.Contains(out["error_description"], "targetId")
}

func (s *HandlerSuite) TestMissingTokenIsUnauthorized() {
	resp := s.do(http.MethodGet, "/change-requests/pending", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestApproveFlow() {
	s.coll.Seed("emp-2", models.Document{"id": "emp-2", "salaryGrade": "B2"})
	created := s.createChangeRequest(s.token("u-emp", "EMPLOYEE"), updateEmployeeBody("emp-2"))
	id := created["id"].(string)

	resp := s.do(http.MethodPost, "/change-requests/"+id+"/approve", s.token("u-hr", "HR"), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var dec map[string]bool
	s.decode(resp, &dec)
	s.True(dec["ok"])
	s.True(dec["approved"])

	// The decision is terminal: a second approve conflicts.
	resp = s.do(http.MethodPost, "/change-requests/"+id+"/approve", s.token("u-hr", "HR"), nil)
	s.Equal(http.StatusConflict, resp.StatusCode)
	var errBody map[string]string
	s.decode(resp, &errBody)
	s.Equal("invariant_violation", errBody["error"])

	// And the request now reads APPROVED.
	resp = s.do(http.MethodGet, "/change-requests/"+id, s.token("u-emp", "EMPLOYEE"), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var got map[string]any
	s.decode(resp, &got)
	s.Equal("APPROVED", got["status"])
	s.Equal("u-hr", got["reviewedBy"])
}

func (s *HandlerSuite) TestRejectWithReason() {
	s.coll.Seed("emp-3", models.Document{"id": "emp-3"})
	created := s.createChangeRequest(s.token("u-emp", "EMPLOYEE"), updateEmployeeBody("emp-3"))
	id := created["id"].(string)

	resp := s.do(http.MethodPost, "/change-requests/"+id+"/reject", s.token("u-hr", "HR"),
		map[string]any{"decisionReason": "needs manager sign-off first"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var dec map[string]bool
	s.decode(resp, &dec)
	s.True(dec["ok"])
	s.False(dec["approved"])

	resp = s.do(http.MethodGet, "/change-requests/"+id, s.token("u-emp", "EMPLOYEE"), nil)
	var got map[string]any
	s.decode(resp, &got)
	s.Equal("REJECTED", got["status"])
	s.Equal("needs manager sign-off first", got["decisionReason"])
}

func (s *HandlerSuite) TestEmployeeCannotApprove() {
	s.coll.Seed("emp-4", models.Document{"id": "emp-4"})
	created := s.createChangeRequest(s.token("u-emp", "EMPLOYEE"), updateEmployeeBody("emp-4"))
	id := created["id"].(string)

	resp := s.do(http.MethodPost, "/change-requests/"+id+"/approve", s.token("u-peer", "EMPLOYEE"), nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestGetUnknownAndMalformedIDs() {
	tok := s.token("u-emp", "EMPLOYEE")

	resp := s.do(http.MethodGet, "/change-requests/0e4f7a9c-9a1f-4e8e-b0be-60a0e0f9a111", tok, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/change-requests/not-a-uuid", tok, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestPendingAndMineListings() {
	empTok := s.token("u-emp", "EMPLOYEE")
	s.coll.Seed("emp-5", models.Document{"id": "emp-5"})
	created := s.createChangeRequest(empTok, updateEmployeeBody("emp-5"))
	s.createChangeRequest(s.token("u-other", "EMPLOYEE"), updateEmployeeBody("emp-5"))

	resp := s.do(http.MethodGet, "/change-requests/pending", s.token("u-hr", "HR"), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var pending []map[string]any
	s.decode(resp, &pending)
	s.Len(pending, 2)

	resp = s.do(http.MethodGet, "/change-requests/mine", empTok, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var mine []map[string]any
	s.decode(resp, &mine)
	s.Require().Len(mine, 1)
	s.Equal(created["id"], mine[0]["id"])
}

func (s *HandlerSuite) TestAuditQueryAndDiff() {
	s.coll.Seed("emp-6", models.Document{"id": "emp-6", "salaryGrade": "B2", "revision": 1})
	created := s.createChangeRequest(s.token("u-emp", "EMPLOYEE"), updateEmployeeBody("emp-6"))
	id := created["id"].(string)

	resp := s.do(http.MethodPost, "/change-requests/"+id+"/approve", s.token("u-hr", "HR"), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(http.MethodGet, "/audit?module=PIM", s.token("u-hr", "HR"), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var page struct {
		Items []struct {
			ID              string `json:"id"`
			ChangeRequestID string `json:"changeRequestId"`
		} `json:"items"`
		Total int `json:"total"`
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	s.Require().NoError(err)
	s.Require().NoError(json.Unmarshal(raw, &page))
	s.Equal(1, page.Total)
	s.Require().Len(page.Items, 1)

	diffPath := fmt.Sprintf("/audit/%s/diff", page.Items[0].ID)
	resp = s.do(http.MethodGet, diffPath, s.token("u-hr", "HR"), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var diff struct {
		ChangedKeys []string `json:"changedKeys"`
	}
	s.decode(resp, &diff)
	s.Equal([]string{"salaryGrade"}, diff.ChangedKeys, "revision and timestamps are excluded by default")
}
