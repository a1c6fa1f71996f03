package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gigflow/application"
	"gigflow/auth"
	"gigflow/escrow"
	"gigflow/project"
	"gigflow/workorder"
)

type stubProjectService struct {
	created    project.Project
	createErr  error
	got        project.Project
	getErr     error
	list       []project.Project
	listErr    error
	cancelled  project.Project
	cancelErr  error
}

func (s *stubProjectService) Create(_ context.Context, _ project.CreateParams) (project.Project, error) {
	return s.created, s.createErr
}

func (s *stubProjectService) GetByID(_ context.Context, _ string) (project.Project, error) {
	return s.got, s.getErr
}

func (s *stubProjectService) List(_ context.Context, _ project.Filters) ([]project.Project, int, error) {
	return s.list, len(s.list), s.listErr
}

func (s *stubProjectService) Cancel(_ context.Context, _ string, _ string) (project.Project, error) {
	return s.cancelled, s.cancelErr
}

type stubApplicationService struct {
	submitted    application.Application
	submitErr    error
	updated      application.Application
	updateErr    error
	acceptResult application.AcceptResult
	acceptErr    error
	listed       []application.Application
	listErr      error
	page         application.Page
	pageErr      error
}

func (s *stubApplicationService) Submit(_ context.Context, _ application.SubmitParams) (application.Application, error) {
	return s.submitted, s.submitErr
}

func (s *stubApplicationService) MarkViewed(_ context.Context, _ string, _ string) (application.Application, error) {
	return s.updated, s.updateErr
}

func (s *stubApplicationService) Shortlist(_ context.Context, _ string, _ string) (application.Application, error) {
	return s.updated, s.updateErr
}

func (s *stubApplicationService) Accept(_ context.Context, _ string, _ string) (application.AcceptResult, error) {
	return s.acceptResult, s.acceptErr
}

func (s *stubApplicationService) Decline(_ context.Context, _ string, _ string) (application.Application, error) {
	return s.updated, s.updateErr
}

func (s *stubApplicationService) ListForProject(_ context.Context, _ string, _ string) ([]application.Application, error) {
	return s.listed, s.listErr
}

func (s *stubApplicationService) ListMine(_ context.Context, _ string, _ string, _ int) (application.Page, error) {
	return s.page, s.pageErr
}

func (s *stubApplicationService) GetByID(_ context.Context, _ string, _ string) (application.Application, error) {
	return s.updated, s.updateErr
}

type stubWorkOrderService struct {
	escrowRec  escrow.Record
	escrowErr  error
	order      workorder.Order
	orderErr   error
	milestone  workorder.Milestone
	mErr       error
	milestones []workorder.Milestone
	delivery   workorder.Delivery
	dErr       error
	detail     workorder.Detail
	detailErr  error
	declined   project.Project
	declineErr error
}

func (s *stubWorkOrderService) FundEscrow(_ context.Context, _ string, _ string) (escrow.Record, error) {
	return s.escrowRec, s.escrowErr
}

func (s *stubWorkOrderService) Start(_ context.Context, _ string, _ string) (workorder.Order, error) {
	return s.order, s.orderErr
}

func (s *stubWorkOrderService) AddMilestone(_ context.Context, _ string, _ string, _ string, _ int64) (workorder.Milestone, error) {
	return s.milestone, s.mErr
}

func (s *stubWorkOrderService) UpdateMilestone(_ context.Context, _ string, _ string, _ string, _ *string, _ *int64) (workorder.Milestone, error) {
	return s.milestone, s.mErr
}

func (s *stubWorkOrderService) ReorderMilestones(_ context.Context, _ string, _ string, _ []string) ([]workorder.Milestone, error) {
	return s.milestones, s.mErr
}

func (s *stubWorkOrderService) SubmitDelivery(_ context.Context, _ workorder.SubmitDeliveryParams) (workorder.Delivery, error) {
	return s.delivery, s.dErr
}

func (s *stubWorkOrderService) ApproveDelivery(_ context.Context, _ string, _ string) (workorder.Order, error) {
	return s.order, s.orderErr
}

func (s *stubWorkOrderService) RequestRevision(_ context.Context, _ string, _ string, _ string) (workorder.Delivery, error) {
	return s.delivery, s.dErr
}

func (s *stubWorkOrderService) Cancel(_ context.Context, _ string, _ string) (workorder.Order, error) {
	return s.order, s.orderErr
}

func (s *stubWorkOrderService) AcceptDirectRequest(_ context.Context, _ string, _ string) (workorder.Order, error) {
	return s.order, s.orderErr
}

func (s *stubWorkOrderService) DeclineDirectRequest(_ context.Context, _ string, _ string) (project.Project, error) {
	return s.declined, s.declineErr
}

func (s *stubWorkOrderService) GetByID(_ context.Context, _ string, _ string) (workorder.Detail, error) {
	return s.detail, s.detailErr
}

func (s *stubWorkOrderService) GetEscrow(_ context.Context, _ string, _ string) (escrow.Record, error) {
	return s.escrowRec, s.escrowErr
}

func (s *stubWorkOrderService) ListMine(_ context.Context, _ string, _ workorder.ListFilters) ([]workorder.Order, int, error) {
	return []workorder.Order{s.order}, 1, s.orderErr
}

func authedRequest(method, target string, body string, userID string, role auth.Role) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(req.Context(), ctxKeyUserID, userID)
	ctx = context.WithValue(ctx, ctxKeyRole, role)
	return req.WithContext(ctx)
}

func TestHandleProjects_CreateForbidsCreative(t *testing.T) {
	server := &Server{projectService: &stubProjectService{}}

	req := authedRequest(http.MethodPost, "/api/projects", `{"title":"Logo"}`, "user-1", auth.RoleCreative)
	rec := httptest.NewRecorder()

	server.handleProjects(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleProjects_Create(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	server := &Server{projectService: &stubProjectService{
		created: project.Project{ID: "p1", ClientID: "client-1", Title: "Brand video", Status: project.StatusOpen, CreatedAt: now},
	}}

	req := authedRequest(http.MethodPost, "/api/projects", `{"title":"Brand video","budgetType":"fixed"}`, "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleProjects(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp projectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "p1" || resp.Status != "open" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected createdAt %s, got %s", now.Format(time.RFC3339), resp.CreatedAt)
	}
}

func TestHandleProjectDetail_NotFound(t *testing.T) {
	server := &Server{projectService: &stubProjectService{getErr: project.ErrNotFound}}

	req := authedRequest(http.MethodGet, "/api/projects/missing", "", "user-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleProjectDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleProjectDetail_MissingID(t *testing.T) {
	server := &Server{projectService: &stubProjectService{}}

	req := authedRequest(http.MethodGet, "/api/projects/", "", "user-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleProjectDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleProjectApplications_Submit(t *testing.T) {
	server := &Server{applicationService: &stubApplicationService{
		submitted: application.Application{ID: "a1", ProjectID: "p1", CreativeID: "creative-1", Status: application.StatusPending},
	}}

	req := authedRequest(http.MethodPost, "/api/projects/p1/applications", `{"coverLetter":"hi","proposedRate":800}`, "creative-1", auth.RoleCreative)
	rec := httptest.NewRecorder()

	server.handleProjectDetail(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp applicationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "a1" || resp.Status != "pending" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleProjectApplications_SubmitForbidsClient(t *testing.T) {
	server := &Server{applicationService: &stubApplicationService{}}

	req := authedRequest(http.MethodPost, "/api/projects/p1/applications", `{}`, "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleProjectDetail(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleApplicationDetail_Accept(t *testing.T) {
	server := &Server{applicationService: &stubApplicationService{
		acceptResult: application.AcceptResult{
			Application: application.Application{ID: "a1", Status: application.StatusAccepted},
			Order:       workorder.Order{ID: "wo-1", Status: workorder.StatusAwaitingFunding},
		},
	}}

	req := authedRequest(http.MethodPatch, "/api/applications/a1", `{"action":"accept"}`, "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleApplicationDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Application applicationResponse `json:"application"`
		WorkOrder   orderResponse       `json:"workOrder"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Application.Status != "accepted" || payload.WorkOrder.Status != "awaiting_funding" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleApplicationDetail_AcceptRaceLoser(t *testing.T) {
	server := &Server{applicationService: &stubApplicationService{
		acceptErr: application.ErrAlreadyProcessed,
	}}

	req := authedRequest(http.MethodPatch, "/api/applications/a2", `{"action":"accept"}`, "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleApplicationDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleApplicationDetail_UnknownAction(t *testing.T) {
	server := &Server{applicationService: &stubApplicationService{}}

	req := authedRequest(http.MethodPatch, "/api/applications/a1", `{"action":"promote"}`, "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleApplicationDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleWorkOrderDetail_Fund(t *testing.T) {
	server := &Server{workOrderService: &stubWorkOrderService{
		escrowRec: escrow.Record{WorkOrderID: "wo-1", TotalAmount: 2000, FundedAmount: 2000, Status: escrow.StatusFunded},
	}}

	req := authedRequest(http.MethodPost, "/api/workorders/wo-1/fund", "", "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleWorkOrderDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp escrowResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "funded" || resp.FundedAmount != 2000 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleWorkOrderDetail_StartBeforeFunding(t *testing.T) {
	server := &Server{workOrderService: &stubWorkOrderService{
		orderErr: workorder.ErrEscrowNotFunded,
	}}

	req := authedRequest(http.MethodPost, "/api/workorders/wo-1/start", "", "creative-1", auth.RoleCreative)
	rec := httptest.NewRecorder()

	server.handleWorkOrderDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleWorkOrderDetail_SubmitDeliveryConflict(t *testing.T) {
	server := &Server{workOrderService: &stubWorkOrderService{
		dErr: workorder.ErrPendingDeliveryExists,
	}}

	req := authedRequest(http.MethodPost, "/api/workorders/wo-1/deliveries", `{"message":"v2"}`, "creative-1", auth.RoleCreative)
	rec := httptest.NewRecorder()

	server.handleWorkOrderDetail(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleWorkOrderDetail_Forbidden(t *testing.T) {
	server := &Server{workOrderService: &stubWorkOrderService{
		detailErr: workorder.ErrForbidden,
	}}

	req := authedRequest(http.MethodGet, "/api/workorders/wo-1", "", "stranger", auth.RoleCreative)
	rec := httptest.NewRecorder()

	server.handleWorkOrderDetail(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleDeliveryDetail_Approve(t *testing.T) {
	server := &Server{workOrderService: &stubWorkOrderService{
		order: workorder.Order{ID: "wo-1", Status: workorder.StatusCompleted},
	}}

	req := authedRequest(http.MethodPost, "/api/deliveries/d1/approve", "", "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleDeliveryDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "completed" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleDeliveryDetail_RevisionAlreadyProcessed(t *testing.T) {
	server := &Server{workOrderService: &stubWorkOrderService{
		dErr: workorder.ErrAlreadyProcessed,
	}}

	req := authedRequest(http.MethodPost, "/api/deliveries/d1/revision", `{"note":"tweak"}`, "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleDeliveryDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleDeliveryDetail_BadPath(t *testing.T) {
	server := &Server{workOrderService: &stubWorkOrderService{}}

	req := authedRequest(http.MethodPost, "/api/deliveries/d1", "", "client-1", auth.RoleClient)
	rec := httptest.NewRecorder()

	server.handleDeliveryDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRespondServiceError_Unexpected(t *testing.T) {
	server := &Server{}
	rec := httptest.NewRecorder()

	server.respondServiceError(rec, errors.New("boom"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRequireAuth_MissingToken(t *testing.T) {
	server := &Server{}
	handler := server.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a token")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/workorders", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
