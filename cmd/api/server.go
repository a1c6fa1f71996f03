package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gigflow/application"
	"gigflow/auth"
	"gigflow/escrow"
	"gigflow/project"
	"gigflow/workorder"

	"go.uber.org/zap"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type projectService interface {
	Create(ctx context.Context, params project.CreateParams) (project.Project, error)
	GetByID(ctx context.Context, id string) (project.Project, error)
	List(ctx context.Context, filters project.Filters) ([]project.Project, int, error)
	Cancel(ctx context.Context, projectID, actorID string) (project.Project, error)
}

type applicationService interface {
	Submit(ctx context.Context, params application.SubmitParams) (application.Application, error)
	MarkViewed(ctx context.Context, applicationID, callerID string) (application.Application, error)
	Shortlist(ctx context.Context, applicationID, callerID string) (application.Application, error)
	Accept(ctx context.Context, applicationID, callerID string) (application.AcceptResult, error)
	Decline(ctx context.Context, applicationID, callerID string) (application.Application, error)
	ListForProject(ctx context.Context, projectID, callerID string) ([]application.Application, error)
	ListMine(ctx context.Context, creativeID, cursor string, limit int) (application.Page, error)
	GetByID(ctx context.Context, applicationID, callerID string) (application.Application, error)
}

type workOrderService interface {
	FundEscrow(ctx context.Context, workOrderID, callerID string) (escrow.Record, error)
	Start(ctx context.Context, workOrderID, callerID string) (workorder.Order, error)
	AddMilestone(ctx context.Context, workOrderID, callerID, title string, amount int64) (workorder.Milestone, error)
	UpdateMilestone(ctx context.Context, workOrderID, milestoneID, callerID string, title *string, amount *int64) (workorder.Milestone, error)
	ReorderMilestones(ctx context.Context, workOrderID, callerID string, ids []string) ([]workorder.Milestone, error)
	SubmitDelivery(ctx context.Context, params workorder.SubmitDeliveryParams) (workorder.Delivery, error)
	ApproveDelivery(ctx context.Context, deliveryID, callerID string) (workorder.Order, error)
	RequestRevision(ctx context.Context, deliveryID, callerID, note string) (workorder.Delivery, error)
	Cancel(ctx context.Context, workOrderID, callerID string) (workorder.Order, error)
	AcceptDirectRequest(ctx context.Context, projectID, callerID string) (workorder.Order, error)
	DeclineDirectRequest(ctx context.Context, projectID, callerID string) (project.Project, error)
	GetByID(ctx context.Context, workOrderID, callerID string) (workorder.Detail, error)
	GetEscrow(ctx context.Context, workOrderID, callerID string) (escrow.Record, error)
	ListMine(ctx context.Context, callerID string, filters workorder.ListFilters) ([]workorder.Order, int, error)
}

// Server wires HTTP routes to the domain services.
type Server struct {
	authService        authService
	projectService     projectService
	applicationService applicationService
	workOrderService   workOrderService
	logger             *zap.Logger
}

func (s *Server) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/projects", s.requireAuth(s.handleProjects))
	mux.HandleFunc("/api/projects/", s.requireAuth(s.handleProjectDetail))
	mux.HandleFunc("/api/applications", s.requireAuth(s.handleApplications))
	mux.HandleFunc("/api/applications/", s.requireAuth(s.handleApplicationDetail))
	mux.HandleFunc("/api/workorders", s.requireAuth(s.handleWorkOrders))
	mux.HandleFunc("/api/workorders/", s.requireAuth(s.handleWorkOrderDetail))
	mux.HandleFunc("/api/deliveries/", s.requireAuth(s.handleDeliveryDetail))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func callerRole(r *http.Request) auth.Role {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return role
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

type projectResponse struct {
	ID               string  `json:"id"`
	ClientID         string  `json:"clientId"`
	Title            string  `json:"title"`
	BudgetType       string  `json:"budgetType"`
	BudgetMin        *int64  `json:"budgetMin,omitempty"`
	BudgetMax        *int64  `json:"budgetMax,omitempty"`
	Status           string  `json:"status"`
	IsDirect         bool    `json:"isDirect"`
	TargetCreativeID *string `json:"targetCreativeId,omitempty"`
	Deadline         *string `json:"deadline,omitempty"`
	CreatedAt        string  `json:"createdAt"`
}

func toProjectResponse(p project.Project) projectResponse {
	resp := projectResponse{
		ID:               p.ID,
		ClientID:         p.ClientID,
		Title:            p.Title,
		BudgetType:       string(p.BudgetType),
		BudgetMin:        p.BudgetMin,
		BudgetMax:        p.BudgetMax,
		Status:           string(p.Status),
		IsDirect:         p.IsDirect,
		TargetCreativeID: p.TargetCreativeID,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
	}
	if p.Deadline != nil {
		d := p.Deadline.Format(time.RFC3339)
		resp.Deadline = &d
	}
	return resp
}

type createProjectRequest struct {
	Title            string  `json:"title"`
	BudgetType       string  `json:"budgetType"`
	BudgetMin        *int64  `json:"budgetMin"`
	BudgetMax        *int64  `json:"budgetMax"`
	IsDirect         bool    `json:"isDirect"`
	TargetCreativeID *string `json:"targetCreativeId"`
	Deadline         *string `json:"deadline"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		pageSize, _ := strconv.Atoi(q.Get("pageSize"))
		projects, total, err := s.projectService.List(r.Context(), project.Filters{
			ClientID:   q.Get("clientId"),
			Status:     project.Status(q.Get("status")),
			BudgetType: project.BudgetType(q.Get("budgetType")),
			Page:       page,
			PageSize:   pageSize,
		})
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		items := make([]projectResponse, 0, len(projects))
		for _, p := range projects {
			items = append(items, toProjectResponse(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})

	case http.MethodPost:
		if callerRole(r) != auth.RoleClient {
			writeError(w, http.StatusForbidden, "only clients may post projects")
			return
		}
		var req createProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		params := project.CreateParams{
			ClientID:         callerID(r),
			Title:            req.Title,
			BudgetType:       project.BudgetType(req.BudgetType),
			BudgetMin:        req.BudgetMin,
			BudgetMax:        req.BudgetMax,
			IsDirect:         req.IsDirect,
			TargetCreativeID: req.TargetCreativeID,
		}
		if req.Deadline != nil {
			deadline, err := time.Parse(time.RFC3339, *req.Deadline)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid deadline")
				return
			}
			params.Deadline = &deadline
		}
		created, err := s.projectService.Create(r.Context(), params)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toProjectResponse(created))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleProjectDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "missing project id")
		return
	}
	projectID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			p, err := s.projectService.GetByID(r.Context(), projectID)
			if err != nil {
				s.respondServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toProjectResponse(p))
		case http.MethodDelete:
			p, err := s.projectService.Cancel(r.Context(), projectID, callerID(r))
			if err != nil {
				s.respondServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toProjectResponse(p))
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch parts[1] {
	case "applications":
		s.handleProjectApplications(w, r, projectID)
	case "accept":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		order, err := s.workOrderService.AcceptDirectRequest(r.Context(), projectID, callerID(r))
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toOrderResponse(order))
	case "decline":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		p, err := s.workOrderService.DeclineDirectRequest(r.Context(), projectID, callerID(r))
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toProjectResponse(p))
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type applicationResponse struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"projectId"`
	CreativeID   string  `json:"creativeId"`
	CoverLetter  string  `json:"coverLetter"`
	ProposedRate *int64  `json:"proposedRate,omitempty"`
	Timeline     *string `json:"timeline,omitempty"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"createdAt"`
}

func toApplicationResponse(a application.Application) applicationResponse {
	return applicationResponse{
		ID:           a.ID,
		ProjectID:    a.ProjectID,
		CreativeID:   a.CreativeID,
		CoverLetter:  a.CoverLetter,
		ProposedRate: a.ProposedRate,
		Timeline:     a.Timeline,
		Status:       string(a.Status),
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
}

type submitApplicationRequest struct {
	CoverLetter  string  `json:"coverLetter"`
	ProposedRate *int64  `json:"proposedRate"`
	Timeline     *string `json:"timeline"`
}

func (s *Server) handleProjectApplications(w http.ResponseWriter, r *http.Request, projectID string) {
	switch r.Method {
	case http.MethodGet:
		apps, err := s.applicationService.ListForProject(r.Context(), projectID, callerID(r))
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		items := make([]applicationResponse, 0, len(apps))
		for _, a := range apps {
			items = append(items, toApplicationResponse(a))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case http.MethodPost:
		if callerRole(r) != auth.RoleCreative {
			writeError(w, http.StatusForbidden, "only creatives may apply")
			return
		}
		var req submitApplicationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		app, err := s.applicationService.Submit(r.Context(), application.SubmitParams{
			ProjectID:    projectID,
			CreativeID:   callerID(r),
			CoverLetter:  req.CoverLetter,
			ProposedRate: req.ProposedRate,
			Timeline:     req.Timeline,
		})
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toApplicationResponse(app))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleApplications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, err := s.applicationService.ListMine(r.Context(), callerID(r), q.Get("cursor"), limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	items := make([]applicationResponse, 0, len(page.Items))
	for _, a := range page.Items {
		items = append(items, toApplicationResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": page.NextCursor})
}

func (s *Server) handleApplicationDetail(w http.ResponseWriter, r *http.Request) {
	applicationID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/applications/"), "/")
	if applicationID == "" || strings.Contains(applicationID, "/") {
		writeError(w, http.StatusBadRequest, "missing application id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		app, err := s.applicationService.GetByID(r.Context(), applicationID, callerID(r))
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toApplicationResponse(app))

	case http.MethodPatch:
		var req struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		switch req.Action {
		case "viewed":
			app, err := s.applicationService.MarkViewed(r.Context(), applicationID, callerID(r))
			if err != nil {
				s.respondServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toApplicationResponse(app))
		case "shortlist":
			app, err := s.applicationService.Shortlist(r.Context(), applicationID, callerID(r))
			if err != nil {
				s.respondServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toApplicationResponse(app))
		case "accept":
			result, err := s.applicationService.Accept(r.Context(), applicationID, callerID(r))
			if err != nil {
				s.respondServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"application": toApplicationResponse(result.Application),
				"workOrder":   toOrderResponse(result.Order),
			})
		case "decline":
			app, err := s.applicationService.Decline(r.Context(), applicationID, callerID(r))
			if err != nil {
				s.respondServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toApplicationResponse(app))
		default:
			writeError(w, http.StatusBadRequest, "unknown action")
		}

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type orderResponse struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"projectId"`
	ClientID         string  `json:"clientId"`
	CreativeID       string  `json:"creativeId"`
	AgreedRate       int64   `json:"agreedRate"`
	AgreedBudgetType string  `json:"agreedBudgetType"`
	Status           string  `json:"status"`
	StartDate        *string `json:"startDate,omitempty"`
	CompletedAt      *string `json:"completedAt,omitempty"`
	Deadline         *string `json:"deadline,omitempty"`
	CreatedAt        string  `json:"createdAt"`
}

func toOrderResponse(o workorder.Order) orderResponse {
	resp := orderResponse{
		ID:               o.ID,
		ProjectID:        o.ProjectID,
		ClientID:         o.ClientID,
		CreativeID:       o.CreativeID,
		AgreedRate:       o.AgreedRate,
		AgreedBudgetType: string(o.AgreedBudgetType),
		Status:           string(o.Status),
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
	}
	if o.StartDate != nil {
		v := o.StartDate.Format(time.RFC3339)
		resp.StartDate = &v
	}
	if o.CompletedAt != nil {
		v := o.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	if o.Deadline != nil {
		v := o.Deadline.Format(time.RFC3339)
		resp.Deadline = &v
	}
	return resp
}

type milestoneResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Amount   int64  `json:"amount"`
	Position int    `json:"position"`
	Status   string `json:"status"`
}

func toMilestoneResponse(m workorder.Milestone) milestoneResponse {
	return milestoneResponse{
		ID:       m.ID,
		Title:    m.Title,
		Amount:   m.Amount,
		Position: m.Position,
		Status:   string(m.Status),
	}
}

type deliveryResponse struct {
	ID           string   `json:"id"`
	WorkOrderID  string   `json:"workOrderId"`
	MilestoneID  *string  `json:"milestoneId,omitempty"`
	Message      string   `json:"message"`
	Attachments  []string `json:"attachments"`
	Status       string   `json:"status"`
	RevisionNote *string  `json:"revisionNote,omitempty"`
	CreatedAt    string   `json:"createdAt"`
}

func toDeliveryResponse(d workorder.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:           d.ID,
		WorkOrderID:  d.WorkOrderID,
		MilestoneID:  d.MilestoneID,
		Message:      d.Message,
		Attachments:  d.Attachments,
		Status:       string(d.Status),
		RevisionNote: d.RevisionNote,
		CreatedAt:    d.CreatedAt.Format(time.RFC3339),
	}
}

type escrowResponse struct {
	WorkOrderID    string `json:"workOrderId"`
	TotalAmount    int64  `json:"totalAmount"`
	FundedAmount   int64  `json:"fundedAmount"`
	ReleasedAmount int64  `json:"releasedAmount"`
	Status         string `json:"status"`
}

func toEscrowResponse(rec escrow.Record) escrowResponse {
	return escrowResponse{
		WorkOrderID:    rec.WorkOrderID,
		TotalAmount:    rec.TotalAmount,
		FundedAmount:   rec.FundedAmount,
		ReleasedAmount: rec.ReleasedAmount,
		Status:         string(rec.Status),
	}
}

func (s *Server) handleWorkOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	orders, total, err := s.workOrderService.ListMine(r.Context(), callerID(r), workorder.ListFilters{
		Status:   workorder.Status(q.Get("status")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (s *Server) handleWorkOrderDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/workorders/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "missing work order id")
		return
	}
	workOrderID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		detail, err := s.workOrderService.GetByID(r.Context(), workOrderID, callerID(r))
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		milestones := make([]milestoneResponse, 0, len(detail.Milestones))
		for _, m := range detail.Milestones {
			milestones = append(milestones, toMilestoneResponse(m))
		}
		deliveries := make([]deliveryResponse, 0, len(detail.Deliveries))
		for _, d := range detail.Deliveries {
			deliveries = append(deliveries, toDeliveryResponse(d))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"workOrder":  toOrderResponse(detail.Order),
			"milestones": milestones,
			"deliveries": deliveries,
		})
		return
	}

	switch parts[1] {
	case "fund":
		s.postOnly(w, r, func() (any, error) {
			rec, err := s.workOrderService.FundEscrow(r.Context(), workOrderID, callerID(r))
			return toEscrowResponse(rec), err
		})
	case "start":
		s.postOnly(w, r, func() (any, error) {
			order, err := s.workOrderService.Start(r.Context(), workOrderID, callerID(r))
			return toOrderResponse(order), err
		})
	case "cancel":
		s.postOnly(w, r, func() (any, error) {
			order, err := s.workOrderService.Cancel(r.Context(), workOrderID, callerID(r))
			return toOrderResponse(order), err
		})
	case "escrow":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rec, err := s.workOrderService.GetEscrow(r.Context(), workOrderID, callerID(r))
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEscrowResponse(rec))
	case "milestones":
		s.handleMilestones(w, r, workOrderID, parts[2:])
	case "deliveries":
		s.handleSubmitDelivery(w, r, workOrderID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) postOnly(w http.ResponseWriter, r *http.Request, fn func() (any, error)) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	payload, err := fn()
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

type milestoneRequest struct {
	Title  *string `json:"title"`
	Amount *int64  `json:"amount"`
}

func (s *Server) handleMilestones(w http.ResponseWriter, r *http.Request, workOrderID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var req milestoneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		title := ""
		if req.Title != nil {
			title = *req.Title
		}
		amount := int64(0)
		if req.Amount != nil {
			amount = *req.Amount
		}
		m, err := s.workOrderService.AddMilestone(r.Context(), workOrderID, callerID(r), title, amount)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toMilestoneResponse(m))

	case len(rest) == 0 && r.Method == http.MethodPut:
		var req struct {
			Order []string `json:"order"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		milestones, err := s.workOrderService.ReorderMilestones(r.Context(), workOrderID, callerID(r), req.Order)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		items := make([]milestoneResponse, 0, len(milestones))
		for _, m := range milestones {
			items = append(items, toMilestoneResponse(m))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case len(rest) == 1 && r.Method == http.MethodPatch:
		var req milestoneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		m, err := s.workOrderService.UpdateMilestone(r.Context(), workOrderID, rest[0], callerID(r), req.Title, req.Amount)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toMilestoneResponse(m))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type submitDeliveryRequest struct {
	MilestoneID *string  `json:"milestoneId"`
	Message     string   `json:"message"`
	Attachments []string `json:"attachments"`
}

func (s *Server) handleSubmitDelivery(w http.ResponseWriter, r *http.Request, workOrderID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req submitDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	d, err := s.workOrderService.SubmitDelivery(r.Context(), workorder.SubmitDeliveryParams{
		WorkOrderID: workOrderID,
		CallerID:    callerID(r),
		MilestoneID: req.MilestoneID,
		Message:     req.Message,
		Attachments: req.Attachments,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeliveryResponse(d))
}

func (s *Server) handleDeliveryDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/deliveries/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "missing delivery id")
		return
	}
	deliveryID := parts[0]

	switch parts[1] {
	case "approve":
		s.postOnly(w, r, func() (any, error) {
			order, err := s.workOrderService.ApproveDelivery(r.Context(), deliveryID, callerID(r))
			return toOrderResponse(order), err
		})
	case "revision":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req struct {
			Note string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		d, err := s.workOrderService.RequestRevision(r.Context(), deliveryID, callerID(r), req.Note)
		if err != nil {
			s.respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDeliveryResponse(d))
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// respondServiceError maps domain sentinel errors to HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, application.ErrDuplicate),
		errors.Is(err, workorder.ErrPendingDeliveryExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, project.ErrNotFound),
		errors.Is(err, application.ErrNotFound),
		errors.Is(err, workorder.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, project.ErrForbidden),
		errors.Is(err, application.ErrForbidden),
		errors.Is(err, workorder.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, project.ErrInvalidState),
		errors.Is(err, application.ErrProjectClosed),
		errors.Is(err, application.ErrAlreadyProcessed),
		errors.Is(err, workorder.ErrInvalidState),
		errors.Is(err, workorder.ErrAlreadyProcessed),
		errors.Is(err, workorder.ErrEscrowNotFunded),
		errors.Is(err, escrow.ErrInvalidTransition),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log().Error("unhandled service error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
