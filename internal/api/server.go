package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"bulk-operations-engine/internal/config"
	"bulk-operations-engine/internal/directory"
	"bulk-operations-engine/internal/httperr"
	"bulk-operations-engine/internal/models"
	"bulk-operations-engine/internal/notify"
	"bulk-operations-engine/internal/ratelimit"
	"bulk-operations-engine/internal/stats"
	"bulk-operations-engine/internal/store"
	"bulk-operations-engine/internal/telemetry"
)

// OperationStore is the repository surface the API needs.
type OperationStore interface {
	CreateOperation(ctx context.Context, p store.CreateOperationParams) (models.BulkOperation, error)
	GetOperation(ctx context.Context, id string) (models.BulkOperation, error)
	UpdateOperation(ctx context.Context, id string, u store.OperationUpdate) error
	ListRecent(ctx context.Context, orgID string, windowDays, limit int) ([]models.BulkOperation, error)
}

// Directory resolves organizations, users, memberships, and clients.
type Directory interface {
	ResolveOrganization(ctx context.Context, idOrAlias string) (models.Organization, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	IsMember(ctx context.Context, orgID, userID string) (bool, error)
	ListClients(ctx context.Context, orgID string) ([]models.Client, error)
	GetClients(ctx context.Context, ids []string) ([]models.Client, error)
}

// QueueProducer hands accepted operations to the worker.
type QueueProducer interface {
	Enqueue(ctx context.Context, operationID string, runAt time.Time) error
	Remove(ctx context.Context, operationID string) error
}

// RateLimiter guards operation creation per organization.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the bulk-operations API.
type Server struct {
	cfg      config.Config
	store    OperationStore
	dir      Directory
	queue    QueueProducer
	planner  *notify.Planner
	stats    *stats.Aggregator
	limiter  RateLimiter
	validate *validator.Validate
	log      *slog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st OperationStore, dir Directory, q QueueProducer,
	planner *notify.Planner, agg *stats.Aggregator, limiter RateLimiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		dir:      dir,
		queue:    q,
		planner:  planner,
		stats:    agg,
		limiter:  limiter,
		validate: validator.New(),
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/bulk-operations", s.handleOverview)
	r.Post("/bulk-operations", s.handleCreate)
	r.Patch("/bulk-operations", s.handleControl)
	r.Get("/bulk-operations/{id}", s.handleGet)
	return r
}

// caller resolves the requesting identity and its standing in the
// organization. Lookups are read-only.
func (s *Server) caller(r *http.Request, orgIDOrAlias string) (models.User, models.Organization, error) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return models.User{}, models.Organization{}, httperr.Unauthorized()
	}
	org, err := s.dir.ResolveOrganization(r.Context(), orgIDOrAlias)
	if err != nil {
		return models.User{}, models.Organization{}, err
	}
	user, err := s.dir.GetUser(r.Context(), userID)
	if err != nil {
		return models.User{}, models.Organization{}, err
	}
	member, err := s.dir.IsMember(r.Context(), org.ID, user.ID)
	if err != nil {
		return models.User{}, models.Organization{}, err
	}
	if !member {
		return models.User{}, models.Organization{}, httperr.Forbidden("Not a member of this organization")
	}
	return user, org, nil
}

type overviewResponse struct {
	AvailableClients   []models.Client                  `json:"availableClients"`
	BulkOperationTypes []models.OperationTypeDescriptor `json:"bulkOperationTypes"`
	RecentOperations   []models.BulkOperation           `json:"recentOperations"`
	OperationStats     stats.Stats                      `json:"operationStats"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	orgParam := r.URL.Query().Get("organizationId")
	if orgParam == "" {
		s.renderErr(w, r, httperr.BadRequest("Organization ID required"))
		return
	}
	// The operation query param ("content", "approvals", "scheduling") is
	// accepted for dashboard deep links but does not change the payload.
	_, org, err := s.caller(r, orgParam)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}

	clients, err := s.dir.ListClients(r.Context(), org.ID)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}
	recent, err := s.store.ListRecent(r.Context(), org.ID, s.cfg.RecentWindowDays, s.cfg.RecentLimit)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}
	opStats, err := s.stats.ForOrganization(r.Context(), org.ID, time.Now())
	if err != nil {
		s.renderErr(w, r, err)
		return
	}

	if clients == nil {
		clients = []models.Client{}
	}
	if recent == nil {
		recent = []models.BulkOperation{}
	}
	render.JSON(w, r, overviewResponse{
		AvailableClients:   clients,
		BulkOperationTypes: models.OperationTypes(),
		RecentOperations:   recent,
		OperationStats:     opStats,
	})
}

type createRequest struct {
	OperationType  string         `json:"operationType" validate:"required"`
	ClientIDs      []string       `json:"clientIds" validate:"required,min=1"`
	ItemIDs        []string       `json:"itemIds"`
	Parameters     map[string]any `json:"parameters"`
	OrganizationID string         `json:"organizationId" validate:"required"`
	ScheduledFor   *time.Time     `json:"scheduledFor"`
}

type progressBlock struct {
	Percentage     int    `json:"percentage"`
	CurrentStep    string `json:"currentStep"`
	ItemsProcessed int    `json:"itemsProcessed"`
	ItemsTotal     int    `json:"itemsTotal"`
}

type createResponse struct {
	Success           bool           `json:"success"`
	OperationID       string         `json:"operationId"`
	OperationType     string         `json:"operationType"`
	Status            string         `json:"status"`
	ClientsAffected   []string       `json:"clientsAffected"`
	ItemsToProcess    int            `json:"itemsToProcess"`
	EstimatedDuration string         `json:"estimatedDuration"`
	StartedAt         time.Time      `json:"startedAt"`
	ScheduledFor      *time.Time     `json:"scheduledFor,omitempty"`
	Parameters        map[string]any `json:"parameters"`
	Progress          progressBlock  `json:"progress"`
	Notifications     notify.Plan    `json:"notifications"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		s.renderErr(w, r, httperr.BadRequest("Invalid JSON body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.renderErr(w, r, httperr.BadRequest("Missing required fields: operationType, clientIds (array), organizationId"))
		return
	}
	if !models.ValidType(req.OperationType) {
		s.renderErr(w, r, httperr.BadRequest("Unknown operationType: "+req.OperationType))
		return
	}

	user, org, err := s.caller(r, req.OrganizationID)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), ratelimit.OrgKey(org.ID))
		if err != nil {
			s.log.Error("rate limiter", "err", err)
			s.renderErr(w, r, httperr.Internal())
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			s.renderErr(w, r, httperr.TooManyRequests())
			return
		}
	}

	op, err := s.store.CreateOperation(r.Context(), store.CreateOperationParams{
		Type:           req.OperationType,
		OrganizationID: org.ID,
		ExecutedBy:     user.ID,
		ClientIDs:      req.ClientIDs,
		ItemIDs:        req.ItemIDs,
		Parameters:     req.Parameters,
		ScheduledFor:   req.ScheduledFor,
	})
	if err != nil {
		s.renderErr(w, r, err)
		return
	}

	runAt := time.Now()
	if op.ScheduledFor != nil {
		runAt = *op.ScheduledFor
	}
	if err := s.queue.Enqueue(r.Context(), op.ID, runAt); err != nil {
		s.log.Error("enqueue operation", "operation_id", op.ID, "err", err)
		_ = s.store.UpdateOperation(r.Context(), op.ID, store.OperationUpdate{
			Status:      store.Str(models.StatusFailed),
			CurrentStep: store.Str("Operation failed"),
			Error:       store.Str("could not queue operation"),
			CompletedAt: nowPtr(),
		})
		s.renderErr(w, r, httperr.Internal())
		return
	}
	telemetry.OperationsCreated.Inc()

	// The operation is already accepted and queued; a failed client
	// lookup must not turn the request into an error.
	plan, err := s.planner.Plan(r.Context(), op.ClientIDs)
	if err != nil {
		s.log.Error("notification plan", "operation_id", op.ID, "err", err)
		plan = s.planner.Fallback(op.ClientIDs)
	}

	s.log.Info("bulk operation accepted", "operation_id", op.ID, "type", op.Type,
		"organization_id", org.ID, "clients", len(op.ClientIDs), "items", len(op.ItemIDs))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, createResponse{
		Success:           true,
		OperationID:       op.ID,
		OperationType:     op.Type,
		Status:            op.Status,
		ClientsAffected:   op.ClientIDs,
		ItemsToProcess:    len(op.ItemIDs),
		EstimatedDuration: op.EstimatedDuration,
		StartedAt:         op.StartedAt,
		ScheduledFor:      op.ScheduledFor,
		Parameters:        op.Parameters,
		Progress: progressBlock{
			Percentage:     0,
			CurrentStep:    op.CurrentStep,
			ItemsProcessed: 0,
			ItemsTotal:     len(op.ItemIDs),
		},
		Notifications: plan,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	orgParam := r.URL.Query().Get("organizationId")
	if orgParam == "" {
		s.renderErr(w, r, httperr.BadRequest("Organization ID required"))
		return
	}
	_, org, err := s.caller(r, orgParam)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}

	op, err := s.store.GetOperation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.renderErr(w, r, err)
		return
	}
	if op.OrganizationID != org.ID {
		// Do not reveal operations of other organizations.
		s.renderErr(w, r, httperr.NotFound("Operation"))
		return
	}
	render.JSON(w, r, op)
}

func (s *Server) renderErr(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *httperr.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, directory.ErrOrganizationNotFound):
		apiErr = httperr.NotFound("Organization")
	case errors.Is(err, directory.ErrUserNotFound):
		apiErr = httperr.NotFound("User")
	case errors.Is(err, store.ErrNotFound):
		apiErr = httperr.NotFound("Operation")
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		apiErr = httperr.Internal()
	}
	_ = render.Render(w, r, apiErr)
}

func nowPtr() *time.Time {
	now := time.Now().UTC()
	return &now
}
