// Package api provides the HTTP API of the Shipyard deployment server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/shipyard/internal/core/crypto"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/api/middleware"
	"github.com/artpar/shipyard/internal/shell/api/openapi"
	"github.com/artpar/shipyard/internal/shell/metrics"
	"github.com/artpar/shipyard/internal/shell/progress"
	"github.com/artpar/shipyard/internal/shell/store"
	"github.com/artpar/shipyard/internal/shell/workers"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// =============================================================================
// Handler
// =============================================================================

// Submitter accepts deployment requests for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, req domain.DeploymentRequest) (*domain.Deployment, error)
}

// Config holds the collaborators of the API handler.
type Config struct {
	Store     store.Store
	Submitter Submitter
	Broker    *progress.Broker
	// Metrics is optional; /metrics is not mounted without it.
	Metrics *metrics.Metrics
	// EncryptionKey opens stored admin passwords.
	EncryptionKey []byte
	// AuthSecret enables bearer authentication on /api/v1.
	AuthSecret string
	// Heartbeat is the idle interval of progress streams.
	Heartbeat time.Duration
	Version   string
	BaseURL   string
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	store     store.Store
	submitter Submitter
	broker    *progress.Broker
	metrics   *metrics.Metrics
	key       []byte
	heartbeat time.Duration
	version   string
	auth      *middleware.AuthMiddleware
	openapi   *openapi.Generator
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg Config, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := l.With("component", "api")

	h := &Handler{
		store:     cfg.Store,
		submitter: cfg.Submitter,
		broker:    cfg.Broker,
		metrics:   cfg.Metrics,
		key:       cfg.EncryptionKey,
		heartbeat: cfg.Heartbeat,
		version:   cfg.Version,
		auth:      middleware.NewAuthMiddleware(middleware.AuthConfig{Secret: cfg.AuthSecret, Logger: logger}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	h.openapi = h.newSpec(cfg.BaseURL)
	return h
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Get("/openapi.json", h.openapi.Handler())
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.auth.Handler)

		r.Route("/deployments", func(r chi.Router) {
			r.Post("/", h.handleCreateDeployment)
			r.Get("/", h.handleListDeployments)
			r.Get("/{id}", h.handleGetDeployment)
			r.Delete("/{id}", h.handleDeleteDeployment)
			r.Get("/{id}/events", h.handleDeploymentEvents)
			r.Get("/{id}/ws", h.handleDeploymentWebSocket)
			r.Get("/{id}/credentials", h.handleDeploymentCredentials)
		})
	})

	return r
}

func (h *Handler) newSpec(baseURL string) *openapi.Generator {
	opts := []openapi.Option{
		openapi.WithTitle("Shipyard API"),
		openapi.WithVersion(h.version),
		openapi.WithDescription("Provisions repositories, compute services and DNS for a prepared project directory."),
	}
	if baseURL != "" {
		opts = append(opts, openapi.WithServer(baseURL))
	}
	if h.auth.Enabled() {
		opts = append(opts, openapi.WithBearerAuth())
	}

	g := openapi.NewGenerator(opts...)
	g.RegisterResource(openapi.ResourceInfo{
		Name:           "deployments",
		Model:          DeploymentResponse{},
		CreateModel:    CreateDeploymentRequest{},
		SupportsList:   true,
		SupportsGet:    true,
		SupportsCreate: true,
		SupportsDelete: true,
	})
	g.RegisterAction(openapi.ActionInfo{
		Method:      http.MethodGet,
		Path:        "/deployments/{id}/events",
		OperationID: "streamDeploymentEvents",
		Summary:     "Stream progress events as Server-Sent Events",
		Tag:         "Deployments",
		ContentType: "text/event-stream",
	})
	g.RegisterAction(openapi.ActionInfo{
		Method:      http.MethodGet,
		Path:        "/deployments/{id}/ws",
		OperationID: "streamDeploymentEventsWebSocket",
		Summary:     "Stream progress events over a WebSocket",
		Tag:         "Deployments",
		Response:    domain.ProgressEvent{},
	})
	g.RegisterAction(openapi.ActionInfo{
		Method:      http.MethodGet,
		Path:        "/deployments/{id}/credentials",
		OperationID: "getDeploymentCredentials",
		Summary:     "Get the generated admin credentials",
		Tag:         "Deployments",
		Response:    CredentialsResponse{},
	})
	return g
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := chimiddleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: h.version})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok"}

	if p, ok := h.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", "database", "error", err)
			checks["database"] = "failed"
			h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
				Status: "not_ready",
				Checks: checks,
			})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req CreateDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	appType, err := domain.ParseAppType(req.AppType)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	d, err := h.submitter.Submit(r.Context(), domain.DeploymentRequest{
		ProjectPath:         req.ProjectPath,
		ProjectName:         req.ProjectName,
		AppType:             appType,
		ParentSiteSubdomain: req.ParentSiteSubdomain,
	})
	switch {
	case err == nil:
	case errors.Is(err, workers.ErrDeploymentActive):
		h.writeError(w, http.StatusConflict, err.Error(), "deployment_active")
		return
	case isValidationError(err):
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	default:
		h.logger.Error("failed to submit deployment", "project", req.ProjectName, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to submit deployment", "internal_error")
		return
	}

	w.Header().Set("Location", "/api/v1/deployments/"+d.ID)
	h.writeJSON(w, http.StatusAccepted, deploymentToResponse(d))
}

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid limit", "validation_error")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid offset", "validation_error")
			return
		}
		opts.Offset = n
	}
	opts = opts.Normalize()

	var (
		deployments []domain.Deployment
		err         error
	)
	switch {
	case q.Get("slug") != "":
		deployments, err = h.store.ListDeploymentsBySlug(r.Context(), domain.ProjectSlug(q.Get("slug")), opts)
	case q.Get("status") != "":
		status := domain.DeploymentStatus(q.Get("status"))
		if _, known := knownStatuses[status]; !known {
			h.writeError(w, http.StatusBadRequest, "invalid status", "validation_error")
			return
		}
		deployments, err = h.store.ListDeploymentsByStatus(r.Context(), status, opts)
	default:
		deployments, err = h.store.ListDeployments(r.Context(), opts)
	}
	if err != nil {
		h.logger.Error("failed to list deployments", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list deployments", "internal_error")
		return
	}

	resp := ListDeploymentsResponse{
		Deployments: make([]DeploymentResponse, 0, len(deployments)),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}
	for i := range deployments {
		resp.Deployments = append(resp.Deployments, deploymentToResponse(&deployments[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDeployment(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, deploymentToResponse(d))
}

func (h *Handler) handleDeleteDeployment(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDeployment(w, r)
	if !ok {
		return
	}
	if !d.Status.Terminal() {
		h.writeError(w, http.StatusConflict, "deployment is still "+string(d.Status), "deployment_active")
		return
	}
	if err := h.store.DeleteDeployment(r.Context(), d.ID); err != nil {
		h.logger.Error("failed to delete deployment", "deployment_id", d.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete deployment", "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeploymentCredentials(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDeployment(w, r)
	if !ok {
		return
	}
	if len(d.AdminPasswordEncrypted) == 0 || d.Result == nil || d.Result.Credentials == nil || len(h.key) == 0 {
		h.writeError(w, http.StatusNotFound, "no stored credentials for this deployment", "not_found")
		return
	}

	password, err := crypto.Decrypt(d.AdminPasswordEncrypted, h.key)
	if err != nil {
		h.logger.Error("failed to decrypt admin password", "deployment_id", d.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to read credentials", "internal_error")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusOK, CredentialsResponse{
		Email:    d.Result.Credentials.Email,
		Password: string(password),
	})
}

// =============================================================================
// Progress Streams
// =============================================================================

func (h *Handler) handleDeploymentEvents(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDeployment(w, r)
	if !ok {
		return
	}
	events, err := h.progressEvents(r.Context(), d)
	if err != nil {
		h.logger.Error("failed to load progress history", "deployment_id", d.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to load progress", "internal_error")
		return
	}

	client, err := progress.NewSSEClient(w, h.logger)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}
	if err := progress.Pump(r.Context(), events, client, h.heartbeat); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("progress stream ended", "deployment_id", d.ID, "error", err)
	}
}

func (h *Handler) handleDeploymentWebSocket(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadDeployment(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "deployment_id", d.ID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading processes control frames and notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events, err := h.progressEvents(ctx, d)
	if err != nil {
		h.logger.Error("failed to load progress history", "deployment_id", d.ID, "error", err)
		_ = conn.Close()
		return
	}
	if err := progress.Pump(ctx, events, progress.NewWSClient(conn, h.logger), h.heartbeat); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("progress stream ended", "deployment_id", d.ID, "error", err)
	}
}

// progressEvents returns replay plus live events for d. Runs the broker no
// longer holds are replayed from the store.
func (h *Handler) progressEvents(ctx context.Context, d *domain.Deployment) (<-chan domain.ProgressEvent, error) {
	if h.broker != nil && (h.broker.Known(d.ID) || !d.Status.Terminal()) {
		return h.broker.Subscribe(ctx, d.ID), nil
	}

	history, err := h.store.ListProgressEvents(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	ch := make(chan domain.ProgressEvent, len(history))
	for _, e := range history {
		ch <- e
	}
	close(ch)
	return ch, nil
}

// =============================================================================
// Helpers
// =============================================================================

var knownStatuses = map[domain.DeploymentStatus]struct{}{
	domain.StatusPending:   {},
	domain.StatusRunning:   {},
	domain.StatusSucceeded: {},
	domain.StatusFailed:    {},
}

func (h *Handler) loadDeployment(w http.ResponseWriter, r *http.Request) (*domain.Deployment, bool) {
	id := chi.URLParam(r, "id")
	d, err := h.store.GetDeployment(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "deployment not found", "not_found")
			return nil, false
		}
		h.logger.Error("failed to get deployment", "deployment_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment", "internal_error")
		return nil, false
	}
	return d, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrInvalidAppType) ||
		errors.Is(err, domain.ErrProjectPathRequired) ||
		errors.Is(err, domain.ErrProjectNameRequired) ||
		errors.Is(err, domain.ErrParentSiteRequired)
}
