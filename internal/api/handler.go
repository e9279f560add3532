package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/analytics"
	"github.com/djlord-it/easy-automation/internal/domain"
	"github.com/djlord-it/easy-automation/internal/engine"
	"github.com/djlord-it/easy-automation/internal/filter"
	"github.com/djlord-it/easy-automation/internal/rulefile"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ErrRuleNotFound is returned by Store when a rule does not exist in the
// project.
var ErrRuleNotFound = errors.New("rule not found")

type Store interface {
	GetRuleByID(ctx context.Context, ruleID uuid.UUID) (domain.Rule, error)
	CreateRule(ctx context.Context, rule domain.Rule) error
	ListRules(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]domain.Rule, error)
	ListFirings(ctx context.Context, ruleID uuid.UUID, limit, offset int) ([]domain.Firing, error)
	DeleteRule(ctx context.Context, ruleID, projectID uuid.UUID) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// EventPublisher delivers events to the rule engine. eventbus.Bus implements it.
type EventPublisher interface {
	Emit(ctx context.Context, event domain.DomainEvent) error
}

// RuleReloader rebuilds the rule index after rules change. engine.Runner
// implements it.
type RuleReloader interface {
	Reload(ctx context.Context) error
}

// AnalyticsReader returns a rule's firing counts per window.
// analytics.RedisSink implements it.
type AnalyticsReader interface {
	Series(ctx context.Context, projectID, ruleID uuid.UUID, window time.Duration, end time.Time, n int) ([]analytics.Bucket, error)
}

// Bucket counts accepted by GET /rules/{id}/analytics.
const (
	DefaultBuckets = 12
	MaxBuckets     = 1440
)

// ActionCatalog lists the action types that have a registered handler.
type ActionCatalog interface {
	Types() []domain.ActionType
}

// LeaderStatus reports whether this instance runs the scheduler.
type LeaderStatus interface {
	IsLeader() bool
}

type Handler struct {
	store     Store
	projectID uuid.UUID // single-tenant for now
	db        HealthChecker
	publisher EventPublisher
	reloader  RuleReloader
	leader    LeaderStatus
	analytics AnalyticsReader
	actions   ActionCatalog
	clock     func() time.Time
}

func NewHandler(store Store, projectID uuid.UUID) *Handler {
	return &Handler{store: store, projectID: projectID, clock: time.Now}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithPublisher enables POST /events.
func (h *Handler) WithPublisher(p EventPublisher) *Handler {
	h.publisher = p
	return h
}

// WithActionCatalog rejects rules whose action type has no handler.
func (h *Handler) WithActionCatalog(c ActionCatalog) *Handler {
	h.actions = c
	return h
}

// WithReloader makes rule changes take effect immediately instead of on the
// next periodic refresh.
func (h *Handler) WithReloader(r RuleReloader) *Handler {
	h.reloader = r
	return h
}

// WithLeaderStatus adds leadership to verbose /health responses.
func (h *Handler) WithLeaderStatus(l LeaderStatus) *Handler {
	h.leader = l
	return h
}

// WithAnalytics enables GET /rules/{id}/analytics.
func (h *Handler) WithAnalytics(a AnalyticsReader) *Handler {
	h.analytics = a
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/rules" && r.Method == http.MethodPost:
		h.createRule(w, r)

	case path == "/rules" && r.Method == http.MethodGet:
		h.listRules(w, r)

	case strings.HasSuffix(path, "/firings") && r.Method == http.MethodGet:
		h.listFirings(w, r)

	case strings.HasSuffix(path, "/analytics") && r.Method == http.MethodGet:
		h.ruleAnalytics(w, r)

	case strings.HasPrefix(path, "/rules/") && r.Method == http.MethodDelete:
		h.deleteRule(w, r)

	case path == "/events" && r.Method == http.MethodPost:
		h.publishEvent(w, r)

	case path == "/predicates" && r.Method == http.MethodGet:
		h.predicates(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	if h.leader != nil {
		if h.leader.IsLeader() {
			resp.Components["scheduler"] = "leader"
		} else {
			resp.Components["scheduler"] = "standby"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decodeBody reports a response and false when the body cannot be decoded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.ProjectID != "" && req.ProjectID != h.projectID.String() {
		writeError(w, http.StatusBadRequest, "project_id does not match this instance")
		return
	}
	req.ID = ""

	rule, err := req.Rule(h.projectID, h.clock().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.actions != nil {
		if err := engine.ValidateActionType(rule.Action.Type, h.actions.Types()); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	rule.ID = uuid.New()

	if err := h.store.CreateRule(r.Context(), rule); err != nil {
		log.Printf("api: create rule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	h.reload(r.Context())

	writeJSON(w, http.StatusCreated, ruleResponse(rule))
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rules, err := h.store.ListRules(r.Context(), h.projectID, limit, offset)
	if err != nil {
		log.Printf("api: list rules error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	resp := ListRulesResponse{Rules: make([]RuleResponse, len(rules))}
	for i, rule := range rules {
		resp.Rules[i] = ruleResponse(rule)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listFirings(w http.ResponseWriter, r *http.Request) {
	// Extract rule ID from path: /rules/{id}/firings
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "rules" || parts[2] != "firings" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	ruleID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	firings, err := h.store.ListFirings(r.Context(), ruleID, limit, offset)
	if err != nil {
		log.Printf("api: list firings error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list firings")
		return
	}

	resp := ListFiringsResponse{Firings: make([]FiringResponse, len(firings))}
	for i, f := range firings {
		resp.Firings[i] = FiringResponse{
			ID:          f.ID.String(),
			RuleID:      f.RuleID.String(),
			EventID:     f.EventID.String(),
			EventType:   string(f.EventType),
			Depth:       f.Depth,
			ScheduledAt: formatTime(f.ScheduledAt),
			FiredAt:     formatTime(f.FiredAt),
			Status:      string(f.Status),
			CreatedAt:   formatTime(f.CreatedAt),
		}
		if f.EntityID != uuid.Nil {
			resp.Firings[i].EntityID = f.EntityID.String()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ruleAnalytics returns the most recent firing counts of a rule, one per
// analytics window, oldest first.
func (h *Handler) ruleAnalytics(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "rules" || parts[2] != "analytics" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	ruleID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	n := DefaultBuckets
	if s := r.URL.Query().Get("buckets"); s != "" {
		n, err = strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxBuckets {
			writeError(w, http.StatusBadRequest, "buckets must be between 1 and "+strconv.Itoa(MaxBuckets))
			return
		}
	}

	rule, err := h.store.GetRuleByID(r.Context(), ruleID)
	if errors.Is(err, ErrRuleNotFound) || (err == nil && rule.ProjectID != h.projectID) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		log.Printf("api: get rule id=%s: %v", ruleID, err)
		writeError(w, http.StatusInternalServerError, "failed to load rule")
		return
	}
	if !rule.Analytics.Enabled {
		writeError(w, http.StatusConflict, "analytics not enabled for rule")
		return
	}

	buckets, err := h.analytics.Series(r.Context(), h.projectID, ruleID, rule.Analytics.Window, h.clock(), n)
	if err != nil {
		log.Printf("api: analytics rule=%s: %v", ruleID, err)
		writeError(w, http.StatusServiceUnavailable, "analytics unavailable")
		return
	}

	writeJSON(w, http.StatusOK, RuleAnalyticsResponse{
		RuleID:  ruleID.String(),
		Window:  rule.Analytics.Window.String(),
		Buckets: buckets,
	})
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	// Extract rule ID from path: /rules/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "rules" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	ruleID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := h.store.DeleteRule(r.Context(), ruleID, h.projectID); err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		log.Printf("api: delete rule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	h.reload(r.Context())

	w.WriteHeader(http.StatusNoContent)
}

// publishEvent runs the event through the engine synchronously. Listener
// failures do not undo the mutation the event reports, so they are returned
// as a partial result rather than an error status.
func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req PublishEventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	event, err := buildEvent(req, h.projectID, h.clock().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := PublishEventResponse{EventID: event.ID.String(), Status: "published"}
	if err := h.publisher.Emit(r.Context(), event); err != nil {
		log.Printf("api: publish event_id=%s type=%s: %v", event.ID, event.Type, err)
		resp.Status = "partial"
		resp.Errors = splitErrors(err)
		writeJSON(w, http.StatusMultiStatus, resp)
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) predicates(w http.ResponseWriter, r *http.Request) {
	resp := PredicatesResponse{Predicates: filter.Supported()}
	for _, et := range domain.EventTypes() {
		resp.EventTypes = append(resp.EventTypes, string(et))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) reload(ctx context.Context) {
	if h.reloader == nil {
		return
	}
	if err := h.reloader.Reload(ctx); err != nil {
		log.Printf("api: reload rules error: %v", err)
	}
}

func ruleResponse(rule domain.Rule) RuleResponse {
	resp := RuleResponse{
		RuleDocument: rulefile.Document(rule),
		CreatedAt:    formatTime(rule.CreatedAt),
	}
	if rule.LastEvaluatedAt != nil {
		resp.LastEvaluatedAt = formatTime(*rule.LastEvaluatedAt)
	}
	return resp
}

// splitErrors flattens a joined error into its messages.
func splitErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
