package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clickshield/kestrel/internal/aggregate"
	"github.com/clickshield/kestrel/internal/domain"
	"github.com/clickshield/kestrel/internal/pipeline"
	"github.com/clickshield/kestrel/internal/report"
	"github.com/clickshield/kestrel/internal/reputation"
	"github.com/clickshield/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	pipe         *pipeline.Pipeline
	reports      *report.Generator
	reputation   *reputation.Store
	aggregator   *aggregate.Aggregator
	customEngine *rules.CustomEngine
	repo         domain.Repository
	cache        domain.Cache
	validate     *validator.Validate
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(
	pipe *pipeline.Pipeline,
	reports *report.Generator,
	repStore *reputation.Store,
	aggregator *aggregate.Aggregator,
	customEngine *rules.CustomEngine,
	repo domain.Repository,
	cache domain.Cache,
	version string,
) *Handler {
	return &Handler{
		pipe:         pipe,
		reports:      reports,
		reputation:   repStore,
		aggregator:   aggregator,
		customEngine: customEngine,
		repo:         repo,
		cache:        cache,
		validate:     validator.New(),
		version:      version,
	}
}

// ClickEventRequest is the request body for POST /collect.
// SourceIP may be the literal "auto", in which case the connection's
// real IP is substituted. The short field names "ip" and "url" are
// accepted as aliases for sourceIp and pageUrl, and an optional RFC 3339
// "timestamp" backdates the click; absent, the server stamps receipt time.
type ClickEventRequest struct {
	SnippetID  string `json:"snippetId" validate:"required"`
	CampaignID string `json:"campaignId,omitempty"`
	SourceIP   string `json:"sourceIp"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"userAgent"`
	Referrer   string `json:"referrer,omitempty"`
	PageURL    string `json:"pageUrl,omitempty" validate:"omitempty,url"`
	URL        string `json:"url,omitempty" validate:"omitempty,url"`
	Timestamp  string `json:"timestamp,omitempty"`

	ScreenResolution *string `json:"screenResolution,omitempty"`
	Language         *string `json:"language,omitempty"`
	TimeOnSiteMs     *int64  `json:"timeOnSiteMs,omitempty" validate:"omitempty,gte=0"`
	MouseMovement    *bool   `json:"mouseMovement,omitempty"`

	IsAdClick bool `json:"isAdClick,omitempty"`
}

// normalize folds the alias fields into the canonical ones. The canonical
// name wins when both are present.
func (req *ClickEventRequest) normalize() {
	if req.SourceIP == "" {
		req.SourceIP = req.IP
	}
	if req.PageURL == "" {
		req.PageURL = req.URL
	}
}

// Collect handles POST /collect requests from the collection snippet.
// The response never leaks scores, reasons, or internal errors: the
// snippet only learns whether the click was blocked.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ClickEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	req.normalize()

	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationMessage(err),
		})
		return
	}

	sourceIP := req.SourceIP
	if sourceIP == "auto" {
		sourceIP = remoteIP(r)
	}
	if net.ParseIP(sourceIP) == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "sourceIp must be a valid IP address or \"auto\"",
		})
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "timestamp must be RFC 3339",
			})
			return
		}
		ts = parsed.UTC()
	}

	event := &domain.ClickEvent{
		SnippetID:        req.SnippetID,
		CampaignID:       req.CampaignID,
		SourceIP:         sourceIP,
		UserAgent:        req.UserAgent,
		Referrer:         req.Referrer,
		PageURL:          req.PageURL,
		Timestamp:        ts,
		ScreenResolution: req.ScreenResolution,
		Language:         req.Language,
		TimeOnSiteMs:     req.TimeOnSiteMs,
		MouseMovement:    req.MouseMovement,
		IsAdClickHint:    req.IsAdClick,
	}

	click, err := h.pipe.Process(ctx, event)
	if err != nil {
		// Persistence failures are logged but never block the decision.
		slog.Error("click side effects failed",
			"click_id", click.ID,
			"error", err,
		)
	}

	resp := domain.CollectResponse{
		Blocked: click.Fraudulent(),
		Message: "recorded",
	}
	if resp.Blocked {
		resp.Message = "blocked"
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetReport handles GET /reports/{campaignID}?from=&to=.
// Returns JSON by default; ?format=csv or Accept: text/csv returns the
// flat tabular export.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaignID := chi.URLParam(r, "campaignID")

	if campaignID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "campaign id is required",
		})
		return
	}

	from, to, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	rep, err := h.reports.Generate(ctx, campaignID, from, to)
	if err != nil {
		slog.Error("report generation failed",
			"campaign_id", campaignID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "report generation failed",
		})
		return
	}

	if wantsCSV(r) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "fraud-report-"+campaignID+".csv"))
		if err := report.WriteCSV(w, rep); err != nil {
			slog.Error("csv export failed", "campaign_id", campaignID, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// GetAggregate handles GET /aggregates/{campaignID}.
func (h *Handler) GetAggregate(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	if campaignID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "campaign id is required",
		})
		return
	}

	agg := h.aggregator.Snapshot(r.Context(), campaignID)
	writeJSON(w, http.StatusOK, agg)
}

// GetClick handles GET /clicks/{clickID}: the full scored record for a
// single click, used when auditing an individual decision.
func (h *Handler) GetClick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clickID := chi.URLParam(r, "clickID")

	click, err := h.repo.GetScoredClick(ctx, clickID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "click not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get scored click", "click_id", clickID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to read click",
		})
		return
	}

	writeJSON(w, http.StatusOK, click)
}

// SetReputationRequest is the request body for PUT /reputation/{ip}.
type SetReputationRequest struct {
	Status domain.ListStatus `json:"status" validate:"required"`
}

// SetReputation handles PUT /reputation/{ip} (admin allow/deny).
// Idempotent: setting an IP to its current status is a no-op.
func (h *Handler) SetReputation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := chi.URLParam(r, "ip")

	if net.ParseIP(ip) == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid IP address",
		})
		return
	}

	var req SetReputationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.reputation.SetStatus(ctx, ip, req.Status); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to set reputation", "ip", ip, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update reputation",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ip":     ip,
		"status": string(req.Status),
	})
}

// GetReputation handles GET /reputation/{ip}.
func (h *Handler) GetReputation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := chi.URLParam(r, "ip")

	if net.ParseIP(ip) == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid IP address",
		})
		return
	}

	rec, err := h.repo.GetReputation(ctx, ip)
	if errors.Is(err, domain.ErrNotFound) {
		// Unknown IPs read as status none rather than 404: the admin
		// boundary treats reputation as total over the IP space.
		writeJSON(w, http.StatusOK, &domain.ReputationRecord{
			IP:         ip,
			ListStatus: domain.ListStatusNone,
		})
		return
	}
	if err != nil {
		slog.Error("failed to get reputation", "ip", ip, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to read reputation",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListRules returns all custom rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.customEngine.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression" validate:"required"`
	Points      int    `json:"points"`
	ReasonCode  string `json:"reasonCode" validate:"required"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule creates a custom rule and saves it to the database.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationMessage(err),
		})
		return
	}

	ruleConfig := &domain.CustomRuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Points:      req.Points,
		ReasonCode:  req.ReasonCode,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression before persisting
	if err := h.customEngine.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveCustomRule(ctx, ruleConfig); err != nil {
		slog.Error("failed to save custom rule", "id", ruleConfig.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("custom rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all custom rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	configs, err := h.repo.ListCustomRules(ctx)
	if err != nil {
		slog.Error("failed to list custom rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.customEngine.ReloadRules(configs); err != nil {
		slog.Error("failed to reload custom rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("custom rules reloaded from database", "count", len(configs))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.customEngine.RulesCount(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// remoteIP returns the client IP as resolved by the RealIP middleware.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseTimeRange parses optional from/to query parameters (RFC 3339).
// Defaults to the last 30 days ending now.
func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, fmt.Errorf("invalid from timestamp: must be RFC 3339")
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, fmt.Errorf("invalid to timestamp: must be RFC 3339")
		}
		to = t
	}

	return from, to, nil
}

func wantsCSV(r *http.Request) bool {
	if r.URL.Query().Get("format") == "csv" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/csv")
}

// validationMessage flattens a validator error into a client-facing string.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return "validation failed: " + strings.Join(fields, ", ")
	}
	return "validation failed"
}
