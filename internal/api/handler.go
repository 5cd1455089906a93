package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/engine"
	"github.com/opensource-finance/talon/internal/scenario"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	stats   domain.StatsProvider
	sweep   *scenario.Sweep
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, stats domain.StatsProvider, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		stats:   stats,
		sweep:   scenario.NewSweep(eng),
		version: version,
	}
}

// GlobalTenantID is used for fee rules that apply to all tenants.
const GlobalTenantID = "*"

// PaymentRequest is the request body for POST /assess.
type PaymentRequest struct {
	PaymentID            string                 `json:"paymentId,omitempty"`
	MerchantID           string                 `json:"merchantId"`
	CardScheme           string                 `json:"cardScheme"`
	ACI                  string                 `json:"aci"`
	IsCredit             bool                   `json:"isCredit"`
	Amount               float64                `json:"amount"`
	IssuingCountry       string                 `json:"issuingCountry,omitempty"`
	AcquiringCountry     string                 `json:"acquiringCountry,omitempty"`
	HasFraudulentDispute bool                   `json:"hasFraudulentDispute,omitempty"`
	Timestamp            time.Time              `json:"timestamp,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

// AssessResponse is the response for POST /assess.
type AssessResponse struct {
	AssessmentID    string  `json:"assessmentId"`
	PaymentID       string  `json:"paymentId"`
	RuleID          int64   `json:"ruleId"`
	Amount          string  `json:"amount"`
	Fee             string  `json:"fee"`
	ApplicableRules []int64 `json:"applicableRules"`
	Metadata        struct {
		TraceID string `json:"traceId"`
		StatsMs int64  `json:"statsMs"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Assess handles POST /assess: match a payment against the fee catalog and
// compute the billed fee synchronously.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.MerchantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "merchantId is required",
		})
		return
	}
	if req.CardScheme == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "cardScheme is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	if req.PaymentID == "" {
		req.PaymentID = uuid.New().String()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	payment := &domain.Payment{
		ID:                   req.PaymentID,
		TenantID:             tenantID,
		MerchantID:           req.MerchantID,
		CardScheme:           req.CardScheme,
		ACI:                  req.ACI,
		IsCredit:             req.IsCredit,
		Amount:               req.Amount,
		IssuingCountry:       req.IssuingCountry,
		AcquiringCountry:     req.AcquiringCountry,
		HasFraudulentDispute: req.HasFraudulentDispute,
		Timestamp:            req.Timestamp,
		CreatedAt:            time.Now().UTC(),
		Metadata:             req.Metadata,
	}

	if err := h.repo.SavePayment(ctx, tenantID, payment); err != nil {
		slog.Error("failed to save payment", "error", err)
	}

	merchant, err := h.repo.GetMerchant(ctx, tenantID, req.MerchantID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "merchant not found",
		})
		return
	}

	statsStart := time.Now()
	monthStats, err := h.stats.MonthlyStats(ctx, tenantID, merchant.ID, payment.Timestamp)
	if err != nil {
		slog.Error("failed to fetch monthly stats", "merchant_id", merchant.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute merchant stats",
		})
		return
	}
	statsMs := time.Since(statsStart).Milliseconds()

	tc := &domain.TransactionContext{
		CardScheme:           payment.CardScheme,
		AccountType:          merchant.AccountType,
		MerchantCategoryCode: merchant.MerchantCategoryCode,
		ACI:                  payment.ACI,
		IsCredit:             payment.IsCredit,
		Intracountry:         payment.Intracountry(),
		CaptureDelay:         merchant.CaptureDelay,
		MonthlyVolume:        monthStats.Volume,
		MonthlyFraudRate:     monthStats.FraudRate,
		Amount:               payment.Amount,
	}

	assessment, err := h.engine.Assess(tc, decimal.NewFromFloat(payment.Amount))
	if err != nil {
		if errors.Is(err, domain.ErrNoApplicableRule) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":     "no applicable fee rule",
				"paymentId": payment.ID,
			})
			return
		}
		slog.Error("fee assessment failed", "payment_id", payment.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "fee assessment failed",
		})
		return
	}

	assessment.TenantID = tenantID
	assessment.PaymentID = payment.ID
	assessment.MerchantID = merchant.ID
	assessment.Metadata.TraceID = traceID
	assessment.Metadata.StatsMs = statsMs
	assessment.Metadata.TotalMs = time.Since(start).Milliseconds()

	if err := h.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
		slog.Error("failed to save assessment", "error", err)
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicFeeAssessed, assessment); err != nil {
		slog.Error("failed to publish assessment", "error", err)
	}

	resp := AssessResponse{
		AssessmentID:    assessment.ID,
		PaymentID:       payment.ID,
		RuleID:          assessment.RuleID,
		Amount:          assessment.Amount.String(),
		Fee:             assessment.Fee.String(),
		ApplicableRules: assessment.ApplicableRules,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.StatsMs = statsMs
	resp.Metadata.TotalMs = assessment.Metadata.TotalMs
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if err := h.repo.Ping(r.Context()); err != nil {
		status = "degraded"
	}

	// The cache is the only optional dependency: the engine serves the
	// catalog from memory and stats fall back to the repository.
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

// GetAssessment retrieves a fee assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	if assessmentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "assessment id is required",
		})
		return
	}

	assessment, err := h.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "assessment not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// GetPayment retrieves a payment by ID.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	paymentID := chi.URLParam(r, "id")

	if paymentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "payment id is required",
		})
		return
	}

	payment, err := h.repo.GetPayment(ctx, tenantID, paymentID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "payment not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, payment)
}

// ListRules returns the fee catalog currently loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.engine.Rules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  rules,
		"count":  len(rules),
		"source": "catalog",
	})
}

// GetRule retrieves a rule by ID from the loaded catalog.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id must be an integer",
		})
		return
	}

	for _, rule := range h.engine.Rules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRule validates a fee rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload the catalog.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.FeeRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id must be a positive integer",
		})
		return
	}
	rule.TenantID = GlobalTenantID

	// Compile without touching the live catalog; a rule that cannot compile
	// must never reach storage.
	if err := h.engine.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveFeeRule(ctx, GlobalTenantID, &rule); err != nil {
		slog.Error("failed to save fee rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("fee rule created", "id", rule.ID, "card_scheme", rule.CardScheme)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads the fee catalog from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	dbRules, err := h.repo.ListFeeRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list fee rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadCatalog(dbRules); err != nil {
		slog.Error("failed to reload fee catalog", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to reload catalog: " + err.Error(),
		})
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicCatalogReloaded, domain.CatalogEvent{Count: len(dbRules)}); err != nil {
		slog.Error("failed to publish catalog reload", "error", err)
	}

	slog.Info("fee catalog reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "catalog reloaded successfully",
		"count":   len(dbRules),
	})
}

// MatchRequest is the request body for POST /rules/match: a fully specified
// transaction context to match against the catalog.
type MatchRequest struct {
	CardScheme           string  `json:"cardScheme"`
	AccountType          string  `json:"accountType"`
	MerchantCategoryCode int     `json:"merchantCategoryCode"`
	ACI                  string  `json:"aci"`
	IsCredit             bool    `json:"isCredit"`
	Intracountry         bool    `json:"intracountry"`
	CaptureDelay         string  `json:"captureDelay"`
	MonthlyVolume        float64 `json:"monthlyVolume"`
	MonthlyFraudRate     float64 `json:"monthlyFraudRate"`
	Amount               float64 `json:"amount"`
}

// MatchRules handles POST /rules/match: return every applicable rule for a
// context, in ascending rule ID order, without computing a fee.
func (h *Handler) MatchRules(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tc := &domain.TransactionContext{
		CardScheme:           req.CardScheme,
		AccountType:          req.AccountType,
		MerchantCategoryCode: req.MerchantCategoryCode,
		ACI:                  req.ACI,
		IsCredit:             req.IsCredit,
		Intracountry:         req.Intracountry,
		CaptureDelay:         req.CaptureDelay,
		MonthlyVolume:        req.MonthlyVolume,
		MonthlyFraudRate:     req.MonthlyFraudRate,
		Amount:               req.Amount,
	}

	ids := h.engine.MatchAll(tc)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ruleIds": ids,
		"count":   len(ids),
	})
}

// ListMerchants returns all merchants for the tenant.
func (h *Handler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	merchants, err := h.repo.ListMerchants(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list merchants", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list merchants",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"merchants": merchants,
		"count":     len(merchants),
	})
}

// GetMerchant retrieves a merchant by ID.
func (h *Handler) GetMerchant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	merchantID := chi.URLParam(r, "id")

	if merchantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "merchant id is required",
		})
		return
	}

	merchant, err := h.repo.GetMerchant(ctx, tenantID, merchantID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "merchant not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, merchant)
}

// CreateMerchant creates or updates a merchant configuration.
func (h *Handler) CreateMerchant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var merchant domain.Merchant
	if err := json.NewDecoder(r.Body).Decode(&merchant); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if merchant.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id is required",
		})
		return
	}

	merchant.TenantID = tenantID
	now := time.Now().UTC()
	if merchant.CreatedAt.IsZero() {
		merchant.CreatedAt = now
	}
	merchant.UpdatedAt = now

	if err := h.repo.SaveMerchant(ctx, tenantID, &merchant); err != nil {
		slog.Error("failed to save merchant", "id", merchant.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save merchant",
		})
		return
	}

	slog.Info("merchant saved", "id", merchant.ID, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, merchant)
}

// ScenarioRequest is the request body for the what-if sweep endpoints. The
// payment fields describe the base transaction; Candidates lists the values
// to substitute into the varied dimension.
type ScenarioRequest struct {
	PaymentRequest
	Candidates []string `json:"candidates"`
}

// ScenarioResponse is the response for the what-if sweep endpoints.
type ScenarioResponse struct {
	Outcomes []scenario.Outcome `json:"outcomes"`
	Cheapest *scenario.Outcome  `json:"cheapest,omitempty"`
}

// ScenarioByACI handles POST /scenarios/aci: compute the fee for each
// candidate ACI and report the outcomes sorted by ascending fee.
func (h *Handler) ScenarioByACI(w http.ResponseWriter, r *http.Request) {
	h.runScenario(w, r, h.sweep.ByACI)
}

// ScenarioByScheme handles POST /scenarios/scheme.
func (h *Handler) ScenarioByScheme(w http.ResponseWriter, r *http.Request) {
	h.runScenario(w, r, h.sweep.ByScheme)
}

func (h *Handler) runScenario(w http.ResponseWriter, r *http.Request, sweep func(*domain.TransactionContext, decimal.Decimal, []string) []scenario.Outcome) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.MerchantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "merchantId is required",
		})
		return
	}
	if len(req.Candidates) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "candidates are required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	merchant, err := h.repo.GetMerchant(ctx, tenantID, req.MerchantID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "merchant not found",
		})
		return
	}

	month := req.Timestamp
	if month.IsZero() {
		month = time.Now().UTC()
	}

	monthStats, err := h.stats.MonthlyStats(ctx, tenantID, merchant.ID, month)
	if err != nil {
		slog.Error("failed to fetch monthly stats", "merchant_id", merchant.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute merchant stats",
		})
		return
	}

	intracountry := req.IssuingCountry != "" && req.IssuingCountry == req.AcquiringCountry

	tc := &domain.TransactionContext{
		CardScheme:           req.CardScheme,
		AccountType:          merchant.AccountType,
		MerchantCategoryCode: merchant.MerchantCategoryCode,
		ACI:                  req.ACI,
		IsCredit:             req.IsCredit,
		Intracountry:         intracountry,
		CaptureDelay:         merchant.CaptureDelay,
		MonthlyVolume:        monthStats.Volume,
		MonthlyFraudRate:     monthStats.FraudRate,
		Amount:               req.Amount,
	}

	outcomes := sweep(tc, decimal.NewFromFloat(req.Amount), req.Candidates)

	resp := ScenarioResponse{Outcomes: outcomes}
	if best, ok := scenario.Cheapest(outcomes); ok {
		resp.Cheapest = &best
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
