package handlers

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/core"
	"github.com/cambiowatch/cambiowatch/internal/core/engine"
	apperrors "github.com/cambiowatch/cambiowatch/internal/errors"
	"github.com/cambiowatch/cambiowatch/internal/metrics"
)

// AdminKeyHeader carries the admin key for manual refreshes.
const AdminKeyHeader = "X-API-Key"

// RatesService is the engine surface the API reads and triggers.
type RatesService interface {
	Snapshot() core.Snapshot
	CurrentRates(ctx context.Context) core.Snapshot
	BestRates() core.BestRates
	Refresh(ctx context.Context) (*engine.Cycle, bool, error)
}

// Analytics is the read side of the rate history store.
type Analytics interface {
	History(ctx context.Context, provider core.Provider, since time.Time) ([]core.RateObservation, error)
	Stats(ctx context.Context, provider core.Provider, since time.Time) (*core.ProviderStats, error)
	BestInPeriod(ctx context.Context, since time.Time) (*core.RateObservation, *core.RateObservation, error)
	Trend(ctx context.Context, since time.Time, bucket time.Duration) ([]core.TrendPoint, error)
	Providers(ctx context.Context) ([]string, error)
	TableStats(ctx context.Context) (core.StoreStats, error)
}

// RefreshLimiter admits or rejects a manual refresh for a client key.
type RefreshLimiter interface {
	Take(ctx context.Context, key string) (bool, time.Duration, error)
	Remaining(ctx context.Context, key string) (int, error)
}

// QuotaRemainingHeader carries the refreshes a client has left in its window.
const QuotaRemainingHeader = "X-RateLimit-Remaining"

// API serves the /api/* endpoints.
type API struct {
	Service  RatesService
	Store    Analytics
	Limiter  RefreshLimiter
	AdminKey string
	Logger   engine.Logger
	Clock    func() time.Time
}

var validate = validator.New()

// Query bounds. Out-of-range or malformed values fall back to the default.
const (
	historyHoursRule   = "min=1,max=720"
	statsDaysRule      = "min=1,max=90"
	trendIntervalRule  = "min=1,max=24"
	defaultHistoryHrs  = 24
	defaultStatsDays   = 7
	defaultTrendHours  = 24
	defaultTrendBucket = 1
)

// RateView is the wire form of one observation.
type RateView struct {
	Provider   core.Provider   `json:"provider"`
	Name       string          `json:"name"`
	BuyRate    decimal.Decimal `json:"buy_rate"`
	SellRate   decimal.Decimal `json:"sell_rate"`
	Spread     decimal.Decimal `json:"spread"`
	ObservedAt time.Time       `json:"observed_at"`
}

func viewOf(r core.RateObservation) RateView {
	return RateView{
		Provider:   r.Provider,
		Name:       r.Provider.DisplayName(),
		BuyRate:    r.BuyRate,
		SellRate:   r.SellRate,
		Spread:     r.Spread(),
		ObservedAt: r.ObservedAt,
	}
}

func viewsOf(rates []core.RateObservation) []RateView {
	out := make([]RateView, 0, len(rates))
	for _, r := range rates {
		out = append(out, viewOf(r))
	}
	return out
}

func optionalView(r *core.RateObservation) *RateView {
	if r == nil {
		return nil
	}
	v := viewOf(*r)
	return &v
}

// RatesResponse is the body of GET /api/rates.
type RatesResponse struct {
	LastUpdate   *time.Time `json:"last_update"`
	Rates        []RateView `json:"rates"`
	Error        *string    `json:"error"`
	Pending      bool       `json:"pending,omitempty"`
	RetryAttempt int        `json:"retry_attempt,omitempty"`
}

func ratesResponse(snap core.Snapshot) RatesResponse {
	resp := RatesResponse{
		LastUpdate:   snap.LastUpdate,
		Rates:        viewsOf(snap.Rates),
		Pending:      snap.Pending,
		RetryAttempt: snap.RetryAttempt,
	}
	if snap.Error != "" {
		msg := snap.Error
		resp.Error = &msg
	}
	return resp
}

// Rates handles GET /api/rates: memory overlaid on the latest stored rows.
func (a *API) Rates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ratesResponse(a.Service.CurrentRates(r.Context())))
}

// RefreshResponse is the body of /api/refresh.
type RefreshResponse struct {
	Message           string     `json:"message"`
	Timestamp         time.Time  `json:"timestamp"`
	CycleID           string     `json:"cycle_id"`
	Joined            bool       `json:"joined"`
	Final             bool       `json:"final"`
	AllSourcesSettled bool       `json:"all_sources_settled"`
	RatesCount        int        `json:"rates_count"`
	Rates             []RateView `json:"rates"`
	Error             string     `json:"error,omitempty"`
	QuotaRemaining    *int       `json:"quota_remaining,omitempty"`
}

// Refresh handles /api/refresh. It answers with the provisional result, or
// the settled one when called with ?wait=final.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := a.logger()

	if a.AdminKey != "" {
		given := r.Header.Get(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(a.AdminKey)) != 1 {
			metrics.RecordRefreshRejected("forbidden")
			log.Warn("Refresh rejected: invalid admin key", zap.String("client", ClientIP(r)))
			apperrors.RespondWithError(w, r, apperrors.NewForbiddenError("a valid API key is required"))
			return
		}
	}

	var remaining *int
	if a.Limiter != nil {
		key := "refresh:" + ClientIP(r)
		ok, retryAfter, err := a.Limiter.Take(ctx, key)
		if err != nil {
			log.Warn("Refresh quota check failed", zap.Error(err))
		}
		if !ok {
			metrics.RecordRefreshRejected("rate_limited")
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			if seconds > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
			apperrors.RespondWithError(w, r, apperrors.NewRateLimitedError("too many refresh requests", seconds))
			return
		}
		if left, err := a.Limiter.Remaining(ctx, key); err != nil {
			log.Warn("Refresh quota lookup failed", zap.Error(err))
		} else {
			remaining = &left
			w.Header().Set(QuotaRemainingHeader, strconv.Itoa(left))
		}
	}

	cycle, joined, err := a.Service.Refresh(ctx)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapScrapeError(ctx, err))
		return
	}

	result := cycle.Provisional()
	final := strings.EqualFold(r.URL.Query().Get("wait"), "final")
	if final {
		result, err = cycle.Wait(ctx)
		if err != nil {
			apperrors.RespondWithError(w, r, apperrors.WrapScrapeError(ctx, err))
			return
		}
	}

	message := "Rates refreshed"
	if joined {
		message = "Joined refresh already in progress"
	}
	writeJSON(w, http.StatusOK, RefreshResponse{
		Message:           message,
		Timestamp:         a.now(),
		CycleID:           result.CycleID,
		Joined:            joined,
		Final:             final,
		AllSourcesSettled: result.AllSourcesSettled,
		RatesCount:        len(result.Rates),
		Rates:             viewsOf(result.Rates),
		Error:             result.Error,
		QuotaRemaining:    remaining,
	})
}

// BestRatesResponse is the body of GET /api/best-rates.
type BestRatesResponse struct {
	BestBuy    *RateView  `json:"best_buy"`
	BestSell   *RateView  `json:"best_sell"`
	LastUpdate *time.Time `json:"last_update"`
	Hours      int        `json:"hours,omitempty"`
}

// BestRates handles GET /api/best-rates. Without ?hours it ranks the current
// snapshot; with it, the stored history of that window.
func (a *API) BestRates(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("hours"); raw != "" && a.Store != nil {
		hours := intParam(r, "hours", defaultHistoryHrs, historyHoursRule)
		buy, sell, err := a.Store.BestInPeriod(r.Context(), a.now().Add(-time.Duration(hours)*time.Hour))
		if err != nil {
			apperrors.RespondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to load best rates"))
			return
		}
		if buy == nil || sell == nil {
			apperrors.RespondWithError(w, r, apperrors.NewNotFoundError("no rates stored in the requested period"))
			return
		}
		writeJSON(w, http.StatusOK, BestRatesResponse{BestBuy: optionalView(buy), BestSell: optionalView(sell), Hours: hours})
		return
	}

	best := a.Service.BestRates()
	if best.BestBuy == nil || best.BestSell == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("no rates available yet"))
		return
	}
	writeJSON(w, http.StatusOK, BestRatesResponse{
		BestBuy:    optionalView(best.BestBuy),
		BestSell:   optionalView(best.BestSell),
		LastUpdate: best.LastUpdate,
	})
}

// HistoryResponse is the body of GET /api/history/{provider}.
type HistoryResponse struct {
	Provider core.Provider `json:"provider"`
	Hours    int           `json:"hours"`
	Data     []RateView    `json:"data"`
}

// History handles GET /api/history/{provider}?hours=.
func (a *API) History(w http.ResponseWriter, r *http.Request) {
	provider, ok := a.providerParam(w, r)
	if !ok || !a.requireStore(w, r) {
		return
	}
	hours := intParam(r, "hours", defaultHistoryHrs, historyHoursRule)

	rows, err := a.Store.History(r.Context(), provider, a.now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to load history"))
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Provider: provider, Hours: hours, Data: viewsOf(rows)})
}

// StatsResponse is the body of GET /api/stats/{provider}.
type StatsResponse struct {
	Provider core.Provider       `json:"provider"`
	Days     int                 `json:"days"`
	Stats    *core.ProviderStats `json:"stats"`
}

// Stats handles GET /api/stats/{provider}?days=.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	provider, ok := a.providerParam(w, r)
	if !ok || !a.requireStore(w, r) {
		return
	}
	days := intParam(r, "days", defaultStatsDays, statsDaysRule)

	stats, err := a.Store.Stats(r.Context(), provider, a.now().AddDate(0, 0, -days))
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to load statistics"))
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Provider: provider, Days: days, Stats: stats})
}

// TrendResponse is the body of GET /api/trend.
type TrendResponse struct {
	Hours    int               `json:"hours"`
	Interval int               `json:"interval"`
	Data     []core.TrendPoint `json:"data"`
}

// Trend handles GET /api/trend?hours=&interval=.
func (a *API) Trend(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, r) {
		return
	}
	hours := intParam(r, "hours", defaultTrendHours, historyHoursRule)
	interval := intParam(r, "interval", defaultTrendBucket, trendIntervalRule)

	points, err := a.Store.Trend(r.Context(), a.now().Add(-time.Duration(hours)*time.Hour), time.Duration(interval)*time.Hour)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to load trend"))
		return
	}
	if points == nil {
		points = []core.TrendPoint{}
	}
	writeJSON(w, http.StatusOK, TrendResponse{Hours: hours, Interval: interval, Data: points})
}

// ProviderInfo describes one provider for GET /api/providers.
type ProviderInfo struct {
	Provider core.Provider `json:"provider"`
	Name     string        `json:"name"`
	Stored   bool          `json:"stored"`
}

// Providers handles GET /api/providers. Every known provider is listed;
// Stored marks the ones with rows in the history table.
func (a *API) Providers(w http.ResponseWriter, r *http.Request) {
	stored := map[string]bool{}
	if a.Store != nil {
		names, err := a.Store.Providers(r.Context())
		if err != nil {
			apperrors.RespondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list providers"))
			return
		}
		for _, n := range names {
			stored[n] = true
		}
	}

	out := make([]ProviderInfo, 0, len(core.Providers()))
	for _, p := range core.Providers() {
		out = append(out, ProviderInfo{Provider: p, Name: p.DisplayName(), Stored: stored[string(p)]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// DBStats handles GET /api/db-stats.
func (a *API) DBStats(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, r) {
		return
	}
	stats, err := a.Store.TableStats(r.Context())
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to load database statistics"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type convertQuery struct {
	Amount    float64 `validate:"gt=0,lte=1000000000"`
	Direction string  `validate:"required,oneof=usd_to_pen pen_to_usd"`
}

// ConvertResponse is the body of GET /api/convert.
type ConvertResponse struct {
	Amount    decimal.Decimal `json:"amount"`
	Direction string          `json:"direction"`
	Result    decimal.Decimal `json:"result"`
	Rate      decimal.Decimal `json:"rate"`
	Provider  core.Provider   `json:"provider"`
	Name      string          `json:"name"`
}

// Convert handles GET /api/convert?amount=&direction=. usd_to_pen uses the
// highest buy quote; pen_to_usd uses the lowest sell quote.
func (a *API) Convert(w http.ResponseWriter, r *http.Request) {
	q := convertQuery{Direction: strings.ToLower(r.URL.Query().Get("direction"))}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "amount must be a number"))
		return
	}
	q.Amount = amount.InexactFloat64()
	if err := validate.Struct(q); err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapValidationError(r.Context(), err,
			"amount must be positive and direction one of usd_to_pen, pen_to_usd"))
		return
	}

	best := a.Service.BestRates()
	resp := ConvertResponse{Amount: amount, Direction: q.Direction}
	switch q.Direction {
	case "usd_to_pen":
		if best.BestBuy == nil {
			break
		}
		resp.Rate, resp.Provider = best.BestBuy.BuyRate, best.BestBuy.Provider
		resp.Result = amount.Mul(resp.Rate).Round(2)
	case "pen_to_usd":
		if best.BestSell == nil || best.BestSell.SellRate.IsZero() {
			break
		}
		resp.Rate, resp.Provider = best.BestSell.SellRate, best.BestSell.Provider
		resp.Result = amount.Div(resp.Rate).Round(2)
	}
	if resp.Provider == "" {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("no rates available yet"))
		return
	}
	resp.Name = resp.Provider.DisplayName()
	writeJSON(w, http.StatusOK, resp)
}

// APIHealthResponse is the body of GET /api/health.
type APIHealthResponse struct {
	Status       string     `json:"status"`
	Timestamp    time.Time  `json:"timestamp"`
	LastUpdate   *time.Time `json:"last_update"`
	RatesCount   int        `json:"rates_count"`
	HasError     bool       `json:"has_error"`
	Pending      bool       `json:"pending"`
	RetryAttempt int        `json:"retry_attempt"`
}

// APIHealth handles GET /api/health: the scrape view of liveness.
func (a *API) APIHealth(w http.ResponseWriter, r *http.Request) {
	snap := a.Service.Snapshot()
	writeJSON(w, http.StatusOK, APIHealthResponse{
		Status:       "ok",
		Timestamp:    a.now(),
		LastUpdate:   snap.LastUpdate,
		RatesCount:   len(snap.Rates),
		HasError:     snap.Error != "",
		Pending:      snap.Pending,
		RetryAttempt: snap.RetryAttempt,
	})
}

// providerParam resolves {provider}. Malformed names get 400, unknown
// names 404 with the list of valid providers.
func (a *API) providerParam(w http.ResponseWriter, r *http.Request) (core.Provider, bool) {
	raw := chi.URLParam(r, "provider")
	if !wellFormedProvider(raw) {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("invalid provider name"))
		return "", false
	}
	p, ok := core.ParseProvider(raw)
	if !ok {
		valid := make([]string, 0, len(core.Providers()))
		for _, p := range core.Providers() {
			valid = append(valid, string(p))
		}
		env := apperrors.NewNotFoundError("provider not found").
			WithDetails(map[string]interface{}{"valid_providers": valid})
		apperrors.RespondWithError(w, r, env)
		return "", false
	}
	return p, true
}

func wellFormedProvider(s string) bool {
	if s == "" || len(s) > 50 {
		return false
	}
	for _, c := range s {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			continue
		}
		switch c {
		case ' ', '.', '-', '_', '(', ')':
			continue
		}
		return false
	}
	return true
}

func (a *API) requireStore(w http.ResponseWriter, r *http.Request) bool {
	if a.Store != nil {
		return true
	}
	apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("rate history store is not configured"))
	return false
}

// intParam reads an integer query value, falling back to def when it is
// missing, malformed or fails rule.
func intParam(r *http.Request, name string, def int, rule string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || validate.Var(n, rule) != nil {
		return def
	}
	return n
}

func (a *API) now() time.Time {
	if a.Clock != nil {
		return a.Clock().UTC()
	}
	return time.Now().UTC()
}

func (a *API) logger() engine.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return zap.NewNop()
}

// ClientIP returns the request's remote address without port. RealIP
// middleware has already applied X-Forwarded-For when present.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
