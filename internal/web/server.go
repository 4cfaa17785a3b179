package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/mux"

	"github.com/elys-network/pegvault/internal/access"
	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/state"
	"github.com/elys-network/pegvault/internal/types"
	"github.com/elys-network/pegvault/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// maxBodyBytes bounds a POST body.
const maxBodyBytes = 1 << 20

// History is the stored keeper and rebase history served by the API.
type History interface {
	GetRecentCycles(ctx context.Context, limit int) ([]state.CycleRecord, error)
	GetCycleByID(ctx context.Context, id int64) (state.CycleRecord, error)
	GetRecentRebases(ctx context.Context, limit int) ([]state.RebaseRecord, error)
	GetPerformanceMetrics(ctx context.Context) (state.Performance, error)
	Ping(ctx context.Context) error
}

// Config holds the dependencies of the web server.
type Config struct {
	Port    string
	Vault   vault.VaultManager
	History History               // optional; history endpoints answer 503 without it
	Metrics http.Handler          // optional; served on /metrics
	Auth    *access.Authenticator // optional; without it /api/mint and /api/burn are not served
	Version string
}

// WebServer handles HTTP requests for the vault ledger
type WebServer struct {
	router  *mux.Router
	server  *http.Server
	port    string
	vault   vault.VaultManager
	history History
	metrics http.Handler
	auth    *access.Authenticator
	version string
	started time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg Config) (*WebServer, error) {
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault cannot be nil")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	ws := &WebServer{
		router:  mux.NewRouter(),
		port:    cfg.Port,
		vault:   cfg.Vault,
		history: cfg.History,
		metrics: cfg.Metrics,
		auth:    cfg.Auth,
		version: cfg.Version,
		started: time.Now(),
	}
	ws.setupRoutes()
	return ws, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	if ws.metrics != nil {
		ws.router.Handle("/metrics", ws.metrics).Methods("GET")
	}

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/vault/assets", ws.handleGetAssets).Methods("GET")
	api.HandleFunc("/vault/strategies", ws.handleGetStrategies).Methods("GET")
	api.HandleFunc("/accounts/{address}", ws.handleGetAccount).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")
	api.HandleFunc("/cycles/{id:[0-9]+}", ws.handleGetCycle).Methods("GET")
	api.HandleFunc("/rebases", ws.handleGetRebases).Methods("GET")
	api.HandleFunc("/performance", ws.handleGetPerformanceMetrics).Methods("GET")
	// Depositor operations act for the account bound to the bearer token
	if ws.auth != nil {
		api.Handle("/mint", ws.authenticated(ws.handleMint)).Methods("POST")
		api.Handle("/burn", ws.authenticated(ws.handleBurn)).Methods("POST")
	}

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the router, for tests and for embedding in another server.
func (ws *WebServer) Handler() http.Handler { return ws.router }

// Start starts the web server and blocks until it stops. It returns nil after Shutdown.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	ws.server = &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for the running ones.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	return ws.server.Shutdown(ctx)
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	ctx := r.Context()

	hasErrors := false
	summary, err := ws.vault.Summary(ctx)
	ledger := map[string]interface{}{"healthy": err == nil}
	if err != nil {
		hasErrors = true
		ledger["error"] = err.Error()
	} else {
		ledger["adjusting"] = summary.Adjusting
		ledger["distributing"] = summary.Distributing
		ledger["total_supply"] = summary.TotalSupply
	}

	var cycleInfo map[string]interface{}
	dbHealthy := false
	if ws.history != nil {
		dbHealthy = ws.history.Ping(ctx) == nil
		hasErrors = hasErrors || !dbHealthy

		cycleInfo = map[string]interface{}{"current_cycle": 0, "last_cycle_status": "unknown"}
		if latest, err := ws.history.GetRecentCycles(ctx, 1); err == nil && len(latest) > 0 {
			cycle := latest[0]
			status := "completed"
			if !cycle.Success {
				status = "failed"
			}
			cycleInfo = map[string]interface{}{
				"current_cycle":     cycle.CycleNumber,
				"last_cycle_time":   cycle.Timestamp,
				"last_cycle_status": status,
				"lends_executed":    len(cycle.Lends),
			}
		}
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.started).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "pegvault",
			"version": ws.version,
		},
		"vault_status": map[string]interface{}{
			"ledger":           ledger,
			"database_healthy": dbHealthy,
			"cycle_info":       cycleInfo,
		},
	}

	// Set appropriate HTTP status code
	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}
	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetVaultSummary returns the live ledger summary
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := ws.vault.Summary(r.Context())
	if err != nil {
		ws.writeError(w, "Failed to retrieve vault summary", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

func (ws *WebServer) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assets, err := ws.vault.GetSupportAssets(ctx)
	if err != nil {
		ws.writeError(w, "Failed to retrieve assets", err)
		return
	}
	balances, err := ws.vault.TrackedBalances(ctx)
	if err != nil {
		ws.writeError(w, "Failed to retrieve balances", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"assets":   assets,
		"balances": balances,
	})
}

func (ws *WebServer) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := ws.vault.GetStrategies(r.Context())
	if err != nil {
		ws.writeError(w, "Failed to retrieve strategies", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"strategies": strategies,
		"count":      len(strategies),
	})
}

func (ws *WebServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := mux.Vars(r)["address"]

	shares, err := ws.vault.BalanceOf(ctx, address)
	if err != nil {
		ws.writeError(w, "Failed to retrieve balance", err)
		return
	}
	tickets, err := ws.vault.BufferBalanceOf(ctx, address)
	if err != nil {
		ws.writeError(w, "Failed to retrieve buffer balance", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"address":        address,
		"shares":         shares,
		"buffer_tickets": tickets,
	})
}

// handleGetCycles returns paginated cycle data
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w) {
		return
	}
	limit := parseLimit(r)
	cycles, err := ws.history.GetRecentCycles(r.Context(), limit)
	if err != nil {
		ws.writeError(w, "Failed to retrieve cycles", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
		"limit":  limit,
	})
}

// handleGetCycle returns a specific cycle by ID
func (ws *WebServer) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w) {
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid cycle ID")
		return
	}

	cycle, err := ws.history.GetCycleByID(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) {
		ws.writeErrorResponse(w, http.StatusNotFound, "Cycle not found")
		return
	}
	if err != nil {
		ws.writeError(w, "Failed to retrieve cycle", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, cycle)
}

// handleGetLatestCycle returns the most recent cycle
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w) {
		return
	}
	cycles, err := ws.history.GetRecentCycles(r.Context(), 1)
	if err != nil {
		ws.writeError(w, "Failed to retrieve latest cycle", err)
		return
	}
	if len(cycles) == 0 {
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, cycles[0])
}

func (ws *WebServer) handleGetRebases(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w) {
		return
	}
	limit := parseLimit(r)
	rebases, err := ws.history.GetRecentRebases(r.Context(), limit)
	if err != nil {
		ws.writeError(w, "Failed to retrieve rebases", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"rebases": rebases,
		"count":   len(rebases),
		"limit":   limit,
	})
}

// handleGetPerformanceMetrics returns performance metrics
func (ws *WebServer) handleGetPerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	if !ws.requireHistory(w) {
		return
	}
	metrics, err := ws.history.GetPerformanceMetrics(r.Context())
	if err != nil {
		ws.writeError(w, "Failed to retrieve performance metrics", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, metrics)
}

// MintRequest deposits assets of the authenticated account into the buffer.
type MintRequest struct {
	Deposits     []types.AssetAmount `json:"deposits"`
	MinSharesOut sdkmath.Int         `json:"min_shares_out"`
}

// BurnRequest redeems shares of the authenticated account. Fees default to the configured ones.
type BurnRequest struct {
	Shares        sdkmath.Int `json:"shares"`
	MinOut        sdkmath.Int `json:"min_out"`
	RedeemFeeBps  *uint64     `json:"redeem_fee_bps,omitempty"`
	TrusteeFeeBps *uint64     `json:"trustee_fee_bps,omitempty"`
}

func (ws *WebServer) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !ws.decode(w, r, &req) {
		return
	}
	sender := senderFrom(r.Context())
	tickets, err := ws.vault.Mint(r.Context(), sender, req.Deposits, orZero(req.MinSharesOut))
	if err != nil {
		ws.writeError(w, "Mint failed", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"sender":  sender,
		"tickets": tickets,
	})
}

func (ws *WebServer) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req BurnRequest
	if !ws.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	params, err := ws.vault.Params(ctx)
	if err != nil {
		ws.writeError(w, "Failed to read parameters", err)
		return
	}
	redeemFee, trusteeFee := params.RedeemFeeBps, params.TrusteeFeeBps
	if req.RedeemFeeBps != nil {
		redeemFee = *req.RedeemFeeBps
	}
	if req.TrusteeFeeBps != nil {
		trusteeFee = *req.TrusteeFeeBps
	}

	result, err := ws.vault.Burn(ctx, senderFrom(ctx), orZero(req.Shares), orZero(req.MinOut), redeemFee, trusteeFee)
	if err != nil {
		ws.writeError(w, "Burn failed", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, result)
}

type senderKey struct{}

func senderFrom(ctx context.Context) string {
	sender, _ := ctx.Value(senderKey{}).(string)
	return sender
}

// authenticated resolves the bearer token of the request to the account the handler acts for.
func (ws *WebServer) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			ws.writeErrorResponse(w, http.StatusUnauthorized, "Bearer token required")
			return
		}
		sender, err := ws.auth.Authenticate(strings.TrimSpace(token))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			webLogger.Warn().Str("path", r.URL.Path).Str("remote_addr", r.RemoteAddr).Msg("Rejected API token")
			ws.writeErrorResponse(w, http.StatusUnauthorized, "Invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), senderKey{}, sender)))
	})
}

func (ws *WebServer) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (ws *WebServer) requireHistory(w http.ResponseWriter) bool {
	if ws.history == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "History store not configured")
		return false
	}
	return true
}

func parseLimit(r *http.Request) int {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

func orZero(i sdkmath.Int) sdkmath.Int {
	if i.IsNil() {
		return sdkmath.ZeroInt()
	}
	return i
}

// statusFor maps the registered error taxonomy onto HTTP statuses. Anything unregistered is a server error.
func statusFor(err error) int {
	switch {
	case errorsmod.IsOf(err, types.ErrUnauthorized):
		return http.StatusForbidden
	case errorsmod.IsOf(err, types.ErrState, types.ErrPaused, types.ErrReentrantCall,
		types.ErrAssetInUse, types.ErrAssetNotEmpty, types.ErrStrategyHasDebt):
		return http.StatusConflict
	}
	if codespace, _, _ := errorsmod.ABCIInfo(err, false); codespace == types.Codespace {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError answers with the status of err. Server errors hide their message.
func (ws *WebServer) writeError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		webLogger.Error().Err(err).Msg(message)
		ws.writeErrorResponse(w, status, message)
		return
	}
	webLogger.Warn().Err(err).Int("status", status).Msg(message)
	ws.writeErrorResponse(w, status, err.Error())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
