package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/elys-network/assetmanager/internal/assetmanager"
	"github.com/elys-network/assetmanager/internal/logger"
	"github.com/elys-network/assetmanager/internal/metrics"
	"github.com/elys-network/assetmanager/internal/types"
	"github.com/elys-network/assetmanager/internal/utils"
)

const maxRequestBody = 1 << 20

// WebServer exposes the asset manager over HTTP: pool queries, a rebalance trigger,
// the controller operations, receipt history and Prometheus metrics.
type WebServer struct {
	router  *mux.Router
	port    string
	manager *assetmanager.AssetManager
	metrics *metrics.Registry
	dbCheck func() error
	server  *http.Server
	started time.Time
	log     zerolog.Logger
}

// NewWebServer creates a new web server instance. dbCheck may be nil when no database is in use.
func NewWebServer(port string, manager *assetmanager.AssetManager, registry *metrics.Registry, dbCheck func() error) *WebServer {
	if port == "" {
		port = "8080"
	}

	ws := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		manager: manager,
		metrics: registry,
		dbCheck: dbCheck,
		started: time.Now(),
		log:     logger.GetForComponent("web_server"),
	}

	ws.setupRoutes()
	return ws
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", ws.metrics.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/pools", ws.handleListPools).Methods("GET")
	api.HandleFunc("/pools/{poolId}", ws.handleGetPoolStatus).Methods("GET")
	api.HandleFunc("/pools/{poolId}/balances", ws.handleGetBalances).Methods("GET")
	api.HandleFunc("/pools/{poolId}/config", ws.handleGetConfig).Methods("GET")
	api.HandleFunc("/pools/{poolId}/rebalance-fee", ws.handleGetRebalanceFee).Methods("GET")
	api.HandleFunc("/pools/{poolId}/max-investable", ws.handleGetMaxInvestable).Methods("GET")
	api.HandleFunc("/pools/{poolId}/rebalance", ws.handleRebalance).Methods("POST", "OPTIONS")

	// controller operations, authorized against the pool's registered controller
	api.HandleFunc("/pools/{poolId}/config", ws.handleSetConfig).Methods("PUT", "OPTIONS")
	api.HandleFunc("/pools/{poolId}/capital-in", ws.handleCapital(ws.manager.CapitalIn)).Methods("POST", "OPTIONS")
	api.HandleFunc("/pools/{poolId}/capital-out", ws.handleCapital(ws.manager.CapitalOut)).Methods("POST", "OPTIONS")
	api.HandleFunc("/pools/{poolId}/managed", ws.handleCapital(ws.manager.UpdateBalanceOfPool)).Methods("POST", "OPTIONS")

	api.HandleFunc("/receipts", ws.handleGetReceipts).Methods("GET")
	api.HandleFunc("/fees", ws.handleGetFees).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler returns the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (ws *WebServer) Start() error {
	ws.log.Info().Str("port", ws.port).Msg("Starting web server")

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

// Shutdown stops accepting requests and waits for in-flight ones.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	ws.log.Info().Msg("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if ws.dbCheck != nil {
		if err := ws.dbCheck(); err != nil {
			ws.log.Warn().Err(err).Msg("Database health check failed")
			dbHealthy = false
		}
	}

	pools, poolErr := ws.manager.ListPools(r.Context())
	configured := 0
	for _, p := range pools {
		if p.Config != nil {
			configured++
		}
	}

	healthy := dbHealthy && poolErr == nil
	overallStatus := "OK"
	statusCode := http.StatusOK
	if !healthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
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
			"name":     "asset-manager",
			"asset":    ws.manager.Asset(),
			"identity": ws.manager.Identity(),
		},
		"asset_manager_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"pools":            len(pools),
			"configured_pools": configured,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

func (ws *WebServer) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := ws.manager.ListPools(r.Context())
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"pools": pools,
		"count": len(pools),
	})
}

func poolIDFrom(r *http.Request) types.PoolID {
	return types.PoolID(mux.Vars(r)["poolId"])
}

func (ws *WebServer) handleGetPoolStatus(w http.ResponseWriter, r *http.Request) {
	status, err := ws.manager.GetPoolStatus(r.Context(), poolIDFrom(r))
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, status)
}

func (ws *WebServer) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	poolID := poolIDFrom(r)
	balances, err := ws.manager.GetPoolBalances(r.Context(), poolID)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"pool_id": poolID,
		"asset":   ws.manager.Asset(),
		"cash":    balances.Cash,
		"managed": balances.Managed,
		"tvl":     balances.TVL(),
	})
}

func (ws *WebServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := ws.manager.GetPoolConfig(r.Context(), poolIDFrom(r))
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, cfg)
}

func (ws *WebServer) handleGetRebalanceFee(w http.ResponseWriter, r *http.Request) {
	poolID := poolIDFrom(r)
	fee, err := ws.manager.GetRebalanceFee(r.Context(), poolID)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"pool_id": poolID, "fee": fee})
}

func (ws *WebServer) handleGetMaxInvestable(w http.ResponseWriter, r *http.Request) {
	poolID := poolIDFrom(r)
	amount, err := ws.manager.MaxInvestableBalance(r.Context(), poolID)
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"pool_id": poolID, "max_investable": amount})
}

// RebalanceRequest is the body of POST /api/pools/{poolId}/rebalance.
type RebalanceRequest struct {
	Caller string          `json:"caller"`
	Swap   *types.SwapSpec `json:"swap,omitempty"`
}

// decodeRequest reads a JSON body into dst and requires a caller. It writes the
// 400 response itself and reports whether the handler should go on.
func (ws *WebServer) decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}, caller func() string) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if strings.TrimSpace(caller()) == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "caller is required")
		return false
	}
	return true
}

func (ws *WebServer) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req RebalanceRequest
	if !ws.decodeRequest(w, r, &req, func() string { return req.Caller }) {
		return
	}

	var (
		result *types.RebalanceResult
		err    error
	)
	if req.Swap != nil {
		result, err = ws.manager.RebalanceAndSwap(r.Context(), poolIDFrom(r), req.Caller, *req.Swap)
	} else {
		result, err = ws.manager.Rebalance(r.Context(), poolIDFrom(r), req.Caller)
	}
	if err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, result)
}

// PoolConfigRequest is the body of PUT /api/pools/{poolId}/config. Every percentage
// is required and accepts a fraction ("0.25") or a percent string ("25%").
type PoolConfigRequest struct {
	Caller                  string `json:"caller"`
	TargetPercentage        string `json:"target_percentage"`
	UpperCriticalPercentage string `json:"upper_critical_percentage"`
	LowerCriticalPercentage string `json:"lower_critical_percentage"`
	FeePercentage           string `json:"fee_percentage"`
}

func (req PoolConfigRequest) toConfig() (types.PoolConfig, error) {
	var cfg types.PoolConfig
	for _, f := range []struct {
		name string
		raw  string
		dst  *math.LegacyDec
	}{
		{"target_percentage", req.TargetPercentage, &cfg.TargetPercentage},
		{"upper_critical_percentage", req.UpperCriticalPercentage, &cfg.UpperCriticalPercentage},
		{"lower_critical_percentage", req.LowerCriticalPercentage, &cfg.LowerCriticalPercentage},
		{"fee_percentage", req.FeePercentage, &cfg.FeePercentage},
	} {
		d, err := utils.ParsePercentage(f.raw)
		if err != nil {
			return types.PoolConfig{}, errorsmod.Wrapf(types.ErrInvalidPoolConfig, "%s: %s", f.name, err)
		}
		*f.dst = d
	}
	return cfg, nil
}

func (ws *WebServer) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req PoolConfigRequest
	if !ws.decodeRequest(w, r, &req, func() string { return req.Caller }) {
		return
	}
	cfg, err := req.toConfig()
	if err != nil {
		ws.writeError(w, err)
		return
	}

	poolID := poolIDFrom(r)
	if err := ws.manager.SetPoolConfig(r.Context(), req.Caller, poolID, cfg); err != nil {
		ws.writeError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"pool_id": poolID, "config": cfg})
}

// CapitalRequest is the body of the capital-in, capital-out and managed endpoints.
type CapitalRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type capitalFunc func(ctx context.Context, caller string, poolID types.PoolID, amount math.Int) (types.PoolBalances, error)

func (ws *WebServer) handleCapital(apply capitalFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CapitalRequest
		if !ws.decodeRequest(w, r, &req, func() string { return req.Caller }) {
			return
		}
		amount, err := utils.ParseInt(req.Amount)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, "amount: "+err.Error())
			return
		}

		poolID := poolIDFrom(r)
		balances, err := apply(r.Context(), req.Caller, poolID, amount)
		if err != nil {
			ws.writeError(w, err)
			return
		}
		ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"pool_id": poolID,
			"asset":   ws.manager.Asset(),
			"cash":    balances.Cash,
			"managed": balances.Managed,
			"tvl":     balances.TVL(),
		})
	}
}

// handleGetReceipts returns recent rebalance receipts
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	receipts, err := ws.manager.RecentReceipts(r.Context(), limit)
	if err != nil {
		ws.log.Error().Err(err).Msg("Failed to get recent receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve receipts")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"limit":    limit,
	})
}

func (ws *WebServer) handleGetFees(w http.ResponseWriter, r *http.Request) {
	summary, err := ws.manager.FeeSummary(r.Context())
	if err != nil {
		ws.log.Error().Err(err).Msg("Failed to get fee summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve fee summary")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"pools": summary})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrPoolNotFound), errors.Is(err, types.ErrPoolNotConfigured):
		return http.StatusNotFound
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, types.ErrStaleLedgerState), errors.Is(err, types.ErrPoolAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, types.ErrSenderNotAssetManager),
		errors.Is(err, types.ErrWrongSwapAsset),
		errors.Is(err, types.ErrInternalBalanceUse),
		errors.Is(err, types.ErrInvalidSwap),
		errors.Is(err, types.ErrInvalidAmount),
		errors.Is(err, types.ErrInvalidPoolConfig):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrInsufficientBalance),
		errors.Is(err, types.ErrSwapLimitExceeded),
		errors.Is(err, types.ErrSwapDeadline),
		errors.Is(err, types.ErrUnknownAsset):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (ws *WebServer) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		ws.log.Error().Err(err).Msg("Request failed")
		ws.writeErrorResponse(w, code, "Internal error")
		return
	}
	ws.writeErrorResponse(w, code, err.Error())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		ws.log.Error().Err(err).Msg("Failed to encode JSON response")
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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
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

		ws.log.Info().
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
