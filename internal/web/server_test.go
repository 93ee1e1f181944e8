package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/assetmanager/internal/assetmanager"
	"github.com/elys-network/assetmanager/internal/metrics"
	"github.com/elys-network/assetmanager/internal/types"
	"github.com/elys-network/assetmanager/internal/vault"
)

func newTestServer(t *testing.T, dbCheck func() error) *WebServer {
	t.Helper()
	ctx := context.Background()
	registry := metrics.NewRegistry()

	am, err := assetmanager.NewAssetManager(assetmanager.Config{
		Asset:        "DAI",
		Identity:     "asset-manager",
		VaultManager: vault.NewMemoryVault(),
		Store:        assetmanager.NewMemoryStore(),
		Cooldown:     time.Hour,
		Metrics:      registry,
	})
	require.NoError(t, err)

	require.NoError(t, am.RegisterPool(ctx, "0x01", "controller", types.NewPoolBalances(1000, 0)))
	require.NoError(t, am.SetPoolConfig(ctx, "controller", "0x01", types.PoolConfig{
		TargetPercentage:        math.LegacyMustNewDecFromStr("0.5"),
		UpperCriticalPercentage: math.LegacyOneDec(),
		LowerCriticalPercentage: math.LegacyMustNewDecFromStr("0.1"),
		FeePercentage:           math.LegacyMustNewDecFromStr("0.1"),
	}))
	require.NoError(t, am.RegisterPool(ctx, "0x02", "controller", types.NewPoolBalances(10, 0)))

	return NewWebServer("0", am, registry, dbCheck)
}

func do(t *testing.T, ws *WebServer, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	ws := newTestServer(t, nil)
	rec, body := do(t, ws, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body["status"])

	status := body["asset_manager_status"].(map[string]interface{})
	assert.Equal(t, 2.0, status["pools"])
	assert.Equal(t, 1.0, status["configured_pools"])

	degraded := newTestServer(t, func() error { return errors.New("db down") })
	rec, body = do(t, degraded, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "DEGRADED", body["status"])
}

func TestPoolQueries(t *testing.T) {
	ws := newTestServer(t, nil)

	rec, body := do(t, ws, http.MethodGet, "/api/pools", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])

	rec, body = do(t, ws, http.MethodGet, "/api/pools/0x01/balances", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", body["cash"])
	assert.Equal(t, "1000", body["tvl"])

	rec, body = do(t, ws, http.MethodGet, "/api/pools/0x01/rebalance-fee", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50", body["fee"])

	rec, body = do(t, ws, http.MethodGet, "/api/pools/0x01/max-investable", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "500", body["max_investable"])

	rec, body = do(t, ws, http.MethodGet, "/api/pools/0x01/config", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.500000000000000000", body["target_percentage"])

	rec, body = do(t, ws, http.MethodGet, "/api/pools/0x01", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["critical"])

	rec, _ = do(t, ws, http.MethodGet, "/api/pools/0x02/config", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, ws, http.MethodGet, "/api/pools/0x99/balances", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, true, body["error"])
}

func TestRebalanceEndpoint(t *testing.T) {
	ws := newTestServer(t, nil)

	rec, _ := do(t, ws, http.MethodPost, "/api/pools/0x01/rebalance", `{"caller":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, ws, http.MethodPost, "/api/pools/0x01/rebalance", `{"caller":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, ws, http.MethodPost, "/api/pools/0x01/rebalance", `{"caller":"keeper","unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	swap := `{"caller":"keeper","swap":{
		"kind":"GIVEN_IN",
		"swaps":[{"pool_id":"0xswap","asset_in_index":0,"asset_out_index":1,"amount":"0"}],
		"assets":["DAI","USDC"],
		"funds":{"sender":"someone-else","recipient":"keeper"},
		"limits":["1000","0"]}}`
	rec, body := do(t, ws, http.MethodPost, "/api/pools/0x01/rebalance", swap)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["message"], "Asset Manager must be sender")

	rec, body = do(t, ws, http.MethodPost, "/api/pools/0x01/rebalance", `{"caller":"keeper"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "invest", body["direction"])
	assert.Equal(t, "475", body["invested"])
	assert.Equal(t, "50", body["fee"])

	rec, _ = do(t, ws, http.MethodPost, "/api/pools/0x02/rebalance", `{"caller":"keeper"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, ws, http.MethodGet, "/api/receipts?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, 5.0, body["limit"])

	rec, body = do(t, ws, http.MethodGet, "/api/fees", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	pools := body["pools"].([]interface{})
	require.Len(t, pools, 1)
	assert.Equal(t, "50", pools[0].(map[string]interface{})["total_fees"])

	rec, _ = do(t, ws, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `assetmanager_rebalances_total{direction="invest"} 1`)
}

func TestSetConfigEndpoint(t *testing.T) {
	ws := newTestServer(t, nil)
	const body = `{"caller":"%s","target_percentage":"80%%","upper_critical_percentage":"0.9",
		"lower_critical_percentage":"0.7","fee_percentage":"0.05"}`

	rec, resp := do(t, ws, http.MethodPut, "/api/pools/0x01/config", fmt.Sprintf(body, "stranger"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, true, resp["error"])

	// the rejected update left the config alone
	rec, resp = do(t, ws, http.MethodGet, "/api/pools/0x01/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.500000000000000000", resp["target_percentage"])

	rec, resp = do(t, ws, http.MethodPut, "/api/pools/0x01/config", fmt.Sprintf(body, "controller"))
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := resp["config"].(map[string]interface{})
	assert.Equal(t, "0.800000000000000000", cfg["target_percentage"])

	rec, resp = do(t, ws, http.MethodGet, "/api/pools/0x01/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.050000000000000000", resp["fee_percentage"])

	// an unconfigured pool can be configured by its controller
	rec, _ = do(t, ws, http.MethodPut, "/api/pools/0x02/config", fmt.Sprintf(body, "controller"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, ws, http.MethodPut, "/api/pools/0x01/config",
		`{"caller":"controller","target_percentage":"0.95","upper_critical_percentage":"0.9",
		"lower_critical_percentage":"0.7","fee_percentage":"0.05"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, ws, http.MethodPut, "/api/pools/0x01/config",
		`{"caller":"controller","target_percentage":"150%","upper_critical_percentage":"1",
		"lower_critical_percentage":"0","fee_percentage":"0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, ws, http.MethodPut, "/api/pools/0x01/config", `{"caller":"controller"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, ws, http.MethodPut, "/api/pools/0x99/config", fmt.Sprintf(body, "controller"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCapitalEndpoints(t *testing.T) {
	ws := newTestServer(t, nil)

	tests := []struct {
		name    string
		path    string
		body    string
		code    int
		cash    string
		managed string
	}{
		{name: "stranger cannot invest", path: "capital-in", body: `{"caller":"stranger","amount":"100"}`, code: http.StatusForbidden},
		{name: "stranger cannot report", path: "managed", body: `{"caller":"stranger","amount":"0"}`, code: http.StatusForbidden},
		{name: "missing caller", path: "capital-in", body: `{"amount":"100"}`, code: http.StatusBadRequest},
		{name: "bad amount", path: "capital-in", body: `{"caller":"controller","amount":"lots"}`, code: http.StatusBadRequest},
		{name: "zero capital in", path: "capital-in", body: `{"caller":"controller","amount":"0"}`, code: http.StatusBadRequest},
		{name: "capital in", path: "capital-in", body: `{"caller":"controller","amount":"100"}`, code: http.StatusOK, cash: "900", managed: "100"},
		{name: "capital out too much", path: "capital-out", body: `{"caller":"controller","amount":"101"}`, code: http.StatusUnprocessableEntity},
		{name: "capital out", path: "capital-out", body: `{"caller":"controller","amount":"40"}`, code: http.StatusOK, cash: "940", managed: "60"},
		{name: "negative managed", path: "managed", body: `{"caller":"controller","amount":"-1"}`, code: http.StatusBadRequest},
		{name: "report managed", path: "managed", body: `{"caller":"controller","amount":"80"}`, code: http.StatusOK, cash: "940", managed: "80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, ws, http.MethodPost, "/api/pools/0x01/"+tt.path, tt.body)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.cash, resp["cash"])
				assert.Equal(t, tt.managed, resp["managed"])
			}
		})
	}

	// only the authorized calls moved value
	rec, resp := do(t, ws, http.MethodGet, "/api/pools/0x01/balances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "940", resp["cash"])
	assert.Equal(t, "80", resp["managed"])

	rec, _ = do(t, ws, http.MethodPost, "/api/pools/0x99/capital-in", `{"caller":"controller","amount":"1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ws := newTestServer(t, nil)
	rec, _ := do(t, ws, http.MethodOptions, "/api/pools/0x01/rebalance", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = do(t, ws, http.MethodOptions, "/api/pools/0x01/config", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, statusFor(types.ErrUnauthorized))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(types.ErrInsufficientBalance))
	assert.Equal(t, http.StatusBadRequest, statusFor(types.ErrWrongSwapAsset))
	assert.Equal(t, http.StatusConflict, statusFor(types.ErrStaleLedgerState))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
