package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"custodychain/internal/ledger"
	"custodychain/internal/orders"
	"custodychain/internal/processor"
	"custodychain/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv    *httptest.Server
	ledger *ledger.Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l, err := ledger.New(ledger.WithDifficulty(1))
	require.NoError(t, err)
	miner := processor.NewMiner(l, processor.WithLogger(logger))
	svc := orders.NewService(orders.NewMemoryStore(),
		orders.WithSubmitter(miner),
		orders.WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		miner.Run(ctx)
	}()

	server := NewServer(l, miner, svc, logger)
	srv := httptest.NewServer(server.Handler([]string{"*"}, io.Discard))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &testEnv{srv: srv, ledger: l}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSubmitSealAndHistory(t *testing.T) {
	env := newTestEnv(t)

	var ref models.BlockRef
	status := env.do(t, "POST", "/api/v1/transactions", map[string]any{
		"companyId":       "C1",
		"chemicalType":    "Acetone",
		"quantity":        50,
		"transactionType": "manufacture",
	}, &ref)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, int64(1), ref.BlockIndex)
	assert.True(t, ref.Pending)

	var block models.Block
	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/blocks", nil, &block))
	assert.Equal(t, int64(1), block.Index)
	assert.True(t, strings.HasPrefix(block.Hash, "0"))

	var verify verifyResponse
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/chain/verify", nil, &verify))
	assert.True(t, verify.Valid)
	assert.Equal(t, 2, verify.Length)

	var history historyResponse
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/companies/C1/history", nil, &history))
	require.Len(t, history.Transactions, 1)
	assert.Equal(t, "Acetone", history.Transactions[0].ChemicalType)

	var blocks []models.Block
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/blocks", nil, &blocks))
	assert.Len(t, blocks, 2)

	var genesis models.Block
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/blocks/0", nil, &genesis))
	assert.Equal(t, "0", genesis.PreviousHash)
}

func TestSubmitInvalidTransaction(t *testing.T) {
	env := newTestEnv(t)

	var resp errorResponse
	status := env.do(t, "POST", "/api/v1/transactions", map[string]any{
		"companyId":       "C1",
		"chemicalType":    "Acetone",
		"quantity":        -5,
		"transactionType": "manufacture",
	}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", resp.Error.Kind)
	assert.Equal(t, "quantity", resp.Error.Field)
	assert.Empty(t, env.ledger.Pending())
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.srv.URL+"/api/v1/orders", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownBlockAndOrder(t *testing.T) {
	env := newTestEnv(t)

	var resp errorResponse
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/blocks/9", nil, &resp))
	assert.Equal(t, "not_found", resp.Error.Kind)

	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/orders/missing", nil, &resp))
	assert.Equal(t, "not_found", resp.Error.Kind)
}

func TestOrderDeliveryFlow(t *testing.T) {
	env := newTestEnv(t)

	var order models.Order
	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/orders", map[string]any{
		"buyerId":      "B1",
		"chemicalType": "Toluene",
		"quantity":     "20",
		"unit":         "L",
	}, &order))
	assert.Equal(t, models.StatusPending, order.Status)
	id := order.OrderID

	var errResp errorResponse
	status := env.do(t, "POST", "/api/v1/orders/"+id+"/transitions", map[string]any{
		"event": "dispatch", "actor": "S1",
	}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "transition", errResp.Error.Kind)

	require.Equal(t, http.StatusOK, env.do(t, "POST", "/api/v1/orders/"+id+"/transitions", map[string]any{
		"event": "accept", "actor": "S1",
	}, &order))
	assert.Equal(t, models.StatusAccepted, order.Status)
	require.NotEmpty(t, order.SecurityToken)

	require.Equal(t, http.StatusOK, env.do(t, "POST", "/api/v1/orders/"+id+"/transitions", map[string]any{
		"event": "dispatch",
		"actor": "S1",
		"transport": map[string]any{
			"vehicleNumber": "KA-05-7777",
			"driverName":    "M. Das",
		},
	}, &order))
	assert.Equal(t, models.StatusInTransit, order.Status)
	assert.NotEmpty(t, order.TransportID)

	var code map[string]string
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/orders/"+id+"/code", nil, &code))
	parts := strings.Split(code["code"], "|")
	require.Len(t, parts, 3)
	assert.Equal(t, id, parts[0])

	var ticket orders.DeliveryTicket
	require.Equal(t, http.StatusOK, env.do(t, "POST", "/api/v1/deliveries/scan", map[string]any{"code": code["code"]}, &ticket))
	assert.Equal(t, id, ticket.OrderID)

	status = env.do(t, "POST", "/api/v1/deliveries/confirm", map[string]any{
		"ticket": ticket, "token": "WRONG", "remarks": "",
	}, &errResp)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "token_mismatch", errResp.Error.Kind)

	var alerts []models.Alert
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/orders/"+id+"/alerts", nil, &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertDeliveryVerification, alerts[0].Type)

	require.Equal(t, http.StatusOK, env.do(t, "POST", "/api/v1/deliveries/confirm", map[string]any{
		"ticket": ticket, "token": parts[1], "remarks": "seal intact",
	}, &order))
	assert.Equal(t, models.StatusCompleted, order.Status)
	assert.Equal(t, "seal intact", order.DeliveryRemarks)

	var transport models.Transport
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/transports/"+order.TransportID, nil, &transport))
	assert.Equal(t, "KA-05-7777", transport.VehicleNumber)
	assert.Equal(t, models.TransportDelivered, transport.Status)

	status = env.do(t, "POST", "/api/v1/deliveries/verify", map[string]any{
		"orderId": parts[0], "token": parts[1], "issuedAt": parts[2],
	}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_completed", errResp.Error.Kind)

	var pending []models.Transaction
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/transactions/pending", nil, &pending))
	require.Len(t, pending, 2)
	assert.Equal(t, models.TxSale, pending[0].TransactionType)
	assert.Equal(t, "S1", pending[0].CompanyID)
	assert.Equal(t, models.TxPurchase, pending[1].TransactionType)
	assert.Equal(t, "B1", pending[1].CompanyID)
}

func TestUnknownTransitionEvent(t *testing.T) {
	env := newTestEnv(t)
	var order models.Order
	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/orders", map[string]any{
		"buyerId": "B1", "chemicalType": "Toluene", "quantity": "1", "unit": "L",
	}, &order))

	var resp errorResponse
	status := env.do(t, "POST", "/api/v1/orders/"+order.OrderID+"/transitions", map[string]any{
		"event": "teleport", "actor": "S1",
	}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", resp.Error.Kind)
	assert.Equal(t, "event", resp.Error.Field)
}

func TestAlertsForUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	var resp errorResponse
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/orders/missing/alerts", nil, &resp))
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/transports/missing", nil, &resp))
}

func TestOversizedBodyRejected(t *testing.T) {
	env := newTestEnv(t)
	body := `{"buyerId":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	resp, err := http.Post(env.srv.URL+"/api/v1/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "format", out.Error.Kind)
	assert.Contains(t, out.Error.Message, "exceeds")
}

func TestScanRejectsMalformedCode(t *testing.T) {
	env := newTestEnv(t)
	var resp errorResponse
	status := env.do(t, "POST", "/api/v1/deliveries/scan", map[string]any{"code": "only|two"}, &resp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "format", resp.Error.Kind)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	var health map[string]any
	require.Equal(t, http.StatusOK, env.do(t, "GET", "/health", nil, &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["blocks"])

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "custody_chain_length")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequest("OPTIONS", env.srv.URL+"/api/v1/orders", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
