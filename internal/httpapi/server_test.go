package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/avvvet/defibuddy-intent/internal/chain"
	"github.com/avvvet/defibuddy-intent/internal/handlers"
	"github.com/avvvet/defibuddy-intent/internal/knowledge"
	"github.com/avvvet/defibuddy-intent/internal/ledger"
	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/avvvet/defibuddy-intent/internal/slots"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRecipient = "0x742d35Cc6634C0532925a3b8D4C9db96590c6C87"

type testServer struct {
	store  *memory.RedisStore
	router http.Handler
}

func newTestServer(t *testing.T, checks ...HealthCheck) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.NewRedisStoreFromClient(client, memory.Options{
		TTL:                30 * time.Minute,
		MaxSessionsPerUser: 2,
	})
	mock := chain.NewMockWallet("0x0000000000000000000000000000000000000001")

	turns := handlers.NewTurnHandler(handlers.TurnDeps{Store: store})
	exec := handlers.NewExecutionHandler(handlers.ExecutionDeps{
		Store:    store,
		Locker:   store,
		Executor: chain.NewExecutor(mock, nil),
		Oracle:   mock,
		Ledger:   ledger.NewInMemoryStore(),
	})
	srv := New(Config{
		ServiceName:        "defibuddy-intent",
		DevAuth:            true,
		Debug:              true,
		AllowedOrigins:     []string{"http://localhost:3000"},
		SessionTTL:         30 * time.Minute,
		MaxSessionsPerUser: 2,
	}, turns, exec, nil, checks...)

	return &testServer{store: store, router: srv.Router()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func asUser(userID string) http.Header {
	h := http.Header{}
	h.Set(UserHeader, userID)
	return h
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]any](t, rec)["status"])
}

func TestHealthDetailedDegraded(t *testing.T) {
	ts := newTestServer(t,
		HealthCheck{Name: "redis", Check: func(context.Context) error { return nil }},
		HealthCheck{Name: "ledger", Check: func(context.Context) error { return errors.New("connection refused") }},
		HealthCheck{Name: "panicky", Check: func(context.Context) error { panic("boom") }},
	)

	rec := ts.do(t, http.MethodGet, "/health/detailed", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]any)
	assert.Equal(t, "healthy", components["redis"].(map[string]any)["status"])
	assert.Equal(t, "unhealthy", components["ledger"].(map[string]any)["status"])
	assert.Equal(t, "unhealthy", components["panicky"].(map[string]any)["status"])
}

func TestQueryRequiresIdentity(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/query", map[string]string{"query": "swap 1 ETH"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, models.ErrorUnauthenticated, decodeBody[models.ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/v1/query", map[string]string{"query": "   "}, asUser("alice"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginCookiesCarryIdentity(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/auth/login", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody[map[string]any](t, rec)
	assert.Regexp(t, `^devuser-[0-9a-f]{8}$`, login["user_id"])

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	header := http.Header{}
	for _, c := range cookies {
		assert.True(t, c.HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		header.Add("Cookie", c.Name+"="+c.Value)
	}

	rec = ts.do(t, http.MethodPost, "/v1/query", map[string]string{"query": "hello there"}, header)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[models.TurnResponse](t, rec)
	assert.Equal(t, login["session_id"], resp.SessionID)
	assert.Equal(t, models.IntentClarification, resp.Intent)
	assert.Equal(t, knowledge.DefaultClarifyingQuestion, resp.ClarificationQuestion)

	rec = ts.do(t, http.MethodPost, "/v1/auth/logout", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge)
	}

	s, err := ts.store.Get(context.Background(), login["user_id"].(string), login["session_id"].(string))
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestCreateSessionQuota(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/v1/sessions", nil, asUser("bob"))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/v1/sessions", nil, asUser("bob"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, models.ErrorQuotaExceeded, decodeBody[models.ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/v1/sessions", nil, asUser("bob"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody[map[string]any](t, rec)["live_sessions"])
}

func TestExecuteNotReady(t *testing.T) {
	ts := newTestServer(t)
	id, err := ts.store.Create(context.Background(), "carol", "", "")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/confirmation", nil, asUser("carol"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, models.ErrorNotReady, decodeBody[models.ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/v1/sessions/unknown/execute", nil, asUser("carol"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConcurrentExecuteSubmitsOnce(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	id, err := ts.store.Create(ctx, "hank", "", "")
	require.NoError(t, err)
	s, err := ts.store.Get(ctx, "hank", id)
	require.NoError(t, err)
	s.Action = &slots.Record{
		Action:   slots.Ptr(slots.ActionSwap),
		Amount:   slots.Ptr("100"),
		TokenIn:  slots.Ptr("USDC"),
		TokenOut: slots.Ptr("ETH"),
		Protocol: slots.Ptr("Uniswap"),
	}
	require.NoError(t, ts.store.Update(ctx, "hank", id, s))

	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/execute", nil, asUser("hank")).Code
		}()
	}
	wg.Wait()
	close(codes)

	var got []int
	for c := range codes {
		got = append(got, c)
	}
	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusConflict}, got)

	rec := ts.do(t, http.MethodGet, "/v1/transactions", nil, asUser("hank"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[map[string][]ledger.Entry](t, rec)["transactions"], 1)
}

func TestPaymentFlow(t *testing.T) {
	ts := newTestServer(t)
	id, err := ts.store.Create(context.Background(), "dave", "", "")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/v1/payments", map[string]string{
		"session_id": id, "service": "oracle", "amount": "1.5", "token": "usdc",
	}, asUser("dave"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending_confirmation", decodeBody[map[string]any](t, rec)["status"])

	header := asUser("dave")
	header.Set(SessionHeader, id)
	rec = ts.do(t, http.MethodPost, "/v1/payments/confirm", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decodeBody[ledger.Entry](t, rec)
	assert.Equal(t, chain.HashPay, entry.TxHash)

	rec = ts.do(t, http.MethodPost, "/v1/payments/confirm", nil, header)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/transactions?limit=5", nil, asUser("dave"))
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decodeBody[map[string][]ledger.Entry](t, rec)
	assert.Len(t, txs["transactions"], 1)
}

func TestPaymentRejectsUnknownService(t *testing.T) {
	ts := newTestServer(t)
	id, err := ts.store.Create(context.Background(), "erin", "", "")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/v1/payments", map[string]string{
		"session_id": id, "service": "weather", "amount": "1",
	}, asUser("erin"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/payments", map[string]string{"service": "oracle"}, asUser("erin"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransferInsufficientFunds(t *testing.T) {
	ts := newTestServer(t)
	id, err := ts.store.Create(context.Background(), "frank", "", "")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/v1/transfers", map[string]string{
		"session_id": id, "amount": "5", "token": "ETH", "recipient": testRecipient,
	}, asUser("frank"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/transfers/confirm", map[string]string{"session_id": id}, asUser("frank"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, models.ErrorInsufficient, decodeBody[models.ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/v1/transfers/cancel", map[string]string{"session_id": id}, asUser("frank"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWalletAndPrice(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/wallet", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/wallet?asset=USDC", nil, asUser("gina"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "USDC", body["asset"])
	assert.Equal(t, "0x0000000000000000000000000000000000000001", body["address"])
	assert.Equal(t, false, body["connected"])
	assert.NotContains(t, body, "connected_address")

	rec = ts.do(t, http.MethodGet, "/v1/prices/eth", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3500.5", decodeBody[map[string]any](t, rec)["price_usd"])
}
