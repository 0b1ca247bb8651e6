package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"restaurant-system/internal/common/httpx"
	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/metrics"
	"restaurant-system/internal/microservices/notificator"
	"restaurant-system/internal/microservices/order/repository"
	"restaurant-system/internal/microservices/order/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type env struct {
	srv *httptest.Server
	hub *notificator.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	m := metrics.NewRegistry()
	hub := notificator.NewHub(16, logger.NewNop(), m)
	svc := service.New(repository.NewMemoryStore(), hub, logger.NewNop(), m)
	mux := http.NewServeMux()
	Register(mux, New(svc, hub, time.Second, logger.NewNop()))
	srv := httptest.NewServer(httpx.TenantMiddleware(mux))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &env{srv: srv, hub: hub}
}

func (e *env) do(t *testing.T, method, tenant, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	if tenant != "" {
		req.Header.Set(httpx.TenantHeader, tenant)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

const pickupBody = `{"customer_name":"Linus","order_type":"pickup","items":[{"name":"Quattro","quantity":2,"unit_price":"8.25"}]}`

func (e *env) create(t *testing.T, tenant string) domain.Order {
	t.Helper()
	var o domain.Order
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, tenant, "/api/v1/orders", pickupBody, &o))
	return o
}

func TestCreateAndGet(t *testing.T) {
	e := newEnv(t)
	o := e.create(t, "t1")
	assert.Equal(t, domain.StatusPlaced, o.Status)
	assert.Equal(t, "16.5", o.TotalAmount.String())

	var got domain.Order
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "t1", "/api/v1/orders/"+o.ID, "", &got))
	assert.Equal(t, o.ID, got.ID)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "t2", "/api/v1/orders/"+o.ID, "", nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "t1", "/api/v1/orders/missing", "", nil))
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "", "/api/v1/orders/"+o.ID, "", nil))
}

func TestCreateRejectsBadPayload(t *testing.T) {
	e := newEnv(t)
	for _, body := range []string{
		`{`,
		`{"order_type":"pickup","items":[]}`,
		`{"order_type":"dine_in","items":[{"name":"x","quantity":1,"unit_price":"1"}]}`,
		`{"order_type":"pickup","items":[{"name":"x","quantity":1,"unit_price":"1"}],"table":4}`,
	} {
		var p httpx.Problem
		assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "t1", "/api/v1/orders", body, &p), body)
		assert.Equal(t, "validation_error", p.Type)
	}
}

func TestTransitionErrors(t *testing.T) {
	e := newEnv(t)
	o := e.create(t, "t1")
	path := "/api/v1/orders/" + o.ID + "/transition"

	var p httpx.Problem
	require.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "t1", path, `{"status":"ORDER_DELIVERED"}`, &p))
	assert.Equal(t, "invalid_transition", p.Type)
	assert.True(t, strings.Contains(p.Detail, "refresh"), p.Detail)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "t1", path, `{"status":"BAKING"}`, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "t2", path, `{"status":"ACCEPTED"}`, nil))

	var moved domain.Order
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "t1", path, `{"status":"accepted"}`, &moved))
	assert.Equal(t, domain.StatusAccepted, moved.Status)
	assert.EqualValues(t, 2, moved.Version)
}

func dial(t *testing.T, e *env, tenant string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/v1/orders/subscribe"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{httpx.TenantHeader: []string{tenant}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Eventually(t, func() bool { return e.hub.Subscribers(tenant) > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestSubscribeStreamsTenantEvents(t *testing.T) {
	e := newEnv(t)
	a := dial(t, e, "t1")
	defer a.Close()
	b := dial(t, e, "t2")
	defer b.Close()

	o := e.create(t, "t1")
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "t1", "/api/v1/orders/"+o.ID+"/transition", `{"status":"CANCELLED"}`, nil))

	created := readEvent(t, a)
	assert.Equal(t, domain.EventCreated, created.Kind)
	assert.Equal(t, o.ID, created.Order.ID)

	changed := readEvent(t, a)
	assert.Equal(t, domain.EventStatusChanged, changed.Kind)
	assert.Equal(t, domain.StatusPlaced, changed.PreviousStatus)
	assert.Equal(t, domain.StatusCancelled, changed.Order.Status)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err := b.ReadMessage()
	require.Error(t, err, "other tenants see nothing")
}

func TestSubscribeReleasedOnDisconnect(t *testing.T) {
	e := newEnv(t)
	conn := dial(t, e, "t1")
	require.Equal(t, 1, e.hub.Subscribers("t1"))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return e.hub.Subscribers("t1") == 0 }, 2*time.Second, 5*time.Millisecond)
}
