package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olincollege/omg-exchange/internal/auth"
	"github.com/olincollege/omg-exchange/internal/db"
	"github.com/olincollege/omg-exchange/internal/exchange"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := db.NewMemStore()
	engine := exchange.NewEngine(store)
	authService := auth.NewService(store, "test-secret")
	h := NewHandler(engine, authService, nil)

	r := chi.NewRouter()
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/orderbook/{coin}", h.GetOrderBook)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.GetUserOrders)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Get("/inventory", h.GetInventory)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func registerAndLogin(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]string{
		"username": username, "password": "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"username": username, "password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestRegisterValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]string{
		"username": "", "password": "password123",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/auth/register", "", map[string]string{
		"username": "alice", "password": "password123",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t)
	registerAndLogin(t, srv, "alice")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "", map[string]string{
		"username": "alice", "password": "wrongpass1",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/inventory", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/inventory", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetInventory(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/inventory", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(100), body["OMG"])
	assert.Equal(t, float64(100), body["DOGE"])
	assert.Equal(t, float64(10), body["BTC"])
	assert.Equal(t, float64(10), body["ETH"])
}

func TestPlaceOrderRestsAndListsIt(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/orders", token, map[string]interface{}{
		"item": "DOGE", "side": "buy", "price": 2.0, "quantity": 10,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "rested", body["outcome"])
	assert.NotZero(t, body["order_id"])

	// Escrow shows up in the inventory.
	resp, inv := doJSON(t, http.MethodGet, srv.URL+"/inventory", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(80), inv["OMG"])

	resp, orders := doJSON(t, http.MethodGet, srv.URL+"/orders", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	open, _ := orders["open"].([]interface{})
	require.Len(t, open, 1)
	archived, _ := orders["archived"].([]interface{})
	assert.Empty(t, archived)
}

func TestPlaceOrderValidation(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	cases := []map[string]interface{}{
		{"item": "XRP", "side": "buy", "price": 1.0, "quantity": 1},
		{"item": "BTC", "side": "hold", "price": 1.0, "quantity": 1},
		{"item": "BTC", "side": "buy", "price": -1.0, "quantity": 1},
		{"item": "BTC", "side": "buy", "price": 1.0, "quantity": 0},
	}
	for _, c := range cases {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/orders", token, c)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "case %v", c)
	}
}

func TestPlaceOrderInsufficientFunds(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/orders", token, map[string]interface{}{
		"item": "BTC", "side": "buy", "price": 1000.0, "quantity": 10,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestOrdersMatchAcrossUsers(t *testing.T) {
	srv := newTestServer(t)
	sellerToken := registerAndLogin(t, srv, "seller")
	buyerToken := registerAndLogin(t, srv, "buyer")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/orders", sellerToken, map[string]interface{}{
		"item": "BTC", "side": "sell", "price": 10.0, "quantity": 5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/orders", buyerToken, map[string]interface{}{
		"item": "BTC", "side": "buy", "price": 10.0, "quantity": 5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "filled", body["outcome"])
	assert.Equal(t, float64(5), body["filled_quantity"])
	assert.Equal(t, float64(10), body["fill_price"])

	resp, inv := doJSON(t, http.MethodGet, srv.URL+"/inventory", buyerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(50), inv["OMG"])
	assert.Equal(t, float64(15), inv["BTC"])
}

func TestGetOrderBook(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "alice")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/orders", token, map[string]interface{}{
		"item": "ETH", "side": "sell", "price": 4.0, "quantity": 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/orderbook/ETH", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sells, _ := body["sell_orders"].([]interface{})
	require.Len(t, sells, 1)
	buys, _ := body["buy_orders"].([]interface{})
	assert.Empty(t, buys)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/orderbook/XRP", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelOrderOwnership(t *testing.T) {
	srv := newTestServer(t)
	aliceToken := registerAndLogin(t, srv, "alice")
	bobToken := registerAndLogin(t, srv, "bob")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/orders", aliceToken, map[string]interface{}{
		"item": "DOGE", "side": "sell", "price": 1.0, "quantity": 5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID := int(body["order_id"].(float64))

	url := fmt.Sprintf("%s/orders/%d", srv.URL, orderID)
	resp, _ = doJSON(t, http.MethodDelete, url, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, url, aliceToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, url, aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
