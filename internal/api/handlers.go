package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/olincollege/omg-exchange/internal/auth"
	"github.com/olincollege/omg-exchange/internal/cache"
	"github.com/olincollege/omg-exchange/internal/exchange"
	"github.com/olincollege/omg-exchange/internal/models"
)

type ctxKey int

const userIDKey ctxKey = 0

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	Engine      *exchange.Engine
	AuthService *auth.Service
	Snapshots   *cache.SnapshotCache
}

// NewHandler creates a new handler.
func NewHandler(engine *exchange.Engine, authService *auth.Service, snapshots *cache.SnapshotCache) *Handler {
	return &Handler{Engine: engine, AuthService: authService, Snapshots: snapshots}
}

// Register handles user registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password, req.Name)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}
	token, err := h.AuthService.Token(user)
	if err != nil {
		http.Error(w, `{"error": "Failed to issue token"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.UserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value(userIDKey).(int)
	return userID, ok
}

// PlaceOrder handles order placement and matching.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Item     string  `json:"item"`
		Side     string  `json:"side"`
		Price    float64 `json:"price"`
		Quantity int64   `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	item, err := models.ParseCoin(req.Item)
	if err != nil {
		http.Error(w, `{"error": "Unknown item"}`, http.StatusBadRequest)
		return
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		http.Error(w, `{"error": "Side must be 'buy' or 'sell'"}`, http.StatusBadRequest)
		return
	}
	if req.Price < 0 || req.Quantity <= 0 {
		http.Error(w, `{"error": "Price must be non-negative and quantity positive"}`, http.StatusBadRequest)
		return
	}

	var result *exchange.OrderResult
	if side == models.Buy {
		result, err = h.Engine.Buy(r.Context(), userID, item, req.Quantity, req.Price)
	} else {
		result, err = h.Engine.Sell(r.Context(), userID, item, req.Quantity, req.Price)
	}
	if err != nil {
		if errors.Is(err, exchange.ErrInsufficientFunds) {
			http.Error(w, `{"error": "Insufficient funds"}`, http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, `{"error": "Failed to place order"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// GetUserOrders retrieves a user's open and archived orders.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	open, err := h.Engine.OpenOrders(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusInternalServerError)
		return
	}
	archived, err := h.Engine.ArchivedOrders(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"open":     open,
		"archived": archived,
	})
}

// GetOrderBook retrieves the top of the book for one coin, serving a cached
// snapshot when one is fresh.
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	item, err := models.ParseCoin(chi.URLParam(r, "coin"))
	if err != nil {
		http.Error(w, `{"error": "Unknown item"}`, http.StatusBadRequest)
		return
	}

	key := "book:" + item.String()
	if cached, ok := h.Snapshots.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(cached))
		return
	}

	buys, sells, err := h.Engine.BookSnapshot(r.Context(), item)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve order book"}`, http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"buy_orders":  buys,
		"sell_orders": sells,
	})
	if err != nil {
		http.Error(w, `{"error": "Failed to encode order book"}`, http.StatusInternalServerError)
		return
	}
	h.Snapshots.Set(r.Context(), key, string(body))

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// GetInventory retrieves the authenticated user's balances.
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	balances, err := h.Engine.Inventory(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve inventory"}`, http.StatusInternalServerError)
		return
	}

	out := make(map[string]int64, len(models.Coins))
	for _, coin := range models.Coins {
		out[coin.String()] = balances[coin]
	}
	json.NewEncoder(w).Encode(out)
}

// CancelOrder cancels an open order owned by the authenticated user.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid order ID"}`, http.StatusBadRequest)
		return
	}

	err = h.Engine.CancelOrder(r.Context(), orderID, userID)
	switch {
	case err == nil:
		json.NewEncoder(w).Encode(map[string]string{"message": "Order canceled"})
	case errors.Is(err, exchange.ErrOrderNotFound):
		http.Error(w, `{"error": "Order not found"}`, http.StatusNotFound)
	case errors.Is(err, exchange.ErrUnauthorized):
		http.Error(w, `{"error": "Order does not belong to you"}`, http.StatusForbidden)
	default:
		http.Error(w, `{"error": "Failed to cancel order"}`, http.StatusInternalServerError)
	}
}
