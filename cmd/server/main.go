package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/olincollege/omg-exchange/internal/api"
	"github.com/olincollege/omg-exchange/internal/auth"
	"github.com/olincollege/omg-exchange/internal/cache"
	"github.com/olincollege/omg-exchange/internal/config"
	"github.com/olincollege/omg-exchange/internal/db"
	"github.com/olincollege/omg-exchange/internal/exchange"
	"github.com/olincollege/omg-exchange/internal/models"
	"github.com/olincollege/omg-exchange/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*wsClient]bool)
	clientsMu sync.RWMutex
)

func broadcastBooks(ctx context.Context, engine *exchange.Engine) {
	books := make(map[string]interface{}, len(models.Coins))
	for _, coin := range models.Coins {
		buys, sells, err := engine.BookSnapshot(ctx, coin)
		if err != nil {
			log.Printf("Failed to snapshot %s book: %v", coin, err)
			return
		}
		books[coin.String()] = map[string]interface{}{
			"buy_orders":  buys,
			"sell_orders": sells,
		}
	}
	data, err := json.Marshal(books)
	if err != nil {
		log.Printf("Failed to marshal order books: %v", err)
		return
	}

	clientsMu.RLock()
	stale := []*wsClient{}
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			stale = append(stale, client)
		}
	}
	clientsMu.RUnlock()

	if len(stale) > 0 {
		clientsMu.Lock()
		for _, client := range stale {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handleWebSocket(engine *exchange.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		client := &wsClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		broadcastBooks(r.Context(), engine)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// Main entry point: sets up the store, engine, TCP session server and HTTP
// server.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var store exchange.Store
	if cfg.InMemory {
		log.Println("Using in-memory store")
		store = db.NewMemStore()
	} else {
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		migration, err := os.ReadFile("migrations/001_init.sql")
		if err != nil {
			log.Fatalf("Failed to read migration: %v", err)
		}
		if _, err := database.Pool.Exec(ctx, string(migration)); err != nil {
			log.Fatalf("Failed to apply migration: %v", err)
		}
		store = database
	}

	engine := exchange.NewEngine(store)
	engine.SnapshotDepth(cfg.SnapshotDepth)
	authService := auth.NewService(store, cfg.JWTSecret)
	snapshots := cache.New(cfg.RedisAddr, time.Second)
	defer snapshots.Close()

	handler := api.NewHandler(engine, authService, snapshots)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws", handleWebSocket(engine))
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/orderbook/{coin}", handler.GetOrderBook)

	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.GetUserOrders)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Get("/inventory", handler.GetInventory)
	})

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				broadcastBooks(ctx, engine)
			case <-ctx.Done():
				return
			}
		}
	}()

	tcpServer := session.NewServer(engine, authService, snapshots)
	go func() {
		log.Printf("Starting session server on %s", cfg.TCPAddr)
		if err := tcpServer.ListenAndServe(ctx, cfg.TCPAddr); err != nil {
			log.Fatalf("Session server failed: %v", err)
		}
	}()

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting HTTP server on %s", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
