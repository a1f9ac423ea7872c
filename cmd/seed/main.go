package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/olincollege/omg-exchange/internal/auth"
	"github.com/olincollege/omg-exchange/internal/config"
	"github.com/olincollege/omg-exchange/internal/db"
	"github.com/olincollege/omg-exchange/internal/exchange"
	"github.com/olincollege/omg-exchange/internal/models"
)

// Seed the database with demo traders and a few resting orders.
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

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

	authService := auth.NewService(database, cfg.JWTSecret)
	engine := exchange.NewEngine(database)

	users := make(map[string]*models.User)
	for _, username := range []string{"trader1", "trader2"} {
		user, err := database.GetUserByUsername(ctx, username)
		if err == nil {
			users[username] = user
			continue
		}
		user, err = authService.Register(ctx, username, "password", username)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", username, err)
		}
		users[username] = user
		fmt.Printf("Created %s (id %d)\n", username, user.ID)
	}

	open, err := database.OpenOrdersByUser(ctx, users["trader1"].ID)
	if err != nil {
		log.Fatalf("Failed to check orders: %v", err)
	}
	if len(open) > 0 {
		fmt.Println("Database already seeded.")
		return
	}

	// Resting orders far enough apart not to cross.
	seedOrders := []struct {
		username string
		item     models.Coin
		side     models.Side
		qty      int64
		price    float64
	}{
		{"trader1", models.CoinBTC, models.Sell, 2, 30},
		{"trader1", models.CoinETH, models.Sell, 3, 10},
		{"trader2", models.CoinBTC, models.Buy, 1, 20},
		{"trader2", models.CoinDOGE, models.Buy, 10, 2},
	}
	for _, o := range seedOrders {
		userID := users[o.username].ID
		var err error
		if o.side == models.Buy {
			_, err = engine.Buy(ctx, userID, o.item, o.qty, o.price)
		} else {
			_, err = engine.Sell(ctx, userID, o.item, o.qty, o.price)
		}
		if err != nil {
			log.Fatalf("Failed to seed order: %v", err)
		}
	}
	fmt.Println("Seeded demo users and orders.")
}
