package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/olincollege/omg-exchange/internal/exchange"
	"github.com/olincollege/omg-exchange/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same statement methods work inside and outside a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DB wraps a PostgreSQL connection pool and implements exchange.Store.
type DB struct {
	Pool *pgxpool.Pool
	conn querier
}

var _ exchange.Store = (*DB)(nil)

// NewDB initializes a new database connection pool.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &DB{Pool: pool, conn: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// WithTx runs fn against a transactional view of the store. A mid-sequence
// failure rolls everything back. Nested calls reuse the outer transaction.
func (db *DB) WithTx(ctx context.Context, fn func(exchange.Store) error) error {
	if _, ok := db.conn.(pgx.Tx); ok {
		return fn(db)
	}
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", exchange.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&DB{Pool: db.Pool, conn: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const userColumns = "id, username, password_hash, name, omg, doge, btc, eth, created_at"

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name,
		&u.Balances[models.CoinOMG], &u.Balances[models.CoinDOGE],
		&u.Balances[models.CoinBTC], &u.Balances[models.CoinETH], &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser inserts a new user with the given starting balances.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash, name string, balances models.Balances) (*models.User, error) {
	row := db.conn.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, name, omg, doge, btc, eth) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+userColumns,
		username, passwordHash, name,
		balances[models.CoinOMG], balances[models.CoinDOGE],
		balances[models.CoinBTC], balances[models.CoinETH])
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by id.
func (db *DB) GetUser(ctx context.Context, id int) (*models.User, error) {
	row := db.conn.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, exchange.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := db.conn.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, exchange.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpdateUserBalances overwrites all four balance fields for a user.
func (db *DB) UpdateUserBalances(ctx context.Context, id int, balances models.Balances) error {
	tag, err := db.conn.Exec(ctx,
		"UPDATE users SET omg = $1, doge = $2, btc = $3, eth = $4 WHERE id = $5",
		balances[models.CoinOMG], balances[models.CoinDOGE],
		balances[models.CoinBTC], balances[models.CoinETH], id)
	if err != nil {
		return fmt.Errorf("failed to update balances: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return exchange.ErrUserNotFound
	}
	return nil
}

const orderColumns = "id, item, side, quantity, unit_price, user_id, created_at"

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	var item, side string
	if err := row.Scan(&o.ID, &item, &side, &o.Quantity, &o.UnitPrice, &o.UserID, &o.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if o.Item, err = models.ParseCoin(item); err != nil {
		return nil, err
	}
	if o.Side, err = models.ParseSide(side); err != nil {
		return nil, err
	}
	return o, nil
}

func scanOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// InsertOrder inserts a new open order and returns the assigned id. The
// creation timestamp is assigned by the database.
func (db *DB) InsertOrder(ctx context.Context, order *models.Order) (int, error) {
	err := db.conn.QueryRow(ctx,
		"INSERT INTO orders (item, side, quantity, unit_price, user_id) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		order.Item.String(), order.Side.String(), order.Quantity, order.UnitPrice, order.UserID).
		Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order: %w", err)
	}
	return order.ID, nil
}

// UpdateOrder overwrites an open order by id.
func (db *DB) UpdateOrder(ctx context.Context, order *models.Order) error {
	tag, err := db.conn.Exec(ctx,
		"UPDATE orders SET item = $1, side = $2, quantity = $3, unit_price = $4, user_id = $5 WHERE id = $6",
		order.Item.String(), order.Side.String(), order.Quantity, order.UnitPrice, order.UserID, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return exchange.ErrOrderNotFound
	}
	return nil
}

// DeleteOrder removes an open order by id.
func (db *DB) DeleteOrder(ctx context.Context, id int) error {
	tag, err := db.conn.Exec(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return exchange.ErrOrderNotFound
	}
	return nil
}

// GetOrder retrieves an open order by id.
func (db *DB) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	row := db.conn.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, exchange.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// InsertArchive appends a settled order leg. The originating open-book id is
// kept in order_id (0 for legs that never rested) and the leg's timestamp is
// stored as given.
func (db *DB) InsertArchive(ctx context.Context, order *models.Order) error {
	_, err := db.conn.Exec(ctx,
		"INSERT INTO archives (order_id, item, side, quantity, unit_price, user_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		order.ID, order.Item.String(), order.Side.String(), order.Quantity, order.UnitPrice, order.UserID, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert archive: %w", err)
	}
	return nil
}

// FindBestCounter finds the earliest-created resting counter-order for an
// incoming order. Price is a filter, not a ranking key, and self-matching is
// excluded.
func (db *DB) FindBestCounter(ctx context.Context, item models.Coin, side models.Side, price float64, excludeUser int) (int, error) {
	cmp := "<="
	if side == models.Sell {
		cmp = ">="
	}
	var id int
	err := db.conn.QueryRow(ctx,
		"SELECT id FROM orders WHERE item = $1 AND side = $2 AND unit_price "+cmp+" $3 AND user_id != $4 "+
			"ORDER BY created_at ASC, id ASC LIMIT 1",
		item.String(), side.Opposite().String(), price, excludeUser).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find counter-order: %w", err)
	}
	return id, nil
}

// TopOrders returns up to n resting orders for one side of one item, best
// price first.
func (db *DB) TopOrders(ctx context.Context, item models.Coin, side models.Side, n int) ([]models.Order, error) {
	dir := "DESC"
	if side == models.Sell {
		dir = "ASC"
	}
	rows, err := db.conn.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE item = $1 AND side = $2 "+
			"ORDER BY unit_price "+dir+", created_at ASC LIMIT $3",
		item.String(), side.String(), n)
	if err != nil {
		return nil, fmt.Errorf("failed to get top orders: %w", err)
	}
	return scanOrders(rows)
}

// OpenOrdersByUser retrieves all of a user's resting orders.
func (db *DB) OpenOrdersByUser(ctx context.Context, userID int) ([]models.Order, error) {
	rows, err := db.conn.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at ASC, id ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	return scanOrders(rows)
}

// ArchivedOrdersByUser retrieves all of a user's archived order legs. The
// returned ids are the originating open-book ids.
func (db *DB) ArchivedOrdersByUser(ctx context.Context, userID int) ([]models.Order, error) {
	rows, err := db.conn.Query(ctx,
		"SELECT order_id, item, side, quantity, unit_price, user_id, created_at "+
			"FROM archives WHERE user_id = $1 ORDER BY id ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get archived orders: %w", err)
	}
	return scanOrders(rows)
}
