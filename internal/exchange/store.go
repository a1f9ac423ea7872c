package exchange

import (
	"context"
	"errors"

	"github.com/olincollege/omg-exchange/internal/models"
)

// Engine error taxonomy. Validation, authorization and not-found errors are
// rejected before any mutation; store errors abort the whole settlement
// transaction.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUserNotFound      = errors.New("user not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// Store is the ledger the engine settles against: users with their coin
// balances, the open order book and the append-only archive. Implementations
// must make WithTx atomic; the engine issues every multi-step settlement
// inside one transaction. All operations are single-row reads and writes.
type Store interface {
	GetUser(ctx context.Context, id int) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, username, passwordHash, name string, balances models.Balances) (*models.User, error)
	// UpdateUserBalances overwrites all four balance fields, keyed by id.
	UpdateUserBalances(ctx context.Context, id int, balances models.Balances) error

	// InsertOrder assigns an id and creation timestamp and returns the id.
	InsertOrder(ctx context.Context, order *models.Order) (int, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	DeleteOrder(ctx context.Context, id int) error
	GetOrder(ctx context.Context, id int) (*models.Order, error)

	// InsertArchive appends a settled order leg. The archived row keeps the
	// order's open-book id and timestamp; legs that never rested carry id 0.
	InsertArchive(ctx context.Context, order *models.Order) error

	// FindBestCounter returns the id of the earliest-created resting order on
	// the opposite side of the given incoming side whose price is compatible
	// (sell price <= limit for an incoming buy, buy price >= limit for an
	// incoming sell), excluding orders owned by excludeUser. Returns 0 when
	// no counter-order exists.
	FindBestCounter(ctx context.Context, item models.Coin, side models.Side, price float64, excludeUser int) (int, error)
	// TopOrders returns up to n resting orders for one side of one item,
	// best price first (buys descending, sells ascending).
	TopOrders(ctx context.Context, item models.Coin, side models.Side, n int) ([]models.Order, error)

	OpenOrdersByUser(ctx context.Context, userID int) ([]models.Order, error)
	ArchivedOrdersByUser(ctx context.Context, userID int) ([]models.Order, error)

	// WithTx runs fn against a transactional view of the store. If fn
	// returns an error, nothing fn did is visible afterwards.
	WithTx(ctx context.Context, fn func(Store) error) error
}
