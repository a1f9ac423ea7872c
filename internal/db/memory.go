package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/olincollege/omg-exchange/internal/exchange"
	"github.com/olincollege/omg-exchange/internal/models"
)

// MemStore is an in-memory exchange.Store. It backs the engine in tests and
// in -dev runs where no Postgres instance is available. Transactions are
// staged against a deep copy and swapped in on success, so a mid-sequence
// failure leaves the store untouched.
type MemStore struct {
	mu     sync.Mutex
	state  *memState
	staged bool
}

type memState struct {
	users       map[int]*models.User
	orders      map[int]*models.Order
	archives    []models.Order
	nextUserID  int
	nextOrderID int
}

var _ exchange.Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{state: &memState{
		users:       make(map[int]*models.User),
		orders:      make(map[int]*models.Order),
		nextUserID:  1,
		nextOrderID: 1,
	}}
}

func (st *memState) clone() *memState {
	c := &memState{
		users:       make(map[int]*models.User, len(st.users)),
		orders:      make(map[int]*models.Order, len(st.orders)),
		archives:    append([]models.Order(nil), st.archives...),
		nextUserID:  st.nextUserID,
		nextOrderID: st.nextOrderID,
	}
	for id, u := range st.users {
		cp := *u
		c.users[id] = &cp
	}
	for id, o := range st.orders {
		cp := *o
		c.orders[id] = &cp
	}
	return c
}

// WithTx stages fn's mutations on a copy of the store state and commits the
// copy only if fn succeeds. Nested calls run against the current stage.
func (m *MemStore) WithTx(ctx context.Context, fn func(exchange.Store) error) error {
	if m.staged {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := &MemStore{state: m.state.clone(), staged: true}
	if err := fn(staged); err != nil {
		return err
	}
	m.state = staged.state
	return nil
}

// do locks around direct access. Staged stores created inside WithTx skip
// the lock; the parent's mutex is already held for the whole transaction.
func (m *MemStore) do(fn func(st *memState) error) error {
	if !m.staged {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return fn(m.state)
}

// CreateUser inserts a new user with the given starting balances.
func (m *MemStore) CreateUser(ctx context.Context, username, passwordHash, name string, balances models.Balances) (*models.User, error) {
	var out *models.User
	err := m.do(func(st *memState) error {
		for _, existing := range st.users {
			if existing.Username == username {
				return fmt.Errorf("username %q already taken", username)
			}
		}
		u := &models.User{
			ID:           st.nextUserID,
			Username:     username,
			PasswordHash: passwordHash,
			Name:         name,
			Balances:     balances,
			CreatedAt:    time.Now(),
		}
		st.nextUserID++
		st.users[u.ID] = u
		cp := *u
		out = &cp
		return nil
	})
	return out, err
}

// GetUser retrieves a user by id.
func (m *MemStore) GetUser(ctx context.Context, id int) (*models.User, error) {
	var out *models.User
	err := m.do(func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return exchange.ErrUserNotFound
		}
		cp := *u
		out = &cp
		return nil
	})
	return out, err
}

// GetUserByUsername retrieves a user by username.
func (m *MemStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var out *models.User
	err := m.do(func(st *memState) error {
		for _, u := range st.users {
			if u.Username == username {
				cp := *u
				out = &cp
				return nil
			}
		}
		return exchange.ErrUserNotFound
	})
	return out, err
}

// UpdateUserBalances overwrites all four balance fields for a user.
func (m *MemStore) UpdateUserBalances(ctx context.Context, id int, balances models.Balances) error {
	return m.do(func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return exchange.ErrUserNotFound
		}
		u.Balances = balances
		return nil
	})
}

// InsertOrder inserts a new open order, assigning an id and timestamp.
func (m *MemStore) InsertOrder(ctx context.Context, order *models.Order) (int, error) {
	err := m.do(func(st *memState) error {
		order.ID = st.nextOrderID
		st.nextOrderID++
		order.CreatedAt = time.Now()
		cp := *order
		st.orders[order.ID] = &cp
		return nil
	})
	return order.ID, err
}

// UpdateOrder overwrites an open order by id.
func (m *MemStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	return m.do(func(st *memState) error {
		if _, ok := st.orders[order.ID]; !ok {
			return exchange.ErrOrderNotFound
		}
		cp := *order
		st.orders[order.ID] = &cp
		return nil
	})
}

// DeleteOrder removes an open order by id.
func (m *MemStore) DeleteOrder(ctx context.Context, id int) error {
	return m.do(func(st *memState) error {
		if _, ok := st.orders[id]; !ok {
			return exchange.ErrOrderNotFound
		}
		delete(st.orders, id)
		return nil
	})
}

// GetOrder retrieves an open order by id.
func (m *MemStore) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	var out *models.Order
	err := m.do(func(st *memState) error {
		o, ok := st.orders[id]
		if !ok {
			return exchange.ErrOrderNotFound
		}
		cp := *o
		out = &cp
		return nil
	})
	return out, err
}

// InsertArchive appends a settled order leg.
func (m *MemStore) InsertArchive(ctx context.Context, order *models.Order) error {
	return m.do(func(st *memState) error {
		st.archives = append(st.archives, *order)
		return nil
	})
}

// FindBestCounter finds the earliest-created compatible resting counter-order
// for an incoming order, excluding the submitter's own orders. Price is a
// filter, not a ranking key.
func (m *MemStore) FindBestCounter(ctx context.Context, item models.Coin, side models.Side, price float64, excludeUser int) (int, error) {
	var best *models.Order
	err := m.do(func(st *memState) error {
		for _, o := range st.orders {
			if o.Item != item || o.Side != side.Opposite() || o.UserID == excludeUser {
				continue
			}
			if side == models.Buy && o.UnitPrice > price {
				continue
			}
			if side == models.Sell && o.UnitPrice < price {
				continue
			}
			if best == nil || earlier(o, best) {
				best = o
			}
		}
		return nil
	})
	if err != nil || best == nil {
		return 0, err
	}
	return best.ID, nil
}

func earlier(a, b *models.Order) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// TopOrders returns up to n resting orders for one side of one item, best
// price first (buys descending, sells ascending).
func (m *MemStore) TopOrders(ctx context.Context, item models.Coin, side models.Side, n int) ([]models.Order, error) {
	var out []models.Order
	err := m.do(func(st *memState) error {
		for _, o := range st.orders {
			if o.Item == item && o.Side == side {
				out = append(out, *o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnitPrice == out[j].UnitPrice {
			return earlier(&out[i], &out[j])
		}
		if side == models.Buy {
			return out[i].UnitPrice > out[j].UnitPrice
		}
		return out[i].UnitPrice < out[j].UnitPrice
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// OpenOrdersByUser retrieves all of a user's resting orders.
func (m *MemStore) OpenOrdersByUser(ctx context.Context, userID int) ([]models.Order, error) {
	var out []models.Order
	err := m.do(func(st *memState) error {
		for _, o := range st.orders {
			if o.UserID == userID {
				out = append(out, *o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return earlier(&out[i], &out[j]) })
	return out, nil
}

// ArchivedOrdersByUser retrieves all of a user's archived order legs in
// archive order.
func (m *MemStore) ArchivedOrdersByUser(ctx context.Context, userID int) ([]models.Order, error) {
	var out []models.Order
	err := m.do(func(st *memState) error {
		for _, o := range st.archives {
			if o.UserID == userID {
				out = append(out, o)
			}
		}
		return nil
	})
	return out, err
}
