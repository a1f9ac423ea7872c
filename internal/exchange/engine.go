package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/olincollege/omg-exchange/internal/models"
)

// DefaultSnapshotDepth is how many orders per side a book snapshot returns.
const DefaultSnapshotDepth = 5

// Outcome reports what happened to a submitted order.
type Outcome int

const (
	// RestedUnfilled means no counter-order existed; the order now rests in
	// the open book with its funds escrowed.
	RestedUnfilled Outcome = iota
	// FullyFilled means the order traded away its entire quantity.
	FullyFilled
	// PartiallyFilledThenRested means part of the order traded and the
	// remainder rests in the open book.
	PartiallyFilledThenRested
)

func (o Outcome) String() string {
	switch o {
	case RestedUnfilled:
		return "rested"
	case FullyFilled:
		return "filled"
	case PartiallyFilledThenRested:
		return "partially filled"
	}
	return "unknown"
}

// MarshalJSON emits the outcome as its word form, which is what API
// responses carry.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// OrderResult describes the terminal state of a submitted order.
type OrderResult struct {
	Outcome Outcome `json:"outcome"`
	// OrderID is the id of the resting order (the whole order or its
	// remainder). Zero when the order was fully filled.
	OrderID int `json:"order_id,omitempty"`
	// FilledQuantity and FillPrice describe the trade, if one happened.
	// FillPrice is the resting counter-order's unit price.
	FilledQuantity int64   `json:"filled_quantity,omitempty"`
	FillPrice      float64 `json:"fill_price,omitempty"`
	MatchedOrderID int     `json:"matched_order_id,omitempty"`
}

// Engine is the order matching and settlement engine. A single mutex
// serializes every execute/cancel so the multi-step settlement sequence
// appears atomic to concurrent callers; the store transaction makes it
// atomic against failures.
type Engine struct {
	store Store
	mu    sync.Mutex
	depth int
	now   func() time.Time
}

// NewEngine creates an engine over the given ledger store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, depth: DefaultSnapshotDepth, now: time.Now}
}

// SnapshotDepth overrides the number of orders per side in book snapshots.
func (e *Engine) SnapshotDepth(n int) {
	if n > 0 {
		e.depth = n
	}
}

// Buy submits a buy order for quantity units of item at unitPrice each.
func (e *Engine) Buy(ctx context.Context, userID int, item models.Coin, quantity int64, unitPrice float64) (*OrderResult, error) {
	return e.execute(ctx, &models.Order{
		Item:      item,
		Side:      models.Buy,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		UserID:    userID,
	})
}

// Sell submits a sell order for quantity units of item at unitPrice each.
func (e *Engine) Sell(ctx context.Context, userID int, item models.Coin, quantity int64, unitPrice float64) (*OrderResult, error) {
	return e.execute(ctx, &models.Order{
		Item:      item,
		Side:      models.Sell,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		UserID:    userID,
	})
}

// execute runs the full matching sequence for an incoming order: validate
// funds, search for the oldest compatible counter-order, settle any fill and
// rest the remainder. The whole sequence runs inside one store transaction
// under the engine mutex.
func (e *Engine) execute(ctx context.Context, incoming *models.Order) (*OrderResult, error) {
	if incoming.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if incoming.UnitPrice < 0 {
		return nil, fmt.Errorf("unit price must be non-negative")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var result *OrderResult
	err := e.store.WithTx(ctx, func(s Store) error {
		submitter, err := s.GetUser(ctx, incoming.UserID)
		if err != nil {
			return err
		}
		if err := checkFunds(submitter, incoming); err != nil {
			return err
		}

		matchID, err := s.FindBestCounter(ctx, incoming.Item, incoming.Side, incoming.UnitPrice, incoming.UserID)
		if err != nil {
			return err
		}
		if matchID == 0 {
			id, err := e.rest(ctx, s, incoming)
			if err != nil {
				return err
			}
			result = &OrderResult{Outcome: RestedUnfilled, OrderID: id}
			return nil
		}

		matched, err := s.GetOrder(ctx, matchID)
		if err != nil {
			return err
		}

		// Archive both pre-fill legs before touching any quantity. The
		// matched leg keeps its open-book id and timestamp; the incoming leg
		// is freshly stamped and never had an id.
		incoming.CreatedAt = e.now()
		if err := s.InsertArchive(ctx, matched); err != nil {
			return err
		}
		if err := s.InsertArchive(ctx, incoming); err != nil {
			return err
		}

		fillQty := min(incoming.Quantity, matched.Quantity)
		// The resting order's price is the execution price.
		fillCost := int64(float64(fillQty) * matched.UnitPrice)
		incoming.Quantity -= fillQty
		matched.Quantity -= fillQty

		if err := e.settle(ctx, s, incoming, matched, fillQty, fillCost); err != nil {
			return err
		}

		if matched.Quantity == 0 {
			if err := s.DeleteOrder(ctx, matched.ID); err != nil {
				return err
			}
		} else if err := s.UpdateOrder(ctx, matched); err != nil {
			return err
		}

		result = &OrderResult{
			Outcome:        FullyFilled,
			FilledQuantity: fillQty,
			FillPrice:      matched.UnitPrice,
			MatchedOrderID: matched.ID,
		}
		if incoming.Quantity > 0 {
			id, err := e.rest(ctx, s, incoming)
			if err != nil {
				return err
			}
			result.Outcome = PartiallyFilledThenRested
			result.OrderID = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkFunds validates the submitter's current balance against the order.
// Buys are paid for in OMG regardless of the item bought.
func checkFunds(u *models.User, o *models.Order) error {
	if o.Side == models.Buy {
		cost := int64(float64(o.Quantity) * o.UnitPrice)
		if u.Balances[models.CoinOMG] < cost {
			return ErrInsufficientFunds
		}
		return nil
	}
	if u.Balances[o.Item] < o.Quantity {
		return ErrInsufficientFunds
	}
	return nil
}

// rest inserts an order into the open book, escrowing its backing funds:
// the OMG cost for a buy, the sold coin for a sell. Resting orders always
// represent funds already removed from the owner's available balance.
func (e *Engine) rest(ctx context.Context, s Store, o *models.Order) (int, error) {
	owner, err := s.GetUser(ctx, o.UserID)
	if err != nil {
		return 0, err
	}
	if err := checkFunds(owner, o); err != nil {
		return 0, err
	}
	if o.Side == models.Buy {
		owner.Balances[models.CoinOMG] -= int64(float64(o.Quantity) * o.UnitPrice)
	} else {
		owner.Balances[o.Item] -= o.Quantity
	}
	id, err := s.InsertOrder(ctx, o)
	if err != nil {
		return 0, err
	}
	if err := s.UpdateUserBalances(ctx, owner.ID, owner.Balances); err != nil {
		return 0, err
	}
	return id, nil
}

// settle mutates both parties' balances for one fill. The matched (resting)
// leg already escrowed its backing asset at placement, so it only receives
// proceeds here; the incoming leg both pays and receives.
func (e *Engine) settle(ctx context.Context, s Store, incoming, matched *models.Order, fillQty, fillCost int64) error {
	taker, err := s.GetUser(ctx, incoming.UserID)
	if err != nil {
		return err
	}
	maker, err := s.GetUser(ctx, matched.UserID)
	if err != nil {
		return err
	}

	if incoming.Side == models.Buy {
		// Taker buys: pays OMG now, receives the item. Maker's coins were
		// escrowed when the sell rested, so the maker only collects OMG.
		taker.Balances[models.CoinOMG] -= fillCost
		taker.Balances[incoming.Item] += fillQty
		maker.Balances[models.CoinOMG] += fillCost
	} else {
		// Taker sells: hands over the item now, collects OMG. Maker's OMG
		// was escrowed when the buy rested, so the maker only receives coins.
		taker.Balances[incoming.Item] -= fillQty
		taker.Balances[models.CoinOMG] += fillCost
		maker.Balances[incoming.Item] += fillQty
	}

	if err := s.UpdateUserBalances(ctx, taker.ID, taker.Balances); err != nil {
		return err
	}
	return s.UpdateUserBalances(ctx, maker.ID, maker.Balances)
}

// CancelOrder removes an open order owned by userID and refunds its escrow:
// the OMG cost for a buy, the sold coin for a sell. Cancelled orders are not
// archived; the archive records trades only.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.WithTx(ctx, func(s Store) error {
		order, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return ErrUnauthorized
		}
		owner, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if order.Side == models.Buy {
			owner.Balances[models.CoinOMG] += int64(float64(order.Quantity) * order.UnitPrice)
		} else {
			owner.Balances[order.Item] += order.Quantity
		}
		if err := s.UpdateUserBalances(ctx, owner.ID, owner.Balances); err != nil {
			return err
		}
		return s.DeleteOrder(ctx, orderID)
	})
}

// OpenOrders lists a user's resting orders.
func (e *Engine) OpenOrders(ctx context.Context, userID int) ([]models.Order, error) {
	return e.store.OpenOrdersByUser(ctx, userID)
}

// ArchivedOrders lists a user's archived order legs.
func (e *Engine) ArchivedOrders(ctx context.Context, userID int) ([]models.Order, error) {
	return e.store.ArchivedOrdersByUser(ctx, userID)
}

// BookSnapshot returns the top resting buys (highest price first) and sells
// (lowest price first) for one item.
func (e *Engine) BookSnapshot(ctx context.Context, item models.Coin) (buys, sells []models.Order, err error) {
	buys, err = e.store.TopOrders(ctx, item, models.Buy, e.depth)
	if err != nil {
		return nil, nil, err
	}
	sells, err = e.store.TopOrders(ctx, item, models.Sell, e.depth)
	if err != nil {
		return nil, nil, err
	}
	return buys, sells, nil
}

// Inventory returns a user's current balances.
func (e *Engine) Inventory(ctx context.Context, userID int) (models.Balances, error) {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return models.Balances{}, err
	}
	return u.Balances, nil
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
