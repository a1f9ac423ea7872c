package models

import (
	"fmt"
	"strings"
	"time"
)

// Coin identifies one of the tradable coin types. All purchasing power is
// denominated in OMG regardless of the coin being traded.
type Coin int

const (
	CoinOMG Coin = iota
	CoinDOGE
	CoinBTC
	CoinETH
)

// Coins lists every tradable coin in storage order.
var Coins = [4]Coin{CoinOMG, CoinDOGE, CoinBTC, CoinETH}

func (c Coin) String() string {
	switch c {
	case CoinOMG:
		return "OMG"
	case CoinDOGE:
		return "DOGE"
	case CoinBTC:
		return "BTC"
	case CoinETH:
		return "ETH"
	}
	return "UNKNOWN"
}

// ParseCoin converts a coin name to its Coin value. Matching is
// case-insensitive.
func ParseCoin(s string) (Coin, error) {
	switch strings.ToUpper(s) {
	case "OMG":
		return CoinOMG, nil
	case "DOGE":
		return CoinDOGE, nil
	case "BTC":
		return CoinBTC, nil
	case "ETH":
		return CoinETH, nil
	}
	return 0, fmt.Errorf("unknown coin %q", s)
}

// Side is the direction of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide converts "buy" or "sell" to a Side. Matching is case-insensitive.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// Balances holds a user's coin inventory, indexed by Coin.
type Balances [4]int64

// Get returns the balance for one coin.
func (b Balances) Get(c Coin) int64 { return b[c] }

// DefaultBalances is the inventory granted to a newly registered user.
func DefaultBalances() Balances {
	var b Balances
	b[CoinOMG] = 100
	b[CoinDOGE] = 100
	b[CoinBTC] = 10
	b[CoinETH] = 10
	return b
}

// User represents a registered user and their coin inventory.
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Name         string
	Balances     Balances
	CreatedAt    time.Time
}

// Order represents a buy or sell order. An order lives either in the open
// book (mutable) or in the archive (append-only), never both.
type Order struct {
	ID        int       `json:"id"`
	Item      Coin      `json:"item"`
	Side      Side      `json:"side"`
	Quantity  int64     `json:"quantity"`
	UnitPrice float64   `json:"unit_price"`
	UserID    int       `json:"user_id"`
	CreatedAt time.Time `json:"created_at"` // used for time priority
}

// MarshalJSON renders Coin as its name.
func (c Coin) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON parses a coin name.
func (c *Coin) UnmarshalJSON(data []byte) error {
	parsed, err := ParseCoin(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalJSON renders Side as "buy" or "sell".
func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses "buy" or "sell".
func (s *Side) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSide(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
