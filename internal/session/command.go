package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olincollege/omg-exchange/internal/models"
)

// Kind identifies a parsed client command.
type Kind int

const (
	KindInventory Kind = iota
	KindBuy
	KindSell
	KindOrders
	KindCancel
	KindView
	KindHelp
)

// Command is a tokenized, validated client command. The engine's methods are
// called directly off the Kind switch; there is no string-keyed dispatch
// beyond parsing.
type Command struct {
	Kind     Kind
	Item     models.Coin
	Price    float64
	Quantity int64
	OrderID  int
}

// Parse tokenizes one protocol line into a Command. Verbs are
// case-insensitive; arguments are whitespace-separated.
// Syntax: myInventory | buy <item> <price> <quantity> |
// sell <item> <price> <quantity> | myOrders | cancelOrder <orderID> |
// view <item> | help.
func Parse(line string) (*Command, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	switch strings.ToLower(tokens[0]) {
	case "myinventory":
		return &Command{Kind: KindInventory}, nil
	case "buy", "sell":
		if len(tokens) != 4 {
			return nil, fmt.Errorf("usage: %s <item> <price> <quantity>", strings.ToLower(tokens[0]))
		}
		item, err := models.ParseCoin(tokens[1])
		if err != nil {
			return nil, err
		}
		price, err := strconv.ParseFloat(tokens[2], 64)
		if err != nil || price < 0 {
			return nil, fmt.Errorf("invalid price %q", tokens[2])
		}
		qty, err := strconv.ParseInt(tokens[3], 10, 64)
		if err != nil || qty <= 0 {
			return nil, fmt.Errorf("invalid quantity %q", tokens[3])
		}
		kind := KindBuy
		if strings.EqualFold(tokens[0], "sell") {
			kind = KindSell
		}
		return &Command{Kind: kind, Item: item, Price: price, Quantity: qty}, nil
	case "myorders":
		return &Command{Kind: KindOrders}, nil
	case "cancelorder":
		if len(tokens) != 2 {
			return nil, fmt.Errorf("usage: cancelOrder <orderID>")
		}
		id, err := strconv.Atoi(tokens[1])
		if err != nil {
			return nil, fmt.Errorf("invalid order ID format")
		}
		return &Command{Kind: KindCancel, OrderID: id}, nil
	case "view":
		if len(tokens) != 2 {
			return nil, fmt.Errorf("usage: view <item>")
		}
		item, err := models.ParseCoin(tokens[1])
		if err != nil {
			return nil, err
		}
		return &Command{Kind: KindView, Item: item}, nil
	case "help":
		return &Command{Kind: KindHelp}, nil
	}
	return nil, fmt.Errorf("unknown command %q", tokens[0])
}
