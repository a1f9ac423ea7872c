package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olincollege/omg-exchange/internal/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"myInventory", Command{Kind: KindInventory}},
		{"MYINVENTORY", Command{Kind: KindInventory}},
		{"buy doge 2.5 10", Command{Kind: KindBuy, Item: models.CoinDOGE, Price: 2.5, Quantity: 10}},
		{"BUY BTC 100 1", Command{Kind: KindBuy, Item: models.CoinBTC, Price: 100, Quantity: 1}},
		{"sell eth 3 7", Command{Kind: KindSell, Item: models.CoinETH, Price: 3, Quantity: 7}},
		{"  sell   omg  1.0   2  ", Command{Kind: KindSell, Item: models.CoinOMG, Price: 1.0, Quantity: 2}},
		{"myOrders", Command{Kind: KindOrders}},
		{"cancelOrder 17", Command{Kind: KindCancel, OrderID: 17}},
		{"view btc", Command{Kind: KindView, Item: models.CoinBTC}},
		{"help", Command{Kind: KindHelp}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.line)
		require.NoError(t, err, "line %q", tt.line)
		assert.Equal(t, tt.want, *got, "line %q", tt.line)
	}
}

func TestParseErrors(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"shout",
		"buy doge 2.5",
		"buy doge 2.5 10 extra",
		"buy xrp 2.5 10",
		"buy doge -1 10",
		"buy doge abc 10",
		"buy doge 2.5 0",
		"buy doge 2.5 -3",
		"buy doge 2.5 1.5",
		"cancelOrder",
		"cancelOrder abc",
		"view",
		"view xrp",
	}
	for _, line := range lines {
		_, err := Parse(line)
		assert.Error(t, err, "line %q", line)
	}
}
