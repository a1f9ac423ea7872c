package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoin(t *testing.T) {
	for _, coin := range Coins {
		got, err := ParseCoin(coin.String())
		require.NoError(t, err)
		assert.Equal(t, coin, got)
	}

	got, err := ParseCoin("doge")
	require.NoError(t, err)
	assert.Equal(t, CoinDOGE, got)

	_, err = ParseCoin("XRP")
	assert.Error(t, err)
	_, err = ParseCoin("")
	assert.Error(t, err)
}

func TestParseSide(t *testing.T) {
	for _, side := range []Side{Buy, Sell} {
		got, err := ParseSide(side.String())
		require.NoError(t, err)
		assert.Equal(t, side, got)
	}
	_, err := ParseSide("hold")
	assert.Error(t, err)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}

func TestCoinJSON(t *testing.T) {
	b, err := json.Marshal(CoinBTC)
	require.NoError(t, err)
	assert.Equal(t, `"BTC"`, string(b))

	var c Coin
	require.NoError(t, json.Unmarshal([]byte(`"ETH"`), &c))
	assert.Equal(t, CoinETH, c)
	assert.Error(t, json.Unmarshal([]byte(`"XRP"`), &c))
}

func TestSideJSON(t *testing.T) {
	b, err := json.Marshal(Sell)
	require.NoError(t, err)
	assert.Equal(t, `"sell"`, string(b))

	var s Side
	require.NoError(t, json.Unmarshal([]byte(`"buy"`), &s))
	assert.Equal(t, Buy, s)
}

func TestDefaultBalances(t *testing.T) {
	b := DefaultBalances()
	assert.Equal(t, int64(100), b.Get(CoinOMG))
	assert.Equal(t, int64(100), b.Get(CoinDOGE))
	assert.Equal(t, int64(10), b.Get(CoinBTC))
	assert.Equal(t, int64(10), b.Get(CoinETH))
}
