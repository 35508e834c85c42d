package tvl

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/pricing"
)

var (
	usdc   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	tokenX = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	orphan = common.HexToAddress("0x00000000000000000000000000000000000000f0")

	tokens = map[common.Address]Token{
		usdc:   {Symbol: "USDC", Decimals: 6},
		weth:   {Symbol: "WETH", Decimals: 18},
		tokenX: {Symbol: "TOKENX", Decimals: 18},
		orphan: {Symbol: "ORPHAN", Decimals: 18},
	}
)

func units(amount int64, dec uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(amount), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil))
}

func addr(n int64) common.Address {
	return common.BigToAddress(big.NewInt(n))
}

func flatQuote() pricing.Quote {
	return pricing.Quote{Prices: map[common.Address]decimal.Decimal{
		usdc:   decimal.NewFromInt(1),
		weth:   decimal.NewFromInt(2000),
		tokenX: decimal.RequireFromString("0.2"),
	}}
}

func TestEndToEndScenario(t *testing.T) {
	pairs := []pricing.Pair{
		{Address: addr(1), Token0: usdc, Token1: weth, Reserve0: units(1_000_000, 6), Reserve1: units(500, 18)},
		{Address: addr(2), Token0: weth, Token1: tokenX, Reserve0: units(100, 18), Reserve1: units(1_000_000, 18)},
	}
	decimals := map[common.Address]uint8{usdc: 6, weth: 18, tokenX: 18}

	g, skipped := pricing.BuildGraph(pairs, decimals)
	require.Empty(t, skipped)
	q, err := pricing.Propagate(g, []pricing.Reference{{Token: usdc, USD: decimal.NewFromInt(1)}})
	require.NoError(t, err)

	res := Rank(pairs, tokens, q, 25)
	require.Len(t, res.Entries, 2)
	assert.Empty(t, res.Excluded)

	assert.Equal(t, 1, res.Entries[0].Rank)
	assert.Equal(t, "USDC-WETH", res.Entries[0].Label)
	assert.True(t, res.Entries[0].TVL.Equal(decimal.NewFromInt(2_000_000)), res.Entries[0].TVL.String())

	assert.Equal(t, 2, res.Entries[1].Rank)
	assert.Equal(t, "WETH-TOKENX", res.Entries[1].Label)
	assert.True(t, res.Entries[1].TVL.Equal(decimal.NewFromInt(400_000)), res.Entries[1].TVL.String())
}

func TestRank_TieBrokenByAddress(t *testing.T) {
	// TVLs 100, 50, 50 in USDC-only pools.
	pairs := []pricing.Pair{
		{Address: addr(9), Token0: usdc, Token1: usdc, Reserve0: units(25, 6), Reserve1: units(25, 6)},
		{Address: addr(3), Token0: usdc, Token1: usdc, Reserve0: units(25, 6), Reserve1: units(25, 6)},
		{Address: addr(5), Token0: usdc, Token1: usdc, Reserve0: units(50, 6), Reserve1: units(50, 6)},
	}

	res := Rank(pairs, tokens, flatQuote(), 3)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, addr(5), res.Entries[0].Pair)
	assert.Equal(t, addr(3), res.Entries[1].Pair)
	assert.Equal(t, addr(9), res.Entries[2].Pair)
	assert.Equal(t, []int{1, 2, 3}, []int{res.Entries[0].Rank, res.Entries[1].Rank, res.Entries[2].Rank})

	// Input order does not matter.
	reversed := []pricing.Pair{pairs[2], pairs[1], pairs[0]}
	assert.Equal(t, res, Rank(reversed, tokens, flatQuote(), 3))
}

func TestRank_LengthBound(t *testing.T) {
	pairs := []pricing.Pair{
		{Address: addr(1), Token0: usdc, Token1: weth, Reserve0: units(10, 6), Reserve1: units(1, 18)},
		{Address: addr(2), Token0: usdc, Token1: weth, Reserve0: units(20, 6), Reserve1: units(1, 18)},
	}

	assert.Len(t, Rank(pairs, tokens, flatQuote(), 1).Entries, 1)
	assert.Len(t, Rank(pairs, tokens, flatQuote(), 25).Entries, 2)
	assert.Len(t, Rank(pairs, tokens, flatQuote(), 0).Entries, 2)
	assert.Empty(t, Rank(nil, tokens, flatQuote(), 5).Entries)
}

func TestRank_UnpricedPairsAreExcluded(t *testing.T) {
	pairs := []pricing.Pair{
		{Address: addr(2), Token0: usdc, Token1: orphan, Reserve0: units(1_000_000_000, 6), Reserve1: units(1, 18)},
		{Address: addr(1), Token0: usdc, Token1: weth, Reserve0: units(1, 6), Reserve1: units(1, 18)},
		{Address: addr(3), Token0: common.HexToAddress("0xbeef"), Token1: weth, Reserve0: units(1, 18), Reserve1: units(1, 18)},
	}

	res := Rank(pairs, tokens, flatQuote(), 10)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, addr(1), res.Entries[0].Pair)

	require.Len(t, res.Excluded, 2)
	assert.Equal(t, Exclusion{Pair: addr(2), Missing: []common.Address{orphan}}, res.Excluded[0])
	assert.Equal(t, Exclusion{Pair: addr(3), Missing: []common.Address{common.HexToAddress("0xbeef")}}, res.Excluded[1])

	_, ok := Compute(pairs[0], tokens, flatQuote())
	assert.False(t, ok)
}

func TestCompute_Monotonic(t *testing.T) {
	base := pricing.Pair{Address: addr(1), Token0: usdc, Token1: weth, Reserve0: units(1000, 6), Reserve1: units(1, 18)}
	prev, ok := Compute(base, tokens, flatQuote())
	require.True(t, ok)
	assert.True(t, prev.Equal(decimal.NewFromInt(3000)))

	for _, step := range []int64{1, 10, 1000} {
		bigger := base
		bigger.Reserve0 = new(big.Int).Add(base.Reserve0, big.NewInt(step))
		v, ok := Compute(bigger, tokens, flatQuote())
		require.True(t, ok)
		assert.True(t, v.GreaterThan(prev))

		bigger = base
		bigger.Reserve1 = new(big.Int).Add(base.Reserve1, big.NewInt(step))
		v, ok = Compute(bigger, tokens, flatQuote())
		require.True(t, ok)
		assert.True(t, v.GreaterThan(prev))
	}
}
