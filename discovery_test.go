package uniswapv2

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestPairFor(t *testing.T) {
	factory := common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	dai := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	testCases := []struct {
		name           string
		tokenA, tokenB common.Address
		want           common.Address
	}{
		{"USDC-WETH", usdc, weth, common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281EC28c9Dc")},
		{"ReversedInput", weth, usdc, common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281EC28c9Dc")},
		{"DAI-WETH", dai, weth, common.HexToAddress("0xA478c2975Ab1Ea89e8196811F51A7B7Ade33eB11")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PairFor(factory, UniswapV2InitCodeHash, tc.tokenA, tc.tokenB))
		})
	}
}

func TestSortTokens(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")

	t0, t1 := SortTokens(b, a)
	assert.Equal(t, a, t0)
	assert.Equal(t, b, t1)

	t0, t1 = SortTokens(a, b)
	assert.Equal(t, a, t0)
	assert.Equal(t, b, t1)
}
