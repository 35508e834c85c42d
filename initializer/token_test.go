package initializer

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/abi"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/chain"
)

var fastRetry = chain.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

var (
	usdcAddr = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	wethAddr = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	mkrAddr  = common.HexToAddress("0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2")
	badAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func stringSymbol(t *testing.T, s string) []byte {
	t.Helper()
	data, err := abi.ERC20ABI.Methods["symbol"].Outputs.Pack(s)
	require.NoError(t, err)
	return data
}

func bytes32Symbol(s string) []byte {
	data := make([]byte, 32)
	copy(data, s)
	return data
}

func decimalsWord(d uint8) []byte {
	return common.LeftPadBytes([]byte{d}, 32)
}

// tokenHandler serves symbol()/decimals() from per-address tables; missing entries revert.
func tokenHandler(symbols map[common.Address][]byte, decimals map[common.Address][]byte) func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return func(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		var table map[common.Address][]byte
		switch {
		case bytes.Equal(msg.Data, symbolSig):
			table = symbols
		case bytes.Equal(msg.Data, decimalsSig):
			table = decimals
		default:
			return nil, errors.New("unexpected selector")
		}
		if data, ok := table[*msg.To]; ok {
			return data, nil
		}
		return nil, errors.New("execution reverted")
	}
}

func TestTokenInitializer(t *testing.T) {
	testCases := []struct {
		name      string
		tokens    []common.Address
		symbols   map[common.Address][]byte
		decimals  map[common.Address][]byte
		overrides map[common.Address]Override
		expected  []Metadata
		expectErr []bool
	}{
		{
			name:     "Happy Path - String symbols",
			tokens:   []common.Address{usdcAddr, wethAddr},
			symbols:  map[common.Address][]byte{usdcAddr: stringSymbol(t, "USDC"), wethAddr: stringSymbol(t, "WETH")},
			decimals: map[common.Address][]byte{usdcAddr: decimalsWord(6), wethAddr: decimalsWord(18)},
			expected: []Metadata{
				{Symbol: "USDC", Decimals: 6},
				{Symbol: "WETH", Decimals: 18},
			},
			expectErr: []bool{false, false},
		},
		{
			name:      "Bytes32 symbol fallback",
			tokens:    []common.Address{mkrAddr},
			symbols:   map[common.Address][]byte{mkrAddr: bytes32Symbol("MKR")},
			decimals:  map[common.Address][]byte{mkrAddr: decimalsWord(18)},
			expected:  []Metadata{{Symbol: "MKR", Decimals: 18}},
			expectErr: []bool{false},
		},
		{
			name:      "Reverting token gets defaults and an error",
			tokens:    []common.Address{badAddr},
			expected:  []Metadata{{Symbol: BadSymbol, Decimals: DefaultDecimals}},
			expectErr: []bool{true},
		},
		{
			name:      "Only the missing field is defaulted",
			tokens:    []common.Address{badAddr},
			decimals:  map[common.Address][]byte{badAddr: decimalsWord(9)},
			expected:  []Metadata{{Symbol: BadSymbol, Decimals: 9}},
			expectErr: []bool{true},
		},
		{
			name:      "Overrides are applied after fetching",
			tokens:    []common.Address{badAddr, usdcAddr},
			symbols:   map[common.Address][]byte{usdcAddr: stringSymbol(t, "USDC")},
			decimals:  map[common.Address][]byte{usdcAddr: decimalsWord(6)},
			overrides: map[common.Address]Override{badAddr: {Symbol: "FIXED"}},
			expected: []Metadata{
				{Symbol: "FIXED", Decimals: DefaultDecimals},
				{Symbol: "USDC", Decimals: 6},
			},
			expectErr: []bool{true, false},
		},
		{
			name:      "Out of range decimals are rejected",
			tokens:    []common.Address{badAddr},
			symbols:   map[common.Address][]byte{badAddr: stringSymbol(t, "HUGE")},
			decimals:  map[common.Address][]byte{badAddr: common.LeftPadBytes([]byte{1, 0}, 32)},
			expected:  []Metadata{{Symbol: "HUGE", Decimals: DefaultDecimals}},
			expectErr: []bool{true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := chain.NewTestETHClient()
			client.SetCallContractHandler(tokenHandler(tc.symbols, tc.decimals))

			ti := NewTokenInitializer(2, fastRetry, tc.overrides)
			metas, errs := ti.Initialize(context.Background(), tc.tokens, client)

			assert.Equal(t, tc.expected, metas)
			require.Len(t, errs, len(tc.expectErr))
			for i, wantErr := range tc.expectErr {
				if wantErr {
					assert.Error(t, errs[i])
				} else {
					assert.NoError(t, errs[i])
				}
			}
		})
	}
}

func TestTokenInitializer_EmptyAndCancelled(t *testing.T) {
	client := chain.NewTestETHClient()
	ti := NewTokenInitializer(1, fastRetry, nil)

	metas, errs := ti.Initialize(context.Background(), nil, client)
	assert.Nil(t, metas)
	assert.Nil(t, errs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	metas, errs = ti.Initialize(ctx, []common.Address{usdcAddr}, client)
	assert.ErrorIs(t, errs[0], context.Canceled)
	assert.Equal(t, Metadata{}, metas[0])
	assert.Zero(t, client.CallContractCalls())
}

func TestDefaultOverrides(t *testing.T) {
	overrides := DefaultOverrides()
	require.Len(t, overrides, 6)

	trb := overrides[common.HexToAddress("0x0Ba45A8b5d5575935B8158a88C631E9F9C95a2e5")]
	require.NotNil(t, trb.Decimals)
	assert.Equal(t, uint8(18), *trb.Decimals)

	got := overrides[mkrAddr].Apply(Metadata{Symbol: BadSymbol, Decimals: 18})
	assert.Equal(t, Metadata{Symbol: "MKR", Decimals: 18}, got)
}

func TestDecodeSymbol(t *testing.T) {
	s, err := DecodeSymbol(stringSymbol(t, "DAI"))
	require.NoError(t, err)
	assert.Equal(t, "DAI", s)

	s, err = DecodeSymbol(bytes32Symbol("SAI"))
	require.NoError(t, err)
	assert.Equal(t, "SAI", s)

	_, err = DecodeSymbol(nil)
	assert.Error(t, err)

	_, err = DecodeSymbol(make([]byte, 32))
	assert.Error(t, err)
}
