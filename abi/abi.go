// Package abi holds the parsed contract ABIs used across the analyzer.
// Only the methods and events the analyzer actually touches are declared.
package abi

import (
	"strings"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
)

const uniswapV2PairJSON = `[
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"factory","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[
		{"name":"reserve0","type":"uint112"},
		{"name":"reserve1","type":"uint112"},
		{"name":"blockTimestampLast","type":"uint32"}]},
	{"type":"event","name":"Swap","anonymous":false,"inputs":[
		{"indexed":true,"name":"sender","type":"address"},
		{"indexed":false,"name":"amount0In","type":"uint256"},
		{"indexed":false,"name":"amount1In","type":"uint256"},
		{"indexed":false,"name":"amount0Out","type":"uint256"},
		{"indexed":false,"name":"amount1Out","type":"uint256"},
		{"indexed":true,"name":"to","type":"address"}]},
	{"type":"event","name":"Sync","anonymous":false,"inputs":[
		{"indexed":false,"name":"reserve0","type":"uint112"},
		{"indexed":false,"name":"reserve1","type":"uint112"}]},
	{"type":"event","name":"Mint","anonymous":false,"inputs":[
		{"indexed":true,"name":"sender","type":"address"},
		{"indexed":false,"name":"amount0","type":"uint256"},
		{"indexed":false,"name":"amount1","type":"uint256"}]},
	{"type":"event","name":"Burn","anonymous":false,"inputs":[
		{"indexed":true,"name":"sender","type":"address"},
		{"indexed":false,"name":"amount0","type":"uint256"},
		{"indexed":false,"name":"amount1","type":"uint256"},
		{"indexed":true,"name":"to","type":"address"}]}
]`

const uniswapV2FactoryJSON = `[
	{"type":"function","name":"allPairsLength","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"PairCreated","anonymous":false,"inputs":[
		{"indexed":true,"name":"token0","type":"address"},
		{"indexed":true,"name":"token1","type":"address"},
		{"indexed":false,"name":"pair","type":"address"},
		{"indexed":false,"name":"","type":"uint256"}]}
]`

const erc20JSON = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"}]}
]`

// Some early tokens (MKR, SAI) return symbol() as bytes32 instead of string.
const erc20Bytes32SymbolJSON = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]}
]`

var (
	UniswapV2ABI        = mustParse(uniswapV2PairJSON)
	UniswapV2FactoryABI = mustParse(uniswapV2FactoryJSON)
	ERC20ABI            = mustParse(erc20JSON)
	ERC20Bytes32ABI     = mustParse(erc20Bytes32SymbolJSON)
)

func mustParse(def string) gethabi.ABI {
	parsed, err := gethabi.JSON(strings.NewReader(def))
	if err != nil {
		panic("abi: invalid embedded definition: " + err.Error())
	}
	return parsed
}
