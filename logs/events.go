package logs

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/abi"
)

var (
	UniswapV2SwapEvent = abi.UniswapV2ABI.Events["Swap"].ID
	UniswapV2SyncEvent = abi.UniswapV2ABI.Events["Sync"].ID
	UniswapV2MintEvent = abi.UniswapV2ABI.Events["Mint"].ID
	UniswapV2BurnEvent = abi.UniswapV2ABI.Events["Burn"].ID
	PairCreatedEvent   = abi.UniswapV2FactoryABI.Events["PairCreated"].ID
	ERC20TransferEvent = abi.ERC20ABI.Events["Transfer"].ID
)

// ActivityTopics are the topic0 values that count as trading or liquidity activity.
// The pair contract is itself an ERC20 (the LP token), so Transfer covers both
// LP token movements and constituent token transfers into or out of the pair.
var ActivityTopics = []common.Hash{
	UniswapV2SwapEvent,
	UniswapV2SyncEvent,
	UniswapV2MintEvent,
	UniswapV2BurnEvent,
	ERC20TransferEvent,
}

func isActivityTopic(topic common.Hash) bool {
	for _, t := range ActivityTopics {
		if t == topic {
			return true
		}
	}
	return false
}
