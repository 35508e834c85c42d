package logs

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LastActivity returns, for every pair that isPair recognizes, the highest block
// in which that pair was involved in an activity event.
//
// A pair is involved when it emitted a Swap, Sync, Mint, Burn or Transfer log
// itself, or when it is the sender or recipient of a token Transfer.
func LastActivity(logs []types.Log, isPair func(common.Address) bool) map[common.Address]uint64 {
	latest := make(map[common.Address]uint64)

	touch := func(pair common.Address, block uint64) {
		if prev, ok := latest[pair]; !ok || block > prev {
			latest[pair] = block
		}
	}

	for _, log := range logs {
		if log.Removed || len(log.Topics) == 0 || !isActivityTopic(log.Topics[0]) {
			continue
		}

		if isPair(log.Address) {
			touch(log.Address, log.BlockNumber)
		}

		// Transfer(address indexed from, address indexed to, uint256 value)
		if log.Topics[0] == ERC20TransferEvent && len(log.Topics) == 3 {
			from := common.BytesToAddress(log.Topics[1].Bytes())
			to := common.BytesToAddress(log.Topics[2].Bytes())
			if isPair(from) {
				touch(from, log.BlockNumber)
			}
			if isPair(to) {
				touch(to, log.BlockNumber)
			}
		}
	}

	return latest
}
