package logs

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PairCreated is a decoded factory PairCreated event.
type PairCreated struct {
	Pair        common.Address
	Token0      common.Address
	Token1      common.Address
	BlockNumber uint64
	LogIndex    uint
	// PairIndex is the factory's allPairsLength after this pair was created.
	PairIndex uint64
}

// DiscoverPairs decodes the PairCreated events emitted by factory, in log order.
// Logs from other contracts, removed (reorged) logs, malformed events and repeated
// pair addresses are skipped, so the result never holds the same pair twice.
func DiscoverPairs(factory common.Address, logs []types.Log) []PairCreated {
	seen := make(map[common.Address]struct{})
	var pairs []PairCreated

	for _, log := range logs {
		if log.Removed || log.Address != factory {
			continue
		}
		// PairCreated(address indexed token0, address indexed token1, address pair, uint)
		if len(log.Topics) != 3 || log.Topics[0] != PairCreatedEvent {
			continue
		}
		if len(log.Data) != 64 {
			continue
		}

		pair := common.BytesToAddress(log.Data[:32])
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}

		pairs = append(pairs, PairCreated{
			Pair:        pair,
			Token0:      common.BytesToAddress(log.Topics[1].Bytes()),
			Token1:      common.BytesToAddress(log.Topics[2].Bytes()),
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
			PairIndex:   new(big.Int).SetBytes(log.Data[32:64]).Uint64(),
		})
	}

	return pairs
}
