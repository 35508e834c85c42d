package uniswapv2

import (
	"bytes"
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/snapshot"
)

var (
	// ErrPairExists is returned when attempting to add a pair that is already in the registry.
	ErrPairExists = errors.New("pair already exists in registry")
	// ErrPairNotFound is returned when attempting to access a pair that is not in the registry.
	ErrPairNotFound = errors.New("pair not found in registry")
	// ErrIdenticalTokens is returned for a pair whose two tokens are the same.
	ErrIdenticalTokens = errors.New("pair tokens are identical")
	// ErrTokenNotFound is returned for a token with no metadata in the registry.
	ErrTokenNotFound = errors.New("token not found in registry")
)

// Token is immutable ERC-20 metadata, owned by the registry.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// PairView is a copy of one pair's state.
type PairView struct {
	Address        common.Address `json:"address"`
	Token0         common.Address `json:"token0"`
	Token1         common.Address `json:"token1"`
	CreatedAtBlock uint64         `json:"createdAtBlock"`
	PairIndex      uint64         `json:"pairIndex"`
	// Reserve0 and Reserve1 are nil until reserves have been read.
	Reserve0        *big.Int `json:"reserve0"`
	Reserve1        *big.Int `json:"reserve1"`
	Active          bool     `json:"active"`
	LastActiveBlock uint64   `json:"lastActiveBlock"`
}

// HasReserves reports whether reserves were read for the pair.
func (p PairView) HasReserves() bool {
	return p.Reserve0 != nil && p.Reserve1 != nil
}

// PairRegistry holds every discovered pair in a data-oriented layout.
// Pairs are appended in discovery order and never removed; a pair that stops
// trading is only marked inactive.
type PairRegistry struct {
	address    []common.Address
	token0     []common.Address
	token1     []common.Address
	createdAt  []uint64
	pairIndex  []uint64
	reserve0   []*big.Int
	reserve1   []*big.Int
	active     []bool
	lastActive []uint64

	addrToIndex map[common.Address]int
	tokens      map[common.Address]Token
}

func NewPairRegistry() *PairRegistry {
	return &PairRegistry{
		addrToIndex: make(map[common.Address]int),
		tokens:      make(map[common.Address]Token),
	}
}

// NewPairRegistryFromSnapshot rebuilds a registry from persisted records,
// deep-copying reserves. A nil snapshot yields an empty registry.
func NewPairRegistryFromSnapshot(snap *snapshot.Snapshot) *PairRegistry {
	if snap == nil {
		return NewPairRegistry()
	}

	numPairs := len(snap.Pairs)
	registry := &PairRegistry{
		address:     make([]common.Address, numPairs),
		token0:      make([]common.Address, numPairs),
		token1:      make([]common.Address, numPairs),
		createdAt:   make([]uint64, numPairs),
		pairIndex:   make([]uint64, numPairs),
		reserve0:    make([]*big.Int, numPairs),
		reserve1:    make([]*big.Int, numPairs),
		active:      make([]bool, numPairs),
		lastActive:  make([]uint64, numPairs),
		addrToIndex: make(map[common.Address]int, numPairs),
		tokens:      make(map[common.Address]Token, len(snap.Tokens)),
	}

	for i, rec := range snap.Pairs {
		registry.address[i] = rec.Address
		registry.token0[i] = rec.Token0
		registry.token1[i] = rec.Token1
		registry.createdAt[i] = rec.CreatedAtBlock
		registry.pairIndex[i] = rec.PairIndex
		registry.reserve0[i] = copyBig(rec.Reserve0)
		registry.reserve1[i] = copyBig(rec.Reserve1)
		registry.active[i] = rec.Active
		registry.lastActive[i] = rec.LastActiveBlock
		registry.addrToIndex[rec.Address] = i
	}
	for _, t := range snap.Tokens {
		registry.tokens[t.Address] = Token{Address: t.Address, Symbol: t.Symbol, Decimals: t.Decimals}
	}

	return registry
}

func copyBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

func addPair(
	pair, token0, token1 common.Address,
	createdAt, pairIndex uint64,
	registry *PairRegistry,
) error {
	if token0 == token1 {
		return ErrIdenticalTokens
	}
	if _, ok := registry.addrToIndex[pair]; ok {
		return ErrPairExists
	}

	registry.address = append(registry.address, pair)
	registry.token0 = append(registry.token0, token0)
	registry.token1 = append(registry.token1, token1)
	registry.createdAt = append(registry.createdAt, createdAt)
	registry.pairIndex = append(registry.pairIndex, pairIndex)
	registry.reserve0 = append(registry.reserve0, nil)
	registry.reserve1 = append(registry.reserve1, nil)
	registry.active = append(registry.active, false)
	registry.lastActive = append(registry.lastActive, 0)

	registry.addrToIndex[pair] = len(registry.address) - 1

	return nil
}

func updateReserves(
	pair common.Address,
	reserve0, reserve1 *big.Int,
	registry *PairRegistry,
) error {
	index, ok := registry.addrToIndex[pair]
	if !ok {
		return ErrPairNotFound
	}

	registry.reserve0[index] = copyBig(reserve0)
	registry.reserve1[index] = copyBig(reserve1)

	return nil
}

// touchActivity raises the last-active block of a pair; it never lowers it.
func touchActivity(
	pair common.Address,
	block uint64,
	registry *PairRegistry,
) error {
	index, ok := registry.addrToIndex[pair]
	if !ok {
		return ErrPairNotFound
	}
	if block > registry.lastActive[index] {
		registry.lastActive[index] = block
	}
	return nil
}

// clearActivity forgets all recorded activity.
func clearActivity(registry *PairRegistry) {
	for i := range registry.address {
		registry.active[i] = false
		registry.lastActive[i] = 0
	}
}

// markActive recomputes every pair's flag for the window starting at windowStart,
// which must be at least 1. A pair is active when its last activity or its
// creation falls in the window.
func markActive(windowStart uint64, registry *PairRegistry) int {
	count := 0
	for i := range registry.address {
		isActive := registry.lastActive[i] >= windowStart || registry.createdAt[i] >= windowStart
		registry.active[i] = isActive
		if isActive {
			count++
		}
	}
	return count
}

func setToken(token Token, registry *PairRegistry) {
	registry.tokens[token.Address] = token
}

func getToken(addr common.Address, registry *PairRegistry) (Token, bool) {
	t, ok := registry.tokens[addr]
	return t, ok
}

func hasPair(
	pair common.Address,
	registry *PairRegistry,
) bool {
	_, ok := registry.addrToIndex[pair]
	return ok
}

func viewPair(index int, registry *PairRegistry) PairView {
	return PairView{
		Address:         registry.address[index],
		Token0:          registry.token0[index],
		Token1:          registry.token1[index],
		CreatedAtBlock:  registry.createdAt[index],
		PairIndex:       registry.pairIndex[index],
		Reserve0:        copyBig(registry.reserve0[index]),
		Reserve1:        copyBig(registry.reserve1[index]),
		Active:          registry.active[index],
		LastActiveBlock: registry.lastActive[index],
	}
}

// getPair retrieves a single pair's view by its address.
func getPair(
	pair common.Address,
	registry *PairRegistry,
) (PairView, error) {
	index, ok := registry.addrToIndex[pair]
	if !ok {
		return PairView{}, ErrPairNotFound
	}
	return viewPair(index, registry), nil
}

func viewRegistry(
	registry *PairRegistry,
) []PairView {
	numPairs := len(registry.address)
	if numPairs == 0 {
		return nil
	}

	views := make([]PairView, numPairs)
	for i := 0; i < numPairs; i++ {
		views[i] = viewPair(i, registry)
	}
	return views
}

func activePairs(registry *PairRegistry) []PairView {
	var views []PairView
	for i := range registry.address {
		if registry.active[i] {
			views = append(views, viewPair(i, registry))
		}
	}
	return views
}

// toSnapshot converts the registry into persisted records. Pairs keep their
// discovery order; tokens are sorted by address.
func toSnapshot(registry *PairRegistry) ([]snapshot.PairRecord, []snapshot.TokenRecord) {
	pairs := make([]snapshot.PairRecord, len(registry.address))
	for i := range registry.address {
		pairs[i] = snapshot.PairRecord{
			Address:         registry.address[i],
			Token0:          registry.token0[i],
			Token1:          registry.token1[i],
			CreatedAtBlock:  registry.createdAt[i],
			PairIndex:       registry.pairIndex[i],
			Reserve0:        copyBig(registry.reserve0[i]),
			Reserve1:        copyBig(registry.reserve1[i]),
			Active:          registry.active[i],
			LastActiveBlock: registry.lastActive[i],
		}
	}

	tokens := make([]snapshot.TokenRecord, 0, len(registry.tokens))
	for _, t := range registry.tokens {
		tokens = append(tokens, snapshot.TokenRecord{Address: t.Address, Symbol: t.Symbol, Decimals: t.Decimals})
	}
	sort.Slice(tokens, func(i, j int) bool {
		return bytes.Compare(tokens[i].Address[:], tokens[j].Address[:]) < 0
	})
	return pairs, tokens
}
