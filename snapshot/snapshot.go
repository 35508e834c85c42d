// Package snapshot persists the pair universe between runs.
//
// A Snapshot is written whole: readers either see the previous snapshot or
// the new one, never a mix.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is bumped whenever the layout changes incompatibly.
const Version = 1

// ErrCorrupt is returned when persisted data cannot be decoded or is
// internally inconsistent.
var ErrCorrupt = errors.New("snapshot: corrupt data")

// PairRecord is the persisted form of a pair.
type PairRecord struct {
	Address        common.Address `json:"address"`
	Token0         common.Address `json:"token0"`
	Token1         common.Address `json:"token1"`
	CreatedAtBlock uint64         `json:"created_at_block"`
	PairIndex      uint64         `json:"pair_index"`
	// Reserves are nil until a reserves pass has read them.
	Reserve0        *big.Int `json:"reserve0,omitempty"`
	Reserve1        *big.Int `json:"reserve1,omitempty"`
	Active          bool     `json:"active"`
	LastActiveBlock uint64   `json:"last_active_block,omitempty"`
}

// TokenRecord is the persisted form of token metadata.
type TokenRecord struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Snapshot is everything a later run may reuse instead of asking the chain again.
type Snapshot struct {
	Version int            `json:"version"`
	Factory common.Address `json:"factory"`
	// Cursor is the last block whose pair-creation events are fully ingested.
	Cursor uint64 `json:"cursor"`
	// ActivityWindow is the trailing window the activity flags were computed for.
	// Zero means no activity has been recorded.
	ActivityWindow uint64 `json:"activity_window"`
	// ActivityThrough is the last block covered by the activity flags.
	ActivityThrough uint64 `json:"activity_through"`
	// ReservesBlock is the chain head when reserves were last read.
	ReservesBlock uint64        `json:"reserves_block"`
	Pairs         []PairRecord  `json:"pairs"`
	Tokens        []TokenRecord `json:"tokens"`
}

// HasActivity reports whether activity flags were recorded.
func (s *Snapshot) HasActivity() bool {
	return s != nil && s.ActivityWindow > 0
}

// Store loads and persists snapshots.
type Store interface {
	// Load returns the stored snapshot, or nil when nothing is stored yet.
	Load(ctx context.Context) (*Snapshot, error)
	// Persist replaces the stored snapshot atomically.
	Persist(ctx context.Context, s *Snapshot) error
}

// Encode serializes s, stamping the current Version.
func Encode(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, errors.New("snapshot: nil snapshot")
	}
	out := *s
	out.Version = Version
	b, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

// Decode parses and validates stored bytes.
func Decode(b []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Snapshot) validate() error {
	if s.Version != Version {
		return fmt.Errorf("%w: unsupported version %d (want %d)", ErrCorrupt, s.Version, Version)
	}
	if s.ActivityThrough > 0 && s.ActivityWindow == 0 {
		return fmt.Errorf("%w: activity through block %d without a window", ErrCorrupt, s.ActivityThrough)
	}

	seen := make(map[common.Address]bool, len(s.Pairs))
	for _, p := range s.Pairs {
		if seen[p.Address] {
			return fmt.Errorf("%w: duplicate pair %s", ErrCorrupt, p.Address.Hex())
		}
		seen[p.Address] = true
		if p.Token0 == p.Token1 {
			return fmt.Errorf("%w: pair %s has identical tokens", ErrCorrupt, p.Address.Hex())
		}
		if (p.Reserve0 == nil) != (p.Reserve1 == nil) {
			return fmt.Errorf("%w: pair %s has one reserve", ErrCorrupt, p.Address.Hex())
		}
	}

	tokens := make(map[common.Address]bool, len(s.Tokens))
	for _, t := range s.Tokens {
		if tokens[t.Address] {
			return fmt.Errorf("%w: duplicate token %s", ErrCorrupt, t.Address.Hex())
		}
		tokens[t.Address] = true
	}
	return nil
}
