package uniswapv2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/chain"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/logs"
)

// UniswapV2InitCodeHash is keccak256 of the Uniswap V2 pair creation code.
var UniswapV2InitCodeHash = common.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")

var (
	errUnsortedTokens  = errors.New("tokens are not in canonical order")
	errAddressMismatch = errors.New("pair address does not match CREATE2 derivation")
)

// SortTokens returns the two tokens in the factory's canonical order.
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if bytes.Compare(tokenA[:], tokenB[:]) < 0 {
		return tokenA, tokenB
	}
	return tokenB, tokenA
}

// PairFor derives the address the factory deploys the pair of two tokens to.
func PairFor(factory common.Address, initCodeHash common.Hash, tokenA, tokenB common.Address) common.Address {
	token0, token1 := SortTokens(tokenA, tokenB)
	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes())
}

// verifyPair checks a creation event against the factory's deployment rules.
// A zero init code hash disables the address check.
func (s *System) verifyPair(pc logs.PairCreated) error {
	if pc.Token0 == pc.Token1 {
		return ErrIdenticalTokens
	}
	if bytes.Compare(pc.Token0[:], pc.Token1[:]) > 0 {
		return errUnsortedTokens
	}
	if s.initCodeHash != (common.Hash{}) && PairFor(s.factory, s.initCodeHash, pc.Token0, pc.Token1) != pc.Pair {
		return errAddressMismatch
	}
	return nil
}

// Discover scans the factory's pair-creation events in [from, to] and adds the
// pairs it has not seen before. It returns the newly added pairs.
//
// Pairs are inserted only after the whole scan completes, ordered by creation
// block and then address. When the scan cannot confirm every block, only
// events up to the last contiguous confirmed block are used and the cursor
// stops there.
func (s *System) Discover(ctx context.Context, from, to uint64) ([]PairView, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, &FatalError{Stage: StageDiscovery, Err: fmt.Errorf("failed to get eth client: %w", err)}
	}
	return s.discover(ctx, client, from, to)
}

func (s *System) discover(ctx context.Context, client chain.ETHClient, from, to uint64) ([]PairView, error) {
	timer := prometheus.NewTimer(s.metrics.StageDuration.WithLabelValues(StageDiscovery))
	defer timer.ObserveDuration()
	start := time.Now()

	reader, err := s.newLogReader(client)
	if err != nil {
		return nil, &FatalError{Stage: StageDiscovery, Err: err}
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{s.factory},
		Topics:    [][]common.Hash{{logs.PairCreatedEvent}},
	}
	res, err := reader.Scan(ctx, query, from, to)
	if err != nil {
		return nil, &FatalError{Stage: StageDiscovery, Err: err}
	}

	created := s.discoverPairs(s.factory, res.LogsThrough())

	var accepted []logs.PairCreated
	for _, pc := range created {
		if err := s.verifyPair(pc); err != nil {
			s.warn(&DiscoveryError{
				SystemError:   SystemError{BlockNumber: pc.BlockNumber, Err: err},
				PairAddress:   pc.Pair,
				Token0Address: pc.Token0,
				Token1Address: pc.Token1,
			})
			continue
		}
		accepted = append(accepted, pc)
	}

	sort.Slice(accepted, func(i, j int) bool {
		if accepted[i].BlockNumber != accepted[j].BlockNumber {
			return accepted[i].BlockNumber < accepted[j].BlockNumber
		}
		return bytes.Compare(accepted[i].Pair[:], accepted[j].Pair[:]) < 0
	})

	var added []PairView
	var cursor uint64
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for _, pc := range accepted {
			err := addPair(pc.Pair, pc.Token0, pc.Token1, pc.BlockNumber, pc.PairIndex, s.registry)
			if errors.Is(err, ErrPairExists) {
				continue
			}
			if err != nil {
				s.warn(&DiscoveryError{
					SystemError:   SystemError{BlockNumber: pc.BlockNumber, Err: err},
					PairAddress:   pc.Pair,
					Token0Address: pc.Token0,
					Token1Address: pc.Token1,
				})
				continue
			}
			view, _ := getPair(pc.Pair, s.registry)
			added = append(added, view)
			if s.activityWindow != 0 && pc.BlockNumber <= s.activityThrough {
				s.activityStale = true
			}
		}

		// The cursor only moves over a range contiguous with what is already ingested.
		if from <= s.cursor+1 && res.Through > s.cursor {
			s.cursor = res.Through
		}
		cursor = s.cursor
		s.updateCachedView()
	}()

	s.metrics.LastDiscoveredBlock.WithLabelValues().Set(float64(cursor))
	s.metrics.PairsDiscovered.WithLabelValues().Add(float64(len(added)))

	if !res.Complete() {
		s.warn(&CoverageWarning{
			Stage:     StageDiscovery,
			Requested: chain.BlockRange{From: res.From, To: res.To},
			Through:   res.Through,
			Failed:    res.Failed,
		})
	}

	s.logger.Info("Pair discovery finished",
		"system", s.systemName,
		"from", from,
		"to", to,
		"through", res.Through,
		"new_pairs", len(added),
		"cursor", cursor,
		"duration", time.Since(start),
	)
	return added, nil
}
