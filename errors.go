package uniswapv2

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/chain"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/snapshot"
)

// Stage names, used in errors, logs and metric labels.
const (
	StageHead      = "head"
	StageLoad      = "load"
	StageDiscovery = "discovery"
	StageActivity  = "activity"
	StageReserves  = "reserves"
	StageTokens    = "tokens"
	StagePricing   = "pricing"
	StagePersist   = "persist"
)

// SystemError is a base type for errors raised at a given chain block.
type SystemError struct {
	BlockNumber uint64
	Err         error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("block %d: %v", e.BlockNumber, e.Err)
}

func (e *SystemError) Unwrap() error {
	return e.Err
}

// FatalError aborts a run. Nothing is persisted and no ranking is produced.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal during %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// DiscoveryError reports a pair-creation event that was not ingested.
type DiscoveryError struct {
	SystemError
	PairAddress   common.Address
	Token0Address common.Address
	Token1Address common.Address
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("block %d: rejected pair %s (tokens %s, %s): %v", e.BlockNumber, e.PairAddress.Hex(), e.Token0Address.Hex(), e.Token1Address.Hex(), e.Err)
}

// FetchError reports a single failed read for a pair or token. Cached data,
// if any, is kept in its place.
type FetchError struct {
	Stage   string
	Address common.Address
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch failed for %s: %v", e.Stage, e.Address.Hex(), e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CoverageWarning reports a scan that stopped short of the requested block.
// Later stages proceed on the data that was covered.
type CoverageWarning struct {
	Stage     string
	Requested chain.BlockRange
	Through   uint64
	Failed    []chain.BlockRange
}

func (e *CoverageWarning) Error() string {
	return fmt.Sprintf("%s: scan of blocks %d-%d only confirmed through %d (%d failed ranges)",
		e.Stage, e.Requested.From, e.Requested.To, e.Through, len(e.Failed))
}

// DataConsistencyError indicates an internal state mismatch, for example an
// active pair whose token metadata is missing after the token stage.
type DataConsistencyError struct {
	SystemError
	PairAddress common.Address
	Details     string
}

func (e *DataConsistencyError) Error() string {
	return fmt.Sprintf("block %d: data consistency error for pair %s: %s: %v", e.BlockNumber, e.PairAddress.Hex(), e.Details, e.Err)
}

// determineErrorType maps an error to the label used by the errors_total metric.
func determineErrorType(err error) string {
	var (
		fatalErr       *FatalError
		discoveryErr   *DiscoveryError
		fetchErr       *FetchError
		coverageWarn   *CoverageWarning
		consistencyErr *DataConsistencyError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, snapshot.ErrCorrupt):
		return "corrupt_snapshot"
	case errors.Is(err, chain.ErrTooManyFailures):
		return "too_many_failures"
	case errors.Is(err, chain.ErrUnreachable):
		return "unreachable"
	case errors.As(err, &coverageWarn):
		return "partial_coverage"
	case errors.As(err, &discoveryErr):
		return "discovery"
	case errors.As(err, &fetchErr):
		return "fetch_" + fetchErr.Stage
	case errors.As(err, &consistencyErr):
		return "data_consistency"
	case errors.As(err, &fatalErr):
		return "fatal_" + fatalErr.Stage
	default:
		return "unknown"
	}
}
