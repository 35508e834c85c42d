package uniswapv2

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/chain"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/logs"
)

// ActivitySource selects how activity logs are collected.
type ActivitySource string

const (
	// ActivitySourceLogs queries eth_getLogs for activity topics over the window.
	ActivitySourceLogs ActivitySource = "logs"
	// ActivitySourceReceipts walks every block and reads its transaction
	// receipts, skipping blocks whose bloom has no activity topic.
	ActivitySourceReceipts ActivitySource = "receipts"
)

func (a ActivitySource) valid() bool {
	return a == ActivitySourceLogs || a == ActivitySourceReceipts
}

// WindowStart returns the first block of the trailing window of the given
// size that ends at head. It is never below 1.
func WindowStart(head, window uint64) uint64 {
	if window == 0 || window > head {
		return 1
	}
	return head - window + 1
}

// Classify decides for every registry pair whether it was active in the
// trailing window of blocks ending at head, and stores the result.
//
// A pair is active when, inside the window, it emitted a Swap, Sync, Mint,
// Burn or Transfer event, a token Transfer moved funds into or out of it, or
// it was created. When the previous classification used the same window and
// reaches into the new one, only the blocks after it are scanned; otherwise
// all recorded activity is dropped and the whole window is rescanned. Pairs
// discovered after the previous classification but created before the blocks
// it covered also force a rescan.
func (s *System) Classify(ctx context.Context, head, window uint64) (map[common.Address]bool, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, &FatalError{Stage: StageActivity, Err: fmt.Errorf("failed to get eth client: %w", err)}
	}
	return s.classify(ctx, client, head, window, false)
}

func (s *System) classify(ctx context.Context, client chain.ETHClient, head, window uint64, rescan bool) (map[common.Address]bool, error) {
	timer := prometheus.NewTimer(s.metrics.StageDuration.WithLabelValues(StageActivity))
	defer timer.ObserveDuration()
	start := time.Now()

	windowStart := WindowStart(head, window)

	var from uint64
	var incremental bool
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		incremental = !rescan && !s.activityStale &&
			s.activityWindow == window &&
			s.activityThrough+1 >= windowStart &&
			s.activityThrough <= head
		if incremental {
			from = s.activityThrough + 1
			return
		}
		clearActivity(s.registry)
		s.activityStale = false
		s.activityWindow = window
		s.activityThrough = windowStart - 1
		from = windowStart
	}()

	res, err := s.scanActivity(ctx, client, from, head)
	if err != nil {
		return nil, &FatalError{Stage: StageActivity, Err: err}
	}

	var flags map[common.Address]bool
	var active int
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		isPair := func(addr common.Address) bool { return hasPair(addr, s.registry) }
		for pair, block := range s.lastActivity(res.LogsThrough(), isPair) {
			// isPair guarantees the pair exists.
			_ = touchActivity(pair, block, s.registry)
		}
		if res.Through > s.activityThrough {
			s.activityThrough = res.Through
		}

		active = markActive(windowStart, s.registry)
		flags = make(map[common.Address]bool, len(s.registry.address))
		for i, addr := range s.registry.address {
			flags[addr] = s.registry.active[i]
		}
		s.updateCachedView()
	}()

	s.metrics.ActivePairs.WithLabelValues().Set(float64(active))

	if !res.Complete() {
		s.warn(&CoverageWarning{
			Stage:     StageActivity,
			Requested: chain.BlockRange{From: res.From, To: res.To},
			Through:   res.Through,
			Failed:    res.Failed,
		})
	}

	s.logger.Info("Activity classification finished",
		"system", s.systemName,
		"window", window,
		"from", from,
		"head", head,
		"incremental", incremental,
		"through", res.Through,
		"logs", len(res.Logs),
		"active_pairs", active,
		"duration", time.Since(start),
	)
	return flags, nil
}

func (s *System) scanActivity(ctx context.Context, client chain.ETHClient, from, to uint64) (chain.ScanResult, error) {
	if s.activitySource == ActivitySourceReceipts {
		reader, err := chain.NewReceiptReader(client, chain.ReceiptReaderConfig{
			Workers:      s.workers,
			MaxErrorRate: s.maxErrorRate,
			Retry:        s.retry,
			TestBloom:    s.testBloom,
			Logger:       s.logger,
		})
		if err != nil {
			return chain.ScanResult{}, err
		}
		return reader.Scan(ctx, from, to)
	}

	reader, err := s.newLogReader(client)
	if err != nil {
		return chain.ScanResult{}, err
	}
	query := ethereum.FilterQuery{
		Topics: [][]common.Hash{logs.ActivityTopics},
	}
	return reader.Scan(ctx, query, from, to)
}
