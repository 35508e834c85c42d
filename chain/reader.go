package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BlockRange is an inclusive block interval.
type BlockRange struct {
	From uint64
	To   uint64
}

func (r BlockRange) Len() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// ScanResult is the outcome of a windowed scan over [From, To].
type ScanResult struct {
	From uint64
	To   uint64
	// Logs holds every log retrieved, ordered by block number then log index.
	Logs []types.Log
	// Through is the highest block such that every block in [From, Through] was
	// retrieved. It equals To on a complete scan and From-1 if the first range failed.
	Through uint64
	// Failed lists the ranges that could not be retrieved, in block order.
	Failed []BlockRange
}

// Complete reports whether every block in the window was retrieved.
func (r ScanResult) Complete() bool {
	return len(r.Failed) == 0
}

// LogsThrough returns the logs that fall within the confirmed prefix of the scan.
func (r ScanResult) LogsThrough() []types.Log {
	if r.Complete() {
		return r.Logs
	}
	out := make([]types.Log, 0, len(r.Logs))
	for _, l := range r.Logs {
		if l.BlockNumber <= r.Through {
			out = append(out, l)
		}
	}
	return out
}

// LogReaderConfig configures a LogReader.
type LogReaderConfig struct {
	// Workers bounds the number of concurrent eth_getLogs requests.
	Workers int
	// ChunkSize is the initial block span of a single request.
	ChunkSize uint64
	// MinChunkSize stops range subdivision; a range this small that is still
	// rejected is recorded as failed.
	MinChunkSize uint64
	// MaxErrorRate is the tolerated share of failed blocks in a scan (0..1).
	MaxErrorRate float64
	Retry        RetryPolicy
	Logger       Logger
}

// LogReader fetches logs over large block windows by splitting them into chunks,
// fetching chunks concurrently and subdividing any chunk the provider rejects.
type LogReader struct {
	client       ETHClient
	workers      int
	chunkSize    uint64
	minChunkSize uint64
	maxErrorRate float64
	retry        RetryPolicy
	logger       Logger
}

// NewLogReader builds a LogReader, filling zero config values with defaults.
func NewLogReader(client ETHClient, cfg LogReaderConfig) (*LogReader, error) {
	if client == nil {
		return nil, fmt.Errorf("log reader: client is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("log reader: logger is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 2000
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = 1
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	return &LogReader{
		client:       client,
		workers:      cfg.Workers,
		chunkSize:    cfg.ChunkSize,
		minChunkSize: cfg.MinChunkSize,
		maxErrorRate: cfg.MaxErrorRate,
		retry:        cfg.Retry,
		logger:       cfg.Logger,
	}, nil
}

type chunkResult struct {
	logs   []types.Log
	failed []BlockRange
}

// Scan retrieves logs matching q (addresses and topics; block bounds are
// ignored) for the inclusive window [from, to].
func (r *LogReader) Scan(ctx context.Context, q ethereum.FilterQuery, from, to uint64) (ScanResult, error) {
	if from == 0 {
		from = 1 // genesis carries no logs
	}
	res := ScanResult{From: from, To: to, Through: to}
	if from > to {
		return res, nil
	}

	chunks := splitRange(BlockRange{From: from, To: to}, r.chunkSize)
	results := make([]chunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			logs, failed, err := r.fetchRange(gctx, q, chunk)
			if err != nil {
				return err
			}
			results[i] = chunkResult{logs: logs, failed: failed}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScanResult{}, err
	}

	for _, cr := range results {
		res.Logs = append(res.Logs, cr.logs...)
		res.Failed = append(res.Failed, cr.failed...)
	}
	sortLogs(res.Logs)
	return finishScan(res, r.maxErrorRate, r.logger)
}

// finishScan computes coverage and enforces the error-rate threshold.
func finishScan(res ScanResult, maxErrorRate float64, logger Logger) (ScanResult, error) {
	if len(res.Failed) == 0 {
		res.Through = res.To
		return res, nil
	}

	sort.Slice(res.Failed, func(i, j int) bool { return res.Failed[i].From < res.Failed[j].From })
	res.Through = res.Failed[0].From - 1

	var failedBlocks uint64
	for _, f := range res.Failed {
		failedBlocks += f.Len()
	}
	total := BlockRange{From: res.From, To: res.To}.Len()
	rate := float64(failedBlocks) / float64(total)

	logger.Warn("Scan finished with gaps",
		"from", res.From,
		"to", res.To,
		"through", res.Through,
		"failed_ranges", len(res.Failed),
		"failed_blocks", failedBlocks,
	)

	if rate > maxErrorRate {
		return res, fmt.Errorf("%w: %d of %d blocks in [%d, %d] could not be fetched", ErrTooManyFailures, failedBlocks, total, res.From, res.To)
	}
	return res, nil
}

// fetchRange fetches a single range, halving it whenever the provider rejects
// the span. A fatal error is returned; anything else is reported as a failed range.
func (r *LogReader) fetchRange(ctx context.Context, q ethereum.FilterQuery, rng BlockRange) ([]types.Log, []BlockRange, error) {
	logs, err := Retry(ctx, r.retry, func(ctx context.Context) ([]types.Log, error) {
		query := q
		query.BlockHash = nil
		query.FromBlock = new(big.Int).SetUint64(rng.From)
		query.ToBlock = new(big.Int).SetUint64(rng.To)
		return r.client.FilterLogs(ctx, query)
	})
	if err == nil {
		return logs, nil, nil
	}

	switch Classify(err) {
	case KindRangeLimit:
		if rng.Len() <= r.minChunkSize {
			r.logger.Warn("Range rejected at minimum size", "from", rng.From, "to", rng.To, "error", err)
			return nil, []BlockRange{rng}, nil
		}
		mid := rng.From + (rng.To-rng.From)/2
		r.logger.Debug("Subdividing rejected range", "from", rng.From, "to", rng.To, "mid", mid)

		left, leftFailed, err := r.fetchRange(ctx, q, BlockRange{From: rng.From, To: mid})
		if err != nil {
			return nil, nil, err
		}
		right, rightFailed, err := r.fetchRange(ctx, q, BlockRange{From: mid + 1, To: rng.To})
		if err != nil {
			return nil, nil, err
		}
		return append(left, right...), append(leftFailed, rightFailed...), nil
	case KindTransient:
		r.logger.Warn("Giving up on range after retries", "from", rng.From, "to", rng.To, "error", err)
		return nil, []BlockRange{rng}, nil
	default:
		return nil, nil, fmt.Errorf("eth_getLogs [%d, %d]: %w", rng.From, rng.To, err)
	}
}

func splitRange(rng BlockRange, size uint64) []BlockRange {
	if size == 0 {
		size = 1
	}
	chunks := make([]BlockRange, 0, rng.Len()/size+1)
	for start := rng.From; start <= rng.To; start += size {
		end := start + size - 1
		if end > rng.To || end < start {
			end = rng.To
		}
		chunks = append(chunks, BlockRange{From: start, To: end})
		if end == rng.To {
			break
		}
	}
	return chunks
}

func sortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}

// ReceiptReaderConfig configures a ReceiptReader.
type ReceiptReaderConfig struct {
	Workers      int
	MaxErrorRate float64
	Retry        RetryPolicy
	// TestBloom skips blocks whose bloom cannot contain a relevant log.
	TestBloom func(types.Bloom) bool
	Logger    Logger
}

// ReceiptReader collects logs block by block from transaction receipts.
// It issues one request per transaction, so it is much more expensive than
// LogReader, but it works against providers that disable eth_getLogs.
type ReceiptReader struct {
	client       ETHClient
	workers      int
	maxErrorRate float64
	retry        RetryPolicy
	testBloom    func(types.Bloom) bool
	logger       Logger
}

func NewReceiptReader(client ETHClient, cfg ReceiptReaderConfig) (*ReceiptReader, error) {
	if client == nil {
		return nil, fmt.Errorf("receipt reader: client is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("receipt reader: logger is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.TestBloom == nil {
		cfg.TestBloom = func(types.Bloom) bool { return true }
	}
	return &ReceiptReader{
		client:       client,
		workers:      cfg.Workers,
		maxErrorRate: cfg.MaxErrorRate,
		retry:        cfg.Retry,
		testBloom:    cfg.TestBloom,
		logger:       cfg.Logger,
	}, nil
}

// Scan collects the logs of every receipt in blocks [from, to].
func (r *ReceiptReader) Scan(ctx context.Context, from, to uint64) (ScanResult, error) {
	if from == 0 {
		from = 1
	}
	res := ScanResult{From: from, To: to, Through: to}
	if from > to {
		return res, nil
	}

	n := int(to - from + 1)
	blockLogs := make([][]types.Log, n)
	var (
		mu     sync.Mutex
		failed []BlockRange
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := 0; i < n; i++ {
		number := from + uint64(i)
		g.Go(func() error {
			logs, err := r.blockLogs(gctx, number)
			if err == nil {
				blockLogs[i] = logs
				return nil
			}
			if Classify(err) == KindFatal {
				return err
			}
			r.logger.Warn("Giving up on block after retries", "block", number, "error", err)
			mu.Lock()
			failed = append(failed, BlockRange{From: number, To: number})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScanResult{}, err
	}

	for _, logs := range blockLogs {
		res.Logs = append(res.Logs, logs...)
	}
	res.Failed = failed
	return finishScan(res, r.maxErrorRate, r.logger)
}

func (r *ReceiptReader) blockLogs(ctx context.Context, number uint64) ([]types.Log, error) {
	block, err := Retry(ctx, r.retry, func(ctx context.Context) (*types.Block, error) {
		return r.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", number, err)
	}
	if !r.testBloom(block.Bloom()) {
		return nil, nil
	}

	var logs []types.Log
	for _, tx := range block.Transactions() {
		receipt, err := Retry(ctx, r.retry, func(ctx context.Context) (*types.Receipt, error) {
			return r.client.TransactionReceipt(ctx, tx.Hash())
		})
		if err != nil {
			return nil, fmt.Errorf("receipt %s: %w", tx.Hash().Hex(), err)
		}
		for _, l := range receipt.Logs {
			if l == nil {
				continue
			}
			entry := *l
			if entry.BlockNumber == 0 {
				entry.BlockNumber = number
			}
			logs = append(logs, entry)
		}
	}
	return logs, nil
}
