package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

func testLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// oneLogPerBlock answers a range query with a single log for every block in it.
func oneLogPerBlock(q ethereum.FilterQuery) []types.Log {
	var logs []types.Log
	for b := q.FromBlock.Uint64(); b <= q.ToBlock.Uint64(); b++ {
		logs = append(logs, types.Log{Address: common.HexToAddress("0xabc"), BlockNumber: b})
	}
	return logs
}

func newTestReader(t *testing.T, client ETHClient, chunk uint64, maxErrorRate float64) *LogReader {
	t.Helper()
	r, err := NewLogReader(client, LogReaderConfig{
		Workers:      4,
		ChunkSize:    chunk,
		MaxErrorRate: maxErrorRate,
		Retry:        fastRetry,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	return r
}

func TestLogReader_Scan(t *testing.T) {
	t.Run("CompleteScanIsOrdered", func(t *testing.T) {
		client := NewTestETHClient()
		client.SetFilterLogsHandler(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			return oneLogPerBlock(q), nil
		})

		res, err := newTestReader(t, client, 7, 0).Scan(context.Background(), ethereum.FilterQuery{}, 1, 100)
		require.NoError(t, err)
		assert.True(t, res.Complete())
		assert.Equal(t, uint64(100), res.Through)
		require.Len(t, res.Logs, 100)
		for i, l := range res.Logs {
			assert.Equal(t, uint64(i+1), l.BlockNumber)
		}
	})

	t.Run("RangeLimitIsSubdividedSilently", func(t *testing.T) {
		client := NewTestETHClient()
		client.SetFilterLogsHandler(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			if q.ToBlock.Uint64()-q.FromBlock.Uint64()+1 > 10 {
				return nil, errors.New("query returned more than 10000 results")
			}
			return oneLogPerBlock(q), nil
		})

		res, err := newTestReader(t, client, 64, 0).Scan(context.Background(), ethereum.FilterQuery{}, 1, 128)
		require.NoError(t, err)
		assert.True(t, res.Complete())
		assert.Len(t, res.Logs, 128)
		assert.Equal(t, uint64(128), res.Through)
	})

	t.Run("TransientFailuresAreRetried", func(t *testing.T) {
		var calls atomic.Int64
		client := NewTestETHClient()
		client.SetFilterLogsHandler(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("connection reset by peer")
			}
			return oneLogPerBlock(q), nil
		})

		res, err := newTestReader(t, client, 100, 0).Scan(context.Background(), ethereum.FilterQuery{}, 1, 10)
		require.NoError(t, err)
		assert.True(t, res.Complete())
		assert.Len(t, res.Logs, 10)
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("GapStopsCursorAtConfirmedBlock", func(t *testing.T) {
		client := NewTestETHClient()
		client.SetFilterLogsHandler(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			if q.FromBlock.Uint64() <= 60 && q.ToBlock.Uint64() >= 60 {
				return nil, errors.New("connection reset by peer")
			}
			return oneLogPerBlock(q), nil
		})

		res, err := newTestReader(t, client, 10, 0.5).Scan(context.Background(), ethereum.FilterQuery{}, 1, 100)
		require.NoError(t, err)
		assert.False(t, res.Complete())
		assert.Equal(t, []BlockRange{{From: 51, To: 60}}, res.Failed)
		assert.Equal(t, uint64(50), res.Through)
		assert.Len(t, res.Logs, 90, "logs beyond the gap are still returned")
		assert.Len(t, res.LogsThrough(), 50)
	})

	t.Run("TooManyFailures", func(t *testing.T) {
		client := NewTestETHClient()
		client.SetFilterLogsHandler(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			return nil, errors.New("connection reset by peer")
		})

		_, err := newTestReader(t, client, 10, 0.1).Scan(context.Background(), ethereum.FilterQuery{}, 1, 100)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTooManyFailures)
	})

	t.Run("FatalErrorAborts", func(t *testing.T) {
		client := NewTestETHClient()
		client.SetFilterLogsHandler(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			return nil, &testRPCError{code: -32601, msg: "method not found"}
		})

		_, err := newTestReader(t, client, 10, 1).Scan(context.Background(), ethereum.FilterQuery{}, 1, 100)
		require.Error(t, err)
		assert.Equal(t, KindFatal, Classify(err))
	})

	t.Run("EmptyWindow", func(t *testing.T) {
		client := NewTestETHClient()
		res, err := newTestReader(t, client, 10, 0).Scan(context.Background(), ethereum.FilterQuery{}, 11, 10)
		require.NoError(t, err)
		assert.Empty(t, res.Logs)
		assert.Equal(t, uint64(10), res.Through)
		assert.Zero(t, client.FilterLogsCalls())
	})
}

func TestSplitRange(t *testing.T) {
	chunks := splitRange(BlockRange{From: 5, To: 27}, 10)
	assert.Equal(t, []BlockRange{{5, 14}, {15, 24}, {25, 27}}, chunks)

	single := splitRange(BlockRange{From: 3, To: 3}, 10)
	assert.Equal(t, []BlockRange{{3, 3}}, single)
}

func TestReceiptReader_Scan(t *testing.T) {
	pair := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281EC28c9Dc")

	newBlock := func(number uint64, txs ...*types.Transaction) *types.Block {
		header := &types.Header{Number: new(big.Int).SetUint64(number)}
		return types.NewBlock(header, &types.Body{Transactions: txs}, nil, trie.NewStackTrie(nil))
	}
	tx := func(nonce uint64) *types.Transaction {
		return types.NewTx(&types.LegacyTx{Nonce: nonce, GasPrice: big.NewInt(1), Gas: 21000})
	}

	client := NewTestETHClient()
	client.SetBlockByNumberHandler(func(ctx context.Context, number *big.Int) (*types.Block, error) {
		n := number.Uint64()
		if n == 3 {
			return nil, errors.New("connection reset by peer")
		}
		return newBlock(n, tx(n)), nil
	})
	client.SetTransactionReceiptHandler(func(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
		return &types.Receipt{Logs: []*types.Log{{Address: pair}}}, nil
	})

	r, err := NewReceiptReader(client, ReceiptReaderConfig{
		Workers:      2,
		MaxErrorRate: 0.5,
		Retry:        fastRetry,
		Logger:       testLogger(),
	})
	require.NoError(t, err)

	res, err := r.Scan(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []BlockRange{{From: 3, To: 3}}, res.Failed)
	assert.Equal(t, uint64(2), res.Through)
	require.Len(t, res.Logs, 4)
	assert.Equal(t, uint64(1), res.Logs[0].BlockNumber, "block number is filled from the scanned block")
	assert.Equal(t, pair, res.Logs[0].Address)
}
