package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TestETHClient is an in-memory ETHClient whose behaviour is set per call type.
// Unset handlers return zero values. It is safe for concurrent use.
type TestETHClient struct {
	mu                 sync.RWMutex
	blockNumberHandler func(ctx context.Context) (uint64, error)
	filterLogsHandler  func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	callHandler        func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	receiptHandler     func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	blockHandler       func(ctx context.Context, number *big.Int) (*types.Block, error)

	filterLogsCalls atomic.Int64
	callCount       atomic.Int64
	closed          atomic.Bool
}

var _ ETHClient = (*TestETHClient)(nil)

func NewTestETHClient() *TestETHClient {
	return &TestETHClient{}
}

func (c *TestETHClient) SetBlockNumberHandler(h func(ctx context.Context) (uint64, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockNumberHandler = h
}

func (c *TestETHClient) SetFilterLogsHandler(h func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterLogsHandler = h
}

func (c *TestETHClient) SetCallContractHandler(h func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callHandler = h
}

func (c *TestETHClient) SetTransactionReceiptHandler(h func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptHandler = h
}

func (c *TestETHClient) SetBlockByNumberHandler(h func(ctx context.Context, number *big.Int) (*types.Block, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockHandler = h
}

func (c *TestETHClient) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	h := c.blockNumberHandler
	c.mu.RUnlock()
	if h == nil {
		return 0, nil
	}
	return h(ctx)
}

func (c *TestETHClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.filterLogsCalls.Add(1)
	c.mu.RLock()
	h := c.filterLogsHandler
	c.mu.RUnlock()
	if h == nil {
		return nil, nil
	}
	return h(ctx, q)
}

func (c *TestETHClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.callCount.Add(1)
	c.mu.RLock()
	h := c.callHandler
	c.mu.RUnlock()
	if h == nil {
		return nil, errors.New("test client: no call handler")
	}
	return h(ctx, msg, blockNumber)
}

func (c *TestETHClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.RLock()
	h := c.receiptHandler
	c.mu.RUnlock()
	if h == nil {
		return nil, ethereum.NotFound
	}
	return h(ctx, txHash)
}

func (c *TestETHClient) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	c.mu.RLock()
	h := c.blockHandler
	c.mu.RUnlock()
	if h == nil {
		return nil, ethereum.NotFound
	}
	return h(ctx, number)
}

func (c *TestETHClient) Close() {
	c.closed.Store(true)
}

// FilterLogsCalls returns how many eth_getLogs requests were made.
func (c *TestETHClient) FilterLogsCalls() int64 {
	return c.filterLogsCalls.Load()
}

// CallContractCalls returns how many eth_call requests were made.
func (c *TestETHClient) CallContractCalls() int64 {
	return c.callCount.Load()
}

// Closed reports whether Close was called.
func (c *TestETHClient) Closed() bool {
	return c.closed.Load()
}
