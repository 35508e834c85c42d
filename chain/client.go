// Package chain is the boundary between the analyzer and an Ethereum JSON-RPC endpoint.
// Everything that crosses it is typed: raw provider failures are classified into
// transient, range-limit and fatal outcomes before the rest of the code sees them.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ETHClient is the narrow set of RPC calls the analyzer relies on.
// *ethclient.Client satisfies it.
type ETHClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	Close()
}

var _ ETHClient = (*ethclient.Client)(nil)

var (
	// ErrInvalidEndpoint is returned when the RPC URL is neither http(s), ws(s) nor an IPC path.
	ErrInvalidEndpoint = errors.New("invalid rpc endpoint format")
	// ErrUnreachable is returned when the endpoint cannot be reached at all.
	ErrUnreachable = errors.New("rpc endpoint unreachable")
)

// ValidEndpoint reports whether the endpoint uses a transport go-ethereum can dial.
func ValidEndpoint(endpoint string) bool {
	switch {
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return true
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return true
	case strings.HasSuffix(endpoint, ".ipc"):
		return true
	}
	return false
}

// Dial connects to the endpoint and verifies it answers eth_blockNumber.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	if !ValidEndpoint(endpoint) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if _, err := client.BlockNumber(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return client, nil
}

// Head returns the current chain head, retrying transient failures.
// Exhausting the retries means the endpoint is unusable for this run.
func Head(ctx context.Context, client ETHClient, policy RetryPolicy) (uint64, error) {
	head, err := Retry(ctx, policy, func(ctx context.Context) (uint64, error) {
		return client.BlockNumber(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: eth_blockNumber: %v", ErrUnreachable, err)
	}
	return head, nil
}
