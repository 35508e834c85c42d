// Package reserves reads the current reserves of constant-product pairs.
package reserves

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/abi"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/chain"
)

var getReservesSig = abi.UniswapV2ABI.Methods["getReserves"].ID

// getReserves() returns (uint112 reserve0, uint112 reserve1, uint32 blockTimestampLast),
// packed into three 32-byte slots.
const getReservesResponseLen = 96

// NewGetReserves returns a function that fetches reserves for a batch of pairs,
// keeping at most maxConcurrentCalls eth_call requests in flight. Each call is
// retried according to policy. Results are index-aligned with pairAddrs; a failed
// pair has nil reserves and a non-nil error, and never aborts its siblings.
// Every call reads state at blockNumber; nil reads the latest block.
func NewGetReserves(
	maxConcurrentCalls int,
	policy chain.RetryPolicy,
) func(
	ctx context.Context,
	pairAddrs []common.Address,
	blockNumber *big.Int,
	client chain.ETHClient,
) (reserve0s, reserve1s []*big.Int, errs []error) {
	if maxConcurrentCalls <= 0 {
		maxConcurrentCalls = 1
	}

	// The returned function closes over the semaphore channel, so concurrent
	// batches share the same limit.
	semaphore := make(chan struct{}, maxConcurrentCalls)

	return func(
		ctx context.Context,
		pairAddrs []common.Address,
		blockNumber *big.Int,
		client chain.ETHClient,
	) (reserve0s, reserve1s []*big.Int, errs []error) {
		numPairs := len(pairAddrs)
		if numPairs == 0 {
			return nil, nil, nil
		}

		reserve0s = make([]*big.Int, numPairs)
		reserve1s = make([]*big.Int, numPairs)
		errs = make([]error, numPairs)

		var wg sync.WaitGroup
		wg.Add(numPairs)

		for i, addr := range pairAddrs {
			semaphore <- struct{}{}

			go func(index int, pairAddr common.Address) {
				defer func() {
					<-semaphore
					wg.Done()
				}()

				if ctx.Err() != nil {
					errs[index] = ctx.Err()
					return
				}

				r0, r1, err := getReservesForPair(ctx, pairAddr, blockNumber, client, policy)
				if err != nil {
					errs[index] = err
					return
				}

				reserve0s[index] = r0
				reserve1s[index] = r1
			}(i, addr)
		}

		wg.Wait()

		return reserve0s, reserve1s, errs
	}
}

func getReservesForPair(ctx context.Context, pairAddr common.Address, blockNumber *big.Int, client chain.ETHClient, policy chain.RetryPolicy) (*big.Int, *big.Int, error) {
	data, err := chain.Retry(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return client.CallContract(ctx, ethereum.CallMsg{
			To:   &pairAddr,
			Data: getReservesSig,
		}, blockNumber)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("eth_call for getReserves failed for pair %s: %w", pairAddr.Hex(), err)
	}
	return Decode(pairAddr, data)
}

// Decode unpacks a raw getReserves() response.
func Decode(pairAddr common.Address, data []byte) (*big.Int, *big.Int, error) {
	if len(data) != getReservesResponseLen {
		return nil, nil, fmt.Errorf("invalid response length for getReserves on pair %s: got %d bytes", pairAddr.Hex(), len(data))
	}

	out, err := abi.UniswapV2ABI.Unpack("getReserves", data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode getReserves on pair %s: %w", pairAddr.Hex(), err)
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("decode getReserves on pair %s: unexpected output types %T, %T", pairAddr.Hex(), out[0], out[1])
	}

	return reserve0, reserve1, nil
}
