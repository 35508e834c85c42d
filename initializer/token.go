// Package initializer fetches the ERC-20 metadata (symbol and decimals) the
// valuation pipeline needs for every token that appears in an active pair.
package initializer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/abi"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/chain"
)

var (
	symbolSig   = abi.ERC20ABI.Methods["symbol"].ID
	decimalsSig = abi.ERC20ABI.Methods["decimals"].ID
)

const (
	// BadSymbol is recorded for tokens whose symbol() cannot be read or decoded.
	BadSymbol = "__BAD_SYMBOL__"
	// DefaultDecimals is recorded for tokens whose decimals() cannot be read.
	DefaultDecimals uint8 = 18
)

// Metadata is the subset of ERC-20 metadata used for pricing and labelling.
type Metadata struct {
	Symbol   string
	Decimals uint8
}

// Override replaces fetched metadata for a token with known discrepancies.
// An empty Symbol or a nil Decimals leaves the fetched value in place.
type Override struct {
	Symbol   string
	Decimals *uint8
}

// Apply returns m with the override's fields substituted.
func (o Override) Apply(m Metadata) Metadata {
	if o.Symbol != "" {
		m.Symbol = o.Symbol
	}
	if o.Decimals != nil {
		m.Decimals = *o.Decimals
	}
	return m
}

// DefaultOverrides covers mainnet tokens whose contracts report unusable metadata.
func DefaultOverrides() map[common.Address]Override {
	eighteen := uint8(18)
	return map[common.Address]Override{
		common.HexToAddress("0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2"): {Symbol: "MKR"},
		common.HexToAddress("0x0Ba45A8b5d5575935B8158a88C631E9F9C95a2e5"): {Symbol: "TRB", Decimals: &eighteen},
		common.HexToAddress("0x9469D013805bFfB7D3DEBe5E7839237e535ec483"): {Symbol: "RING"},
		common.HexToAddress("0x9F284E1337A815fe77D2Ff4aE46544645B20c5ff"): {Symbol: "KTON"},
		common.HexToAddress("0x431ad2ff6a9C365805eBaD47Ee021148d6f7DBe0"): {Symbol: "DF"},
		common.HexToAddress("0x89d24A6b4CcB1B6fAA2625fE562bDD9a23260359"): {Symbol: "SAI"},
	}
}

// TokenInitializer reads token metadata with a bounded number of concurrent calls.
type TokenInitializer struct {
	policy    chain.RetryPolicy
	overrides map[common.Address]Override
	semaphore chan struct{}
}

// NewTokenInitializer creates a TokenInitializer. overrides may be nil.
func NewTokenInitializer(maxConcurrentCalls int, policy chain.RetryPolicy, overrides map[common.Address]Override) *TokenInitializer {
	if maxConcurrentCalls <= 0 {
		maxConcurrentCalls = 1
	}
	return &TokenInitializer{
		policy:    policy,
		overrides: overrides,
		semaphore: make(chan struct{}, maxConcurrentCalls),
	}
}

// Initialize fetches metadata for every token. Results are index-aligned with tokens.
//
// A token whose symbol() or decimals() call fails still gets a usable entry:
// BadSymbol and DefaultDecimals stand in for the missing values and errs[i]
// describes what was substituted. Overrides are applied last. When ctx is
// cancelled, errs[i] wraps the context error and metas[i] is the zero value.
func (p *TokenInitializer) Initialize(
	ctx context.Context,
	tokens []common.Address,
	client chain.ETHClient,
) (metas []Metadata, errs []error) {
	numTokens := len(tokens)
	if numTokens == 0 {
		return nil, nil
	}

	metas = make([]Metadata, numTokens)
	errs = make([]error, numTokens)

	var wg sync.WaitGroup
	wg.Add(numTokens)

	for i, addr := range tokens {
		p.semaphore <- struct{}{}

		go func(index int, tokenAddr common.Address) {
			defer func() {
				<-p.semaphore
				wg.Done()
			}()

			if ctx.Err() != nil {
				errs[index] = ctx.Err()
				return
			}

			meta, err := p.fetch(ctx, tokenAddr, client)
			if ctx.Err() != nil {
				errs[index] = ctx.Err()
				return
			}
			if o, ok := p.overrides[tokenAddr]; ok {
				meta = o.Apply(meta)
			}
			metas[index] = meta
			errs[index] = err
		}(i, addr)
	}

	wg.Wait()

	return metas, errs
}

func (p *TokenInitializer) fetch(ctx context.Context, tokenAddr common.Address, client chain.ETHClient) (Metadata, error) {
	meta := Metadata{Symbol: BadSymbol, Decimals: DefaultDecimals}
	var problems []error

	symbol, err := getSymbol(ctx, tokenAddr, client, p.policy)
	if err != nil {
		problems = append(problems, fmt.Errorf("symbol defaulted to %s: %w", BadSymbol, err))
	} else {
		meta.Symbol = symbol
	}

	decimals, err := getDecimals(ctx, tokenAddr, client, p.policy)
	if err != nil {
		problems = append(problems, fmt.Errorf("decimals defaulted to %d: %w", DefaultDecimals, err))
	} else {
		meta.Decimals = decimals
	}

	if len(problems) > 0 {
		return meta, fmt.Errorf("token %s: %w", tokenAddr.Hex(), errors.Join(problems...))
	}
	return meta, nil
}

func call(ctx context.Context, to common.Address, data []byte, client chain.ETHClient, policy chain.RetryPolicy) ([]byte, error) {
	return chain.Retry(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
}

func getSymbol(ctx context.Context, tokenAddr common.Address, client chain.ETHClient, policy chain.RetryPolicy) (string, error) {
	data, err := call(ctx, tokenAddr, symbolSig, client, policy)
	if err != nil {
		return "", fmt.Errorf("eth_call for symbol failed: %w", err)
	}
	return DecodeSymbol(data)
}

// DecodeSymbol decodes a symbol() response that is either an ABI string or,
// as with some early tokens, a right-padded bytes32.
func DecodeSymbol(data []byte) (string, error) {
	if out, err := abi.ERC20ABI.Unpack("symbol", data); err == nil {
		if s, ok := out[0].(string); ok {
			if s = cleanSymbol(s); s != "" {
				return s, nil
			}
		}
	}

	if len(data) == 32 {
		out, err := abi.ERC20Bytes32ABI.Unpack("symbol", data)
		if err == nil {
			if raw, ok := out[0].([32]byte); ok {
				if s := cleanSymbol(string(bytes.TrimRight(raw[:], "\x00"))); s != "" {
					return s, nil
				}
			}
		}
	}

	return "", fmt.Errorf("undecodable symbol response of %d bytes", len(data))
}

func cleanSymbol(s string) string {
	s = strings.TrimSpace(strings.Trim(s, "\x00"))
	if !utf8.ValidString(s) {
		return ""
	}
	return s
}

func getDecimals(ctx context.Context, tokenAddr common.Address, client chain.ETHClient, policy chain.RetryPolicy) (uint8, error) {
	data, err := call(ctx, tokenAddr, decimalsSig, client, policy)
	if err != nil {
		return 0, fmt.Errorf("eth_call for decimals failed: %w", err)
	}
	if len(data) != 32 {
		return 0, fmt.Errorf("invalid response length for decimals: got %d bytes", len(data))
	}
	// Some tokens declare decimals as uint256; anything that does not fit is rejected.
	for _, b := range data[:31] {
		if b != 0 {
			return 0, errors.New("decimals out of range")
		}
	}
	return data[31], nil
}
