// Package tvl values pairs in USD and ranks them.
package tvl

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/pricing"
)

// Token is the metadata needed to scale reserves and label a pair.
type Token struct {
	Symbol   string
	Decimals uint8
}

// RankedEntry is one line of the ranking.
type RankedEntry struct {
	Rank   int
	Pair   common.Address
	Token0 common.Address
	Token1 common.Address
	Label  string
	TVL    decimal.Decimal
}

// Exclusion is a pair left out of the ranking and the tokens that caused it.
type Exclusion struct {
	Pair common.Address
	// Missing lists the pair's tokens without a quote or metadata.
	Missing []common.Address
}

// Result is the ranked output of one valuation pass.
type Result struct {
	Entries  []RankedEntry
	Excluded []Exclusion
}

// Compute returns reserve0*price0 + reserve1*price1 on decimal-scaled reserves.
// It reports false when either token lacks a quote or metadata.
func Compute(p pricing.Pair, tokens map[common.Address]Token, q pricing.Quote) (decimal.Decimal, bool) {
	v, missing := compute(p, tokens, q)
	return v, len(missing) == 0
}

func compute(p pricing.Pair, tokens map[common.Address]Token, q pricing.Quote) (decimal.Decimal, []common.Address) {
	var missing []common.Address
	side := func(token common.Address, reserve decimal.Decimal) decimal.Decimal {
		price, ok := q.Price(token)
		if !ok {
			missing = append(missing, token)
			return decimal.Zero
		}
		return reserve.Mul(price)
	}

	t0, ok0 := tokens[p.Token0]
	t1, ok1 := tokens[p.Token1]
	if !ok0 || !ok1 || p.Reserve0 == nil || p.Reserve1 == nil {
		if !ok0 || p.Reserve0 == nil {
			missing = append(missing, p.Token0)
		}
		if !ok1 || p.Reserve1 == nil {
			missing = append(missing, p.Token1)
		}
		return decimal.Zero, missing
	}

	v := side(p.Token0, pricing.Scale(p.Reserve0, t0.Decimals)).
		Add(side(p.Token1, pricing.Scale(p.Reserve1, t1.Decimals)))
	return v, missing
}

// Label renders a pair as SYMBOL0-SYMBOL1.
func Label(p pricing.Pair, tokens map[common.Address]Token) string {
	return tokens[p.Token0].Symbol + "-" + tokens[p.Token1].Symbol
}

// Rank values every pair and returns at most n of them ordered by descending
// TVL, ties broken by ascending pair address. Pairs that cannot be valued are
// returned in Excluded, ordered by address, and never ranked as zero.
// A non-positive n ranks every valued pair.
func Rank(pairs []pricing.Pair, tokens map[common.Address]Token, q pricing.Quote, n int) Result {
	var res Result
	for _, p := range pairs {
		v, missing := compute(p, tokens, q)
		if len(missing) > 0 {
			res.Excluded = append(res.Excluded, Exclusion{Pair: p.Address, Missing: missing})
			continue
		}
		res.Entries = append(res.Entries, RankedEntry{
			Pair:   p.Address,
			Token0: p.Token0,
			Token1: p.Token1,
			Label:  Label(p, tokens),
			TVL:    v,
		})
	}

	sort.Slice(res.Entries, func(i, j int) bool {
		a, b := res.Entries[i], res.Entries[j]
		if c := a.TVL.Cmp(b.TVL); c != 0 {
			return c > 0
		}
		return bytes.Compare(a.Pair[:], b.Pair[:]) < 0
	})
	sort.Slice(res.Excluded, func(i, j int) bool {
		return bytes.Compare(res.Excluded[i].Pair[:], res.Excluded[j].Pair[:]) < 0
	})

	if n > 0 && len(res.Entries) > n {
		res.Entries = res.Entries[:n]
	}
	for i := range res.Entries {
		res.Entries[i].Rank = i + 1
	}
	return res
}
