package pricing

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrNoReferences     = errors.New("pricing: no reference tokens configured")
	ErrInvalidReference = errors.New("pricing: invalid reference")
)

// Reference is a token whose USD price seeds propagation. A fixed reference
// carries its price in USD. A derived reference names a trusted pair (Via)
// that connects it to a reference listed before it.
type Reference struct {
	Token common.Address
	USD   decimal.Decimal
	Via   common.Address
}

func (r Reference) derived() bool {
	return r.Via != (common.Address{})
}

// Quote is the outcome of one propagation pass.
type Quote struct {
	Prices map[common.Address]decimal.Decimal
	// Via records the pair each non-reference token was priced through.
	Via map[common.Address]common.Address
	// Unpriced lists graph tokens with no path to a reference, sorted by address.
	Unpriced []common.Address
	// Unresolved lists derived references whose trusted pair was not usable.
	Unresolved []common.Address
}

// Price returns the USD price of token, if it has one.
func (q Quote) Price(token common.Address) (decimal.Decimal, bool) {
	p, ok := q.Prices[token]
	return p, ok
}

// ValidateReferences checks that refs can seed a propagation pass.
func ValidateReferences(refs []Reference) error {
	if len(refs) == 0 {
		return ErrNoReferences
	}
	seen := make(map[common.Address]bool, len(refs))
	for i, r := range refs {
		if seen[r.Token] {
			return fmt.Errorf("%w: token %s listed twice", ErrInvalidReference, r.Token.Hex())
		}
		seen[r.Token] = true

		if r.derived() {
			if i == 0 {
				return fmt.Errorf("%w: first reference %s must have a fixed price", ErrInvalidReference, r.Token.Hex())
			}
			continue
		}
		if !r.USD.IsPositive() {
			return fmt.Errorf("%w: token %s needs a positive usd price or a via pair", ErrInvalidReference, r.Token.Hex())
		}
	}
	return nil
}

// Propagate prices every token reachable from a reference with a breadth-first
// search. References seed the frontier in the order given; edges are followed
// in graph insertion order; a token keeps the price of the first path that
// reaches it. Prices along a path are exact products of edge weights.
//
// The first path wins even when a deeper pool would give a different price,
// so quotes for thinly connected tokens can diverge from a liquidity-weighted
// price.
func Propagate(g *Graph, refs []Reference) (Quote, error) {
	if err := ValidateReferences(refs); err != nil {
		return Quote{}, err
	}

	q := Quote{
		Prices: make(map[common.Address]decimal.Decimal),
		Via:    make(map[common.Address]common.Address),
	}

	var frontier []common.Address
	for _, r := range refs {
		if !r.derived() {
			q.Prices[r.Token] = r.USD
			frontier = append(frontier, r.Token)
			continue
		}

		e, ok := g.edgeVia(r.Token, r.Via)
		if !ok {
			q.Unresolved = append(q.Unresolved, r.Token)
			continue
		}
		anchor, ok := q.Prices[e.To]
		if !ok {
			q.Unresolved = append(q.Unresolved, r.Token)
			continue
		}
		back, _ := g.edgeVia(e.To, r.Via)
		q.Prices[r.Token] = anchor.Mul(back.Weight)
		q.Via[r.Token] = r.Via
		frontier = append(frontier, r.Token)
	}

	for len(frontier) > 0 {
		from := frontier[0]
		frontier = frontier[1:]
		price := q.Prices[from]

		for _, e := range g.Edges(from) {
			if _, visited := q.Prices[e.To]; visited {
				continue
			}
			q.Prices[e.To] = price.Mul(e.Weight)
			q.Via[e.To] = e.Pair
			frontier = append(frontier, e.To)
		}
	}

	for _, token := range g.Nodes() {
		if _, ok := q.Prices[token]; !ok {
			q.Unpriced = append(q.Unpriced, token)
		}
	}
	sort.Slice(q.Unpriced, func(i, j int) bool {
		return bytes.Compare(q.Unpriced[i][:], q.Unpriced[j][:]) < 0
	})

	return q, nil
}
