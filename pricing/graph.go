// Package pricing derives USD prices for tokens from the reserves of the pairs
// that connect them to one or more reference tokens.
package pricing

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// minPrecision is the number of fractional digits kept when dividing reserves.
// It is raised to a token's decimals when those are larger.
const minPrecision = 36

// Pair is the pricing view of a pair: its tokens and raw on-chain reserves.
type Pair struct {
	Address  common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Edge is one direction of a pair. A token priced at p on the From side
// prices the To side at p*Weight.
type Edge struct {
	Pair   common.Address
	To     common.Address
	Weight decimal.Decimal
}

// Graph is an undirected multigraph of tokens connected by pairs.
// It is rebuilt on every valuation pass and never persisted.
type Graph struct {
	nodes []common.Address
	adj   map[common.Address][]Edge
	edges int
}

// BuildGraph adds one edge per pair, in ascending pair-address order, for
// every pair whose reserves are both positive and whose tokens both have
// known decimals. Pairs that fail those checks are returned in skipped.
func BuildGraph(pairs []Pair, decimals map[common.Address]uint8) (g *Graph, skipped []common.Address) {
	ordered := make([]Pair, len(pairs))
	copy(ordered, pairs)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].Address[:], ordered[j].Address[:]) < 0
	})

	g = &Graph{adj: make(map[common.Address][]Edge)}
	for _, p := range ordered {
		dec0, ok0 := decimals[p.Token0]
		dec1, ok1 := decimals[p.Token1]
		if !ok0 || !ok1 || !positive(p.Reserve0) || !positive(p.Reserve1) {
			skipped = append(skipped, p.Address)
			continue
		}

		scaled0 := Scale(p.Reserve0, dec0)
		scaled1 := Scale(p.Reserve1, dec1)
		prec := precision(dec0, dec1)

		g.addEdge(p.Token0, Edge{Pair: p.Address, To: p.Token1, Weight: scaled0.DivRound(scaled1, prec)})
		g.addEdge(p.Token1, Edge{Pair: p.Address, To: p.Token0, Weight: scaled1.DivRound(scaled0, prec)})
		g.edges++
	}
	return g, skipped
}

func (g *Graph) addEdge(from common.Address, e Edge) {
	if _, ok := g.adj[from]; !ok {
		g.nodes = append(g.nodes, from)
	}
	if _, ok := g.adj[e.To]; !ok {
		g.nodes = append(g.nodes, e.To)
		g.adj[e.To] = nil
	}
	g.adj[from] = append(g.adj[from], e)
}

// Nodes returns the tokens in the graph in insertion order.
func (g *Graph) Nodes() []common.Address {
	return g.nodes
}

// Edges returns the outgoing edges of token in insertion order.
func (g *Graph) Edges(token common.Address) []Edge {
	return g.adj[token]
}

// Len returns the number of pairs represented in the graph.
func (g *Graph) Len() int {
	return g.edges
}

// edgeVia returns the edge leaving from through pair, if any.
func (g *Graph) edgeVia(from, pair common.Address) (Edge, bool) {
	for _, e := range g.adj[from] {
		if e.Pair == pair {
			return e, true
		}
	}
	return Edge{}, false
}

// Scale converts a raw integer amount into token units.
func Scale(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

func precision(dec0, dec1 uint8) int32 {
	p := int32(minPrecision)
	if int32(dec0) > p {
		p = int32(dec0)
	}
	if int32(dec1) > p {
		p = int32(dec1)
	}
	return p
}

func positive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}
