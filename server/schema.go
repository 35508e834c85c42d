package server

import "time"

type StatusResponse struct {
	Head            uint64    `json:"head"`
	Cursor          uint64    `json:"cursor"`
	ActivityThrough uint64    `json:"activityThrough"`
	Window          uint64    `json:"window"`
	Mode            string    `json:"mode"`
	Escalated       bool      `json:"escalated"`
	TotalPairs      int       `json:"totalPairs"`
	ActivePairs     int       `json:"activePairs"`
	UnpricedTokens  int       `json:"unpricedTokens"`
	Warnings        int       `json:"warnings"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type PairsResponse struct {
	Head      uint64              `json:"head"`
	Pairs     []PairsResponsePair `json:"pairs"`
	Excluded  int                 `json:"excluded"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

type PairsResponsePair struct {
	Rank    int    `json:"rank"`
	Label   string `json:"label"`
	Address string `json:"address"`
	Token0  string `json:"token0"`
	Token1  string `json:"token1"`
	// TVL is in USD with two decimals.
	TVL string `json:"tvl"`
}
