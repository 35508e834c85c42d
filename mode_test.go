package uniswapv2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/snapshot"
)

func TestResolveMode(t *testing.T) {
	cached := &snapshot.Snapshot{ActivityWindow: 50}
	noWindow := &snapshot.Snapshot{}

	testCases := []struct {
		name          string
		requested     Mode
		window        uint64
		snap          *snapshot.Snapshot
		wantMode      Mode
		wantEscalated bool
	}{
		{"NoSnapshot", ModeNone, 50, nil, ModeNone, false},
		{"SameWindow", ModeNone, 50, cached, ModeNone, false},
		{"SameWindowPairsInfo", ModeRefreshPairsInfo, 50, cached, ModeRefreshPairsInfo, false},
		{"WindowChangedNone", ModeNone, 40, cached, ModeRefreshAllButPairs, true},
		{"WindowChangedPairsInfo", ModeRefreshPairsInfo, 40, cached, ModeRefreshAllButPairs, true},
		{"WindowChangedAllButPairs", ModeRefreshAllButPairs, 40, cached, ModeRefreshAllButPairs, false},
		{"WindowChangedFull", ModeFullRefresh, 40, cached, ModeFullRefresh, false},
		{"SnapshotWithoutWindow", ModeNone, 50, noWindow, ModeRefreshAllButPairs, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mode, escalated := ResolveMode(tc.requested, tc.window, tc.snap)
			assert.Equal(t, tc.wantMode, mode)
			assert.Equal(t, tc.wantEscalated, escalated)
		})
	}

	t.Run("RepeatsOnEveryCall", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			mode, escalated := ResolveMode(ModeNone, 40, cached)
			assert.Equal(t, ModeRefreshAllButPairs, mode)
			assert.True(t, escalated)
		}
	})
}

func TestParseMode(t *testing.T) {
	for m := ModeNone; m <= ModeFullRefresh; m++ {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	_, err := ParseMode("everything")
	assert.Error(t, err)
	assert.Equal(t, "mode(9)", Mode(9).String())
}

func TestModePlan(t *testing.T) {
	full := ModeFullRefresh.plan()
	assert.True(t, full.discoverFromStart && full.discover && full.activity && full.fullActivity && full.reserves && full.allTokens)

	allButPairs := ModeRefreshAllButPairs.plan()
	assert.False(t, allButPairs.discover)
	assert.True(t, allButPairs.activity)
	assert.False(t, allButPairs.fullActivity)
	assert.True(t, allButPairs.reserves)

	pairsInfo := ModeRefreshPairsInfo.plan()
	assert.False(t, pairsInfo.activity)
	assert.True(t, pairsInfo.reserves)

	assert.Equal(t, plan{}, ModeNone.plan())
}
