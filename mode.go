package uniswapv2

import (
	"fmt"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/snapshot"
)

// Mode selects which cached stages a run may reuse. Modes are ordered by cost:
// a higher Mode recomputes everything a lower one does.
type Mode int

const (
	// ModeNone reuses every cached stage and computes only what is missing.
	ModeNone Mode = iota
	// ModeRefreshPairsInfo re-reads reserves.
	ModeRefreshPairsInfo
	// ModeRefreshAllButPairs also recomputes activity.
	ModeRefreshAllButPairs
	// ModeFullRefresh also re-runs pair discovery from the factory's first block.
	ModeFullRefresh
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeRefreshPairsInfo:
		return "refresh-pairs-info"
	case ModeRefreshAllButPairs:
		return "refresh-all-but-pairs"
	case ModeFullRefresh:
		return "full-refresh"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode is the inverse of String.
func ParseMode(s string) (Mode, error) {
	for m := ModeNone; m <= ModeFullRefresh; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return ModeNone, fmt.Errorf("unknown refresh mode %q", s)
}

// ResolveMode returns the mode a run must actually use. A snapshot whose
// activity window differs from the requested one, including a snapshot with
// no recorded window, forces at least ModeRefreshAllButPairs. The check is
// made on every call, so the escalation repeats as long as the mismatch does.
func ResolveMode(requested Mode, window uint64, snap *snapshot.Snapshot) (mode Mode, escalated bool) {
	if snap == nil || snap.ActivityWindow == window {
		return requested, false
	}
	if requested < ModeRefreshAllButPairs {
		return ModeRefreshAllButPairs, true
	}
	return requested, false
}

// plan lists the stages a run executes. Stages not planned here may still
// run when their cached input is missing.
type plan struct {
	discoverFromStart bool
	discover          bool
	activity          bool
	fullActivity      bool
	reserves          bool
	allTokens         bool
}

func (m Mode) plan() plan {
	switch m {
	case ModeFullRefresh:
		return plan{discoverFromStart: true, discover: true, activity: true, fullActivity: true, reserves: true, allTokens: true}
	case ModeRefreshAllButPairs:
		return plan{activity: true, reserves: true}
	case ModeRefreshPairsInfo:
		return plan{reserves: true}
	default:
		return plan{}
	}
}
