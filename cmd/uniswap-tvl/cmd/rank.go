package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	uniswapv2 "github.com/mikle97pir/uniswap-v2-liquidity-analyzer"
)

type rankFlags struct {
	full        bool
	allButPairs bool
	pairsInfo   bool
	topN        int
}

func (rf *rankFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVarP(&rf.full, "full-refresh", "R", false, "rediscover pairs and recompute activity, reserves and prices")
	f.BoolVar(&rf.allButPairs, "refresh-all-but-pairs", false, "recompute activity, reserves and prices from the cached pair list")
	f.BoolVarP(&rf.pairsInfo, "refresh-pairs-info", "r", false, "re-read reserves and recompute prices")
	f.IntVarP(&rf.topN, "top-n", "n", 0, "number of pairs to print (default from config)")
	cmd.MarkFlagsMutuallyExclusive("full-refresh", "refresh-all-but-pairs", "refresh-pairs-info")
}

func (rf *rankFlags) mode() uniswapv2.Mode {
	switch {
	case rf.full:
		return uniswapv2.ModeFullRefresh
	case rf.allButPairs:
		return uniswapv2.ModeRefreshAllButPairs
	case rf.pairsInfo:
		return uniswapv2.ModeRefreshPairsInfo
	}
	return uniswapv2.ModeNone
}

func runRank(cmd *cobra.Command, gf *globalFlags, rf *rankFlags) error {
	cfg, err := gf.load(cmd)
	if err != nil {
		return err
	}
	topN := cfg.TopN
	if cmd.Flags().Changed("top-n") {
		if rf.topN <= 0 {
			return fmt.Errorf("--top-n must be positive")
		}
		topN = rf.topN
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.sys.Run(ctx, uniswapv2.Options{
		Mode:   rf.mode(),
		Window: cfg.Activity.RecentBlocksNumber,
		TopN:   topN,
	})
	if err != nil {
		return err
	}
	for _, w := range report.Warnings {
		logger.Warn("run finished with a warning", zap.Error(w))
	}
	return printRanking(cmd.OutOrStdout(), report)
}

// printRanking writes the ranked pairs as an aligned table.
func printRanking(w io.Writer, r *uniswapv2.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPair\tTVL (USDC)\tAddress")
	for _, e := range r.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Rank, e.Label, e.TVL.StringFixed(2), e.Pair.Hex())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.Escalated {
		fmt.Fprintf(w, "\nactivity window changed to %d blocks; activity was recomputed\n", r.Window)
	}
	if n := len(r.Excluded); n > 0 {
		fmt.Fprintf(w, "%d active pairs have a token without a USD price and are not ranked\n", n)
	}
	for _, warning := range r.Warnings {
		var cw *uniswapv2.CoverageWarning
		if errors.As(warning, &cw) {
			fmt.Fprintf(w, "%s is complete through block %d of %d\n", coverageSubject(cw.Stage), cw.Through, cw.Requested.To)
		}
	}
	return nil
}

func coverageSubject(stage string) string {
	switch stage {
	case uniswapv2.StageDiscovery:
		return "pair discovery"
	case uniswapv2.StageActivity:
		return "activity classification"
	}
	return stage
}
