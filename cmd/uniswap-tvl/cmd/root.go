package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/config"
)

type globalFlags struct {
	configPath   string
	rpc          string
	cacheDir     string
	recentBlocks uint64
}

func RootCmd() *cobra.Command {
	var gf globalFlags
	var rf rankFlags
	cmd := &cobra.Command{
		Use:   "uniswap-tvl",
		Short: "rank active Uniswap V2 pairs by total value locked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runRank(cmd, &gf, &rf)
		},
	}
	gf.register(cmd)
	rf.register(cmd)
	cmd.AddCommand(ServeCmd(&gf))
	return cmd
}

func (gf *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&gf.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&gf.rpc, "rpc", "", "Ethereum RPC endpoint (http, https, ws, wss or an .ipc path)")
	pf.StringVar(&gf.cacheDir, "cache-dir", "", "directory holding the cached snapshot")
	pf.Uint64Var(&gf.recentBlocks, "recent-blocks-number", 0, "activity window in blocks; a value different from the cached one refreshes activity")
}

// load builds the configuration from the config file and the flags that were set.
func (gf *globalFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if gf.configPath != "" {
		var err error
		cfg, err = config.Load(gf.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("rpc") {
		cfg.RPC.Endpoint = gf.rpc
	}
	if flags.Changed("cache-dir") {
		cfg.Cache.Dir = gf.cacheDir
	}
	if flags.Changed("recent-blocks-number") {
		cfg.Activity.RecentBlocksNumber = gf.recentBlocks
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
