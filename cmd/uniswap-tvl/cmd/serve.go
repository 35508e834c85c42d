package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	uniswapv2 "github.com/mikle97pir/uniswap-v2-liquidity-analyzer"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/config"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/server"
)

func ServeCmd(gf *globalFlags) *cobra.Command {
	var bindAddr, refreshMode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the ranking over HTTP and keep it fresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := gf.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("bind-addr") {
				cfg.Server.BindAddr = bindAddr
			}
			if cmd.Flags().Changed("refresh-mode") {
				cfg.Server.RefreshMode = refreshMode
			}
			refreshOpts, err := refreshOptions(cfg)
			if err != nil {
				return err
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

			opts := uniswapv2.Options{
				Window: cfg.Activity.RecentBlocksNumber,
				TopN:   cfg.TopN,
			}
			if _, err := a.sys.Run(ctx, opts); err != nil {
				return fmt.Errorf("initial run: %w", err)
			}

			s := server.New(cfg.Server, a.sys, refreshOpts, a.registry, logger)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				logger.Info("starting server", zap.String("addr", cfg.Server.BindAddr))
				if err := s.Start(cfg.Server.BindAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("failed to start server", zap.Error(err))
					stop()
				}
			}()
			go func() {
				defer wg.Done()
				_ = s.RunBackgroundUpdater(ctx)
			}()

			<-ctx.Done()
			logger.Info("gracefully shutting down")
			if err := s.ShutdownWithTimeout(10 * time.Second); err != nil {
				logger.Error("failed to shutdown server", zap.Error(err))
			}
			wg.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&bindAddr, "bind-addr", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&refreshMode, "refresh-mode", "", "mode of the background runs: refresh-pairs-info, refresh-all-but-pairs or full-refresh (default from config)")
	return cmd
}

// refreshOptions builds the options of the background runs. Each of them
// re-reads reserves at least and picks up pairs created since the cursor.
func refreshOptions(cfg config.Config) (uniswapv2.Options, error) {
	mode, err := uniswapv2.ParseMode(cfg.Server.RefreshMode)
	if err != nil {
		return uniswapv2.Options{}, err
	}
	if mode < uniswapv2.ModeRefreshPairsInfo {
		return uniswapv2.Options{}, fmt.Errorf("refresh mode %q would never update the ranking", mode)
	}
	return uniswapv2.Options{
		Mode:        mode,
		Window:      cfg.Activity.RecentBlocksNumber,
		TopN:        cfg.TopN,
		DiscoverNew: true,
	}, nil
}
