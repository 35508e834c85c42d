package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	uniswapv2 "github.com/mikle97pir/uniswap-v2-liquidity-analyzer"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/chain"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/config"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/initializer"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/reserves"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/snapshot"
)

const systemName = "uniswap_tvl"

// app holds the wired dependencies shared by the commands.
type app struct {
	sys      *uniswapv2.System
	registry *prometheus.Registry
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	logger.Info("connecting to rpc endpoint", zap.String("endpoint", cfg.RPC.Endpoint))
	client, err := chain.Dial(ctx, cfg.RPC.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	store, err := newStore(cfg.Cache)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func() { _ = closer.Close() })
	}

	refs, err := cfg.PricingReferences()
	if err != nil {
		a.Close()
		return nil, err
	}
	overrides, err := cfg.Overrides()
	if err != nil {
		a.Close()
		return nil, err
	}

	policy := cfg.RPC.RetryPolicy()
	sys, err := uniswapv2.NewSystem(&uniswapv2.Config{
		SystemName:        systemName,
		PrometheusReg:     a.registry,
		GetClient:         func() (chain.ETHClient, error) { return client, nil },
		Store:             store,
		Factory:           cfg.Factory.FactoryAddress(),
		InitCodeHash:      cfg.Factory.InitCodeHashValue(),
		FactoryStartBlock: cfg.Factory.StartBlock,
		References:        refs,
		ActivitySource:    uniswapv2.ActivitySource(cfg.Activity.Source),
		GetReserves:       reserves.NewGetReserves(cfg.RPC.Workers, policy),
		TokenInitializer:  initializer.NewTokenInitializer(cfg.RPC.Workers, policy, overrides).Initialize,
		Workers:           cfg.RPC.Workers,
		LogChunkSize:      cfg.RPC.LogChunkSize,
		MaxErrorRate:      cfg.RPC.MaxErrorRate,
		Retry:             policy,
		Logger:            zapLogger{logger.Sugar()},
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sys = sys
	return a, nil
}

// newStore prefers redis when a URL is configured and falls back to a file in the cache dir.
func newStore(cfg config.CacheConfig) (snapshot.Store, error) {
	if cfg.RedisURL != "" {
		return snapshot.NewRedisStore(snapshot.NewRedisPool(cfg.RedisURL), cfg.RedisKey), nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return snapshot.NewFileStore(cfg.Dir), nil
}
