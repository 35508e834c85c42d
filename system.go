package uniswapv2

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/chain"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/initializer"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/logs"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/pricing"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/snapshot"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/tvl"
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// --- Function Type Definitions for Dependencies ---

type GetClientFunc func() (chain.ETHClient, error)
type DiscoverPairsFunc func(factory common.Address, logs []types.Log) []logs.PairCreated
type LastActivityFunc func(logs []types.Log, isPair func(common.Address) bool) map[common.Address]uint64
type GetReservesFunc func(ctx context.Context, pairAddrs []common.Address, blockNumber *big.Int, client chain.ETHClient) (reserve0, reserve1 []*big.Int, errs []error)
type TokenInitializerFunc func(ctx context.Context, tokens []common.Address, client chain.ETHClient) ([]initializer.Metadata, []error)
type ErrorHandlerFunc func(err error)
type TestBloomFunc func(types.Bloom) bool

// Config holds all the dependencies and settings for the System.
type Config struct {
	SystemName    string
	PrometheusReg prometheus.Registerer
	GetClient     GetClientFunc
	// Store persists snapshots between runs. When nil, snapshots live in memory only.
	Store             snapshot.Store
	Factory           common.Address
	InitCodeHash      common.Hash
	FactoryStartBlock uint64
	References        []pricing.Reference
	ActivitySource    ActivitySource
	DiscoverPairs     DiscoverPairsFunc
	LastActivity      LastActivityFunc
	GetReserves       GetReservesFunc
	TokenInitializer  TokenInitializerFunc
	TestBloom         TestBloomFunc
	ErrorHandler      ErrorHandlerFunc
	Workers           int
	LogChunkSize      uint64
	MaxErrorRate      float64
	Retry             chain.RetryPolicy
	Logger            Logger
}

// validate checks that all essential fields in the Config are provided and
// fills optional ones with their defaults.
func (c *Config) validate() error {
	if c.SystemName == "" {
		return errors.New("system name is required")
	}
	if c.GetClient == nil {
		return errors.New("get client function is required")
	}
	if c.GetReserves == nil {
		return errors.New("get reserves function is required")
	}
	if c.TokenInitializer == nil {
		return errors.New("token initializer function is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Factory == (common.Address{}) {
		return errors.New("factory address is required")
	}
	if err := pricing.ValidateReferences(c.References); err != nil {
		return err
	}
	if c.MaxErrorRate < 0 || c.MaxErrorRate > 1 {
		return fmt.Errorf("max error rate %v must be within [0, 1]", c.MaxErrorRate)
	}
	if c.ActivitySource == "" {
		c.ActivitySource = ActivitySourceLogs
	}
	if !c.ActivitySource.valid() {
		return fmt.Errorf("unknown activity source %q", c.ActivitySource)
	}
	if c.DiscoverPairs == nil {
		c.DiscoverPairs = logs.DiscoverPairs
	}
	if c.LastActivity == nil {
		c.LastActivity = logs.LastActivity
	}
	if c.TestBloom == nil {
		c.TestBloom = logs.ActivityInBloom
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = func(error) {}
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = chain.DefaultRetryPolicy
	}
	return nil
}

// Options selects what a single Run recomputes and how much it returns.
type Options struct {
	Mode Mode
	// Window is the activity window in blocks.
	Window uint64
	// TopN caps the ranking; zero or less returns every valued pair.
	TopN int
	// DiscoverNew scans for pairs created after the cursor even when Mode
	// reuses the cached pair list.
	DiscoverNew bool
}

// Report is the outcome of a successful Run.
type Report struct {
	Head            uint64
	RequestedMode   Mode
	Mode            Mode
	Escalated       bool
	Window          uint64
	Cursor          uint64
	ActivityThrough uint64
	TotalPairs      int
	ActivePairs     int
	NewPairs        int
	Entries         []tvl.RankedEntry
	Excluded        []tvl.Exclusion
	// Unpriced lists tokens of active pairs with no path to a reference.
	Unpriced []common.Address
	// Warnings holds the non-fatal problems met during the run.
	Warnings   []error
	FinishedAt time.Time
}

// System owns the pair registry and runs the valuation pipeline over it:
// discovery, activity classification, token and reserve reads, pricing and
// ranking. Runs are serialized; views are lock-free.
type System struct {
	systemName       string
	getClient        GetClientFunc
	store            snapshot.Store
	factory          common.Address
	initCodeHash     common.Hash
	startBlock       uint64
	references       []pricing.Reference
	activitySource   ActivitySource
	discoverPairs    DiscoverPairsFunc
	lastActivity     LastActivityFunc
	getReserves      GetReservesFunc
	tokenInitializer TokenInitializerFunc
	testBloom        TestBloomFunc
	errorHandler     ErrorHandlerFunc
	workers          int
	logChunkSize     uint64
	maxErrorRate     float64
	retry            chain.RetryPolicy

	cachedView atomic.Pointer[[]PairView]
	lastReport atomic.Pointer[Report]

	runMu sync.Mutex

	mu              sync.RWMutex
	registry        *PairRegistry
	cursor          uint64
	activityWindow  uint64
	activityThrough uint64
	// activityStale is set when discovery adds a pair created inside blocks
	// that were already classified; the next classification rescans.
	activityStale bool
	reservesBlock uint64
	current       *snapshot.Snapshot

	warnMu   sync.Mutex
	warnings []error

	metrics *Metrics
	logger  Logger
}

// NewSystem constructs a System with an empty registry. The persisted
// snapshot, if any, is loaded at the start of every Run.
func NewSystem(cfg *Config) (*System, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid uniswapv2 system configuration: %w", err)
	}

	metrics := NewMetrics(cfg.PrometheusReg, cfg.SystemName)

	system := &System{
		systemName:       cfg.SystemName,
		getClient:        cfg.GetClient,
		store:            cfg.Store,
		factory:          cfg.Factory,
		initCodeHash:     cfg.InitCodeHash,
		startBlock:       cfg.FactoryStartBlock,
		references:       cfg.References,
		activitySource:   cfg.ActivitySource,
		discoverPairs:    cfg.DiscoverPairs,
		lastActivity:     cfg.LastActivity,
		getReserves:      cfg.GetReserves,
		tokenInitializer: cfg.TokenInitializer,
		testBloom:        cfg.TestBloom,
		errorHandler: func(err error) {
			errorType := determineErrorType(err)
			cfg.Logger.Error("UniswapV2 analyzer error", "system", cfg.SystemName, "type", errorType, "error", err)
			metrics.ErrorsTotal.WithLabelValues(errorType).Inc()
			cfg.ErrorHandler(err)
		},
		workers:      cfg.Workers,
		logChunkSize: cfg.LogChunkSize,
		maxErrorRate: cfg.MaxErrorRate,
		retry:        cfg.Retry,
		metrics:      metrics,
		logger:       cfg.Logger,
	}
	system.restore(nil)
	return system, nil
}

// View returns a copy of the latest registry view. This operation is lock-free.
func (s *System) View() []PairView {
	viewPtr := s.cachedView.Load()
	if viewPtr == nil {
		return nil
	}
	view := *viewPtr
	viewCopy := make([]PairView, len(view))
	copy(viewCopy, view)
	return viewCopy
}

// Token returns the metadata of a token, if known.
func (s *System) Token(addr common.Address) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getToken(addr, s.registry)
}

// Cursor returns the last block whose pair-creation events are fully ingested.
func (s *System) Cursor() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// LastReport returns the report of the latest successful Run, or nil.
func (s *System) LastReport() *Report {
	return s.lastReport.Load()
}

// updateCachedView generates a fresh view from the registry and atomically updates the pointer.
// This method MUST be called from within a write lock (s.mu.Lock).
func (s *System) updateCachedView() {
	newView := viewRegistry(s.registry)
	if newView == nil {
		newView = []PairView{}
	}
	s.cachedView.Store(&newView)
	s.metrics.PairsInRegistry.WithLabelValues().Set(float64(len(newView)))
}

// restore replaces the in-memory state with snap. A nil snapshot resets the
// state so that discovery starts at the factory's first block.
func (s *System) restore(snap *snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry = NewPairRegistryFromSnapshot(snap)
	s.current = snap
	s.activityStale = false
	if snap == nil {
		s.cursor = 0
		if s.startBlock > 0 {
			s.cursor = s.startBlock - 1
		}
		s.activityWindow, s.activityThrough, s.reservesBlock = 0, 0, 0
	} else {
		s.cursor = snap.Cursor
		s.activityWindow = snap.ActivityWindow
		s.activityThrough = snap.ActivityThrough
		s.reservesBlock = snap.ReservesBlock
	}
	s.updateCachedView()
}

// snapshot captures the in-memory state as a value ready to persist.
func (s *System) snapshot() *snapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs, tokens := toSnapshot(s.registry)
	return &snapshot.Snapshot{
		Version:         snapshot.Version,
		Factory:         s.factory,
		Cursor:          s.cursor,
		ActivityWindow:  s.activityWindow,
		ActivityThrough: s.activityThrough,
		ReservesBlock:   s.reservesBlock,
		Pairs:           pairs,
		Tokens:          tokens,
	}
}

func (s *System) newLogReader(client chain.ETHClient) (*chain.LogReader, error) {
	return chain.NewLogReader(client, chain.LogReaderConfig{
		Workers:      s.workers,
		ChunkSize:    s.logChunkSize,
		MaxErrorRate: s.maxErrorRate,
		Retry:        s.retry,
		Logger:       s.logger,
	})
}

// warn records a non-fatal problem for the current run's report.
func (s *System) warn(err error) {
	s.errorHandler(err)
	s.warnMu.Lock()
	s.warnings = append(s.warnings, err)
	s.warnMu.Unlock()
}

func (s *System) isActivityStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activityStale
}

func (s *System) takeWarnings() []error {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	w := s.warnings
	s.warnings = nil
	return w
}

func (s *System) loadSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	if s.store == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.current, nil
	}
	return s.store.Load(ctx)
}

// Run executes one pass of the pipeline under the given options and, on
// success, persists the resulting snapshot once. On a fatal error the
// in-memory state is rolled back to the loaded snapshot and nothing is
// persisted.
func (s *System) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Window == 0 {
		return nil, errors.New("activity window must be at least one block")
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	s.takeWarnings()

	prev, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, s.fail(&FatalError{Stage: StageLoad, Err: err})
	}
	if prev != nil && prev.Factory != s.factory {
		s.logger.Warn("Cached snapshot belongs to another factory; starting over",
			"system", s.systemName, "cached", prev.Factory.Hex(), "configured", s.factory.Hex())
		prev = nil
	}
	s.restore(prev)

	report, err := s.run(ctx, opts, prev)
	if err != nil {
		s.restore(prev)
		return nil, s.fail(err)
	}

	snap := s.snapshot()
	if s.store != nil {
		timer := prometheus.NewTimer(s.metrics.StageDuration.WithLabelValues(StagePersist))
		err := s.store.Persist(ctx, snap)
		timer.ObserveDuration()
		if err != nil {
			s.restore(prev)
			return nil, s.fail(&FatalError{Stage: StagePersist, Err: err})
		}
	}
	func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.current = snap
	}()

	report.Warnings = s.takeWarnings()
	report.FinishedAt = time.Now()
	s.lastReport.Store(report)
	s.metrics.RunDuration.WithLabelValues(report.Mode.String()).Observe(time.Since(start).Seconds())

	s.logger.Info("Run finished",
		"system", s.systemName,
		"mode", report.Mode.String(),
		"head", report.Head,
		"pairs", report.TotalPairs,
		"active", report.ActivePairs,
		"ranked", len(report.Entries),
		"warnings", len(report.Warnings),
		"duration", time.Since(start),
	)
	return report, nil
}

func (s *System) fail(err error) error {
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		err = &FatalError{Stage: "run", Err: err}
	}
	s.takeWarnings()
	s.errorHandler(err)
	return err
}

func (s *System) run(ctx context.Context, opts Options, prev *snapshot.Snapshot) (*Report, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, &FatalError{Stage: StageHead, Err: fmt.Errorf("failed to get eth client: %w", err)}
	}
	head, err := chain.Head(ctx, client, s.retry)
	if err != nil {
		return nil, &FatalError{Stage: StageHead, Err: err}
	}
	s.metrics.ChainHead.WithLabelValues().Set(float64(head))

	mode, escalated := ResolveMode(opts.Mode, opts.Window, prev)
	if escalated {
		s.logger.Warn("Activity window differs from the cached one; refreshing activity",
			"system", s.systemName,
			"requested_mode", opts.Mode.String(),
			"mode", mode.String(),
			"window", opts.Window,
			"cached_window", prev.ActivityWindow,
		)
	}
	p := mode.plan()

	report := &Report{
		Head:          head,
		RequestedMode: opts.Mode,
		Mode:          mode,
		Escalated:     escalated,
		Window:        opts.Window,
	}

	if prev == nil || p.discover || opts.DiscoverNew {
		from := s.Cursor() + 1
		if p.discoverFromStart {
			from = s.startBlock
		}
		added, err := s.discover(ctx, client, from, head)
		if err != nil {
			return nil, err
		}
		report.NewPairs = len(added)
	}

	// New pairs have no activity yet, so discovery that added any forces at
	// least an incremental classification.
	if p.activity || !prev.HasActivity() || report.NewPairs > 0 || s.isActivityStale() {
		if _, err := s.classify(ctx, client, head, opts.Window, p.fullActivity); err != nil {
			return nil, err
		}
	}

	if err := s.refreshTokens(ctx, client, p.allTokens); err != nil {
		return nil, err
	}
	if err := s.refreshReserves(ctx, client, head, p.reserves); err != nil {
		return nil, err
	}

	if err := s.value(report, opts.TopN); err != nil {
		return nil, err
	}

	s.mu.RLock()
	report.Cursor = s.cursor
	report.ActivityThrough = s.activityThrough
	report.TotalPairs = len(s.registry.address)
	s.mu.RUnlock()

	return report, nil
}

// refreshTokens reads metadata for the tokens of active pairs. Unless all is
// set, tokens already in the registry are skipped.
func (s *System) refreshTokens(ctx context.Context, client chain.ETHClient, all bool) error {
	timer := prometheus.NewTimer(s.metrics.StageDuration.WithLabelValues(StageTokens))
	defer timer.ObserveDuration()

	var tokens []common.Address
	func() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		seen := make(map[common.Address]bool)
		for i := range s.registry.address {
			if !s.registry.active[i] {
				continue
			}
			for _, t := range []common.Address{s.registry.token0[i], s.registry.token1[i]} {
				if seen[t] {
					continue
				}
				seen[t] = true
				if _, known := getToken(t, s.registry); known && !all {
					continue
				}
				tokens = append(tokens, t)
			}
		}
	}()
	if len(tokens) == 0 {
		return nil
	}

	s.logger.Info("Fetching token metadata", "system", s.systemName, "count", len(tokens))
	metas, errs := s.tokenInitializer(ctx, tokens, client)
	if err := ctx.Err(); err != nil {
		return &FatalError{Stage: StageTokens, Err: err}
	}

	var failed int
	for i, err := range errs {
		if err != nil {
			failed++
			s.metrics.FailedFetches.WithLabelValues(StageTokens).Inc()
			s.warn(&FetchError{Stage: StageTokens, Address: tokens[i], Err: err})
		}
	}
	if rate := float64(failed) / float64(len(tokens)); rate > s.maxErrorRate {
		return &FatalError{Stage: StageTokens, Err: fmt.Errorf("%w: metadata of %d of %d tokens could not be read", chain.ErrTooManyFailures, failed, len(tokens))}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range tokens {
		setToken(Token{Address: t, Symbol: metas[i].Symbol, Decimals: metas[i].Decimals}, s.registry)
	}
	return nil
}

// refreshReserves reads reserves for active pairs. Unless all is set, pairs
// with cached reserves are skipped. A pair whose read fails keeps its cached
// reserves.
func (s *System) refreshReserves(ctx context.Context, client chain.ETHClient, head uint64, all bool) error {
	timer := prometheus.NewTimer(s.metrics.StageDuration.WithLabelValues(StageReserves))
	defer timer.ObserveDuration()

	var pairs []common.Address
	func() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for i, addr := range s.registry.address {
			if !s.registry.active[i] {
				continue
			}
			if !all && s.registry.reserve0[i] != nil && s.registry.reserve1[i] != nil {
				continue
			}
			pairs = append(pairs, addr)
		}
	}()
	if len(pairs) == 0 {
		return nil
	}

	s.logger.Info("Fetching reserves", "system", s.systemName, "count", len(pairs))
	reserve0s, reserve1s, errs := s.getReserves(ctx, pairs, new(big.Int).SetUint64(head), client)
	if err := ctx.Err(); err != nil {
		return &FatalError{Stage: StageReserves, Err: err}
	}

	var failed int
	for i, err := range errs {
		if err != nil {
			failed++
			s.metrics.FailedFetches.WithLabelValues(StageReserves).Inc()
			s.warn(&FetchError{Stage: StageReserves, Address: pairs[i], Err: err})
		}
	}
	if rate := float64(failed) / float64(len(pairs)); rate > s.maxErrorRate {
		return &FatalError{Stage: StageReserves, Err: fmt.Errorf("%w: reserves of %d of %d pairs could not be read", chain.ErrTooManyFailures, failed, len(pairs))}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, addr := range pairs {
		if errs[i] != nil {
			continue
		}
		// addr comes from the registry.
		_ = updateReserves(addr, reserve0s[i], reserve1s[i], s.registry)
	}
	if failed < len(pairs) {
		s.reservesBlock = head
	}
	return nil
}

// value prices tokens from the reserves of active pairs and ranks the pairs.
// It makes no network calls.
func (s *System) value(report *Report, topN int) error {
	timer := prometheus.NewTimer(s.metrics.StageDuration.WithLabelValues(StagePricing))
	defer timer.ObserveDuration()

	// Pairs without reserves or token metadata still reach tvl.Rank, which
	// lists them as excluded. BuildGraph skips them.
	var pairs []pricing.Pair
	var inconsistent []*DataConsistencyError
	decimals := make(map[common.Address]uint8)
	tokens := make(map[common.Address]tvl.Token)
	func() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, v := range activePairs(s.registry) {
			report.ActivePairs++
			for _, addr := range []common.Address{v.Token0, v.Token1} {
				t, ok := getToken(addr, s.registry)
				if !ok {
					if v.HasReserves() {
						inconsistent = append(inconsistent, &DataConsistencyError{
							SystemError: SystemError{BlockNumber: s.reservesBlock, Err: ErrTokenNotFound},
							PairAddress: v.Address,
							Details:     "token " + addr.Hex() + " has no metadata after the token stage",
						})
					}
					continue
				}
				decimals[addr] = t.Decimals
				tokens[addr] = tvl.Token{Symbol: t.Symbol, Decimals: t.Decimals}
			}
			pairs = append(pairs, pricing.Pair{
				Address:  v.Address,
				Token0:   v.Token0,
				Token1:   v.Token1,
				Reserve0: v.Reserve0,
				Reserve1: v.Reserve1,
			})
		}
	}()
	for _, err := range inconsistent {
		s.warn(err)
	}

	graph, skipped := pricing.BuildGraph(pairs, decimals)
	quote, err := pricing.Propagate(graph, s.references)
	if err != nil {
		return &FatalError{Stage: StagePricing, Err: err}
	}
	for _, ref := range quote.Unresolved {
		s.logger.Warn("Reference could not be derived from its trusted pair", "system", s.systemName, "token", ref.Hex())
	}
	if len(quote.Unpriced) > 0 {
		s.logger.Info("Tokens without a path to a reference", "system", s.systemName, "count", len(quote.Unpriced))
	}

	result := tvl.Rank(pairs, tokens, quote, topN)
	report.Entries = result.Entries
	report.Excluded = result.Excluded
	report.Unpriced = quote.Unpriced

	s.metrics.PricedTokens.WithLabelValues().Set(float64(len(quote.Prices)))
	s.metrics.RankedPairs.WithLabelValues().Set(float64(len(result.Entries)))
	s.logger.Debug("Valuation finished",
		"system", s.systemName,
		"graph_pairs", graph.Len(),
		"skipped_pairs", len(skipped),
		"priced_tokens", len(quote.Prices),
		"excluded_pairs", len(result.Excluded),
	)
	return nil
}

// StartRefresher runs the pipeline every interval until ctx is done and hands
// each outcome to onReport.
func (s *System) StartRefresher(ctx context.Context, interval time.Duration, opts Options, onReport func(*Report, error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			report, err := s.Run(ctx, opts)
			if onReport != nil {
				onReport(report, err)
			}
		case <-ctx.Done():
			s.logger.Info("Refresher stopping due to context cancellation.", "system", s.systemName)
			return
		}
	}
}
