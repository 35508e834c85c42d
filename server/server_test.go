package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	uniswapv2 "github.com/mikle97pir/uniswap-v2-liquidity-analyzer"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/config"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/tvl"
)

type fakeSystem struct {
	report   *uniswapv2.Report
	interval time.Duration
	opts     uniswapv2.Options
}

func (f *fakeSystem) LastReport() *uniswapv2.Report { return f.report }

func (f *fakeSystem) StartRefresher(ctx context.Context, interval time.Duration, opts uniswapv2.Options, onReport func(*uniswapv2.Report, error)) {
	f.interval, f.opts = interval, opts
	onReport(f.report, nil)
	<-ctx.Done()
}

func testReport() *uniswapv2.Report {
	return &uniswapv2.Report{
		Head:        100,
		Cursor:      100,
		Window:      50,
		Mode:        uniswapv2.ModeRefreshAllButPairs,
		Escalated:   true,
		TotalPairs:  3,
		ActivePairs: 2,
		Entries: []tvl.RankedEntry{
			{Rank: 1, Pair: common.HexToAddress("0x01"), Label: "USDC-WETH", TVL: decimal.NewFromInt(2_000_000)},
			{Rank: 2, Pair: common.HexToAddress("0x02"), Label: "WETH-TOKENX", TVL: decimal.RequireFromString("400000.456")},
		},
		Excluded:   []tvl.Exclusion{{Pair: common.HexToAddress("0x03")}},
		FinishedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func newTestServer(sys Refresher, gatherer prometheus.Gatherer) *Server {
	return New(config.DefaultServerConfig, sys, uniswapv2.Options{Window: 50, TopN: 25}, gatherer, zap.NewNop())
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetPairs(t *testing.T) {
	s := newTestServer(&fakeSystem{report: testReport()}, nil)

	t.Run("All", func(t *testing.T) {
		rec := get(s, "/pairs")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp PairsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Pairs, 2)
		assert.Equal(t, "USDC-WETH", resp.Pairs[0].Label)
		assert.Equal(t, "2000000.00", resp.Pairs[0].TVL)
		assert.Equal(t, "400000.46", resp.Pairs[1].TVL)
		assert.Equal(t, common.HexToAddress("0x02").Hex(), resp.Pairs[1].Address)
		assert.Equal(t, 1, resp.Excluded)
		assert.Equal(t, uint64(100), resp.Head)
	})

	t.Run("Limited", func(t *testing.T) {
		rec := get(s, "/pairs?n=1")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp PairsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Pairs, 1)
		assert.Equal(t, 1, resp.Pairs[0].Rank)
	})

	t.Run("LimitAboveLength", func(t *testing.T) {
		rec := get(s, "/pairs?n=50")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp PairsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Pairs, 2)
	})

	for _, q := range []string{"0", "-1", "abc"} {
		t.Run("BadN_"+q, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, get(s, "/pairs?n="+q).Code)
		})
	}
}

func TestNoReportYet(t *testing.T) {
	s := newTestServer(&fakeSystem{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(s, "/pairs").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(s, "/status").Code)
	assert.Equal(t, http.StatusOK, get(s, "/healthz").Code)
	assert.Equal(t, http.StatusNotFound, get(s, "/metrics").Code)
}

func TestGetStatus(t *testing.T) {
	s := newTestServer(&fakeSystem{report: testReport()}, nil)
	rec := get(s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "refresh-all-but-pairs", resp.Mode)
	assert.True(t, resp.Escalated)
	assert.Equal(t, 3, resp.TotalPairs)
	assert.Equal(t, 2, resp.ActivePairs)
	assert.Equal(t, uint64(50), resp.Window)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "test_runs_total", Help: "runs"}).Inc()

	s := newTestServer(&fakeSystem{report: testReport()}, reg)
	rec := get(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_runs_total 1")
}

func TestRunBackgroundUpdater(t *testing.T) {
	sys := &fakeSystem{report: testReport()}
	s := newTestServer(sys, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.RunBackgroundUpdater(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, config.DefaultServerConfig.RefreshInterval, sys.interval)
	assert.Equal(t, uint64(50), sys.opts.Window)
}
