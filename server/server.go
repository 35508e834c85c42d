package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	uniswapv2 "github.com/mikle97pir/uniswap-v2-liquidity-analyzer"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter exposes the latest ranking.
type Reporter interface {
	LastReport() *uniswapv2.Report
}

// Refresher keeps the ranking fresh in the background.
type Refresher interface {
	Reporter
	StartRefresher(ctx context.Context, interval time.Duration, opts uniswapv2.Options, onReport func(*uniswapv2.Report, error))
}

type Server struct {
	*echo.Echo
	cfg    config.ServerConfig
	sys    Refresher
	opts   uniswapv2.Options
	logger *zap.Logger
}

func New(cfg config.ServerConfig, sys Refresher, opts uniswapv2.Options, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Debug
	e.JSONSerializer = jsonSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	s := &Server{e, cfg, sys, opts, logger}
	s.registerRoutes(gatherer)
	return s
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.GET("/healthz", s.GetHealth)
	s.GET("/status", s.GetStatus)
	s.GET("/pairs", s.GetPairs)
	if gatherer != nil {
		s.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *Server) GetHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) GetStatus(c echo.Context) error {
	r := s.sys.LastReport()
	if r == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no ranking computed yet")
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Head:            r.Head,
		Cursor:          r.Cursor,
		ActivityThrough: r.ActivityThrough,
		Window:          r.Window,
		Mode:            r.Mode.String(),
		Escalated:       r.Escalated,
		TotalPairs:      r.TotalPairs,
		ActivePairs:     r.ActivePairs,
		UnpricedTokens:  len(r.Unpriced),
		Warnings:        len(r.Warnings),
		UpdatedAt:       r.FinishedAt,
	})
}

func (s *Server) GetPairs(c echo.Context) error {
	r := s.sys.LastReport()
	if r == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no ranking computed yet")
	}

	n := len(r.Entries)
	if q := c.QueryParam("n"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "n must be a positive integer")
		}
		n = min(v, n)
	}

	resp := PairsResponse{
		Head:      r.Head,
		Pairs:     make([]PairsResponsePair, 0, n),
		Excluded:  len(r.Excluded),
		UpdatedAt: r.FinishedAt,
	}
	for _, e := range r.Entries[:n] {
		resp.Pairs = append(resp.Pairs, PairsResponsePair{
			Rank:    e.Rank,
			Label:   e.Label,
			Address: e.Pair.Hex(),
			Token0:  e.Token0.Hex(),
			Token1:  e.Token1.Hex(),
			TVL:     e.TVL.StringFixed(2),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// RunBackgroundUpdater refreshes the ranking every RefreshInterval until ctx is done.
func (s *Server) RunBackgroundUpdater(ctx context.Context) error {
	s.sys.StartRefresher(ctx, s.cfg.RefreshInterval, s.opts, func(r *uniswapv2.Report, err error) {
		if err != nil {
			s.logger.Error("failed to refresh ranking", zap.Error(err))
			return
		}
		s.logger.Debug("ranking refreshed",
			zap.Uint64("head", r.Head),
			zap.Int("ranked", len(r.Entries)),
			zap.Int("warnings", len(r.Warnings)))
	})
	return ctx.Err()
}

func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// jsonSerializer encodes responses with json-iterator.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err)).SetInternal(err)
	}
	return nil
}
