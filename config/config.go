package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/chain"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/initializer"
	"github.com/mikle97pir/uniswap-v2-liquidity-analyzer/pricing"
)

const (
	UniswapV2Factory           = "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
	UniswapV2InitCodeHash      = "0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f"
	UniswapV2FactoryStartBlock = 10000835
	USDC                       = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		RPC:        DefaultRPCConfig,
		Factory:    DefaultFactoryConfig,
		Activity:   DefaultActivityConfig,
		References: []ReferenceConfig{{Token: USDC, USD: "1"}},
		Cache:      DefaultCacheConfig,
		Server:     DefaultServerConfig,
		Log:        zap.NewProductionConfig(),
		TopN:       25,
	}
}

type Config struct {
	RPC            RPCConfig             `yaml:"rpc"`
	Factory        FactoryConfig         `yaml:"factory"`
	Activity       ActivityConfig        `yaml:"activity"`
	References     []ReferenceConfig     `yaml:"references"`
	TokenOverrides []TokenOverrideConfig `yaml:"token_overrides"`
	Cache          CacheConfig           `yaml:"cache"`
	Server         ServerConfig          `yaml:"server"`
	Log            zap.Config            `yaml:"log"`
	TopN           int                   `yaml:"top_n"`
}

// Load decodes the YAML file at path over Default.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	if err := cfg.RPC.Validate(); err != nil {
		return fmt.Errorf("validate 'rpc' field: %w", err)
	}
	if err := cfg.Factory.Validate(); err != nil {
		return fmt.Errorf("validate 'factory' field: %w", err)
	}
	if err := cfg.Activity.Validate(); err != nil {
		return fmt.Errorf("validate 'activity' field: %w", err)
	}
	if _, err := cfg.PricingReferences(); err != nil {
		return fmt.Errorf("validate 'references' field: %w", err)
	}
	if _, err := cfg.Overrides(); err != nil {
		return fmt.Errorf("validate 'token_overrides' field: %w", err)
	}
	if err := cfg.Server.Validate(); err != nil {
		return fmt.Errorf("validate 'server' field: %w", err)
	}
	if cfg.TopN < 0 {
		return fmt.Errorf("'top_n' must not be negative")
	}
	return nil
}

// PricingReferences converts the configured references in order.
func (cfg Config) PricingReferences() ([]pricing.Reference, error) {
	refs := make([]pricing.Reference, 0, len(cfg.References))
	for i, rc := range cfg.References {
		ref, err := rc.Reference()
		if err != nil {
			return nil, fmt.Errorf("reference %d: %w", i, err)
		}
		refs = append(refs, ref)
	}
	if err := pricing.ValidateReferences(refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// Overrides merges the configured token overrides over initializer.DefaultOverrides.
func (cfg Config) Overrides() (map[common.Address]initializer.Override, error) {
	m := initializer.DefaultOverrides()
	for _, oc := range cfg.TokenOverrides {
		if !common.IsHexAddress(oc.Token) {
			return nil, fmt.Errorf("invalid token address %q", oc.Token)
		}
		if oc.Symbol == "" && oc.Decimals == nil {
			return nil, fmt.Errorf("override for %s sets neither symbol nor decimals", oc.Token)
		}
		m[common.HexToAddress(oc.Token)] = initializer.Override{Symbol: oc.Symbol, Decimals: oc.Decimals}
	}
	return m, nil
}

var DefaultRPCConfig = RPCConfig{
	Endpoint:     "wss://eth.llamarpc.com",
	Workers:      8,
	MaxAttempts:  4,
	LogChunkSize: 2000,
	MaxErrorRate: 0.05,
	Timeout:      30 * time.Second,
}

type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	LogChunkSize uint64        `yaml:"log_chunk_size"`
	MaxErrorRate float64       `yaml:"max_error_rate"`
	Timeout      time.Duration `yaml:"timeout"`
}

func (cfg RPCConfig) Validate() error {
	if !chain.ValidEndpoint(cfg.Endpoint) {
		return fmt.Errorf("%w: %q", chain.ErrInvalidEndpoint, cfg.Endpoint)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("'workers' must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return fmt.Errorf("'max_attempts' must be positive")
	}
	if cfg.LogChunkSize == 0 {
		return fmt.Errorf("'log_chunk_size' must be positive")
	}
	if cfg.MaxErrorRate < 0 || cfg.MaxErrorRate > 1 {
		return fmt.Errorf("'max_error_rate' must be within [0, 1]")
	}
	return nil
}

// RetryPolicy returns the per-request retry policy.
func (cfg RPCConfig) RetryPolicy() chain.RetryPolicy {
	p := chain.DefaultRetryPolicy
	p.MaxAttempts = cfg.MaxAttempts
	p.Timeout = cfg.Timeout
	return p
}

var DefaultFactoryConfig = FactoryConfig{
	Address:      UniswapV2Factory,
	InitCodeHash: UniswapV2InitCodeHash,
	StartBlock:   UniswapV2FactoryStartBlock,
}

type FactoryConfig struct {
	Address string `yaml:"address"`
	// InitCodeHash enables CREATE2 verification of discovered pairs. Empty disables it.
	InitCodeHash string `yaml:"init_code_hash"`
	StartBlock   uint64 `yaml:"start_block"`
}

func (cfg FactoryConfig) Validate() error {
	if !common.IsHexAddress(cfg.Address) {
		return fmt.Errorf("invalid factory address %q", cfg.Address)
	}
	if cfg.InitCodeHash != "" {
		b, err := hexutil.Decode(cfg.InitCodeHash)
		if err != nil || len(b) != common.HashLength {
			return fmt.Errorf("invalid init code hash %q", cfg.InitCodeHash)
		}
	}
	return nil
}

func (cfg FactoryConfig) FactoryAddress() common.Address {
	return common.HexToAddress(cfg.Address)
}

func (cfg FactoryConfig) InitCodeHashValue() common.Hash {
	if cfg.InitCodeHash == "" {
		return common.Hash{}
	}
	return common.HexToHash(cfg.InitCodeHash)
}

var DefaultActivityConfig = ActivityConfig{
	RecentBlocksNumber: 10000,
	Source:             "logs",
}

type ActivityConfig struct {
	RecentBlocksNumber uint64 `yaml:"recent_blocks_number"`
	// Source is "logs" or "receipts".
	Source string `yaml:"source"`
}

func (cfg ActivityConfig) Validate() error {
	if cfg.RecentBlocksNumber == 0 {
		return fmt.Errorf("'recent_blocks_number' must be positive")
	}
	switch cfg.Source {
	case "logs", "receipts":
	default:
		return fmt.Errorf("unknown activity source %q", cfg.Source)
	}
	return nil
}

// ReferenceConfig is a fixed reference when USD is set, or a derived one
// priced through the Via pair.
type ReferenceConfig struct {
	Token string `yaml:"token"`
	USD   string `yaml:"usd"`
	Via   string `yaml:"via"`
}

func (rc ReferenceConfig) Reference() (pricing.Reference, error) {
	if !common.IsHexAddress(rc.Token) {
		return pricing.Reference{}, fmt.Errorf("invalid token address %q", rc.Token)
	}
	ref := pricing.Reference{Token: common.HexToAddress(rc.Token)}
	if rc.USD != "" {
		usd, err := decimal.NewFromString(rc.USD)
		if err != nil {
			return pricing.Reference{}, fmt.Errorf("invalid usd price %q: %w", rc.USD, err)
		}
		ref.USD = usd
	}
	if rc.Via != "" {
		if !common.IsHexAddress(rc.Via) {
			return pricing.Reference{}, fmt.Errorf("invalid pair address %q", rc.Via)
		}
		ref.Via = common.HexToAddress(rc.Via)
	}
	return ref, nil
}

type TokenOverrideConfig struct {
	Token    string `yaml:"token"`
	Symbol   string `yaml:"symbol"`
	Decimals *uint8 `yaml:"decimals"`
}

var DefaultCacheConfig = CacheConfig{
	Dir: "data",
}

// CacheConfig selects the snapshot store. A non-empty RedisURL takes
// precedence over Dir.
type CacheConfig struct {
	Dir      string `yaml:"dir"`
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
}

var DefaultServerConfig = ServerConfig{
	BindAddr:        "0.0.0.0:8080",
	RefreshInterval: time.Minute,
	RefreshMode:     "refresh-all-but-pairs",
}

type ServerConfig struct {
	Debug           bool          `yaml:"debug"`
	BindAddr        string        `yaml:"bind_addr"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// RefreshMode is the refresh mode of every background run. Pairs created
	// since the last run are discovered whatever the mode.
	RefreshMode string `yaml:"refresh_mode"`
}

func (cfg ServerConfig) Validate() error {
	if cfg.BindAddr == "" {
		return fmt.Errorf("'bind_addr' is empty")
	}
	if cfg.RefreshInterval < 0 {
		return fmt.Errorf("'refresh_interval' must not be negative")
	}
	if cfg.RefreshMode == "" {
		return fmt.Errorf("'refresh_mode' is empty")
	}
	return nil
}
