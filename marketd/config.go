package marketd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log    LogConfig    `toml:"log"`
	Web    WebConfig    `toml:"web"`
	DB     DBConfig     `toml:"db"`
	Chain  ChainConfig  `toml:"chain"`
	Market MarketConfig `toml:"market"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type WebConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

// ChainConfig describes the ledger node used for chain-truth reads and
// receipt lookups. MaxInflightReads bounds concurrent node calls per process.
type ChainConfig struct {
	RPCURL              string `toml:"rpc_url"`
	ChainID             int64  `toml:"chain_id"`
	MarketplaceContract string `toml:"marketplace_contract"`
	CallTimeoutSeconds  int    `toml:"call_timeout_seconds"`
	MaxInflightReads    int64  `toml:"max_inflight_reads"`
}

func (c ChainConfig) CallTimeout() time.Duration {
	if c.CallTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

type MarketConfig struct {
	NativeSymbol           string `toml:"native_symbol"`
	NativeDecimals         int    `toml:"native_decimals"`
	AntiSnipeWindowSeconds int    `toml:"anti_snipe_window_seconds"`
	AntiSnipeExtendSeconds int    `toml:"anti_snipe_extend_seconds"`
	StreamHeartbeatSeconds int    `toml:"stream_heartbeat_seconds"`
	CurrencyCacheSize      int    `toml:"currency_cache_size"`
	DefaultPageSize        int    `toml:"default_page_size"`
	MaxPageSize            int    `toml:"max_page_size"`
}

func (c MarketConfig) AntiSnipeWindow() time.Duration {
	if c.AntiSnipeWindowSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.AntiSnipeWindowSeconds) * time.Second
}

func (c MarketConfig) AntiSnipeExtension() time.Duration {
	if c.AntiSnipeExtendSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.AntiSnipeExtendSeconds) * time.Second
}

func (c MarketConfig) StreamHeartbeat() time.Duration {
	if c.StreamHeartbeatSeconds <= 0 {
		return 25 * time.Second
	}
	return time.Duration(c.StreamHeartbeatSeconds) * time.Second
}
