// Package config 负责加载 DefiFlow 守护进程的配置：JSON 文件提供基础值，
// 环境变量覆盖密钥与外部端点。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"DefiFlow/pkg/logger"
)

// Config 描述了 DefiFlow 在启动阶段需要加载的全部配置。
type Config struct {
	Server       ServerConfig     `json:"server"`
	Log          LogConfig        `json:"log"`
	NetworksFile string           `json:"networks_file" env:"DEFIFLOW_NETWORKS_FILE"`
	Signer       SignerConfig     `json:"signer"`
	Swap         SwapConfig       `json:"swap"`
	Settlement   SettlementConfig `json:"settlement"`
	Resolver     ResolverConfig   `json:"resolver"`
	Relay        RelayConfig      `json:"relay"`
	PriceFeed    PriceFeedConfig  `json:"price_feed"`
	Quote        QuoteConfig      `json:"quote"`
	Redis        RedisConfig      `json:"redis"`
	RabbitMQ     RabbitMQConfig   `json:"rabbitmq"`
	Events       EventsConfig     `json:"events"`
	Commands     CommandsConfig   `json:"commands"`
	Metrics      MetricsConfig    `json:"metrics"`
	Validation   ValidationConfig `json:"validation"`
}

// Duration 支持 "500ms"、"5s" 这样的写法，既可来自 JSON 也可来自环境变量。
type Duration time.Duration

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText 实现 encoding.TextMarshaler。
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std 返回标准库类型。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address" env:"DEFIFLOW_SERVER_ADDRESS"`
	// CommandTimeout 是 API 等待命令处理结果的最长时间。
	CommandTimeout Duration `json:"command_timeout"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level    string   `json:"level" env:"DEFIFLOW_LOG_LEVEL"`
	Format   string   `json:"format" env:"DEFIFLOW_LOG_FORMAT"`
	Outputs  []string `json:"outputs"`
	Rotation struct {
		MaxSizeMB  int  `json:"max_size_mb"`
		MaxBackups int  `json:"max_backups"`
		MaxAgeDays int  `json:"max_age_days"`
		Compress   bool `json:"compress"`
	} `json:"rotation"`
	Audit struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"audit"`
}

// Logger 转换为日志模块的配置。
func (c LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:       c.Level,
		Format:      c.Format,
		OutputPaths: c.Outputs,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  c.Rotation.MaxSizeMB,
			MaxBackups: c.Rotation.MaxBackups,
			MaxAgeDays: c.Rotation.MaxAgeDays,
			Compress:   c.Rotation.Compress,
		},
		Audit: logger.AuditConfig{Enabled: c.Audit.Enabled, Path: c.Audit.Path},
	}
}

// SignerConfig 描述签名账户。私钥只应通过环境变量提供。
type SignerConfig struct {
	PrivateKey string `json:"-" env:"DEFIFLOW_SIGNER_KEY"`
	// RestrictTargets 为 true 时只允许向已配置的合约发送交易。
	RestrictTargets bool     `json:"restrict_targets"`
	PollInterval    Duration `json:"poll_interval"`
	MaxPollErrors   int      `json:"max_poll_errors"`
}

// SwapConfig 描述兑换网络与交易对。
type SwapConfig struct {
	Network          string `json:"network"`
	Router           string `json:"router"`
	Quoter           string `json:"quoter"`
	TokenIn          string `json:"token_in"`
	TokenOut         string `json:"token_out"`
	TokenInDecimals  int32  `json:"token_in_decimals"`
	TokenOutDecimals int32  `json:"token_out_decimals"`
	Fee              uint32 `json:"fee"`
	TickSpacing      int32  `json:"tick_spacing"`
	Hooks            string `json:"hooks"`
}

// SettlementConfig 描述结算网络与分发合约。
type SettlementConfig struct {
	Network  string `json:"network"`
	Contract string `json:"contract"`
	Token    string `json:"token"`
	Decimals int32  `json:"decimals"`
}

// ResolverConfig 控制名称解析。
type ResolverConfig struct {
	// RelayURL 指向本服务的 /api/rpc，名称查询经由中继完成。
	RelayURL string   `json:"relay_url" env:"DEFIFLOW_RESOLVER_RELAY_URL"`
	Registry string   `json:"registry"`
	Cache    string   `json:"cache"`
	CacheTTL Duration `json:"cache_ttl"`
	Debounce Duration `json:"debounce"`
}

// RelayConfig 描述 JSON-RPC 中继。API Key 只保存在服务端。
type RelayConfig struct {
	Upstream       string   `json:"upstream" env:"DEFIFLOW_RELAY_UPSTREAM"`
	APIKey         string   `json:"-" env:"ALCHEMY_API_KEY"`
	AllowedMethods []string `json:"allowed_methods"`
	RatePerSecond  float64  `json:"rate_per_second"`
	Burst          int      `json:"burst"`
}

// PriceFeedConfig 描述价格流。
type PriceFeedConfig struct {
	URL        string   `json:"url" env:"DEFIFLOW_PRICE_FEED_URL"`
	Instrument string   `json:"instrument"`
	MinBackoff Duration `json:"min_backoff"`
	MaxBackoff Duration `json:"max_backoff"`
}

// QuoteConfig 控制报价。
type QuoteConfig struct {
	ReferenceRate string   `json:"reference_rate"`
	Debounce      Duration `json:"debounce"`
}

// RedisConfig 为名称缓存、命令队列与事件流共用。
type RedisConfig struct {
	Address  string `json:"address" env:"DEFIFLOW_REDIS_ADDR"`
	Password string `json:"-" env:"DEFIFLOW_REDIS_PASSWORD"`
	DB       int    `json:"db"`
}

// RabbitMQConfig 为命令队列与事件交换机共用。
type RabbitMQConfig struct {
	URL string `json:"-" env:"DEFIFLOW_AMQP_URL"`
}

// EventsConfig 选择状态事件的外部投递目标。
type EventsConfig struct {
	RedisStream struct {
		Enabled bool   `json:"enabled"`
		Stream  string `json:"stream"`
		MaxLen  int64  `json:"max_len"`
	} `json:"redis_stream"`
	AMQP struct {
		Enabled  bool   `json:"enabled"`
		Exchange string `json:"exchange"`
	} `json:"amqp"`
}

// CommandsConfig 选择命令队列实现：memory、redis 或 rabbitmq。
type CommandsConfig struct {
	Driver string `json:"driver" env:"DEFIFLOW_COMMAND_DRIVER"`
	Queue  string `json:"queue"`
	Size   int    `json:"size"`
}

// MetricsConfig 控制指标暴露。Address 为空时指标挂在 API 服务的 /metrics 上。
type MetricsConfig struct {
	Address string `json:"address" env:"DEFIFLOW_METRICS_ADDRESS"`
}

// ValidationConfig 控制图校验。
type ValidationConfig struct {
	AmountTolerance string `json:"amount_tolerance"`
}

// Load 负责解析指定路径的 JSON 配置文件，并应用默认值与环境变量覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.CommandTimeout <= 0 {
		c.Server.CommandTimeout = Duration(30 * time.Second)
	}

	if c.NetworksFile == "" {
		c.NetworksFile = "networks.yaml"
	}
	c.NetworksFile = resolvePath(baseDir, c.NetworksFile)
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = "audit.log"
	}
	if c.Log.Audit.Path != "" {
		c.Log.Audit.Path = resolvePath(baseDir, c.Log.Audit.Path)
	}

	if c.Signer.PollInterval <= 0 {
		c.Signer.PollInterval = Duration(2 * time.Second)
	}
	if c.Signer.MaxPollErrors <= 0 {
		c.Signer.MaxPollErrors = 5
	}

	if c.Swap.Network == "" {
		c.Swap.Network = "sepolia"
	}
	if c.Swap.TokenInDecimals == 0 {
		c.Swap.TokenInDecimals = 18
	}
	if c.Swap.TokenOutDecimals == 0 {
		c.Swap.TokenOutDecimals = 18
	}
	if c.Settlement.Network == "" {
		c.Settlement.Network = "arc"
	}
	if c.Settlement.Decimals == 0 {
		c.Settlement.Decimals = 18
	}

	if c.Resolver.RelayURL == "" {
		c.Resolver.RelayURL = "http://127.0.0.1" + listenPort(c.Server.Address) + "/api/rpc"
	}
	if c.Resolver.Cache == "" {
		c.Resolver.Cache = "memory"
	}
	if c.Resolver.CacheTTL <= 0 {
		c.Resolver.CacheTTL = Duration(time.Hour)
	}
	if c.Resolver.Debounce <= 0 {
		c.Resolver.Debounce = Duration(500 * time.Millisecond)
	}

	if c.Relay.Upstream == "" {
		c.Relay.Upstream = "https://eth-mainnet.g.alchemy.com/v2/"
	}
	if len(c.Relay.AllowedMethods) == 0 {
		c.Relay.AllowedMethods = []string{"eth_call", "eth_chainId", "eth_blockNumber"}
	}
	if c.Relay.RatePerSecond <= 0 {
		c.Relay.RatePerSecond = 10
	}
	if c.Relay.Burst <= 0 {
		c.Relay.Burst = 20
	}

	if c.PriceFeed.Instrument == "" {
		c.PriceFeed.Instrument = "ETHUSDC"
	}
	if c.PriceFeed.MinBackoff <= 0 {
		c.PriceFeed.MinBackoff = Duration(500 * time.Millisecond)
	}
	if c.PriceFeed.MaxBackoff <= 0 {
		c.PriceFeed.MaxBackoff = Duration(30 * time.Second)
	}

	if c.Quote.ReferenceRate == "" {
		c.Quote.ReferenceRate = "2000"
	}
	if c.Quote.Debounce <= 0 {
		c.Quote.Debounce = Duration(500 * time.Millisecond)
	}

	if c.Commands.Driver == "" {
		c.Commands.Driver = "memory"
	}
	if c.Validation.AmountTolerance == "" {
		c.Validation.AmountTolerance = "0"
	}
}

// Validate 检查配置之间的一致性。
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"swap.router":         c.Swap.Router,
		"swap.token_out":      c.Swap.TokenOut,
		"settlement.contract": c.Settlement.Contract,
		"settlement.token":    c.Settlement.Token,
	} {
		if !common.IsHexAddress(value) {
			return fmt.Errorf("配置项 %s 不是合法地址: %q", name, value)
		}
	}
	for name, value := range map[string]string{
		"swap.quoter":       c.Swap.Quoter,
		"swap.token_in":     c.Swap.TokenIn,
		"swap.hooks":        c.Swap.Hooks,
		"resolver.registry": c.Resolver.Registry,
	} {
		if value != "" && !common.IsHexAddress(value) {
			return fmt.Errorf("配置项 %s 不是合法地址: %q", name, value)
		}
	}
	if _, err := decimal.NewFromString(c.Quote.ReferenceRate); err != nil {
		return fmt.Errorf("quote.reference_rate 无法解析: %w", err)
	}
	if tol, err := decimal.NewFromString(c.Validation.AmountTolerance); err != nil || tol.IsNegative() {
		return fmt.Errorf("validation.amount_tolerance 必须是非负数: %q", c.Validation.AmountTolerance)
	}
	switch c.Commands.Driver {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("commands.driver=redis 需要配置 redis.address")
		}
	case "rabbitmq":
		if c.RabbitMQ.URL == "" {
			return errors.New("commands.driver=rabbitmq 需要设置 DEFIFLOW_AMQP_URL")
		}
	default:
		return fmt.Errorf("未知的命令队列实现: %q", c.Commands.Driver)
	}
	if c.Resolver.Cache != "memory" && c.Resolver.Cache != "redis" {
		return fmt.Errorf("未知的名称缓存实现: %q", c.Resolver.Cache)
	}
	if c.Resolver.Cache == "redis" && c.Redis.Address == "" {
		return errors.New("resolver.cache=redis 需要配置 redis.address")
	}
	if c.Events.RedisStream.Enabled && c.Redis.Address == "" {
		return errors.New("events.redis_stream 需要配置 redis.address")
	}
	if c.Events.AMQP.Enabled && c.RabbitMQ.URL == "" {
		return errors.New("events.amqp 需要设置 DEFIFLOW_AMQP_URL")
	}
	return nil
}

// ReferenceRate 返回解析后的参考汇率。
func (c *Config) ReferenceRate() decimal.Decimal {
	return decimal.RequireFromString(c.Quote.ReferenceRate)
}

// AmountTolerance 返回金额校验容差。
func (c *Config) AmountTolerance() decimal.Decimal {
	return decimal.RequireFromString(c.Validation.AmountTolerance)
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func listenPort(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ":8080"
}
