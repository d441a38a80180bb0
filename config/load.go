package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/djp440/drift-market-bot-v2/infrastructure/logger"
	"github.com/djp440/drift-market-bot-v2/internal/fixed"
	"github.com/djp440/drift-market-bot-v2/internal/strategy"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string                  `yaml:"env"`
	Logging logger.Config           `yaml:"logging"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Gateway GatewayConfig           `yaml:"gateway"`
	Engine  EngineConfig            `yaml:"engine"`
	Markets map[string]MarketConfig `yaml:"markets"`
}

type MetricsConfig struct {
	// Addr 为空时关闭指标服务。
	Addr string `yaml:"addr"`
}

type GatewayConfig struct {
	RPCURL      string `yaml:"rpcURL"`
	WSURL       string `yaml:"wsURL"`
	KeypairPath string `yaml:"keypairPath"`
}

type EngineConfig struct {
	HeartbeatMs      int `yaml:"heartbeatMs"`
	CooldownMs       int `yaml:"cooldownMs"`
	MaxOrderAgeSec   int `yaml:"maxOrderAgeSec"`
	ResyncTimeoutSec int `yaml:"resyncTimeoutSec"`
}

// Heartbeat 返回心跳周期；未配置时由引擎取默认值。
func (e EngineConfig) Heartbeat() time.Duration {
	return time.Duration(e.HeartbeatMs) * time.Millisecond
}

func (e EngineConfig) Cooldown() time.Duration {
	return time.Duration(e.CooldownMs) * time.Millisecond
}

func (e EngineConfig) MaxOrderAge() time.Duration {
	return time.Duration(e.MaxOrderAgeSec) * time.Second
}

func (e EngineConfig) ResyncTimeout() time.Duration {
	return time.Duration(e.ResyncTimeoutSec) * time.Second
}

// MarketConfig 保存单个市场的策略参数。价格/数量类字段以十进制
// 字符串表示，解析为定点数，避免 YAML 浮点引入误差。
type MarketConfig struct {
	MarketIndex   uint16 `yaml:"marketIndex"`
	MinOrderSize  string `yaml:"minOrderSize"`
	BaseOrderSize string `yaml:"baseOrderSize"`
	SpreadBps     int64  `yaml:"spreadBps"`
	SkewFactor    string `yaml:"skewFactor"`
	QuoteSource   string `yaml:"quoteSource"`
	MaxPosition   string `yaml:"maxPosition"`
}

// StrategyConfig 将市场配置转换为策略快照。
func (m MarketConfig) StrategyConfig() (strategy.Config, error) {
	minSize, err := fixed.FromString(orZero(m.MinOrderSize))
	if err != nil {
		return strategy.Config{}, fmt.Errorf("minOrderSize: %w", err)
	}
	baseSize, err := fixed.FromString(orZero(m.BaseOrderSize))
	if err != nil {
		return strategy.Config{}, fmt.Errorf("baseOrderSize: %w", err)
	}
	skew, err := fixed.FromString(orZero(m.SkewFactor))
	if err != nil {
		return strategy.Config{}, fmt.Errorf("skewFactor: %w", err)
	}
	maxPos, err := fixed.FromString(orZero(m.MaxPosition))
	if err != nil {
		return strategy.Config{}, fmt.Errorf("maxPosition: %w", err)
	}
	cfg := strategy.Config{
		MarketIndex:   m.MarketIndex,
		MinOrderSize:  minSize,
		BaseOrderSize: baseSize,
		SpreadBps:     m.SpreadBps,
		SkewFactor:    skew,
		QuoteSource:   strategy.QuoteSource(m.QuoteSource),
		MaxPosition:   maxPos,
	}
	if err := cfg.Validate(); err != nil {
		return strategy.Config{}, err
	}
	return cfg, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging = logger.DefaultConfig()
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("BOT_RPC_URL"); v != "" {
		cfg.Gateway.RPCURL = v
	}
	if v := os.Getenv("BOT_WS_URL"); v != "" {
		cfg.Gateway.WSURL = v
	}
	if v := os.Getenv("BOT_KEYPAIR_PATH"); v != "" {
		cfg.Gateway.KeypairPath = v
	}
	return cfg, Validate(cfg)
}
