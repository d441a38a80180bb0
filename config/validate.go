package config

import "fmt"

// ValidationError 表示配置非法；启动期遇到即为致命错误，不重试。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return invalid("env", "is required")
	}
	if cfg.Gateway.RPCURL == "" {
		return invalid("gateway.rpcURL", "is required (or BOT_RPC_URL)")
	}
	if cfg.Gateway.KeypairPath == "" {
		return invalid("gateway.keypairPath", "is required (or BOT_KEYPAIR_PATH)")
	}
	if len(cfg.Markets) == 0 {
		return invalid("markets", "at least one market is required")
	}
	if cfg.Engine.HeartbeatMs < 0 {
		return invalid("engine.heartbeatMs", "must be >= 0")
	}
	if cfg.Engine.CooldownMs < 0 {
		return invalid("engine.cooldownMs", "must be >= 0")
	}
	if cfg.Engine.MaxOrderAgeSec < 0 {
		return invalid("engine.maxOrderAgeSec", "must be >= 0")
	}
	if cfg.Engine.ResyncTimeoutSec < 0 {
		return invalid("engine.resyncTimeoutSec", "must be >= 0")
	}
	for name, mc := range cfg.Markets {
		if _, err := mc.StrategyConfig(); err != nil {
			return invalid(fmt.Sprintf("markets.%s", name), err.Error())
		}
	}
	return nil
}
