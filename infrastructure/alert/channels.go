package alert

import (
	"go.uber.org/zap"

	"github.com/djp440/drift-market-bot-v2/infrastructure/logger"
)

// LogChannel 把告警写入结构化日志；生产环境至少挂这一个通道。
type LogChannel struct {
	Logger *logger.Logger
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(a Alert) error {
	fields := []zap.Field{
		zap.String("level", string(a.Level)),
		zap.String("kind", a.Kind),
		zap.Time("alert_ts", a.Timestamp),
	}
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch a.Level {
	case LevelCritical, LevelError:
		c.Logger.Error(a.Message, fields...)
	default:
		c.Logger.Warn(a.Message, fields...)
	}
	return nil
}
