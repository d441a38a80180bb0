package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/djp440/drift-market-bot-v2/monitor/logschema"
)

// Logger 封装zap日志器，提供结构化日志功能
type Logger struct {
	*zap.Logger
	config Config
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`     // stdout, file
	OutputFile string   `yaml:"output_file"` // 日志文件路径
	ErrorFile  string   `yaml:"error_file"`  // 错误日志单独文件
	Format     string   `yaml:"format"`      // json 或 console
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

// New 创建新的Logger实例
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	cores := []zapcore.Core{}

	if contains(cfg.Outputs, "stdout") {
		var encoder zapcore.Encoder
		if cfg.Format == "console" {
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		} else {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		}
		cores = append(cores, zapcore.NewCore(
			encoder,
			zapcore.AddSync(os.Stdout),
			level,
		))
	}

	if contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		fileWriter, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file failed: %w", err)
		}

		encoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(
			encoder,
			zapcore.AddSync(fileWriter),
			level,
		))
	}

	// 错误日志单独文件
	if cfg.ErrorFile != "" {
		errorWriter, err := os.OpenFile(cfg.ErrorFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open error log file failed: %w", err)
		}

		encoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(
			encoder,
			zapcore.AddSync(errorWriter),
			zapcore.ErrorLevel,
		))
	}

	core := zapcore.NewTee(cores...)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{
		Logger: zapLogger,
		config: cfg,
	}, nil
}

// NewNop 返回丢弃所有输出的 Logger，供测试使用。
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Named 派生带名称的子 logger。
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		Logger: l.Logger.Named(name),
		config: l.config,
	}
}

// logEvent 结构化事件的统一出口：字段先过 logschema 校验，缺
// 字段时附加 _schema_error 标记而不是丢弃日志。
func (l *Logger) logEvent(lvl zapcore.Level, event string, fields []zap.Field) {
	keys := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		keys[f.Key] = struct{}{}
	}
	if err := logschema.Validate(event, keys); err != nil {
		fields = append(fields, zap.String("_schema_error", err.Error()))
	}
	if ce := l.Check(lvl, event); ce != nil {
		ce.Write(fields...)
	}
}

// LogOrderAction 记录订单操作事件（下单/撤单/撤换）。
func (l *Logger) LogOrderAction(op string, marketIndex uint16, txID string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("event", "order_action"),
		zap.String("op", op),
		zap.Uint16("market_index", marketIndex),
		zap.String("tx_id", txID),
		zap.String("ts", time.Now().UTC().Format(time.RFC3339Nano)),
	}
	l.logEvent(zapcore.InfoLevel, "order_action", append(base, fields...))
}

// LogFill 记录成交事件。
func (l *Logger) LogFill(marketIndex uint16, side string, price, size string) {
	l.logEvent(zapcore.InfoLevel, "fill_event", []zap.Field{
		zap.String("event", "fill_event"),
		zap.Uint16("market_index", marketIndex),
		zap.String("side", side),
		zap.String("price", price),
		zap.String("size", size),
		zap.String("ts", time.Now().UTC().Format(time.RFC3339Nano)),
	})
}

// LogAnomaly 记录非预期但可继续运行的异常（如外部撤单）。
func (l *Logger) LogAnomaly(kind string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("event", "anomaly"),
		zap.String("kind", kind),
		zap.String("ts", time.Now().UTC().Format(time.RFC3339Nano)),
	}
	l.logEvent(zapcore.WarnLevel, "anomaly", append(base, fields...))
}

// LogQuote 记录一次报价计算结果；每个 tick 都会触发，放 debug 级。
func (l *Logger) LogQuote(marketIndex uint16, refPrice, bidPrice, askPrice string) {
	l.logEvent(zapcore.DebugLevel, "quote", []zap.Field{
		zap.String("event", "quote"),
		zap.Uint16("market_index", marketIndex),
		zap.String("reference_price", refPrice),
		zap.String("bid_price", bidPrice),
		zap.String("ask_price", askPrice),
	})
}

// LogSyncError 记录状态同步失败（仓位/价格读取）。
func (l *Logger) LogSyncError(marketIndex uint16, resource string, err error) {
	l.logEvent(zapcore.ErrorLevel, "sync_error", []zap.Field{
		zap.String("event", "sync_error"),
		zap.Uint16("market_index", marketIndex),
		zap.String("resource", resource),
		zap.Error(err),
	})
}

// Close 关闭日志器
func (l *Logger) Close() error {
	return l.Sync()
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
