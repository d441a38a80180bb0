// Package strategy 实现库存感知的报价计算。所有函数均为纯函数：
// 相同输入必须产生逐位一致的定点输出，否则会引起无意义的撤换单。
package strategy

import (
	"errors"
	"fmt"

	"github.com/djp440/drift-market-bot-v2/internal/fixed"
)

// QuoteSource 选择报价中枢的来源。
type QuoteSource string

const (
	// QuoteSourceOracle 使用预言机价格作为报价中枢。
	QuoteSourceOracle QuoteSource = "oracle"
	// QuoteSourceOrderbook 使用盘口中间价，不可用时回退到预言机。
	QuoteSourceOrderbook QuoteSource = "orderbook"
)

// Config 在引擎构造时快照一次，存续期内不变。
type Config struct {
	MarketIndex   uint16
	MinOrderSize  fixed.Num
	BaseOrderSize fixed.Num
	SpreadBps     int64
	SkewFactor    fixed.Num // [0,1]
	QuoteSource   QuoteSource
	MaxPosition   fixed.Num
}

// Validate 检查参数合法性；失败在启动期即为致命错误。
func (c Config) Validate() error {
	if c.BaseOrderSize.IsNegative() || c.BaseOrderSize.IsZero() {
		return errors.New("baseOrderSize must be > 0")
	}
	if c.MinOrderSize.IsNegative() {
		return errors.New("minOrderSize must be >= 0")
	}
	if c.SpreadBps <= 0 {
		return errors.New("spreadBps must be > 0")
	}
	if c.SkewFactor.IsNegative() || c.SkewFactor > fixed.MustFromInt(1) {
		return errors.New("skewFactor must be within [0,1]")
	}
	if c.MaxPosition.IsNegative() {
		return errors.New("maxPosition must be >= 0")
	}
	switch c.QuoteSource {
	case QuoteSourceOracle, QuoteSourceOrderbook:
	default:
		return fmt.Errorf("unknown quoteSource %q", c.QuoteSource)
	}
	return nil
}

// Quote 是策略输出的双边目标报价。
type Quote struct {
	BidPrice fixed.Num
	AskPrice fixed.Num
	BidSize  fixed.Num
	AskSize  fixed.Num
}

// ComputeSpread 计算买卖半价差。多头库存加宽买侧、收窄卖侧，
// 促使仓位回归；价差钳制为非负，报价永不穿越中枢。
func ComputeSpread(refPrice, inventory fixed.Num, cfg Config) (bidSpread, askSpread fixed.Num, err error) {
	scaled, err := refPrice.MulInt(cfg.SpreadBps)
	if err != nil {
		return 0, 0, err
	}
	// spreadBps/10000 再取一半
	baseHalf, err := scaled.DivInt(20000)
	if err != nil {
		return 0, 0, err
	}

	adjustment := fixed.Zero
	if !cfg.MaxPosition.IsZero() {
		ratio, err := inventory.Div(cfg.MaxPosition)
		if err != nil {
			return 0, 0, err
		}
		adj, err := baseHalf.Mul(ratio)
		if err != nil {
			return 0, 0, err
		}
		adjustment, err = adj.Mul(cfg.SkewFactor)
		if err != nil {
			return 0, 0, err
		}
	}

	bid, err := baseHalf.Add(adjustment)
	if err != nil {
		return 0, 0, err
	}
	ask, err := baseHalf.Sub(adjustment)
	if err != nil {
		return 0, 0, err
	}
	return fixed.Max(fixed.Zero, bid), fixed.Max(fixed.Zero, ask), nil
}

// ComputeSize 计算双边下单量。接近仓位上限的一侧被收敛，
// 收敛后低于最小下单量的直接归零，不产生碎单。
func ComputeSize(inventory fixed.Num, cfg Config) (bidSize, askSize fixed.Num, err error) {
	// 多头容量：inventory + bidSize <= maxPosition
	bidRoom, err := cfg.MaxPosition.Sub(inventory)
	if err != nil {
		return 0, 0, err
	}
	// 空头容量：inventory - askSize >= -maxPosition
	askRoom, err := cfg.MaxPosition.Add(inventory)
	if err != nil {
		return 0, 0, err
	}

	bidSize = fixed.Max(fixed.Zero, fixed.Min(cfg.BaseOrderSize, bidRoom))
	askSize = fixed.Max(fixed.Zero, fixed.Min(cfg.BaseOrderSize, askRoom))
	if bidSize < cfg.MinOrderSize {
		bidSize = fixed.Zero
	}
	if askSize < cfg.MinOrderSize {
		askSize = fixed.Zero
	}
	return bidSize, askSize, nil
}

// ComputeQuote 组合价差与数量，产出完整目标报价。
func ComputeQuote(refPrice, inventory fixed.Num, cfg Config) (Quote, error) {
	if refPrice.IsZero() || refPrice.IsNegative() {
		return Quote{}, fmt.Errorf("invalid reference price %s", refPrice)
	}
	bidSpread, askSpread, err := ComputeSpread(refPrice, inventory, cfg)
	if err != nil {
		return Quote{}, err
	}
	bidSize, askSize, err := ComputeSize(inventory, cfg)
	if err != nil {
		return Quote{}, err
	}
	bidPrice, err := refPrice.Sub(bidSpread)
	if err != nil {
		return Quote{}, err
	}
	askPrice, err := refPrice.Add(askSpread)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		BidPrice: bidPrice,
		AskPrice: askPrice,
		BidSize:  bidSize,
		AskSize:  askSize,
	}, nil
}
