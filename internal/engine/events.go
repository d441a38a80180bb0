package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/djp440/drift-market-bot-v2/internal/fixed"
	"github.com/djp440/drift-market-bot-v2/internal/venue"
	"github.com/djp440/drift-market-bot-v2/metrics"
)

// EventHandler 是事件流与引擎之间的薄分发层：只做市场过滤与
// 转发，不含任何决策逻辑。
type EventHandler struct {
	engine      *Engine
	marketIndex uint16
}

// HandleFill 处理成交回报。
func (h *EventHandler) HandleFill(ev venue.FillEvent) {
	if ev.MarketIndex != h.marketIndex {
		return
	}
	h.engine.onFill(ev)
}

// HandleCancel 处理撤单回报。
func (h *EventHandler) HandleCancel(ev venue.CancelEvent) {
	if ev.MarketIndex != h.marketIndex {
		return
	}
	h.engine.onCancel(ev)
}

// HandlePositionChange 处理仓位变更回报。
func (h *EventHandler) HandlePositionChange(ev venue.PositionEvent) {
	if ev.MarketIndex != h.marketIndex {
		return
	}
	h.engine.onPositionChange(ev)
}

// HandlePriceUpdate 处理预言机价格推送。
func (h *EventHandler) HandlePriceUpdate(price fixed.Num) {
	h.engine.onPriceUpdate(price)
}

// onFill 成交后的主动路径：清零冷却、标记等待重同步、
// 尽力撤掉全部挂单，然后立即触发一次 tick（不等心跳）。
func (e *Engine) onFill(ev venue.FillEvent) {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return
	}
	e.lastOrderTime = time.Time{} // 允许立即反应
	e.awaitingResync = true
	e.awaitingSince = e.now()
	e.mu.Unlock()

	metrics.FillsTotal.Inc()
	e.log.LogFill(ev.MarketIndex, string(ev.Side), ev.Price.String(), ev.Size.String())

	// fire-and-forget：撤单失败由 awaitingResync 的超时路径兜底。
	go func() {
		if err := e.exec.CancelAllOrders(context.Background(), int32(e.strat.MarketIndex)); err != nil {
			metrics.ErrorsTotal.WithLabelValues("execution").Inc()
			e.log.Error("post-fill cancel all failed", zap.Error(err))
		}
	}()

	e.enqueue(triggerFill)
}

// onCancel 撤单回报：等待重同步窗口内的撤单是预期噪音，直接
// 忽略；否则视为外部异常撤单，重同步并立即 tick。窗口与 tick
// 路径共用同一个 ResyncTimeout，避免标志残留时吞掉真实异常。
func (e *Engine) onCancel(ev venue.CancelEvent) {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return
	}
	expected := e.awaitingResync && e.now().Sub(e.awaitingSince) <= e.cfg.ResyncTimeout
	e.mu.Unlock()

	if expected {
		e.log.Debug("cancel during resync window, ignored",
			zap.String("order_id", ev.OrderID))
		return
	}

	metrics.ErrorsTotal.WithLabelValues("anomaly").Inc()
	e.log.LogAnomaly("unexpected_cancel",
		zap.String("order_id", ev.OrderID),
		zap.Uint16("market_index", ev.MarketIndex))
	if e.alerts != nil {
		_ = e.alerts.Warning("unexpected_cancel", "order canceled outside the control loop",
			map[string]interface{}{"order_id": ev.OrderID, "market_index": ev.MarketIndex})
	}
	e.enqueue(triggerCancel)
}

// onPositionChange 仅触发仓位重同步，不触发 tick：成交事件已经
// 走了主动路径，两个事件源同时下单会产生竞态动作。
func (e *Engine) onPositionChange(ev venue.PositionEvent) {
	e.mu.Lock()
	idle := e.state == StateIdle
	e.mu.Unlock()
	if idle {
		return
	}
	e.enqueue(triggerPosition)
}

// onPriceUpdate 更新缓存参考价；仅 STARTUP 阶段立即 tick 以尽快
// 挂出首单，MARKET_MAKING 阶段交给心跳与成交触发，避免每次价格
// 推送都产生订单动作。
func (e *Engine) onPriceUpdate(price fixed.Num) {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return
	}
	e.refPrice = price
	startup := e.state == StateStartup
	e.mu.Unlock()

	e.publishSnapshot()
	if startup {
		e.enqueue(triggerPrice)
	}
}
