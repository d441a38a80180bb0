// Package engine 实现报价机器人核心状态机与控制循环。
// 心跳与事件回调都只作为触发源，真正的决策在单消费者 worker
// 中串行执行，保证 tick 永不并发。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/djp440/drift-market-bot-v2/infrastructure/alert"
	"github.com/djp440/drift-market-bot-v2/infrastructure/logger"
	"github.com/djp440/drift-market-bot-v2/internal/executor"
	"github.com/djp440/drift-market-bot-v2/internal/fixed"
	"github.com/djp440/drift-market-bot-v2/internal/strategy"
	"github.com/djp440/drift-market-bot-v2/internal/venue"
	"github.com/djp440/drift-market-bot-v2/metrics"
)

// State 引擎状态
type State int32

const (
	// StateIdle 未运行（初始与终止态）
	StateIdle State = iota
	// StateStartup 已运行但尚无仓位，只挂单侧买单
	StateStartup
	// StateMarketMaking 已有仓位，双边做市
	StateMarketMaking
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStartup:
		return "STARTUP"
	case StateMarketMaking:
		return "MARKET_MAKING"
	default:
		return "UNKNOWN"
	}
}

// 报价漂移阈值：价格偏离目标 0.5%、数量偏离挂单 10% 即触发撤换。
const (
	priceDriftBps = 50
	sizeDriftBps  = 1000
)

// SyncError 表示状态同步（仓位/价格读取）失败；保留旧值，下个
// 触发源会自然重试。
type SyncError struct {
	What string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed: %v", e.What, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Config 引擎配置
type Config struct {
	Strategy strategy.Config
	// HeartbeatInterval 心跳周期，仅作兜底纠偏，默认 5s。
	HeartbeatInterval time.Duration
	// Cooldown 两次订单动作之间的最小间隔，默认 2s。
	Cooldown time.Duration
	// MaxOrderAge 距上次订单动作超过该时长即强制刷新报价，默认 30s。
	MaxOrderAge time.Duration
	// ResyncTimeout 成交后等待撤单确认的最长时间，默认 5s。
	ResyncTimeout time.Duration
}

// Components 引擎依赖组件
type Components struct {
	Executor  *executor.Executor
	Venue     venue.Venue
	PriceFeed venue.PriceFeed
	// OrderBook 可选，仅 quoteSource=orderbook 时使用。
	OrderBook venue.OrderBookFeed
	Account   venue.AccountStream
	Logger    *logger.Logger
	// Alerts 可选；设置后异常撤单与 tick 失败会走告警通道。
	Alerts *alert.Notifier
}

// triggerKind 标识一次 tick 的触发源。
type triggerKind int

const (
	triggerFill triggerKind = iota
	triggerCancel
	triggerPosition
	triggerPrice
)

func (k triggerKind) String() string {
	switch k {
	case triggerFill:
		return "fill"
	case triggerCancel:
		return "cancel"
	case triggerPosition:
		return "position"
	case triggerPrice:
		return "price"
	default:
		return "unknown"
	}
}

// Engine 是事件驱动的做市控制循环。
type Engine struct {
	cfg   Config
	strat strategy.Config // 构造时快照，存续期内不再刷新

	exec      *executor.Executor
	venue     venue.Venue
	priceFeed venue.PriceFeed
	orderBook venue.OrderBookFeed
	account   venue.AccountStream
	log       *logger.Logger
	alerts    *alert.Notifier

	// 以下状态仅由事件回调的同步段与 worker 在 mu 保护下读写。
	mu             sync.Mutex
	state          State
	inventory      fixed.Num
	refPrice       fixed.Num
	lastOrderTime  time.Time
	awaitingResync bool
	awaitingSince  time.Time

	// triggers 容量为 1：worker 忙碌且已有一个待处理触发时，
	// 新触发被丢弃而非排队。
	triggers chan triggerKind
	stopChan chan struct{}
	doneChan chan struct{}

	unsubPrice   func()
	unsubAccount []func()

	handler *EventHandler

	// now 可注入，便于测试时间相关行为。
	now func() time.Time
}

// New 创建引擎；策略配置非法时返回错误，启动期即失败。
func New(cfg Config, comp Components) (*Engine, error) {
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}
	if comp.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if comp.Venue == nil {
		return nil, errors.New("venue is required")
	}
	if comp.PriceFeed == nil {
		return nil, errors.New("price feed is required")
	}
	if comp.Account == nil {
		return nil, errors.New("account stream is required")
	}
	if comp.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Strategy.QuoteSource == strategy.QuoteSourceOrderbook && comp.OrderBook == nil {
		return nil, errors.New("order book feed is required for quoteSource=orderbook")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Second
	}
	if cfg.MaxOrderAge <= 0 {
		cfg.MaxOrderAge = 30 * time.Second
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = 5 * time.Second
	}

	e := &Engine{
		cfg:       cfg,
		strat:     cfg.Strategy,
		exec:      comp.Executor,
		venue:     comp.Venue,
		priceFeed: comp.PriceFeed,
		orderBook: comp.OrderBook,
		account:   comp.Account,
		log:       comp.Logger,
		alerts:    comp.Alerts,
		state:     StateIdle,
		triggers:  make(chan triggerKind, 1),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
		now:       time.Now,
	}
	e.handler = &EventHandler{engine: e, marketIndex: cfg.Strategy.MarketIndex}
	return e, nil
}

// Handler 返回事件分发器，供外部接线或测试直接注入事件。
func (e *Engine) Handler() *EventHandler { return e.handler }

// State 返回当前状态。
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Inventory 返回最近一次同步到的净仓。
func (e *Engine) Inventory() fixed.Num {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inventory
}

// Start 启动引擎：IDLE → STARTUP，订阅事件、初始同步、启动心跳。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	e.state = StateStartup
	e.mu.Unlock()

	e.log.Info("engine starting",
		zap.Uint16("market_index", e.strat.MarketIndex),
		zap.String("quote_source", string(e.strat.QuoteSource)),
		zap.Duration("heartbeat", e.cfg.HeartbeatInterval))

	unsub, err := e.priceFeed.OnPriceUpdate(e.strat.MarketIndex, e.handler.HandlePriceUpdate)
	if err != nil {
		return fmt.Errorf("subscribe price updates: %w", err)
	}
	e.unsubPrice = unsub

	fillUnsub, err := e.account.OnFill(e.handler.HandleFill)
	if err != nil {
		return fmt.Errorf("subscribe fills: %w", err)
	}
	e.unsubAccount = append(e.unsubAccount, fillUnsub)

	cancelUnsub, err := e.account.OnCancel(e.handler.HandleCancel)
	if err != nil {
		return fmt.Errorf("subscribe cancels: %w", err)
	}
	e.unsubAccount = append(e.unsubAccount, cancelUnsub)

	posUnsub, err := e.account.OnPositionChange(e.handler.HandlePositionChange)
	if err != nil {
		return fmt.Errorf("subscribe position changes: %w", err)
	}
	e.unsubAccount = append(e.unsubAccount, posUnsub)

	e.resync(ctx)

	go e.run(ctx)

	e.log.Info("engine started")
	return nil
}

// Stop 停止引擎：任意状态 → IDLE。先停价格订阅与 worker，再尽力
// 撤掉全部挂单，最后才退订账户流——部分场所撤单依赖活跃订阅。
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateIdle {
		e.mu.Unlock()
		return nil
	}
	e.state = StateIdle
	e.mu.Unlock()

	e.log.Info("engine stopping")

	if e.unsubPrice != nil {
		e.unsubPrice()
		e.unsubPrice = nil
	}

	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}
	select {
	case <-e.doneChan:
	case <-time.After(10 * time.Second):
		e.log.Warn("timeout waiting for control loop to stop")
	}

	if err := e.exec.CancelAllOrders(ctx, int32(e.strat.MarketIndex)); err != nil {
		metrics.ErrorsTotal.WithLabelValues("execution").Inc()
		e.log.Error("best-effort cancel all failed on stop", zap.Error(err))
	}

	for _, unsub := range e.unsubAccount {
		unsub()
	}
	e.unsubAccount = nil

	e.log.Info("engine stopped")
	return nil
}

// run 单消费者控制循环：心跳与事件触发都在此串行化。
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("context done, control loop exiting")
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			metrics.TicksTotal.WithLabelValues("heartbeat").Inc()
			e.resync(ctx)
			e.safeTick(ctx, "heartbeat")
		case kind := <-e.triggers:
			metrics.TicksTotal.WithLabelValues(kind.String()).Inc()
			switch kind {
			case triggerFill, triggerCancel:
				e.resync(ctx)
				e.safeTick(ctx, kind.String())
			case triggerPosition:
				// 仅同步仓位；成交事件已经走了主动路径，
				// 这里再触发 tick 会产生重复的订单动作。
				e.resyncInventory(ctx)
			case triggerPrice:
				e.safeTick(ctx, kind.String())
			}
		}
	}
}

// enqueue 非阻塞投递触发；worker 忙碌且已有待处理触发时丢弃。
func (e *Engine) enqueue(kind triggerKind) {
	select {
	case e.triggers <- kind:
	default:
		e.log.Debug("trigger skipped, tick in progress", zap.String("trigger", kind.String()))
	}
}

// publishSnapshot 一次性刷新快照类指标（状态/净仓/参考价）。
func (e *Engine) publishSnapshot() {
	e.mu.Lock()
	state, inv, ref := e.state, e.inventory, e.refPrice
	e.mu.Unlock()
	metrics.UpdateSnapshot(int(state), inv.Float(), ref.Float())
}

// resync 刷新仓位与参考价；失败保留旧值并记录 SyncError。
func (e *Engine) resync(ctx context.Context) {
	e.resyncInventory(ctx)

	price, err := e.priceFeed.Price(ctx, e.strat.MarketIndex)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("sync").Inc()
		e.log.LogSyncError(e.strat.MarketIndex, "oracle_price", &SyncError{What: "oracle_price", Err: err})
		return
	}
	e.mu.Lock()
	e.refPrice = price
	e.mu.Unlock()
	e.publishSnapshot()
}

func (e *Engine) resyncInventory(ctx context.Context) {
	pos, err := e.venue.Position(ctx, e.strat.MarketIndex)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("sync").Inc()
		e.log.LogSyncError(e.strat.MarketIndex, "position", &SyncError{What: "position", Err: err})
		return
	}
	e.mu.Lock()
	prev := e.inventory
	e.inventory = pos.Base
	e.mu.Unlock()
	e.publishSnapshot()
	if prev != pos.Base {
		e.log.Info("inventory updated",
			zap.String("prev", prev.String()),
			zap.String("cur", pos.Base.String()))
	}
}

// safeTick 执行一次 tick，任何错误都被吞在 tick 边界内记录，
// 绝不向上冒泡导致进程退出。
func (e *Engine) safeTick(ctx context.Context, trigger string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ErrorsTotal.WithLabelValues("panic").Inc()
			e.log.Error("tick panicked", zap.Any("panic", r), zap.String("trigger", trigger))
		}
	}()
	if err := e.tick(ctx); err != nil {
		e.log.Error("tick failed",
			zap.String("trigger", trigger),
			zap.Error(err))
		if e.alerts != nil {
			_ = e.alerts.Error("tick_failure", err.Error(),
				map[string]interface{}{"trigger": trigger})
		}
	}
}

// tick 控制循环主体；按当前状态分派。
func (e *Engine) tick(ctx context.Context) error {
	e.mu.Lock()
	state := e.state
	inCooldown := !e.lastOrderTime.IsZero() && e.now().Sub(e.lastOrderTime) < e.cfg.Cooldown
	e.mu.Unlock()

	e.publishSnapshot()

	switch state {
	case StateIdle:
		return nil
	case StateStartup, StateMarketMaking:
		if inCooldown {
			return nil
		}
	}

	if state == StateStartup {
		e.mu.Lock()
		hasInventory := !e.inventory.IsZero()
		if hasInventory {
			e.state = StateMarketMaking
		}
		e.mu.Unlock()
		if hasInventory {
			e.log.Info("inventory acquired, entering market making")
			// 状态迁移后立刻执行一次双边报价，不等下个触发。
			return e.marketMakingTick(ctx)
		}
		return e.startupTick(ctx)
	}
	return e.marketMakingTick(ctx)
}

// startupTick 无仓位阶段：只挂单侧买单建立初始仓位。
func (e *Engine) startupTick(ctx context.Context) error {
	orders, err := e.exec.OpenOrders(ctx, int32(e.strat.MarketIndex))
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("execution").Inc()
		return err
	}

	if len(orders) == 0 {
		ref := e.resolveReferencePrice()
		if ref.IsZero() {
			e.log.Debug("no reference price yet, waiting")
			return nil
		}
		quote, err := strategy.ComputeQuote(ref, e.Inventory(), e.strat)
		if err != nil {
			return err
		}
		if quote.BidSize.IsZero() {
			return nil
		}
		txID, err := e.exec.PlaceOrder(ctx, venue.OrderIntent{
			MarketIndex: e.strat.MarketIndex,
			Side:        venue.SideBid,
			Price:       quote.BidPrice,
			Size:        quote.BidSize,
		})
		if err != nil {
			metrics.ErrorsTotal.WithLabelValues("execution").Inc()
			return err
		}
		e.markOrderAction()
		metrics.OrderActionsTotal.WithLabelValues("startup_bid").Inc()
		e.log.LogOrderAction("startup_bid", e.strat.MarketIndex, txID,
			zap.String("price", quote.BidPrice.String()),
			zap.String("size", quote.BidSize.String()))
		return nil
	}

	// 挂单过旧则撤掉，下个 tick 以新价重挂。
	now := e.now()
	for _, o := range orders {
		if o.Side == venue.SideBid && o.Age(now) > e.cfg.MaxOrderAge {
			txID, err := e.exec.CancelOrder(ctx, o.ID)
			if err != nil {
				metrics.ErrorsTotal.WithLabelValues("execution").Inc()
				return err
			}
			e.markOrderAction()
			metrics.OrderActionsTotal.WithLabelValues("startup_cancel").Inc()
			e.log.LogOrderAction("startup_cancel", e.strat.MarketIndex, txID,
				zap.String("order_id", o.ID),
				zap.Duration("age", o.Age(now)))
			return nil
		}
	}
	return nil
}

// marketMakingTick 双边做市主体：读取挂单、解析中枢价、计算目标
// 报价并与挂单求差，所有撤换动作合并为一次原子提交。
func (e *Engine) marketMakingTick(ctx context.Context) error {
	orders, err := e.exec.OpenOrders(ctx, int32(e.strat.MarketIndex))
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("execution").Inc()
		return err
	}

	e.mu.Lock()
	if e.awaitingResync {
		if len(orders) == 0 || e.now().Sub(e.awaitingSince) > e.cfg.ResyncTimeout {
			e.awaitingResync = false
			e.log.Debug("resync window closed, resuming quoting",
				zap.Int("open_orders", len(orders)))
		} else {
			e.mu.Unlock()
			e.log.Debug("awaiting resync, placements suppressed")
			return nil
		}
	}
	inventory := e.inventory
	e.mu.Unlock()

	ref := e.resolveReferencePrice()
	if ref.IsZero() {
		e.log.Debug("no reference price yet, waiting")
		return nil
	}

	quote, err := strategy.ComputeQuote(ref, inventory, e.strat)
	if err != nil {
		return err
	}
	e.log.LogQuote(e.strat.MarketIndex, ref.String(), quote.BidPrice.String(), quote.AskPrice.String())

	requireBid := quote.BidSize.IsPositive()
	// 卖单是对多头的 reduce-only：没有多头仓位就不需要卖单。
	requireAsk := quote.AskSize.IsPositive() && inventory.IsPositive()

	var restingBid, restingAsk *venue.RestingOrder
	var extraCancels []string
	for i := range orders {
		o := &orders[i]
		switch o.Side {
		case venue.SideBid:
			if restingBid == nil {
				restingBid = o
			} else {
				extraCancels = append(extraCancels, o.ID)
			}
		case venue.SideAsk:
			if restingAsk == nil {
				restingAsk = o
			} else {
				extraCancels = append(extraCancels, o.ID)
			}
		}
	}

	bidIntent := venue.OrderIntent{
		MarketIndex: e.strat.MarketIndex,
		Side:        venue.SideBid,
		Price:       quote.BidPrice,
		Size:        quote.BidSize,
	}
	askIntent := venue.OrderIntent{
		MarketIndex: e.strat.MarketIndex,
		Side:        venue.SideAsk,
		Price:       quote.AskPrice,
		Size:        quote.AskSize,
		ReduceOnly:  true,
	}

	var cancels []string
	var intents []venue.OrderIntent

	missingSide := (requireBid && restingBid == nil) || (requireAsk && restingAsk == nil)
	if missingSide {
		// 缺边：整体重置，撤掉现存两侧并重挂全部所需订单。
		if restingBid != nil {
			cancels = append(cancels, restingBid.ID)
		}
		if restingAsk != nil {
			cancels = append(cancels, restingAsk.ID)
		}
		cancels = append(cancels, extraCancels...)
		if requireBid {
			intents = append(intents, bidIntent)
		}
		if requireAsk {
			intents = append(intents, askIntent)
		}
	} else {
		cancels = append(cancels, extraCancels...)
		if restingBid != nil {
			if !requireBid {
				cancels = append(cancels, restingBid.ID)
			} else if e.needsReplace(*restingBid, bidIntent) {
				cancels = append(cancels, restingBid.ID)
				intents = append(intents, bidIntent)
			}
		}
		if restingAsk != nil {
			if !requireAsk {
				cancels = append(cancels, restingAsk.ID)
			} else if e.needsReplace(*restingAsk, askIntent) {
				cancels = append(cancels, restingAsk.ID)
				intents = append(intents, askIntent)
			}
		}
	}

	if len(cancels) == 0 && len(intents) == 0 {
		return nil // 稳态，无事可做
	}

	txID, err := e.exec.CancelAndReplace(ctx, cancels, intents)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("execution").Inc()
		return err
	}
	e.markOrderAction()
	metrics.OrderActionsTotal.WithLabelValues("cancel_and_replace").Inc()
	e.log.LogOrderAction("cancel_and_replace", e.strat.MarketIndex, txID,
		zap.Int("cancels", len(cancels)),
		zap.Int("placements", len(intents)),
		zap.String("ref_price", ref.String()),
		zap.String("inventory", inventory.String()))
	return nil
}

// needsReplace 判定挂单是否偏离目标：价格超 0.5%、数量超挂单量
// 10%，或距上次订单动作超过最大时效。
func (e *Engine) needsReplace(resting venue.RestingOrder, target venue.OrderIntent) bool {
	priceDiff := (resting.Price - target.Price).Abs()
	priceLimit, err := target.Price.MulInt(priceDriftBps)
	if err == nil {
		priceLimit, err = priceLimit.DivInt(10000)
	}
	if err == nil && priceDiff > priceLimit {
		return true
	}

	sizeDiff := (resting.Size - target.Size).Abs()
	sizeLimit, err := resting.Size.MulInt(sizeDriftBps)
	if err == nil {
		sizeLimit, err = sizeLimit.DivInt(10000)
	}
	if err == nil && sizeDiff > sizeLimit {
		return true
	}

	e.mu.Lock()
	last := e.lastOrderTime
	e.mu.Unlock()
	return !last.IsZero() && e.now().Sub(last) > e.cfg.MaxOrderAge
}

// resolveReferencePrice 解析报价中枢：orderbook 模式取盘口中价，
// 盘口不可用或中价退化为 0 时回退到缓存的预言机价。
func (e *Engine) resolveReferencePrice() fixed.Num {
	e.mu.Lock()
	oracle := e.refPrice
	e.mu.Unlock()

	if e.strat.QuoteSource != strategy.QuoteSourceOrderbook || e.orderBook == nil {
		return oracle
	}
	bba, ok := e.orderBook.BestBidAsk(e.strat.MarketIndex)
	if !ok || !bba.Bid.IsPositive() || !bba.Ask.IsPositive() {
		return oracle
	}
	sum, err := bba.Bid.Add(bba.Ask)
	if err != nil {
		return oracle
	}
	mid, err := sum.DivInt(2)
	if err != nil || !mid.IsPositive() {
		return oracle
	}
	return mid
}

// markOrderAction 记录订单动作时间，重置冷却窗口。
func (e *Engine) markOrderAction() {
	e.mu.Lock()
	e.lastOrderTime = e.now()
	e.mu.Unlock()
}
