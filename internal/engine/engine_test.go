package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djp440/drift-market-bot-v2/infrastructure/logger"
	"github.com/djp440/drift-market-bot-v2/internal/executor"
	"github.com/djp440/drift-market-bot-v2/internal/fixed"
	"github.com/djp440/drift-market-bot-v2/internal/strategy"
	"github.com/djp440/drift-market-bot-v2/internal/venue"
	"github.com/djp440/drift-market-bot-v2/metrics"
)

// fakeVenue 线程安全的场所替身，记录全部调用。
type fakeVenue struct {
	mu          sync.Mutex
	position    venue.Position
	openOrders  []venue.RestingOrder
	placeCalls  [][]venue.OrderIntent
	preCalls    [][]venue.Instruction
	cancelCalls [][]string
}

func (f *fakeVenue) PlaceOrders(ctx context.Context, intents []venue.OrderIntent, pre ...venue.Instruction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls = append(f.placeCalls, intents)
	f.preCalls = append(f.preCalls, pre)
	return "tx", nil
}

func (f *fakeVenue) CancelOrdersByIDs(ctx context.Context, ids []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, ids)
	return "tx", nil
}

func (f *fakeVenue) CancelInstruction(ids []string) (venue.Instruction, error) {
	return venue.Instruction{Raw: []byte("cancel")}, nil
}

func (f *fakeVenue) OpenOrders(ctx context.Context) ([]venue.RestingOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]venue.RestingOrder, len(f.openOrders))
	copy(out, f.openOrders)
	return out, nil
}

func (f *fakeVenue) Position(ctx context.Context, marketIndex uint16) (venue.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakeVenue) setPosition(base fixed.Num) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position.Base = base
}

func (f *fakeVenue) setOpenOrders(orders []venue.RestingOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openOrders = orders
}

func (f *fakeVenue) placeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placeCalls)
}

func (f *fakeVenue) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelCalls)
}

func (f *fakeVenue) lastPlace() []venue.OrderIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.placeCalls) == 0 {
		return nil
	}
	return f.placeCalls[len(f.placeCalls)-1]
}

func (f *fakeVenue) lastPre() []venue.Instruction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.preCalls) == 0 {
		return nil
	}
	return f.preCalls[len(f.preCalls)-1]
}

// fakePriceFeed 固定价格源。
type fakePriceFeed struct {
	mu    sync.Mutex
	price fixed.Num
	cb    func(fixed.Num)
}

func (f *fakePriceFeed) Price(ctx context.Context, marketIndex uint16) (fixed.Num, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, nil
}

func (f *fakePriceFeed) OnPriceUpdate(marketIndex uint16, fn func(fixed.Num)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = fn
	return func() {}, nil
}

// fakeAccountStream 记录订阅与退订。
type fakeAccountStream struct {
	mu     sync.Mutex
	unsubs int
}

func (f *fakeAccountStream) OnFill(fn func(venue.FillEvent)) (func(), error) {
	return f.unsubFn(), nil
}

func (f *fakeAccountStream) OnCancel(fn func(venue.CancelEvent)) (func(), error) {
	return f.unsubFn(), nil
}

func (f *fakeAccountStream) OnPositionChange(fn func(venue.PositionEvent)) (func(), error) {
	return f.unsubFn(), nil
}

func (f *fakeAccountStream) unsubFn() func() {
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubs++
	}
}

// fakeBook 可开关的盘口。
type fakeBook struct {
	mu  sync.Mutex
	bba venue.BestBidAsk
	ok  bool
}

func (f *fakeBook) BestBidAsk(marketIndex uint16) (venue.BestBidAsk, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bba, f.ok
}

func num(t *testing.T, s string) fixed.Num {
	t.Helper()
	n, err := fixed.FromString(s)
	require.NoError(t, err)
	return n
}

func testStrategyConfig(t *testing.T) strategy.Config {
	return strategy.Config{
		MarketIndex:   7,
		MinOrderSize:  num(t, "0.1"),
		BaseOrderSize: num(t, "1"),
		SpreadBps:     20,
		SkewFactor:    num(t, "0.5"),
		QuoteSource:   strategy.QuoteSourceOracle,
		MaxPosition:   num(t, "10"),
	}
}

type harness struct {
	engine *Engine
	venue  *fakeVenue
	feed   *fakePriceFeed
	stream *fakeAccountStream
	book   *fakeBook
	now    time.Time
	nowMu  sync.Mutex
}

func (h *harness) advance(d time.Duration) {
	h.nowMu.Lock()
	defer h.nowMu.Unlock()
	h.now = h.now.Add(d)
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	fv := &fakeVenue{}
	feed := &fakePriceFeed{price: num(t, "100")}
	stream := &fakeAccountStream{}
	book := &fakeBook{}

	cfg := Config{
		Strategy:          testStrategyConfig(t),
		HeartbeatInterval: time.Hour, // 测试不依赖心跳
		Cooldown:          2 * time.Second,
		MaxOrderAge:       30 * time.Second,
		ResyncTimeout:     5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ex := executor.New(fv, logger.NewNop(), executor.Config{MaxAttempts: 3, BaseDelay: time.Millisecond})
	eng, err := New(cfg, Components{
		Executor:  ex,
		Venue:     fv,
		PriceFeed: feed,
		OrderBook: book,
		Account:   stream,
		Logger:    logger.NewNop(),
	})
	require.NoError(t, err)

	h := &harness{engine: eng, venue: fv, feed: feed, stream: stream, book: book, now: time.Unix(1_700_000_000, 0)}
	eng.now = func() time.Time {
		h.nowMu.Lock()
		defer h.nowMu.Unlock()
		return h.now
	}
	return h
}

// sync 模拟 worker 的「先同步再 tick」路径，但同步执行，便于断言。
func (h *harness) syncAndTick(t *testing.T) {
	t.Helper()
	h.engine.resync(context.Background())
	require.NotPanics(t, func() { h.engine.safeTick(context.Background(), "test") })
}

func TestNewValidation(t *testing.T) {
	fv := &fakeVenue{}
	ex := executor.New(fv, logger.NewNop(), executor.Config{})
	valid := Components{
		Executor:  ex,
		Venue:     fv,
		PriceFeed: &fakePriceFeed{},
		Account:   &fakeAccountStream{},
		Logger:    logger.NewNop(),
	}

	// 非法策略配置
	cfg := Config{Strategy: strategy.Config{}}
	_, err := New(cfg, valid)
	assert.Error(t, err)

	// 缺组件
	okCfg := Config{Strategy: testStrategyConfig(t)}
	broken := valid
	broken.Executor = nil
	_, err = New(okCfg, broken)
	assert.Error(t, err)

	// orderbook 模式要求盘口组件
	obCfg := okCfg
	obCfg.Strategy.QuoteSource = strategy.QuoteSourceOrderbook
	_, err = New(obCfg, valid)
	assert.Error(t, err)

	_, err = New(okCfg, valid)
	assert.NoError(t, err)
}

func TestStartupPlacesSingleBid(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateStartup

	h.syncAndTick(t)

	require.Equal(t, 1, h.venue.placeCount())
	intents := h.venue.lastPlace()
	require.Len(t, intents, 1)
	assert.Equal(t, venue.SideBid, intents[0].Side)
	assert.Equal(t, num(t, "99.9"), intents[0].Price)
	assert.Equal(t, num(t, "1"), intents[0].Size)
	assert.Equal(t, venue.PostOnlyTry, intents[0].PostOnly)
	assert.False(t, intents[0].ReduceOnly)

	// 冷却窗口内的再次 tick 不产生动作
	h.syncAndTick(t)
	assert.Equal(t, 1, h.venue.placeCount())
}

func TestStartupCancelsStaleBid(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateStartup
	h.venue.setOpenOrders([]venue.RestingOrder{{
		ID:          "old-bid",
		MarketIndex: 7,
		Side:        venue.SideBid,
		Price:       num(t, "99.9"),
		Size:        num(t, "1"),
		Status:      "open",
		PlacedAt:    h.now.Add(-31 * time.Second),
	}})

	h.syncAndTick(t)

	require.Equal(t, 1, h.venue.cancelCount())
	assert.Equal(t, []string{"old-bid"}, h.venue.cancelCalls[0])
	assert.Equal(t, 0, h.venue.placeCount())
}

func TestStartupFreshBidUntouched(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateStartup
	h.venue.setOpenOrders([]venue.RestingOrder{{
		ID:          "fresh-bid",
		MarketIndex: 7,
		Side:        venue.SideBid,
		Price:       num(t, "99.9"),
		Size:        num(t, "1"),
		Status:      "open",
		PlacedAt:    h.now.Add(-5 * time.Second),
	}})

	h.syncAndTick(t)

	assert.Equal(t, 0, h.venue.cancelCount())
	assert.Equal(t, 0, h.venue.placeCount())
}

func TestStartupTransitionsToMarketMaking(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateStartup
	h.venue.setPosition(num(t, "2"))

	h.syncAndTick(t)

	assert.Equal(t, StateMarketMaking, h.engine.State())
	// 迁移后同一 tick 内完成双边重挂
	require.Equal(t, 1, h.venue.placeCount())
	intents := h.venue.lastPlace()
	require.Len(t, intents, 2)
	assert.Equal(t, venue.SideBid, intents[0].Side)
	assert.Equal(t, venue.SideAsk, intents[1].Side)
	assert.True(t, intents[1].ReduceOnly, "ask must be reduce-only against a long")
	assert.Equal(t, venue.PostOnlyTry, intents[0].PostOnly)
	assert.Equal(t, venue.PostOnlyTry, intents[1].PostOnly)
}

func TestMarketMakingSteadyStateNoAction(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	h.venue.setPosition(num(t, "5"))
	// inventory=5: bid=99.875 ask=100.075
	h.venue.setOpenOrders([]venue.RestingOrder{
		{ID: "b", MarketIndex: 7, Side: venue.SideBid, Price: num(t, "99.875"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
		{ID: "a", MarketIndex: 7, Side: venue.SideAsk, Price: num(t, "100.075"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
	})

	h.syncAndTick(t)

	assert.Equal(t, 0, h.venue.placeCount())
	assert.Equal(t, 0, h.venue.cancelCount())
}

func TestMarketMakingReplacesDriftedBid(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	h.venue.setPosition(num(t, "5"))
	// 目标 bid=99.875；挂单偏离 1%（> 0.5% 阈值）
	h.venue.setOpenOrders([]venue.RestingOrder{
		{ID: "b", MarketIndex: 7, Side: venue.SideBid, Price: num(t, "98.87"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
		{ID: "a", MarketIndex: 7, Side: venue.SideAsk, Price: num(t, "100.075"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
	})

	h.syncAndTick(t)

	// 一次原子撤换：撤旧 bid 并带新 bid
	require.Equal(t, 1, h.venue.placeCount())
	require.Len(t, h.venue.lastPre(), 1, "cancel must be bundled into the placement")
	intents := h.venue.lastPlace()
	require.Len(t, intents, 1)
	assert.Equal(t, venue.SideBid, intents[0].Side)
	assert.Equal(t, num(t, "99.875"), intents[0].Price)
}

func TestMarketMakingSmallDriftTolerated(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	h.venue.setPosition(num(t, "5"))
	// 0.1% 偏离，在阈值内
	h.venue.setOpenOrders([]venue.RestingOrder{
		{ID: "b", MarketIndex: 7, Side: venue.SideBid, Price: num(t, "99.975"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
		{ID: "a", MarketIndex: 7, Side: venue.SideAsk, Price: num(t, "100.075"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
	})

	h.syncAndTick(t)

	assert.Equal(t, 0, h.venue.placeCount())
	assert.Equal(t, 0, h.venue.cancelCount())
}

func TestMarketMakingCancelsUnneededBid(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	// 仓位到达上限：bidSize=0，买单一侧不再需要
	h.venue.setPosition(num(t, "10"))
	h.venue.setOpenOrders([]venue.RestingOrder{
		{ID: "b", MarketIndex: 7, Side: venue.SideBid, Price: num(t, "99.85"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
		{ID: "a", MarketIndex: 7, Side: venue.SideAsk, Price: num(t, "100.05"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
	})

	h.syncAndTick(t)

	// 仅撤单，不新挂：cancelAndReplace 退化为纯撤单
	require.Equal(t, 1, h.venue.placeCount())
	assert.Len(t, h.venue.lastPlace(), 0)
	require.Len(t, h.venue.lastPre(), 1)
}

func TestMarketMakingMissingSideForcesFullReset(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	h.venue.setPosition(num(t, "5"))
	// 只有 bid，缺 ask → 整体重置
	h.venue.setOpenOrders([]venue.RestingOrder{
		{ID: "b", MarketIndex: 7, Side: venue.SideBid, Price: num(t, "99.875"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
	})

	h.syncAndTick(t)

	require.Equal(t, 1, h.venue.placeCount())
	require.Len(t, h.venue.lastPre(), 1, "existing bid must be cancelled in the same bundle")
	intents := h.venue.lastPlace()
	require.Len(t, intents, 2)
}

func TestFillEventSetsResyncAndCancelsAll(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	h.engine.markOrderAction() // 处于冷却中
	h.venue.setOpenOrders([]venue.RestingOrder{
		{ID: "b", MarketIndex: 7, Side: venue.SideBid, Price: num(t, "99.9"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
	})

	h.engine.Handler().HandleFill(venue.FillEvent{
		MarketIndex: 7,
		OrderID:     "b",
		Side:        venue.SideBid,
		Price:       num(t, "99.9"),
		Size:        num(t, "1"),
	})

	h.engine.mu.Lock()
	assert.True(t, h.engine.awaitingResync)
	assert.True(t, h.engine.lastOrderTime.IsZero(), "fill must zero the cooldown")
	h.engine.mu.Unlock()

	// fire-and-forget 的撤单最终应触达场所
	require.Eventually(t, func() bool { return h.venue.cancelCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"b"}, h.venue.cancelCalls[0])

	// 触发已入队
	assert.Len(t, h.engine.triggers, 1)
}

func TestCancelDuringResyncWindowIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	h.engine.mu.Lock()
	h.engine.awaitingResync = true
	h.engine.awaitingSince = h.now
	h.engine.mu.Unlock()

	h.engine.Handler().HandleCancel(venue.CancelEvent{MarketIndex: 7, OrderID: "b"})

	// 预期噪音：不入队、不触发重同步
	assert.Len(t, h.engine.triggers, 0)
}

func TestCancelAfterResyncWindowExpiryIsAnomaly(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	h.engine.mu.Lock()
	h.engine.awaitingResync = true
	h.engine.awaitingSince = h.now
	h.engine.mu.Unlock()

	// 标志残留超过重同步窗口：迟到的撤单回报必须按异常处理
	h.advance(6 * time.Second)
	h.engine.Handler().HandleCancel(venue.CancelEvent{MarketIndex: 7, OrderID: "b"})

	assert.Len(t, h.engine.triggers, 1)
}

func TestSnapshotMetricsFollowResync(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	h.venue.setPosition(num(t, "5"))

	h.syncAndTick(t)

	assert.Equal(t, float64(StateMarketMaking), testutil.ToFloat64(metrics.EngineState))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.InventoryBase))
	assert.Equal(t, 100.0, testutil.ToFloat64(metrics.ReferencePrice))
}

func TestUnexpectedCancelTriggersResyncTick(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking

	h.engine.Handler().HandleCancel(venue.CancelEvent{MarketIndex: 7, OrderID: "x"})

	assert.Len(t, h.engine.triggers, 1)
}

func TestAwaitingResyncSuppressesPlacements(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	h.venue.setPosition(num(t, "5"))
	h.engine.mu.Lock()
	h.engine.awaitingResync = true
	h.engine.awaitingSince = h.now
	h.engine.mu.Unlock()
	// 撤单确认未到：挂单还在
	h.venue.setOpenOrders([]venue.RestingOrder{
		{ID: "b", MarketIndex: 7, Side: venue.SideBid, Price: num(t, "99.875"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
	})

	h.syncAndTick(t)
	assert.Equal(t, 0, h.venue.placeCount(), "placements must be suppressed while awaiting resync")

	// 挂单清零 → 恢复报价
	h.venue.setOpenOrders(nil)
	h.syncAndTick(t)
	assert.Equal(t, 1, h.venue.placeCount())
	h.engine.mu.Lock()
	assert.False(t, h.engine.awaitingResync)
	h.engine.mu.Unlock()
}

func TestAwaitingResyncTimesOut(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking
	h.venue.setPosition(num(t, "5"))
	h.engine.mu.Lock()
	h.engine.awaitingResync = true
	h.engine.awaitingSince = h.now
	h.engine.mu.Unlock()
	h.venue.setOpenOrders([]venue.RestingOrder{
		{ID: "b", MarketIndex: 7, Side: venue.SideBid, Price: num(t, "99.875"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
	})

	// 确认丢失：超时后必须强制恢复，避免永久停摆
	h.advance(6 * time.Second)
	h.syncAndTick(t)

	h.engine.mu.Lock()
	assert.False(t, h.engine.awaitingResync)
	h.engine.mu.Unlock()
	assert.Equal(t, 1, h.venue.placeCount())
}

func TestPriceUpdateTicksOnlyInStartup(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateStartup

	h.engine.Handler().HandlePriceUpdate(num(t, "101"))
	assert.Len(t, h.engine.triggers, 1)
	<-h.engine.triggers

	h.engine.state = StateMarketMaking
	h.engine.Handler().HandlePriceUpdate(num(t, "102"))
	assert.Len(t, h.engine.triggers, 0)

	// 缓存价已更新
	h.engine.mu.Lock()
	assert.Equal(t, num(t, "102"), h.engine.refPrice)
	h.engine.mu.Unlock()
}

func TestTriggerSkippedWhenBusy(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateStartup

	h.engine.enqueue(triggerPrice)
	h.engine.enqueue(triggerPrice) // 必须被丢弃而非排队

	assert.Len(t, h.engine.triggers, 1)
}

func TestEventsFromOtherMarketsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.state = StateMarketMaking

	h.engine.Handler().HandleFill(venue.FillEvent{MarketIndex: 3})
	h.engine.Handler().HandleCancel(venue.CancelEvent{MarketIndex: 3})
	h.engine.Handler().HandlePositionChange(venue.PositionEvent{MarketIndex: 3})

	assert.Len(t, h.engine.triggers, 0)
	h.engine.mu.Lock()
	assert.False(t, h.engine.awaitingResync)
	h.engine.mu.Unlock()
}

func TestOrderbookQuoteSourceWithFallback(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Strategy.QuoteSource = strategy.QuoteSourceOrderbook
	})
	h.engine.state = StateMarketMaking
	h.engine.mu.Lock()
	h.engine.refPrice = num(t, "100")
	h.engine.mu.Unlock()

	// 盘口可用：取中价
	h.book.mu.Lock()
	h.book.bba = venue.BestBidAsk{Bid: num(t, "99"), Ask: num(t, "101")}
	h.book.ok = true
	h.book.mu.Unlock()
	assert.Equal(t, num(t, "100"), h.engine.resolveReferencePrice())

	// 盘口退化（零价）：回退到预言机
	h.book.mu.Lock()
	h.book.bba = venue.BestBidAsk{}
	h.book.mu.Unlock()
	assert.Equal(t, num(t, "100"), h.engine.resolveReferencePrice())

	// 盘口不可用：回退到预言机
	h.book.mu.Lock()
	h.book.ok = false
	h.book.mu.Unlock()
	assert.Equal(t, num(t, "100"), h.engine.resolveReferencePrice())
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.venue.setOpenOrders([]venue.RestingOrder{
		{ID: "b", MarketIndex: 7, Side: venue.SideBid, Price: num(t, "99.9"), Size: num(t, "1"), Status: "open", PlacedAt: h.now},
	})

	ctx := context.Background()
	require.NoError(t, h.engine.Start(ctx))
	assert.Equal(t, StateStartup, h.engine.State())

	// 重复启动报错
	assert.Error(t, h.engine.Start(ctx))

	require.NoError(t, h.engine.Stop(ctx))
	assert.Equal(t, StateIdle, h.engine.State())

	// 停止时尽力撤掉全部挂单
	assert.Equal(t, 1, h.venue.cancelCount())
	// 账户流订阅全部退订
	h.stream.mu.Lock()
	assert.Equal(t, 3, h.stream.unsubs)
	h.stream.mu.Unlock()

	// Stop 幂等
	require.NoError(t, h.engine.Stop(ctx))
}

func TestIdleEngineIgnoresEvents(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.Handler().HandleFill(venue.FillEvent{MarketIndex: 7})
	h.engine.Handler().HandlePriceUpdate(num(t, "100"))

	assert.Len(t, h.engine.triggers, 0)
	assert.Equal(t, 0, h.venue.cancelCount())
}
