package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/djp440/drift-market-bot-v2/infrastructure/logger"
	"github.com/djp440/drift-market-bot-v2/internal/fixed"
	"github.com/djp440/drift-market-bot-v2/internal/venue"
)

// ErrNoPrice 表示尚未收到该市场的预言机价格。
var ErrNoPrice = errors.New("gateway: no oracle price received yet")

const (
	readDeadline  = 30 * time.Second
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
	writeWait     = 5 * time.Second
	pingInterval  = 15 * time.Second
)

// WSClient 连接场所的事件流网关，维护最新的预言机价格与盘口快照，
// 并把成交/撤单/仓位事件分发给订阅者。
// 实现 venue.PriceFeed、venue.OrderBookFeed 与 venue.AccountStream。
type WSClient struct {
	URL    string
	Dialer *websocket.Dialer

	log *logger.Logger

	mu        sync.RWMutex
	oracle    map[uint16]fixed.Num
	book      map[uint16]venue.BestBidAsk
	nextSubID int
	priceSubs map[uint16]map[int]func(fixed.Num)
	fillSubs  map[int]func(venue.FillEvent)
	cxlSubs   map[int]func(venue.CancelEvent)
	posSubs   map[int]func(venue.PositionEvent)
}

// NewWSClient 创建未连接的客户端；调用 Run 后开始接收。
func NewWSClient(url string, log *logger.Logger) *WSClient {
	if log == nil {
		log = logger.NewNop()
	}
	return &WSClient{
		URL:       url,
		Dialer:    websocket.DefaultDialer,
		log:       log.Named("gateway"),
		oracle:    make(map[uint16]fixed.Num),
		book:      make(map[uint16]venue.BestBidAsk),
		priceSubs: make(map[uint16]map[int]func(fixed.Num)),
		fillSubs:  make(map[int]func(venue.FillEvent)),
		cxlSubs:   make(map[int]func(venue.CancelEvent)),
		posSubs:   make(map[int]func(venue.PositionEvent)),
	}
}

// Run 阻塞运行读取循环，断线后以指数退避重连，直到 ctx 取消。
func (c *WSClient) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.runOnce(ctx)
		if err != nil && ctx.Err() == nil {
			c.log.Warn("ws connection lost, reconnecting",
				zap.Error(err),
				zap.Duration("backoff", backoff))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (c *WSClient) runOnce(ctx context.Context) error {
	conn, _, err := c.Dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.log.Info("ws connected", zap.String("url", c.URL))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(raw)
	}
}

func (c *WSClient) dispatch(raw []byte) {
	msg, err := ParseMessage(raw)
	if err != nil {
		c.log.Debug("drop unparsable message", zap.Error(err))
		return
	}
	switch m := msg.(type) {
	case *OracleUpdate:
		c.mu.Lock()
		c.oracle[m.MarketIndex] = m.Price
		subs := make([]func(fixed.Num), 0, len(c.priceSubs[m.MarketIndex]))
		for _, fn := range c.priceSubs[m.MarketIndex] {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		for _, fn := range subs {
			fn(m.Price)
		}
	case *BookUpdate:
		c.mu.Lock()
		c.book[m.MarketIndex] = venue.BestBidAsk{Bid: m.Bid, Ask: m.Ask}
		c.mu.Unlock()
	case *venue.FillEvent:
		for _, fn := range c.snapshotFillSubs() {
			fn(*m)
		}
	case *venue.CancelEvent:
		for _, fn := range c.snapshotCancelSubs() {
			fn(*m)
		}
	case *venue.PositionEvent:
		for _, fn := range c.snapshotPositionSubs() {
			fn(*m)
		}
	}
}

func (c *WSClient) snapshotFillSubs() []func(venue.FillEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]func(venue.FillEvent), 0, len(c.fillSubs))
	for _, fn := range c.fillSubs {
		out = append(out, fn)
	}
	return out
}

func (c *WSClient) snapshotCancelSubs() []func(venue.CancelEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]func(venue.CancelEvent), 0, len(c.cxlSubs))
	for _, fn := range c.cxlSubs {
		out = append(out, fn)
	}
	return out
}

func (c *WSClient) snapshotPositionSubs() []func(venue.PositionEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]func(venue.PositionEvent), 0, len(c.posSubs))
	for _, fn := range c.posSubs {
		out = append(out, fn)
	}
	return out
}

// Price 返回最近一次推送的预言机价格。
func (c *WSClient) Price(_ context.Context, marketIndex uint16) (fixed.Num, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.oracle[marketIndex]
	if !ok {
		return 0, ErrNoPrice
	}
	return p, nil
}

// OnPriceUpdate 注册价格推送回调。
func (c *WSClient) OnPriceUpdate(marketIndex uint16, fn func(price fixed.Num)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	if c.priceSubs[marketIndex] == nil {
		c.priceSubs[marketIndex] = make(map[int]func(fixed.Num))
	}
	c.priceSubs[marketIndex][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.priceSubs[marketIndex], id)
	}, nil
}

// BestBidAsk 返回最近一次盘口快照。
func (c *WSClient) BestBidAsk(marketIndex uint16) (venue.BestBidAsk, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bba, ok := c.book[marketIndex]
	return bba, ok
}

// OnFill 注册成交事件回调。
func (c *WSClient) OnFill(fn func(venue.FillEvent)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.fillSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.fillSubs, id)
	}, nil
}

// OnCancel 注册撤单事件回调。
func (c *WSClient) OnCancel(fn func(venue.CancelEvent)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.cxlSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.cxlSubs, id)
	}, nil
}

// OnPositionChange 注册仓位变更回调。
func (c *WSClient) OnPositionChange(fn func(venue.PositionEvent)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.posSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.posSubs, id)
	}, nil
}
