// Package sim provides an in-process paper venue for dry runs and
// integration tests. It implements the same boundaries as gateway/ but
// matches orders against pushed top-of-book prices instead of a real
// exchange.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/djp440/drift-market-bot-v2/internal/fixed"
	"github.com/djp440/drift-market-bot-v2/internal/venue"
	"github.com/djp440/drift-market-bot-v2/inventory"
)

// ErrWouldCross 表示 MUST_POST_ONLY 订单会立即吃单，被拒绝。
var ErrWouldCross = errors.New("sim: post-only order would cross the book")

// Venue 是纸上交易场所：挂单、撤单、推送行情并按穿越价格撮合。
type Venue struct {
	mu      sync.Mutex
	nextID  int
	orders  map[string]venue.RestingOrder
	oracle  map[uint16]fixed.Num
	book    map[uint16]venue.BestBidAsk
	tracker map[uint16]*inventory.Tracker
	now     func() time.Time

	nextSubID int
	priceSubs map[uint16]map[int]func(fixed.Num)
	fillSubs  map[int]func(venue.FillEvent)
	cxlSubs   map[int]func(venue.CancelEvent)
	posSubs   map[int]func(venue.PositionEvent)
}

// New 创建空的纸上场所。
func New() *Venue {
	return &Venue{
		orders:    make(map[string]venue.RestingOrder),
		oracle:    make(map[uint16]fixed.Num),
		book:      make(map[uint16]venue.BestBidAsk),
		tracker:   make(map[uint16]*inventory.Tracker),
		now:       time.Now,
		priceSubs: make(map[uint16]map[int]func(fixed.Num)),
		fillSubs:  make(map[int]func(venue.FillEvent)),
		cxlSubs:   make(map[int]func(venue.CancelEvent)),
		posSubs:   make(map[int]func(venue.PositionEvent)),
	}
}

type cancelInstruction struct {
	Op  string   `json:"op"`
	IDs []string `json:"ids"`
}

// CancelInstruction 构造撤单指令，不提交。
func (v *Venue) CancelInstruction(ids []string) (venue.Instruction, error) {
	raw, err := json.Marshal(cancelInstruction{Op: "cancel", IDs: ids})
	if err != nil {
		return venue.Instruction{}, err
	}
	return venue.Instruction{Raw: raw}, nil
}

// PlaceOrders 先执行捆绑的撤单指令，再挂出新单；整体视为一笔提交。
// MUST_POST_ONLY 订单穿越盘口时整笔拒绝，TRY_POST_ONLY 订单被调整到
// 盘口价位挂出。
func (v *Venue) PlaceOrders(_ context.Context, intents []venue.OrderIntent, pre ...venue.Instruction) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// 先校验，保证原子性：任何一项失败则什么都不发生。
	adjusted := make([]venue.RestingOrder, 0, len(intents))
	for _, in := range intents {
		if !in.Size.IsPositive() || !in.Price.IsPositive() {
			return "", fmt.Errorf("sim: invalid intent %+v", in)
		}
		price := in.Price
		bba, haveBook := v.book[in.MarketIndex]
		if haveBook {
			crossed := (in.Side == venue.SideBid && price >= bba.Ask) ||
				(in.Side == venue.SideAsk && price <= bba.Bid)
			if crossed {
				if in.PostOnly == venue.PostOnlyStrict {
					return "", ErrWouldCross
				}
				if in.Side == venue.SideBid {
					price = bba.Bid
				} else {
					price = bba.Ask
				}
			}
		}
		v.nextID++
		adjusted = append(adjusted, venue.RestingOrder{
			ID:          fmt.Sprintf("sim-%d", v.nextID),
			MarketIndex: in.MarketIndex,
			Side:        in.Side,
			Price:       price,
			Size:        in.Size,
			Status:      "open",
			PlacedAt:    v.now(),
		})
	}

	for _, ix := range pre {
		var ci cancelInstruction
		if err := json.Unmarshal(ix.Raw, &ci); err != nil {
			return "", fmt.Errorf("sim: bad instruction: %w", err)
		}
		if ci.Op != "cancel" {
			return "", fmt.Errorf("sim: unsupported instruction op %q", ci.Op)
		}
		for _, id := range ci.IDs {
			v.removeLocked(id)
		}
	}
	for _, o := range adjusted {
		v.orders[o.ID] = o
	}
	v.nextID++
	return fmt.Sprintf("tx-%d", v.nextID), nil
}

// CancelOrdersByIDs 撤销指定订单并推送撤单事件。
func (v *Venue) CancelOrdersByIDs(_ context.Context, ids []string) (string, error) {
	v.mu.Lock()
	events := make([]venue.CancelEvent, 0, len(ids))
	for _, id := range ids {
		if o, ok := v.orders[id]; ok {
			v.removeLocked(id)
			events = append(events, venue.CancelEvent{
				MarketIndex: o.MarketIndex,
				OrderID:     o.ID,
				Ts:          v.now(),
			})
		}
	}
	subs := make([]func(venue.CancelEvent), 0, len(v.cxlSubs))
	for _, fn := range v.cxlSubs {
		subs = append(subs, fn)
	}
	v.nextID++
	tx := fmt.Sprintf("tx-%d", v.nextID)
	v.mu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
	return tx, nil
}

func (v *Venue) removeLocked(id string) {
	delete(v.orders, id)
}

// OpenOrders 返回所有挂单。
func (v *Venue) OpenOrders(_ context.Context) ([]venue.RestingOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]venue.RestingOrder, 0, len(v.orders))
	for _, o := range v.orders {
		out = append(out, o)
	}
	return out, nil
}

// Position 返回纸上撮合累计出的净仓位。
func (v *Venue) Position(_ context.Context, marketIndex uint16) (venue.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pos := venue.Position{MarketIndex: marketIndex}
	if tr, ok := v.tracker[marketIndex]; ok {
		pos.Base = tr.NetExposure()
	}
	return pos, nil
}

// PushOracle 推送预言机价格并触发价格回调。
func (v *Venue) PushOracle(marketIndex uint16, price fixed.Num) {
	v.mu.Lock()
	v.oracle[marketIndex] = price
	subs := make([]func(fixed.Num), 0, len(v.priceSubs[marketIndex]))
	for _, fn := range v.priceSubs[marketIndex] {
		subs = append(subs, fn)
	}
	v.mu.Unlock()
	for _, fn := range subs {
		fn(price)
	}
}

// PushBook 更新盘口快照，并把被新价格穿越的挂单撮合成交。
func (v *Venue) PushBook(marketIndex uint16, bid, ask fixed.Num) {
	v.mu.Lock()
	v.book[marketIndex] = venue.BestBidAsk{Bid: bid, Ask: ask}

	fills := make([]venue.FillEvent, 0, 2)
	for id, o := range v.orders {
		if o.MarketIndex != marketIndex {
			continue
		}
		// 卖方报价跌破我们的买单，或买方报价升破我们的卖单，视为成交。
		hit := (o.Side == venue.SideBid && ask <= o.Price) ||
			(o.Side == venue.SideAsk && bid >= o.Price)
		if !hit {
			continue
		}
		delete(v.orders, id)
		fills = append(fills, venue.FillEvent{
			MarketIndex: o.MarketIndex,
			OrderID:     o.ID,
			Side:        o.Side,
			Price:       o.Price,
			Size:        o.Size,
			Ts:          v.now(),
		})
		tr := v.tracker[marketIndex]
		if tr == nil {
			tr = &inventory.Tracker{}
			v.tracker[marketIndex] = tr
		}
		_ = tr.ApplyFill(o.Side, o.Size, o.Price)
	}
	fillSubs := make([]func(venue.FillEvent), 0, len(v.fillSubs))
	for _, fn := range v.fillSubs {
		fillSubs = append(fillSubs, fn)
	}
	posSubs := make([]func(venue.PositionEvent), 0, len(v.posSubs))
	for _, fn := range v.posSubs {
		posSubs = append(posSubs, fn)
	}
	var base fixed.Num
	if tr, ok := v.tracker[marketIndex]; ok {
		base = tr.NetExposure()
	}
	now := v.now()
	v.mu.Unlock()

	for _, ev := range fills {
		for _, fn := range fillSubs {
			fn(ev)
		}
	}
	if len(fills) > 0 {
		for _, fn := range posSubs {
			fn(venue.PositionEvent{MarketIndex: marketIndex, Base: base, Ts: now})
		}
	}
}

// Price 返回最近推送的预言机价格。
func (v *Venue) Price(_ context.Context, marketIndex uint16) (fixed.Num, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.oracle[marketIndex]
	if !ok {
		return 0, errors.New("sim: no oracle price")
	}
	return p, nil
}

// OnPriceUpdate 注册价格回调。
func (v *Venue) OnPriceUpdate(marketIndex uint16, fn func(price fixed.Num)) (func(), error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextSubID
	v.nextSubID++
	if v.priceSubs[marketIndex] == nil {
		v.priceSubs[marketIndex] = make(map[int]func(fixed.Num))
	}
	v.priceSubs[marketIndex][id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.priceSubs[marketIndex], id)
	}, nil
}

// BestBidAsk 返回最近推送的盘口快照。
func (v *Venue) BestBidAsk(marketIndex uint16) (venue.BestBidAsk, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	bba, ok := v.book[marketIndex]
	return bba, ok
}

// OnFill 注册成交回调。
func (v *Venue) OnFill(fn func(venue.FillEvent)) (func(), error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextSubID
	v.nextSubID++
	v.fillSubs[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.fillSubs, id)
	}, nil
}

// OnCancel 注册撤单回调。
func (v *Venue) OnCancel(fn func(venue.CancelEvent)) (func(), error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextSubID
	v.nextSubID++
	v.cxlSubs[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.cxlSubs, id)
	}, nil
}

// OnPositionChange 注册仓位回调。
func (v *Venue) OnPositionChange(fn func(venue.PositionEvent)) (func(), error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextSubID
	v.nextSubID++
	v.posSubs[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.posSubs, id)
	}, nil
}
