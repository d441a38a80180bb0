package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/djp440/drift-market-bot-v2/internal/fixed"
	"github.com/djp440/drift-market-bot-v2/internal/venue"
)

// 消息渠道。场所网关以统一的 JSON 信封推送所有事件。
const (
	ChannelOracle    = "oracle"
	ChannelOrderBook = "orderbook"
	ChannelFill      = "fill"
	ChannelCancel    = "cancel"
	ChannelPosition  = "position"
)

// Envelope 对应网关推送的统一包装。
type Envelope struct {
	Channel     string          `json:"channel"`
	MarketIndex uint16          `json:"marketIndex"`
	Data        json.RawMessage `json:"data"`
}

// OracleUpdate 是预言机价格推送。
type OracleUpdate struct {
	MarketIndex uint16
	Price       fixed.Num
}

// BookUpdate 是盘口 top-of-book 推送。
type BookUpdate struct {
	MarketIndex uint16
	Bid         fixed.Num
	Ask         fixed.Num
}

type oraclePayload struct {
	Price string `json:"price"`
}

type bookPayload struct {
	Bid string `json:"bid"`
	Ask string `json:"ask"`
}

type fillPayload struct {
	OrderID string `json:"orderId"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Ts      int64  `json:"ts"`
}

type cancelPayload struct {
	OrderID string `json:"orderId"`
	Ts      int64  `json:"ts"`
}

type positionPayload struct {
	Base string `json:"base"`
	Ts   int64  `json:"ts"`
}

// ParseMessage 解析一条网关推送，返回对应的强类型事件：
// *OracleUpdate、*BookUpdate、*venue.FillEvent、*venue.CancelEvent
// 或 *venue.PositionEvent。未知渠道返回错误，由上层记录后丢弃。
func ParseMessage(raw []byte) (interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Channel {
	case ChannelOracle:
		var p oraclePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode oracle payload: %w", err)
		}
		price, err := fixed.FromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("oracle price %q: %w", p.Price, err)
		}
		return &OracleUpdate{MarketIndex: env.MarketIndex, Price: price}, nil
	case ChannelOrderBook:
		var p bookPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode orderbook payload: %w", err)
		}
		bid, err := fixed.FromString(p.Bid)
		if err != nil {
			return nil, fmt.Errorf("book bid %q: %w", p.Bid, err)
		}
		ask, err := fixed.FromString(p.Ask)
		if err != nil {
			return nil, fmt.Errorf("book ask %q: %w", p.Ask, err)
		}
		return &BookUpdate{MarketIndex: env.MarketIndex, Bid: bid, Ask: ask}, nil
	case ChannelFill:
		var p fillPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode fill payload: %w", err)
		}
		price, err := fixed.FromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("fill price %q: %w", p.Price, err)
		}
		size, err := fixed.FromString(p.Size)
		if err != nil {
			return nil, fmt.Errorf("fill size %q: %w", p.Size, err)
		}
		return &venue.FillEvent{
			MarketIndex: env.MarketIndex,
			OrderID:     p.OrderID,
			Side:        venue.Side(p.Side),
			Price:       price,
			Size:        size,
			Ts:          time.UnixMilli(p.Ts),
		}, nil
	case ChannelCancel:
		var p cancelPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode cancel payload: %w", err)
		}
		return &venue.CancelEvent{
			MarketIndex: env.MarketIndex,
			OrderID:     p.OrderID,
			Ts:          time.UnixMilli(p.Ts),
		}, nil
	case ChannelPosition:
		var p positionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode position payload: %w", err)
		}
		base, err := fixed.FromString(p.Base)
		if err != nil {
			return nil, fmt.Errorf("position base %q: %w", p.Base, err)
		}
		return &venue.PositionEvent{
			MarketIndex: env.MarketIndex,
			Base:        base,
			Ts:          time.UnixMilli(p.Ts),
		}, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", env.Channel)
	}
}
