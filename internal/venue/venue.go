// Package venue defines the collaborator interfaces the quoting core
// depends on: the order venue itself plus price, order-book and account
// event feeds. Implementations live in gateway/ and sim/.
package venue

import (
	"context"
	"time"

	"github.com/djp440/drift-market-bot-v2/internal/fixed"
)

// Side represents order direction.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// PostOnlyMode 控制挂单的 maker 语义。
type PostOnlyMode string

const (
	// PostOnlyNone 未指定，执行器会强制改写为 PostOnlyTry。
	PostOnlyNone PostOnlyMode = ""
	// PostOnlyTry 尽量作为 maker 挂出，价格穿越时由场所调价而非吃单。
	PostOnlyTry PostOnlyMode = "TRY_POST_ONLY"
	// PostOnlyStrict 穿越盘口时直接拒单。
	PostOnlyStrict PostOnlyMode = "MUST_POST_ONLY"
)

// OrderIntent is the executor's input: one desired order.
type OrderIntent struct {
	MarketIndex uint16
	Side        Side
	Price       fixed.Num
	Size        fixed.Num
	ReduceOnly  bool
	PostOnly    PostOnlyMode
}

// RestingOrder mirrors a venue-reported open order.
type RestingOrder struct {
	ID          string
	MarketIndex uint16
	Side        Side
	Price       fixed.Num
	Size        fixed.Num
	Status      string
	PlacedAt    time.Time
}

// Open reports whether the order can still trade.
func (o RestingOrder) Open() bool {
	return o.Status == "" || o.Status == "open" || o.Status == "partial"
}

// Age returns time elapsed since the order was placed.
func (o RestingOrder) Age(now time.Time) time.Duration {
	return now.Sub(o.PlacedAt)
}

// Position is the venue-reported net position for one market.
type Position struct {
	MarketIndex uint16
	// Base 为带符号仓位，正为多头，负为空头。
	Base fixed.Num
}

// Instruction is an opaque venue instruction, used to bundle a
// cancellation with a placement into a single atomic submission.
type Instruction struct {
	Raw []byte
}

// Venue is the order venue boundary. Connection management and
// transaction signing are implementation concerns behind it.
type Venue interface {
	// PlaceOrders submits the intents, prepending any instructions so
	// the whole batch lands atomically. Returns the venue tx id.
	PlaceOrders(ctx context.Context, intents []OrderIntent, pre ...Instruction) (string, error)
	// CancelOrdersByIDs cancels resting orders by venue id.
	CancelOrdersByIDs(ctx context.Context, ids []string) (string, error)
	// CancelInstruction builds (without submitting) the cancel
	// instruction for the given ids.
	CancelInstruction(ids []string) (Instruction, error)
	// OpenOrders returns currently-known orders across markets.
	OpenOrders(ctx context.Context) ([]RestingOrder, error)
	// Position returns the net position for one market.
	Position(ctx context.Context, marketIndex uint16) (Position, error)
}

// PriceFeed is the oracle price boundary.
type PriceFeed interface {
	// Price returns the latest oracle price for the market.
	Price(ctx context.Context, marketIndex uint16) (fixed.Num, error)
	// OnPriceUpdate registers a push callback. Unsubscribe releases it.
	OnPriceUpdate(marketIndex uint16, fn func(price fixed.Num)) (unsubscribe func(), err error)
}

// BestBidAsk is an order-book top snapshot.
type BestBidAsk struct {
	Bid fixed.Num
	Ask fixed.Num
}

// OrderBookFeed is optional; only consulted when quoting off the book.
type OrderBookFeed interface {
	// BestBidAsk returns the current top of book, or ok=false when the
	// book is unavailable.
	BestBidAsk(marketIndex uint16) (bba BestBidAsk, ok bool)
}

// FillEvent reports an execution against one of our orders.
type FillEvent struct {
	MarketIndex uint16
	OrderID     string
	Side        Side
	Price       fixed.Num
	Size        fixed.Num
	Ts          time.Time
}

// CancelEvent reports an order cancellation seen on the account stream.
type CancelEvent struct {
	MarketIndex uint16
	OrderID     string
	Ts          time.Time
}

// PositionEvent reports a position change on the account stream.
type PositionEvent struct {
	MarketIndex uint16
	Base        fixed.Num
	Ts          time.Time
}

// AccountStream delivers account events. Callbacks may be invoked
// concurrently with each other; consumers must serialize internally.
type AccountStream interface {
	OnFill(fn func(FillEvent)) (unsubscribe func(), err error)
	OnCancel(fn func(CancelEvent)) (unsubscribe func(), err error)
	OnPositionChange(fn func(PositionEvent)) (unsubscribe func(), err error)
}
