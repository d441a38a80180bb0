// Package executor 负责改变场所侧订单状态：下单、撤单与原子撤换。
// 所有失败都经过有限次退避重试，耗尽后以 ExecutionError 上抛，
// 绝不无限重试，也绝不吞掉错误。
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/djp440/drift-market-bot-v2/infrastructure/logger"
	"github.com/djp440/drift-market-bot-v2/internal/venue"
)

// AllMarkets 作为 marketIndex 参数时表示不按市场过滤。
const AllMarkets int32 = -1

// ExecutionError 表示重试耗尽后的订单操作失败。
type ExecutionError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Config 执行器参数。
type Config struct {
	// MaxAttempts 最大尝试次数，默认 3。
	MaxAttempts int
	// BaseDelay 首次退避时长，之后指数翻倍（1x、2x、4x），默认 1s。
	BaseDelay time.Duration
}

// Executor 是订单执行器；并发安全，无内部可变状态。
type Executor struct {
	venue       venue.Venue
	log         *logger.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// New 创建执行器。
func New(v venue.Venue, log *logger.Logger, cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Executor{
		venue:       v,
		log:         log,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
	}
}

// sanitizeIntents 强制补齐 maker 标志。该保护在执行器内部完成，
// 调用方无法绕过，杜绝误发吃单。
func sanitizeIntents(intents []venue.OrderIntent) []venue.OrderIntent {
	out := make([]venue.OrderIntent, len(intents))
	for i, it := range intents {
		if it.PostOnly == venue.PostOnlyNone {
			it.PostOnly = venue.PostOnlyTry
		}
		out[i] = it
	}
	return out
}

// PlaceOrder 提交单个订单。
func (e *Executor) PlaceOrder(ctx context.Context, intent venue.OrderIntent) (string, error) {
	intents := sanitizeIntents([]venue.OrderIntent{intent})
	var txID string
	err := e.retry(ctx, "place_order", func() error {
		var err error
		txID, err = e.venue.PlaceOrders(ctx, intents)
		return err
	})
	return txID, err
}

// CancelOrder 按场所订单号撤单。
func (e *Executor) CancelOrder(ctx context.Context, orderID string) (string, error) {
	var txID string
	err := e.retry(ctx, "cancel_order", func() error {
		var err error
		txID, err = e.venue.CancelOrdersByIDs(ctx, []string{orderID})
		return err
	})
	return txID, err
}

// CancelAllOrders 尽力撤销全部挂单，marketIndex 为 AllMarkets 时不过滤。
func (e *Executor) CancelAllOrders(ctx context.Context, marketIndex int32) error {
	orders, err := e.OpenOrders(ctx, marketIndex)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return e.retry(ctx, "cancel_all", func() error {
		_, err := e.venue.CancelOrdersByIDs(ctx, ids)
		return err
	})
}

// CancelAndReplace 原子撤换：撤单指令与新单打包为一次场所提交，
// 要么全部落地要么全部失败，避免撤旧成功、挂新失败导致的单边敞口。
// cancelIDs 为空时退化为普通下单；两者皆空则不触达场所。
func (e *Executor) CancelAndReplace(ctx context.Context, cancelIDs []string, intents []venue.OrderIntent) (string, error) {
	if len(cancelIDs) == 0 && len(intents) == 0 {
		return "", nil
	}
	if len(cancelIDs) == 0 {
		var txID string
		err := e.retry(ctx, "place_orders", func() error {
			var err error
			txID, err = e.venue.PlaceOrders(ctx, sanitizeIntents(intents))
			return err
		})
		return txID, err
	}

	cancelIx, err := e.venue.CancelInstruction(cancelIDs)
	if err != nil {
		return "", &ExecutionError{Op: "cancel_instruction", Attempts: 1, Err: err}
	}
	sanitized := sanitizeIntents(intents)
	var txID string
	err = e.retry(ctx, "cancel_and_replace", func() error {
		var err error
		txID, err = e.venue.PlaceOrders(ctx, sanitized, cancelIx)
		return err
	})
	return txID, err
}

// OpenOrders 读取当前挂单，只保留 open 状态，可按市场过滤。
// 快照从场所即时拉取，不跨 tick 缓存。
func (e *Executor) OpenOrders(ctx context.Context, marketIndex int32) ([]venue.RestingOrder, error) {
	all, err := e.venue.OpenOrders(ctx)
	if err != nil {
		return nil, &ExecutionError{Op: "get_open_orders", Attempts: 1, Err: err}
	}
	out := make([]venue.RestingOrder, 0, len(all))
	for _, o := range all {
		if !o.Open() {
			continue
		}
		if marketIndex >= 0 && int32(o.MarketIndex) != marketIndex {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// retry 指数退避重试；每次失败后休眠（1x、2x、4x BaseDelay），
// 耗尽后包装为 ExecutionError 上抛。
func (e *Executor) retry(ctx context.Context, op string, fn func() error) error {
	delay := e.baseDelay
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		e.log.Warn("order action failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.maxAttempts),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return &ExecutionError{Op: op, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay *= 2
	}
	return &ExecutionError{Op: op, Attempts: e.maxAttempts, Err: lastErr}
}
