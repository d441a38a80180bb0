package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/djp440/drift-market-bot-v2/internal/venue"
)

// RateLimiter 控制请求速率，避免触发场所限流。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// TokenBucketLimiter 是一个简单的令牌桶实现。
type TokenBucketLimiter struct {
	rate   float64
	burst  int
	tokens float64
	last   time.Time
	mu     sync.Mutex
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Wait 消耗一个令牌，不足时休眠等待；ctx 取消则提前返回。
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	if l.tokens >= 1 {
		l.tokens -= 1
		l.mu.Unlock()
		return nil
	}
	sleep := time.Duration((1-l.tokens)/l.rate*float64(time.Second)) + time.Millisecond
	l.tokens = 0
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sleep):
		return nil
	}
}

// RateLimitedVenue 在每次触达场所前消耗限流令牌。
type RateLimitedVenue struct {
	Inner   venue.Venue
	Limiter RateLimiter
}

func (v *RateLimitedVenue) PlaceOrders(ctx context.Context, intents []venue.OrderIntent, pre ...venue.Instruction) (string, error) {
	if err := v.Limiter.Wait(ctx); err != nil {
		return "", err
	}
	return v.Inner.PlaceOrders(ctx, intents, pre...)
}

func (v *RateLimitedVenue) CancelOrdersByIDs(ctx context.Context, ids []string) (string, error) {
	if err := v.Limiter.Wait(ctx); err != nil {
		return "", err
	}
	return v.Inner.CancelOrdersByIDs(ctx, ids)
}

func (v *RateLimitedVenue) CancelInstruction(ids []string) (venue.Instruction, error) {
	// 纯本地构造，不消耗令牌
	return v.Inner.CancelInstruction(ids)
}

func (v *RateLimitedVenue) OpenOrders(ctx context.Context) ([]venue.RestingOrder, error) {
	if err := v.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return v.Inner.OpenOrders(ctx)
}

func (v *RateLimitedVenue) Position(ctx context.Context, marketIndex uint16) (venue.Position, error) {
	if err := v.Limiter.Wait(ctx); err != nil {
		return venue.Position{}, err
	}
	return v.Inner.Position(ctx, marketIndex)
}
