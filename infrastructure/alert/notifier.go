// Package alert 把需要人工关注的异常投递到告警通道，按 key 限流，
// 避免同类异常在事件风暴中刷屏。
package alert

import (
	"fmt"
	"sync"
	"time"
)

// Level 告警级别
type Level string

const (
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     Level
	Kind      string
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Notifier 告警分发器；同一 (level, kind) 在限流窗口内只发一次。
type Notifier struct {
	mu       sync.Mutex
	channels []Channel
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

// NewNotifier 创建分发器；interval <= 0 时默认 1 分钟。
func NewNotifier(channels []Channel, interval time.Duration) *Notifier {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Notifier{
		channels: channels,
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Notify 投递告警；被限流时静默丢弃。
func (n *Notifier) Notify(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = n.now()
	}
	key := string(a.Level) + ":" + a.Kind

	n.mu.Lock()
	if last, ok := n.lastSent[key]; ok && a.Timestamp.Sub(last) < n.interval {
		n.mu.Unlock()
		return nil
	}
	n.lastSent[key] = a.Timestamp
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.Unlock()

	var lastErr error
	sent := 0
	for _, ch := range channels {
		if err := ch.Send(a); err != nil {
			lastErr = fmt.Errorf("channel %s: %w", ch.Name(), err)
		} else {
			sent++
		}
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// Warning 发送 WARNING 告警。
func (n *Notifier) Warning(kind, message string, fields map[string]interface{}) error {
	return n.Notify(Alert{Level: LevelWarning, Kind: kind, Message: message, Fields: fields})
}

// Error 发送 ERROR 告警。
func (n *Notifier) Error(kind, message string, fields map[string]interface{}) error {
	return n.Notify(Alert{Level: LevelError, Kind: kind, Message: message, Fields: fields})
}

// Critical 发送 CRITICAL 告警。
func (n *Notifier) Critical(kind, message string, fields map[string]interface{}) error {
	return n.Notify(Alert{Level: LevelCritical, Kind: kind, Message: message, Fields: fields})
}
