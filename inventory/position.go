// Package inventory 维护带符号净仓与加权平均成本，定点运算。
package inventory

import (
	"sync"

	"github.com/djp440/drift-market-bot-v2/internal/fixed"
	"github.com/djp440/drift-market-bot-v2/internal/venue"
)

// Tracker 维护净仓位；并发安全。
type Tracker struct {
	mu   sync.RWMutex
	net  fixed.Num
	cost fixed.Num
}

// ApplyFill 根据成交调整仓位，买入为正、卖出为负。
// 成本为加权平均；仓位归零时成本清零。
func (t *Tracker) ApplyFill(side venue.Side, size, price fixed.Num) error {
	delta := size
	if side == venue.SideAsk {
		delta = size.Neg()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	oldValue, err := t.cost.Mul(t.net)
	if err != nil {
		return err
	}
	fillValue, err := price.Mul(delta)
	if err != nil {
		return err
	}
	totalValue, err := oldValue.Add(fillValue)
	if err != nil {
		return err
	}
	newNet, err := t.net.Add(delta)
	if err != nil {
		return err
	}
	t.net = newNet
	if newNet.IsZero() {
		t.cost = fixed.Zero
		return nil
	}
	cost, err := totalValue.Div(newNet)
	if err != nil {
		return err
	}
	t.cost = cost
	return nil
}

// Set 直接覆盖净仓（用于对账外部仓位快照）。
func (t *Tracker) Set(net fixed.Num) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.net = net
	if net.IsZero() {
		t.cost = fixed.Zero
	}
}

// NetExposure 返回当前净仓。
func (t *Tracker) NetExposure() fixed.Num {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.net
}

// AvgCost 返回加权平均成本。
func (t *Tracker) AvgCost() fixed.Num {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cost
}

// Valuation 基于当前 mid 价计算未实现盈亏。
func (t *Tracker) Valuation(mid fixed.Num) (net, pnl fixed.Num, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	diff, err := mid.Sub(t.cost)
	if err != nil {
		return 0, 0, err
	}
	pnl, err = diff.Mul(t.net)
	if err != nil {
		return 0, 0, err
	}
	return t.net, pnl, nil
}
