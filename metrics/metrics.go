// Package metrics provides Prometheus metrics for the quoting engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TicksTotal 按触发源统计控制循环执行次数。
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_ticks_total",
		Help: "Control loop ticks by trigger source",
	}, []string{"trigger"})

	// OrderActionsTotal 按操作类型统计订单动作。
	OrderActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_order_actions_total",
		Help: "Order actions submitted to the venue by op",
	}, []string{"op"})

	// FillsTotal 成交事件计数。
	FillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_fills_total",
		Help: "Fill events received from the account stream",
	})

	// ErrorsTotal 按错误类别统计。
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_errors_total",
		Help: "Errors by class (execution, sync, anomaly)",
	}, []string{"class"})

	// InventoryBase 当前带符号净仓。
	InventoryBase = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_inventory_base",
		Help: "Signed net inventory in base units",
	})

	// ReferencePrice 当前报价中枢。
	ReferencePrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_reference_price",
		Help: "Current reference price used for quoting",
	})

	// EngineState 引擎状态（0=IDLE 1=STARTUP 2=MARKET_MAKING）。
	EngineState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_engine_state",
		Help: "Engine state machine value",
	})
)

// UpdateSnapshot 一次性刷新引擎快照类指标。
func UpdateSnapshot(state int, inventory, refPrice float64) {
	EngineState.Set(float64(state))
	InventoryBase.Set(inventory)
	ReferencePrice.Set(refPrice)
}

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
