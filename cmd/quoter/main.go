package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"github.com/djp440/drift-market-bot-v2/config"
	"github.com/djp440/drift-market-bot-v2/gateway"
	"github.com/djp440/drift-market-bot-v2/infrastructure/alert"
	"github.com/djp440/drift-market-bot-v2/infrastructure/logger"
	"github.com/djp440/drift-market-bot-v2/internal/engine"
	"github.com/djp440/drift-market-bot-v2/internal/executor"
	"github.com/djp440/drift-market-bot-v2/internal/venue"
	"github.com/djp440/drift-market-bot-v2/metrics"
	"github.com/djp440/drift-market-bot-v2/sim"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	marketName := flag.String("market", "SOL-PERP", "市场名称（config.markets 的 key）")
	dryRun := flag.Bool("dryRun", false, "纸上交易：订单进入进程内模拟场所")
	rpcRate := flag.Float64("rpcRate", 5, "RPC 限流：每秒令牌数")
	rpcBurst := flag.Int("rpcBurst", 10, "RPC 限流：最大突发令牌数")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	marketCfg, ok := cfg.Markets[*marketName]
	if !ok {
		lg.Fatal("market not found in config", zap.String("market", *marketName))
	}
	stratCfg, err := marketCfg.StrategyConfig()
	if err != nil {
		lg.Fatal("invalid strategy config", zap.String("market", *marketName), zap.Error(err))
	}

	if cfg.Metrics.Addr != "" {
		metrics.StartMetricsServer(cfg.Metrics.Addr)
		lg.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := gateway.NewWSClient(cfg.Gateway.WSURL, lg)
	go func() {
		if err := ws.Run(ctx); err != nil && ctx.Err() == nil {
			lg.Error("ws client exited", zap.Error(err))
			cancel()
		}
	}()

	var (
		ordVenue  venue.Venue
		account   venue.AccountStream
		priceFeed venue.PriceFeed = ws
		orderBook venue.OrderBookFeed
	)
	if *dryRun {
		paper := sim.New()
		ordVenue = paper
		account = paper
		orderBook = paper
		// 把真实盘口桥接进模拟场所，驱动纸上撮合。
		go bridgeBook(ctx, ws, paper, stratCfg.MarketIndex)
		lg.Info("dry run: orders routed to paper venue")
	} else {
		rpc := &gateway.RPCClient{
			BaseURL:    cfg.Gateway.RPCURL,
			HTTPClient: gateway.NewDefaultHTTPClient(),
		}
		ordVenue = &gateway.RateLimitedVenue{
			Inner:   rpc,
			Limiter: gateway.NewTokenBucketLimiter(*rpcRate, *rpcBurst),
		}
		account = ws
		orderBook = ws
	}

	notifier := alert.NewNotifier([]alert.Channel{
		&alert.LogChannel{Logger: lg.Named("alert")},
	}, time.Minute)

	exec := executor.New(ordVenue, lg, executor.Config{})
	eng, err := engine.New(engine.Config{
		Strategy:          stratCfg,
		HeartbeatInterval: cfg.Engine.Heartbeat(),
		Cooldown:          cfg.Engine.Cooldown(),
		MaxOrderAge:       cfg.Engine.MaxOrderAge(),
		ResyncTimeout:     cfg.Engine.ResyncTimeout(),
	}, engine.Components{
		Executor:  exec,
		Venue:     ordVenue,
		PriceFeed: priceFeed,
		OrderBook: orderBook,
		Account:   account,
		Logger:    lg,
		Alerts:    notifier,
	})
	if err != nil {
		lg.Fatal("create engine", zap.Error(err))
	}

	watcher := &config.Watcher{
		Path: *cfgPath,
		OnError: func(err error) {
			lg.Warn("config reload rejected", zap.Error(err))
		},
	}
	updates, err := watcher.Start(ctx)
	if err != nil {
		lg.Warn("config watcher unavailable", zap.Error(err))
	} else {
		go func() {
			for range updates {
				// 策略参数是构造期快照，重载只记录，重启后生效。
				lg.Info("config file changed; strategy parameters apply on restart")
			}
		}()
	}

	if err := eng.Start(ctx); err != nil {
		lg.Fatal("start engine", zap.Error(err))
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdogLoop(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		lg.Info("signal received, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		lg.Info("context done, shutting down")
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := eng.Stop(stopCtx); err != nil {
		lg.Error("engine stop", zap.Error(err))
	}
	cancel()
	lg.Info("quoter exited")
}

// bridgeBook 周期性把 WS 盘口写入模拟场所。
func bridgeBook(ctx context.Context, ws *gateway.WSClient, paper *sim.Venue, marketIndex uint16) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if bba, ok := ws.BestBidAsk(marketIndex); ok {
				paper.PushBook(marketIndex, bba.Bid, bba.Ask)
			}
		}
	}
}

// watchdogLoop 按 systemd watchdog 周期的一半发送心跳。
func watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
