// cleanup 紧急撤单工具：撤销 RPC sidecar 上的全部挂单，独立于
// 主进程运行，供 quoter 异常退出后手动兜底。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/djp440/drift-market-bot-v2/config"
	"github.com/djp440/drift-market-bot-v2/gateway"
	"github.com/djp440/drift-market-bot-v2/infrastructure/logger"
	"github.com/djp440/drift-market-bot-v2/internal/executor"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	marketIndex := flag.Int("marketIndex", int(executor.AllMarkets), "仅撤该市场（默认全部）")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	lg, err := logger.New(logger.Config{Level: "info", Outputs: []string{"stdout"}, Format: "console"})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	rpc := &gateway.RPCClient{
		BaseURL:    cfg.Gateway.RPCURL,
		HTTPClient: gateway.NewDefaultHTTPClient(),
	}
	exec := executor.New(rpc, lg, executor.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	before, err := rpc.OpenOrders(ctx)
	if err != nil {
		log.Fatalf("查询挂单失败: %v", err)
	}
	fmt.Printf("当前挂单 %d 笔\n", len(before))
	if len(before) == 0 {
		return
	}

	if err := exec.CancelAllOrders(ctx, int32(*marketIndex)); err != nil {
		log.Fatalf("撤单失败: %v", err)
	}

	after, err := rpc.OpenOrders(ctx)
	if err != nil {
		log.Fatalf("复查挂单失败: %v", err)
	}
	fmt.Printf("撤单完成，剩余 %d 笔\n", len(after))
}
