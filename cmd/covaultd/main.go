package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// main 是 covaultd 命令行入口。所有子命令共享同一个信号上下文，
// 收到中断后在途操作会尽快收敛并退出。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	Execute(ctx)
}
