// Command searchd runs the network-serving core of the search daemon: the
// listener multiplexor, dashboard and mirror-group bookkeeping, and the
// agent connector, wired together by the daemon package.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dreamware/searchd/internal/config"
	"github.com/dreamware/searchd/internal/daemon"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars and defaults otherwise)")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	d, err := daemon.New(cfg, log, daemon.NoopExecutor{})
	if err != nil {
		log.Fatal("build daemon", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("searchd starting", zap.Strings("listen", cfg.Listen), zap.String("admin_addr", cfg.AdminAddr))
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("daemon exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("searchd stopped")
}
