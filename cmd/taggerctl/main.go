package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/tagging-coordinator/internal/adapters/cli"
	"github.com/kirillkom/tagging-coordinator/internal/observability/logging"
)

func main() {
	slog.SetDefault(logging.NewCLILogger(os.Getenv("TAGGER_LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "taggerctl:", err)
		stop()
		os.Exit(1)
	}
}
