// Command stockwatch turns object-detection frames into a persisted
// inventory and low-stock alerts.
//
//	stockwatch seed -config stockwatch.yaml
//	stockwatch run  -config stockwatch.yaml [-input frames.jsonl|-]
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

const defaultConfigPath = "config/stockwatch.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := dispatch(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		slog.Error("stockwatch failed", "error", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "seed":
		return seedCommand(ctx, args[1:], stdout)
	case "run":
		return runCommand(ctx, args[1:], stdin, stdout)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		usage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  stockwatch seed -config stockwatch.yaml")
	fmt.Fprintln(w, "  stockwatch run  -config stockwatch.yaml [-input frames.jsonl|-]")
}
