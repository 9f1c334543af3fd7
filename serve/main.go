// Command llm-completed is the llm-complete daemon.
// It listens on a Unix domain socket for completion requests from notebook
// frontends, queries the model and returns the rewritten active cell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "log every request and response to stderr")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics and /healthz on this address (disabled when empty)")
	flag.Parse()

	if *showVersion {
		fmt.Println("llm-completed", Version)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	socketPath := resolveSocketPath()

	slog.Info("starting", "socket", socketPath, "version", Version)

	srv, err := NewServer(socketPath)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, srv, *metricsAddr); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}

// run serves the socket, and the HTTP endpoints when addr is set, until ctx
// is cancelled or either listener fails.
func run(ctx context.Context, srv *Server, addr string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("ready")
		if err := srv.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		srv.Close()
		return nil
	})

	if addr != "" {
		hs := &http.Server{Addr: addr, Handler: newRouter(srv), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.Info("http listening", "addr", addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func resolveSocketPath() string {
	if path := os.Getenv("LLM_COMPLETE_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/llm-complete.sock"
	}
	return fmt.Sprintf("/tmp/llm-complete-%d.sock", os.Getuid())
}
