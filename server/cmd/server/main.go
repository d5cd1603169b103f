package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imagedrop/imagedrop/server/internal/api"
	"github.com/imagedrop/imagedrop/server/internal/auth"
	"github.com/imagedrop/imagedrop/server/internal/config"
	"github.com/imagedrop/imagedrop/server/internal/metrics"
	"github.com/imagedrop/imagedrop/server/internal/rpc"
	"github.com/imagedrop/imagedrop/server/internal/tokens"
	"github.com/imagedrop/imagedrop/server/internal/upload"
	"github.com/imagedrop/imagedrop/server/internal/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file; empty uses defaults and environment only")
	statusEvery := flag.Duration("status-interval", 30*time.Second, "how often the admin event feed emits a status event (0 disables)")
	flag.Parse()

	// Bootstrap logger until the log directory is known.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logFile := setupLogging(cfg.Server.LogDir)
	if logFile != nil {
		defer logFile.Close()
	}

	slog.Info("imagedrop-server starting",
		"version", version,
		"config", *configPath,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"upload_dir", cfg.Server.UploadDir,
		"token_file", cfg.Server.Tokens.File,
		"trust_proxy", cfg.Server.TrustProxy,
	)

	if err := os.MkdirAll(cfg.Server.UploadDir, 0o755); err != nil {
		slog.Error("failed to create upload directory", "dir", cfg.Server.UploadDir, "err", err)
		os.Exit(1)
	}
	uploads, err := upload.New(cfg.Server.UploadDir)
	if err != nil {
		slog.Error("invalid upload directory", "err", err)
		os.Exit(1)
	}

	// A missing token file is not fatal: the service starts with an empty set
	// and rejects every upload until the file appears and is reloaded.
	store := tokens.NewStore(cfg.Server.Tokens.File)
	if _, err := store.Load(); err != nil {
		slog.Error("token file unavailable, starting with no valid tokens", "err", err)
	}

	master := cfg.Server.Admin.MasterToken()
	gate := auth.New(store, master)
	if !gate.AdminEnabled() {
		slog.Warn("master token is unset or the default placeholder; admin endpoints are disabled",
			"env", cfg.Server.Admin.MasterTokenEnv)
	}

	reg := metrics.New()
	reg.GaugeFunc(metrics.TokensLoaded, "Tokens in the active set.", func() float64 {
		return float64(store.Len())
	})

	hub := ws.New(*statusEvery, func() map[string]any {
		return map[string]any{"tokens_loaded": store.Len(), "version": version}
	})
	reg.GaugeFunc(metrics.EventClients, "Connected admin event feed clients.", func() float64 {
		return float64(hub.Count())
	})
	gate.Observe = api.AuthObserver(reg, hub)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if cfg.Server.Tokens.Watch {
		g.Go(func() error {
			err := store.Watch(ctx, func(n int, err error) {
				reg.Reload("watch", err)
				detail := map[string]any{"trigger": "watch", "total_tokens": n}
				if err != nil {
					detail["error"] = err.Error()
				}
				hub.Publish(ws.Event{Event: ws.EventReload, Detail: detail})
			})
			if err != nil {
				// Reloads stay available through the admin endpoint.
				slog.Warn("token file watcher disabled", "err", err)
			}
			return nil
		})
	}

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: api.New(api.Deps{
			Tokens:         store,
			Gate:           gate,
			Uploads:        uploads,
			Metrics:        reg,
			Events:         hub,
			TrustProxy:     cfg.Server.TrustProxy,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			Version:        version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			slog.Error("failed to listen on gRPC port", "port", cfg.Server.GRPCPort, "err", err)
			os.Exit(1)
		}
		grpcSrv := rpc.New(gate)
		g.Go(func() error {
			if err := grpcSrv.Serve(lis); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcSrv.Shutdown()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("imagedrop-server stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("imagedrop-server shut down")
}

// setupLogging points the default logger at stdout and, when possible,
// <dir>/server.log. It returns the opened file, or nil when file logging is
// off.
func setupLogging(dir string) *os.File {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var (
		f   *os.File
		err error
	)
	if dir != "" {
		if err = os.MkdirAll(dir, 0o755); err == nil {
			f, err = os.OpenFile(filepath.Join(dir, "server.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		}
	}

	var w io.Writer = os.Stdout
	if f != nil {
		w = io.MultiWriter(os.Stdout, f)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))

	if f == nil {
		slog.Warn("file logging disabled, logging to stdout only", "file_logging", false, "log_dir", dir, "err", err)
	} else {
		slog.Info("file logging enabled", "file_logging", true, "path", f.Name())
	}
	return f
}
