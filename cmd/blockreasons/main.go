// Command blockreasons runs the block-reason annotator against a Chrome
// page and serves the local admin API.
//
// Usage:
//
//	blockreasons -config blockreasons.yaml     # run from YAML config
//	blockreasons -url https://x.com/home       # quick start with defaults
//	blockreasons -admin 127.0.0.1:8086 -mcp    # also serve the admin API and MCP tools
//	blockreasons -admin-only -db blocks.db     # manage records without a browser
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/blockreasons/admin"
	"github.com/hazyhaar/blockreasons/blockwatch"
	"github.com/hazyhaar/blockreasons/store"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to blockreasons.yaml config file")
	siteURL := flag.String("url", "", "page to open (overrides site.url)")
	dbPath := flag.String("db", "", "record database path (overrides store.path)")
	adminAddr := flag.String("admin", "", "admin API listen address (overrides admin.addr)")
	withMCP := flag.Bool("mcp", false, "serve MCP tools on /mcp of the admin listener")
	adminOnly := flag.Bool("admin-only", false, "serve the admin API without opening a browser")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := blockwatch.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = blockwatch.LoadConfig(*configPath); err != nil {
			logger.Error("blockreasons: load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}
	if *siteURL != "" {
		cfg.Site.URL = *siteURL
		cfg.Site.Origin = ""
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *adminAddr != "" {
		cfg.Admin.Addr = *adminAddr
	}
	if *withMCP {
		cfg.Admin.MCP = true
	}
	cfg.ApplyDefaults()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *adminOnly); err != nil {
		logger.Error("blockreasons: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *blockwatch.Config, adminOnly bool) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if _, err := st.EnsureCategories(ctx); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	if cfg.Admin.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           adminHandler(st, logger, cfg.Admin.Addr, cfg.Admin.MCP),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("blockreasons: admin listening", "addr", cfg.Admin.Addr, "mcp", cfg.Admin.MCP)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("blockreasons: admin server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	} else if adminOnly {
		return errors.New("-admin-only needs an admin address")
	}

	if adminOnly {
		<-ctx.Done()
		return nil
	}

	w, err := blockwatch.New(cfg, st, logger)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func adminHandler(st *store.Store, logger *slog.Logger, addr string, withMCP bool) http.Handler {
	svc := admin.New(st, logger, admin.WithListenAddr(addr))

	r := chi.NewRouter()
	for _, mw := range admin.DefaultStack(logger, addr) {
		r.Use(mw)
	}
	svc.RegisterHTTP(r)

	if withMCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "blockreasons",
			Version: version,
		}, nil)
		svc.RegisterMCP(mcpSrv)
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	}
	return r
}
