// Package main wires together the gateway's components and starts the
// HTTP server (spec §5's process-level responsibilities: startup,
// graceful shutdown, background loops).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/poemonsense/antigravity-proxy-go/internal/accountstore"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
	"github.com/poemonsense/antigravity-proxy-go/internal/gateway"
	"github.com/poemonsense/antigravity-proxy-go/internal/logging"
	"github.com/poemonsense/antigravity-proxy-go/internal/pool"
	"github.com/poemonsense/antigravity-proxy-go/internal/ratelimit"
	"github.com/poemonsense/antigravity-proxy-go/internal/server"
	"github.com/poemonsense/antigravity-proxy-go/internal/sigcache"
	"github.com/poemonsense/antigravity-proxy-go/internal/upstream"
	"github.com/poemonsense/antigravity-proxy-go/internal/warmup"
)

const version = "1.0.0"

func main() {
	var (
		debugMode   bool
		port        int
		host        string
		configPath  string
		accountsDir string
	)
	flag.BoolVar(&debugMode, "debug", false, "Enable debug logging")
	flag.IntVar(&port, "port", 0, "Server port (default: 8080)")
	flag.StringVar(&host, "host", "", "Bind address (default: 0.0.0.0)")
	flag.StringVar(&configPath, "config", "", "Path to a JSON config file")
	flag.StringVar(&accountsDir, "accounts-dir", "", "Directory holding one JSON file per account")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Warn("[startup] failed to load config: %v", err)
	}
	if port != 0 {
		cfg.Port = port
	}
	if host != "" {
		cfg.Host = host
	}
	if debugMode {
		cfg.Debug = true
	}
	logging.SetDebug(cfg.Debug)

	if accountsDir == "" {
		accountsDir = defaultAccountsDir()
	}
	store, err := accountstore.New(accountsDir)
	if err != nil {
		logging.Error("[startup] failed to open account store at %s: %v", accountsDir, err)
		os.Exit(1)
	}

	tracker := ratelimit.NewTracker()
	poolMgr := pool.NewManager(store, tracker, cfg)
	if err := poolMgr.LoadAccounts(); err != nil {
		logging.Error("[startup] failed to load accounts: %v", err)
		os.Exit(1)
	}
	stopCleanup := poolMgr.StartCleanupLoop()
	defer stopCleanup()

	clients := upstream.NewClientCache()
	sigCache := newSigCache(cfg)
	oauth := &warmup.OAuthRefresher{Pool: poolMgr, Store: store}

	dispatcher := &gateway.Dispatcher{
		Pool:     poolMgr,
		Tracker:  tracker,
		Clients:  clients,
		Cfg:      cfg,
		SigCache: sigCache,
		OAuth:    oauth,
	}

	history, err := warmup.OpenHistory(cfg.SqlitePath)
	if err != nil {
		logging.Error("[startup] failed to open warmup history at %s: %v", cfg.SqlitePath, err)
		os.Exit(1)
	}

	loopbackAddr := fmt.Sprintf("%s:%d", loopbackHost(cfg.Host), cfg.Port)
	scheduler := warmup.NewScheduler(
		&warmup.PoolAccountSource{Pool: poolMgr},
		oauth,
		&warmup.CloudCodeQuotaFetcher{Pool: poolMgr},
		&warmup.LoopbackTaskRunner{Addr: loopbackAddr},
		history,
		cfg.WarmupMonitoredModels,
	)
	var stopWarmup func()
	if cfg.WarmupEnabled {
		stopWarmup = scheduler.Start()
	}

	srv := server.New(cfg, dispatcher, poolMgr, scheduler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	go func() {
		if err := srv.Run(addr); err != nil {
			logging.Error("[startup] server failed: %v", err)
			os.Exit(1)
		}
	}()

	logging.Success("[startup] antigravity gateway v%s listening on %s (accounts: %d loaded from %s)",
		version, addr, poolMgr.Count(), accountsDir)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("[shutdown] signal received, draining...")
	if stopWarmup != nil {
		stopWarmup()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("[shutdown] forced: %v", err)
		os.Exit(1)
	}
	logging.Success("[shutdown] stopped cleanly")
}

// defaultAccountsDir mirrors the teacher's config-directory-under-home
// convention, renamed for this gateway's own identity.
func defaultAccountsDir() string {
	if v := os.Getenv("ACCOUNTS_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./accounts"
	}
	return filepath.Join(home, ".antigravity-gateway", "accounts")
}

// newSigCache backs the signature cache with Redis when configured,
// falling back to the in-memory layers otherwise (spec §4.2's C2 cache
// has no required persistence, so a failed Redis connection is a warning
// rather than a startup failure).
func newSigCache(cfg *config.Config) *sigcache.Cache {
	if cfg.RedisAddr == "" {
		return sigcache.New()
	}
	c, err := sigcache.NewWithRedis(sigcache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
	if err != nil {
		logging.Warn("[startup] redis unavailable at %s, using in-memory signature cache: %v", cfg.RedisAddr, err)
		return sigcache.New()
	}
	logging.Info("[startup] signature cache backed by redis at %s", cfg.RedisAddr)
	return c
}

// loopbackHost rewrites a wildcard bind address into one the warmup
// scheduler's own loopback client can actually dial (spec §4.11's
// "loopback, bypassing any outbound proxy" only holds if the address is
// connectable from the same process).
func loopbackHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::":
		return "127.0.0.1"
	default:
		return host
	}
}
