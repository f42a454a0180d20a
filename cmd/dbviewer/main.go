package main

import (
	"context"
	"dbviewer/internal/api"
	"dbviewer/internal/config"
	"dbviewer/internal/data"
	"dbviewer/internal/logger"
	"dbviewer/internal/service"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Check for CLI subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "check":
			os.Exit(handleCheck(os.Args[2:]))
		case "browse":
			os.Exit(handleBrowse(os.Args[2:]))
		case "help", "--help", "-h":
			printHelp()
			return
		default:
			fmt.Printf("Unknown command: %s\n", os.Args[1])
			printHelp()
			os.Exit(1)
		}
	}

	// No subcommand — start server
	if err := startServer(); err != nil {
		fmt.Fprintf(os.Stderr, "dbviewer: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("DB Viewer - PostgreSQL table browser backend")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dbviewer                                        Start the server")
	fmt.Println("  dbviewer check -url <host[:port]> -u <user> -d <db>  Test a connection (password prompted)")
	fmt.Println("  dbviewer check -direct <postgres://...>           Test a connection URL")
	fmt.Println("  dbviewer browse [-server <url>] [-table <name>]   Browse through a running server")
	fmt.Println("  dbviewer help                                   Show this help")
}

func startServer() error {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w (check .env or DBVIEWER_KEY)", err)
	}

	// 2. Initialize Logger
	if err := logger.Init(cfg.LogDir, cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	log := logger.Log
	log.Info("Starting DB Viewer...")

	// 3. Initialize DB
	db, err := data.InitDB(filepath.Join(cfg.DataDir, "dbviewer.db"))
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer db.Close()

	// 4. Initialize Repos and Services
	cryptoSvc, err := service.NewEncryptionService(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to init crypto service: %w", err)
	}
	sessionRepo := data.NewSessionRepo(db, cryptoSvc)
	auditRepo := data.NewAuditRepo(db)

	opener := service.PostgresOpener(service.PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	sessions := service.NewSessionManager(opener, sessionRepo, service.ManagerOptions{
		ConnectTimeout: cfg.ConnectTimeout,
		SSLMode:        cfg.DefaultSSLMode,
		Logger:         log,
	})
	defer sessions.Close()
	tables := service.NewTableService(sessions, auditRepo, service.TableOptions{
		QueryTimeout:    cfg.QueryTimeout,
		ListRowsRetries: cfg.ListRowsRetries,
		Logger:          log,
	})

	// 5. Initialize Handlers
	hashKey, err := service.DeriveKey(cfg.SecretKey, service.PurposeCookieHash, 32)
	if err != nil {
		return err
	}
	blockKey, err := service.DeriveKey(cfg.SecretKey, service.PurposeCookieEnc, 32)
	if err != nil {
		return err
	}
	cookies := api.NewSessionCookies(hashKey, blockKey, cfg.CookieSecure, cfg.SessionMaxAge)

	// Rate Limiters
	connectLimiter := api.NewRateLimiter(10, 5) // 10 req/min, burst 5 (credential guessing)
	apiLimiter := api.NewRateLimiter(600, 60)
	defer connectLimiter.Stop()
	defer apiLimiter.Stop()

	handler := api.NewHandler(sessions, tables, auditRepo, cookies, api.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		ConnectLimiter: connectLimiter,
		APILimiter:     apiLimiter,
		Logger:         log,
	})

	// 6. Start Server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Server listening on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server startup failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		purgeSessions(gctx, sessionRepo, cfg.SessionMaxAge)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}

// purgeSessions drops persisted configs whose cookie can no longer be
// presented.
func purgeSessions(ctx context.Context, repo *data.SessionRepo, maxAge time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := repo.PurgeOlderThan(time.Now().Add(-maxAge))
		if err != nil {
			logger.Log.WithError(err).Warn("purging expired sessions failed")
		} else if n > 0 {
			logger.Log.WithField("count", n).Info("purged expired sessions")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
