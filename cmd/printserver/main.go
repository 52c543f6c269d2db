package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/automaxprocs/maxprocs"

	"printserver/internal/app"
	"printserver/internal/handlers"
	"printserver/internal/printer"
	"printserver/internal/render"
	"printserver/internal/spool"
	u "printserver/internal/utils"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	if flags.version {
		fmt.Println(Version)
		return nil
	}

	var cfg u.Config
	if flags.config != "" {
		cfg = u.LoadFrom(flags.config)
	} else {
		cfg = u.LoadConfig()
	}
	if flags.logLevel != "" {
		cfg.Logger.Level = flags.logLevel
	}

	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	// Error ignored: maxprocs.Set only fails on an invalid GOMAXPROCS env value.
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, a ...interface{}) {
		u.Debug(fmt.Sprintf(format, a...))
	}))

	sm, err := spool.NewManager(cfg.Print.SpoolDir)
	if err != nil {
		return fmt.Errorf("spool dir: %w", err)
	}

	var rdb *redis.Client
	if cfg.Cache.PDFCacheEnabled {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.PDFCacheDB,
		})
		defer rdb.Close()
		u.Info("PDF cache enabled", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.PDFCacheDB, "ttl", cfg.Cache.PDFCacheTTL.String())
	}

	renderer := render.NewChromeRenderer(cfg)
	defer renderer.Close()

	cups := printer.NewCUPS(cfg)

	app := app.SetupApp(cfg, handlers.Deps{
		Renderer:   renderer,
		Markdown:   render.NewMarkdownConverter(),
		Dispatcher: cups,
		Directory:  cups,
		Spool:      sm,
		Redis:      rdb,
	})

	u.Info("Print server starting", "addr", cfg.Addr(), "version", Version, "chrome_pool_size", cfg.PDF.ChromePoolSize)

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
	return nil
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	listenErr := make(chan error, 1)
	go func() {
		if err := app.Listen(cfg.Addr()); err != nil {
			listenErr <- err
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)

	select {
	case <-sigint:
		u.Warn("Shutdown signal received, closing server...")
	case err := <-listenErr:
		u.Error("Server error", "error", err)
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
