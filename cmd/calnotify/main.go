package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"calnotify/internal/config"
	"calnotify/internal/dispatch"
	"calnotify/internal/ics"
	"calnotify/internal/ledger"
	appLog "calnotify/internal/log"
	"calnotify/internal/notify"
	"calnotify/internal/web"
)

type flagConfig struct {
	configPath string
	once       bool
	dryRun     bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("calnotify starting",
		"calendar", conf.Calendar,
		"ledger_path", conf.LedgerPath,
		"cron", conf.Cron,
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

	var notifier notify.Notifier
	if flags.dryRun {
		notifier = notify.LogNotifier{}
	} else {
		if err := conf.Validate(); err != nil {
			appLog.Error("config incomplete", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		notifier = notify.NewTelegram(conf.WebhookURL)
	}

	loader := ics.NewLoader(conf.CacheDir)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if conf.Cron == "" || flags.once {
		// Single pass. Per-event failures are logged, not propagated:
		// the exit code stays 0 so an external timer keeps invoking us.
		runPass(ctx, conf, loader, notifier, flags.dryRun, nil)
		return
	}

	runCron(ctx, conf, loader, notifier, flags.dryRun)
}

// runPass is one full evaluation: read the calendar, load the ledger,
// dispatch. The ledger is opened fresh every pass so independent
// invocations observe each other's committed entries.
func runPass(ctx context.Context, conf *config.Config, loader *ics.Loader, notifier notify.Notifier, dryRun bool, status *web.Server) {
	started := time.Now()

	body, err := loader.Load(ctx, conf.Calendar)
	if err != nil {
		appLog.Error("calendar load failed", err, "calendar", conf.Calendar)
		return
	}

	events, err := ics.Parse(body)
	if err != nil {
		appLog.Error("calendar parse failed", err, "calendar", conf.Calendar)
		return
	}

	var led ledger.ProcessedLedger
	if dryRun {
		led = ledger.NewMemory()
	} else {
		fileLed, err := ledger.OpenFile(conf.LedgerPath)
		if err != nil {
			appLog.Error("ledger load failed", err, "ledger_path", conf.LedgerPath)
			return
		}
		led = fileLed
	}

	sum := dispatch.Run(ctx, events, led, notifier, conf.ChatID, time.Now())

	if status != nil {
		status.SetLastRun(web.RunReport{
			StartedAt:  started,
			FinishedAt: time.Now(),
			Summary:    sum,
		})
	}
}

// runCron runs passes on the configured schedule until the context is
// canceled. SkipIfStillRunning keeps the ledger read-then-append
// single-flight within this process; overlapping external invocations
// remain the scheduler's problem.
func runCron(ctx context.Context, conf *config.Config, loader *ics.Loader, notifier notify.Notifier, dryRun bool) {
	var status *web.Server
	if conf.Listen != "" {
		status = web.NewServer()
		srv := &http.Server{Addr: conf.Listen, Handler: status.Handler()}
		go func() {
			appLog.Info("status server listening", "listen", conf.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLog.Error("status server failed", err, "listen", conf.Listen)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(conf.Cron, func() {
		runPass(ctx, conf, loader, notifier, dryRun, status)
	}); err != nil {
		appLog.Error("invalid cron schedule", err, "cron", conf.Cron)
		os.Exit(1)
	}

	c.Start()
	appLog.Info("scheduler started", "cron", conf.Cron)

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("calnotify exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.BoolVar(&cfg.once, "once", false, "Run one evaluation pass and exit, even when a cron schedule is configured")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Log notifications instead of sending; do not touch the ledger file")

	flag.Parse()

	return cfg
}
