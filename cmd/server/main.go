package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/slurmproxy/internal/config"
	"github.com/me/slurmproxy/internal/logging"
	"github.com/me/slurmproxy/internal/monitor"
	"github.com/me/slurmproxy/internal/normalize"
	"github.com/me/slurmproxy/internal/notify"
	"github.com/me/slurmproxy/internal/pipeline"
	"github.com/me/slurmproxy/internal/server"
	"github.com/me/slurmproxy/internal/slurm"
	"github.com/me/slurmproxy/internal/store"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path (default ~/.slurm-proxy/proxy.db)")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Scheduler poll interval")
	flag.StringVar(&cfg.TemplateFile, "templates", cfg.TemplateFile, "Extra task templates (YAML)")
	configFile := flag.String("config", "", "Path to YAML config file (gateway, notifications)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")

	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}
	if *configFile != "" {
		if err := config.LoadFile(&cfg, *configFile); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}
	config.ApplyEnv(&cfg)

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Resolve database path.
	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".slurm-proxy")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		dbPath = filepath.Join(dir, "proxy.db")
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", dbPath)

	// Template registry.
	registry := normalize.NewRegistry()
	if cfg.TemplateFile != "" {
		if err := registry.LoadTemplates(cfg.TemplateFile); err != nil {
			fmt.Fprintf(os.Stderr, "load templates: %v\n", err)
			os.Exit(1)
		}
		logger.Info("templates loaded", "path", cfg.TemplateFile)
	}

	// Scheduler gateway.
	primary, err := buildChannel(cfg.Gateway, cfg.Gateway.Primary, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure primary channel: %v\n", err)
		os.Exit(1)
	}
	var secondary slurm.Channel
	if cfg.Gateway.Secondary != "" {
		secondary, err = buildChannel(cfg.Gateway, cfg.Gateway.Secondary, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configure secondary channel: %v\n", err)
			os.Exit(1)
		}
	}
	gateway := slurm.NewGateway(primary, secondary, slurm.GatewayOptions{
		Timeout:     cfg.Gateway.Timeout,
		MaxRetries:  cfg.Gateway.MaxRetries,
		RetryDelay:  cfg.Gateway.RetryDelay,
		MaxInFlight: cfg.Gateway.MaxInFlight,
	}, logger)
	logger.Info("gateway ready",
		"primary", cfg.Gateway.Primary, "secondary", cfg.Gateway.Secondary)

	// Notification dispatcher.
	dispatcher := notify.NewDispatcher(logger,
		notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.Notify.SMTP.Host,
			Port:     cfg.Notify.SMTP.Port,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
		}, logger),
		notify.NewSlackSender(cfg.Notify.Slack.WebhookURL, logger),
		notify.NewWebhookSender(cfg.Notify.Webhook.URL, logger),
		notify.NewTestSender(),
	)

	pl := pipeline.New(gateway, st, logger)
	loop := monitor.NewLoop(st, gateway, dispatcher, monitor.Config{
		PollInterval: cfg.PollInterval,
		MaxAge:       cfg.MonitorMaxAge,
	}, logger)

	srv := server.New(cfg, st, registry, pl, gateway, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := loop.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("monitor loop stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// buildChannel constructs one named scheduler channel from configuration.
func buildChannel(cfg config.GatewayConfig, name string, logger *slog.Logger) (slurm.Channel, error) {
	switch name {
	case "rest":
		if cfg.REST.BaseURL == "" {
			return nil, fmt.Errorf("rest channel requires a base URL")
		}
		return slurm.NewRESTChannel(slurm.RESTConfig{
			BaseURL:       cfg.REST.BaseURL,
			ParserVersion: cfg.REST.ParserVersion,
			Username:      cfg.REST.Username,
			Token:         cfg.REST.Token,
		}, logger), nil
	case "ssh":
		if cfg.SSH.Host == "" {
			return nil, fmt.Errorf("ssh channel requires a host")
		}
		runner := slurm.NewSSHRunner(slurm.SSHRunnerConfig{
			Host:           cfg.SSH.Host,
			User:           cfg.SSH.User,
			PrivateKeyPath: cfg.SSH.PrivateKeyPath,
		}, logger)
		return slurm.NewSSHChannel(runner, logger), nil
	default:
		return nil, fmt.Errorf("unknown channel %q (want rest or ssh)", name)
	}
}
