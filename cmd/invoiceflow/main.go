package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoiceflow/internal/invoicing"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// Load .env before flags so INVOICEFLOW_* values in it are seen by ff
	path := envFile(os.Args[1:])
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading %s: %v\n", path, err)
		os.Exit(1)
	}

	rootFlags := ff.NewFlagSet("invoiceflow")
	cfg := registerConfig(rootFlags)
	rootCmd := &ff.Command{
		Name:      "invoiceflow",
		Usage:     "invoiceflow [FLAGS] <SUBCOMMAND>",
		ShortHelp: "Expense tracking and invoicing for freelancers",
		Flags:     rootFlags,
	}

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	var (
		port          = serveFlags.IntLong("port", 3000, "HTTP server port")
		authUser      = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = serveFlags.StringLong("auth-pass", "", "Basic auth password or bcrypt hash (optional)")
		cronSecret    = serveFlags.StringLong("cron-secret", "", "Bearer token for the cron endpoint (or set CRON_SECRET env var)")
		sweepInterval = serveFlags.DurationLong("sweep-interval", 0, "Run the overdue sweep in-process at this interval (0 disables)")
	)
	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "invoiceflow serve [FLAGS]",
		ShortHelp: "Run the HTTP API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return serve(ctx, cfg, serveOptions{
				addr:          fmt.Sprintf(":%d", *port),
				auth:          invoicing.BasicAuth{Username: *authUser, Password: *authPass},
				cronSecret:    firstNonEmpty(*cronSecret, os.Getenv("CRON_SECRET")),
				sweepInterval: *sweepInterval,
			})
		},
	}

	sweepCmd := &ff.Command{
		Name:      "sweep",
		Usage:     "invoiceflow sweep [FLAGS]",
		ShortHelp: "Mark overdue invoices and send reminders once, then exit",
		Flags:     ff.NewFlagSet("sweep").SetParent(rootFlags),
		Exec: func(ctx context.Context, args []string) error {
			return sweepOnce(ctx, cfg)
		},
	}

	rootCmd.Subcommands = []*ff.Command{serveCmd, sweepCmd}

	if err := rootCmd.Parse(os.Args[1:], ff.WithEnvVarPrefix("INVOICEFLOW")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(rootCmd.GetSelected()))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := setupLogging(*cfg.logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(rootCmd))
			os.Exit(1)
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// envFile finds --env-file among raw args, since it has to be read before parsing
func envFile(args []string) string {
	path := os.Getenv("INVOICEFLOW_ENV_FILE")
	for i, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--env-file="):
			path = strings.TrimPrefix(arg, "--env-file=")
		case arg == "--env-file" && i+1 < len(args):
			path = args[i+1]
		}
	}
	if path == "" {
		path = ".env"
	}
	return path
}

func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

type serveOptions struct {
	addr          string
	auth          invoicing.BasicAuth
	cronSecret    string
	sweepInterval time.Duration
}

func serve(ctx context.Context, cfg *config, opts serveOptions) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := invoicing.NewServer(a.service, opts.auth, opts.cronSecret)

	if opts.auth.Username != "" || opts.auth.Password != "" {
		slog.Info("Basic auth enabled", "user", opts.auth.Username)
	}
	if opts.cronSecret == "" {
		slog.Warn("No cron secret configured; the cron endpoint will reject every request")
	}
	if opts.sweepInterval > 0 {
		go runSweeps(ctx, a.service, opts.sweepInterval)
	}

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", opts.addr))
	if err := server.Start(ctx, opts.addr); err != nil {
		return fmt.Errorf("serving http: %w", err)
	}
	slog.Info("Shutting down...")
	return nil
}

// runSweeps runs the overdue sweep on a ticker until ctx is cancelled
func runSweeps(ctx context.Context, service *invoicing.Service, interval time.Duration) {
	slog.Info("Overdue sweep scheduled", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := service.Sweep(ctx); err != nil {
				if errors.Is(err, invoicing.ErrSweepInProgress) {
					slog.Info("Skipping overdue sweep; one is already running")
					continue
				}
				slog.Error("Overdue sweep failed", "error", err)
			}
		}
	}
}

func sweepOnce(ctx context.Context, cfg *config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.service.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("running overdue sweep: %w", err)
	}
	return json.NewEncoder(os.Stdout).Encode(result)
}
