// File: cmd/queuectl/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ai-request-queue/internal/config"
	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/policy"
	"ai-request-queue/internal/domain/ports/adapter"
	"ai-request-queue/internal/infra/api"
	"ai-request-queue/internal/infra/audit"
	"ai-request-queue/internal/infra/fsqueue"
	"ai-request-queue/internal/infra/logging"
	"ai-request-queue/internal/infra/natsbus"
	red "ai-request-queue/internal/infra/redis"
	"ai-request-queue/internal/usecase"

	"github.com/rs/zerolog"
)

const usage = `usage: queuectl [--config path] [--dev] <command> [flags]

commands:
  scan [--dry-run]             run one stuck-request scan
  health                       print a health snapshot
  force-cleanup --yes          move every processing record to failed
  enqueue --prompt text [--session id]
  list [--state s] [--limit n]
  requeue-failed [id ...]      move failed records back to input (all when no ids)
  history [--limit n]          recent state transitions (needs audit.path)
  token [--subject s]          mint an admin API token
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// app holds the wiring shared by every command.
type app struct {
	cfg     *config.Config
	log     *zerolog.Logger
	scanner usecase.ScannerUseCase
	health  usecase.HealthUseCase
	queue   usecase.QueueUseCase
	history *audit.Log
	closers []func() error
}

func (a *app) close() {
	for _, c := range a.closers {
		_ = c()
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("queuectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	cfgPath := fs.String("config", "config.yaml", "path to YAML config file")
	devMode := fs.Bool("dev", false, "enable developer mode")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "token" {
		return cmdToken(cfg, rest, stdout, stderr)
	}

	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	defer a.close()

	switch cmd {
	case "scan":
		return a.cmdScan(ctx, rest, stdout, stderr)
	case "health":
		return printJSON(stdout, stderr, a.health.Snapshot(ctx))
	case "force-cleanup":
		return a.cmdForceCleanup(ctx, rest, stdout, stderr)
	case "enqueue":
		return a.cmdEnqueue(ctx, rest, stdout, stderr)
	case "list":
		return a.cmdList(ctx, rest, stdout, stderr)
	case "history":
		return a.cmdHistory(ctx, rest, stdout, stderr)
	case "requeue-failed":
		n, err := a.queue.RequeueFailed(ctx, rest)
		if err != nil {
			fmt.Fprintf(stderr, "requeue-failed: %v (requeued %d)\n", err, n)
			return 1
		}
		return printJSON(stdout, stderr, map[string]int{"requeued": n})
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger := logging.NewWithWriter(logOut, cfg.Log, cfg.Runtime.Dev)

	store := fsqueue.New(cfg.Queue.Root)
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("queue init: %w", err)
	}
	timeouts, err := cfg.Policy.TimeoutPolicy()
	if err != nil {
		return nil, fmt.Errorf("timeout policy: %w", err)
	}

	a := &app{cfg: cfg, log: logger}
	opts := usecase.ScannerOptions{
		AgeSource: usecase.AgeSource(cfg.Policy.AgeSource),
		LockKey:   cfg.Redis.LockKey,
		LockTTL:   cfg.Redis.LockTTL,
	}
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		opts.Locker = red.NewLocker(c)
	}

	// Operator actions land in the same history and event stream as the daemon's.
	var sinks []adapter.TransitionSink
	if cfg.Audit.Path != "" {
		h, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("audit log: %w", err)
		}
		a.closers = append(a.closers, h.Close)
		a.history = h
		sinks = append(sinks, h)
	}
	if cfg.NATS.URL != "" {
		bus, err := natsbus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, bus.Close)
		sinks = append(sinks, bus)
	}
	opts.Sink = usecase.FanOut(sinks...)

	scanner := usecase.NewScannerUseCase(store, timeouts, policy.NewClassifier(), opts, logger)
	a.scanner = scanner
	a.health = usecase.NewHealthUseCase(store, scanner, logger)
	a.queue = usecase.NewQueueUseCase(store, logger).WithSink(opts.Sink).WithDev(cfg.Runtime.Dev)
	return a, nil
}

func (a *app) cmdScan(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dry := fs.Bool("dry-run", false, "report decisions without moving records")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var (
		report *model.ScanReport
		err    error
	)
	if *dry {
		report, err = a.scanner.DryRun(ctx)
	} else {
		report, err = a.scanner.Scan(ctx)
	}
	if err != nil {
		fmt.Fprintf(stderr, "scan: %v\n", err)
		return 1
	}
	return printJSON(stdout, stderr, report)
}

func (a *app) cmdForceCleanup(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("force-cleanup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	yes := fs.Bool("yes", false, "confirm moving every processing record to failed")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !*yes {
		fmt.Fprintln(stderr, "force-cleanup moves every processing record to failed; rerun with --yes")
		return 2
	}
	res, err := a.scanner.ForceCleanupAll(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "force-cleanup: %v\n", err)
		return 1
	}
	a.log.Warn().Int("moved", res.Moved).Int("errors", res.Errors).Msg("force cleanup executed")
	return printJSON(stdout, stderr, res)
}

func (a *app) cmdEnqueue(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	prompt := fs.String("prompt", "", "request prompt")
	session := fs.String("session", "", "session id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	text := *prompt
	if text == "" {
		text = strings.Join(fs.Args(), " ")
	}
	rec, err := a.queue.Enqueue(ctx, text, *session)
	if err != nil {
		fmt.Fprintf(stderr, "enqueue: %v\n", err)
		return 1
	}
	return printJSON(stdout, stderr, rec)
}

func (a *app) cmdList(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	state := fs.String("state", string(model.StateProcessing), "queue state: input|processing|output|failed")
	limit := fs.Int("limit", 0, "max entries, 0 for all")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	st, err := model.ParseQueueState(*state)
	if err != nil {
		fmt.Fprintf(stderr, "list: %v\n", err)
		return 2
	}
	entries, err := a.queue.List(ctx, st, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "list: %v\n", err)
		return 1
	}
	if entries == nil {
		entries = []model.Entry{}
	}
	return printJSON(stdout, stderr, entries)
}

func (a *app) cmdHistory(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", 20, "max events, newest first")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if a.history == nil {
		fmt.Fprintln(stderr, "history: audit.path is not configured")
		return 1
	}
	events, err := a.history.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "history: %v\n", err)
		return 1
	}
	if events == nil {
		events = []model.TransitionEvent{}
	}
	return printJSON(stdout, stderr, events)
}

func cmdToken(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "admin", "token subject")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	auth := api.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	if auth == nil {
		fmt.Fprintln(stderr, "token: admin.jwt_secret is not configured")
		return 1
	}
	tok, err := auth.Mint(*subject)
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, tok)
	return 0
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return 0
		}
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}
