package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aegis-foundation/aegis/pkg/config"
	"github.com/aegis-foundation/aegis/pkg/governance"
	"github.com/aegis-foundation/aegis/pkg/observability"
	"github.com/aegis-foundation/aegis/pkg/telemetry"
	"github.com/aegis-foundation/aegis/pkg/throttle"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. Split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(nil, stderr)
	}
	switch args[1] {
	case "serve":
		return runServe(args[2:], stderr)
	case "version":
		fmt.Fprintf(stdout, "aegis %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return runServe(args[1:], stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Aegis governance engine")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  aegis <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve     Run the governance sweep loop (default)")
	fmt.Fprintln(w, "  version   Show version information")
	fmt.Fprintln(w, "  help      Show this help")
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		collectorURL string
		agentList    string
		profileDir   string
		profileCode  string
		postgresDSN  string
		redisAddr    string
		redisDB      int
		auditPath    string
		interval     time.Duration
	)
	fs.StringVar(&collectorURL, "collector", "http://localhost:9464", "Base URL of the telemetry collector")
	fs.StringVar(&agentList, "agents", "", "Comma-separated agent IDs to govern")
	fs.StringVar(&profileDir, "profile-dir", "", "Directory holding governance profile YAML files")
	fs.StringVar(&profileCode, "profile", "", "Profile code to load (e.g. strict, lenient)")
	fs.StringVar(&postgresDSN, "postgres", os.Getenv("AEGIS_POSTGRES_DSN"), "Postgres DSN for penalty state (in-memory when empty)")
	fs.StringVar(&redisAddr, "redis", os.Getenv("AEGIS_REDIS_ADDR"), "Redis address for throttles and the event bus (in-memory when empty)")
	fs.IntVar(&redisDB, "redis-db", 0, "Redis database number")
	fs.StringVar(&auditPath, "audit", "aegis-audit.db", "SQLite audit log path (empty disables auditing)")
	fs.DurationVar(&interval, "interval", time.Minute, "Sweep interval")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := slog.Default().With("component", "aegis")

	cfg := config.FromEnv()
	if profileCode != "" {
		profile, err := config.LoadProfile(profileDir, profileCode)
		if err != nil {
			logger.Error("profile load failed", "profile", profileCode, "error", err)
			return 1
		}
		cfg = &profile.Config
		logger.Info("profile loaded", "profile", profile.Name, "code", profile.Code)
	}

	engine := governance.NewEngine(cfg, &httpSource{base: strings.TrimRight(collectorURL, "/")})

	if postgresDSN != "" {
		db, err := sql.Open("postgres", postgresDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			return 1
		}
		defer func() { _ = db.Close() }()
		store := governance.NewPostgresStore(db)
		engine.SetStores(store, store)
		logger.Info("penalty state on postgres")
	}

	if redisAddr != "" {
		engine.SetThrottleStore(throttle.NewRedisStore(redisAddr, os.Getenv("AEGIS_REDIS_PASSWORD"), redisDB))
		engine.SetPublisher(governance.NewRedisPublisher(redisAddr, os.Getenv("AEGIS_REDIS_PASSWORD"), redisDB))
		logger.Info("throttles and event bus on redis", "addr", redisAddr)
	}

	if auditPath != "" {
		auditLog, err := governance.OpenSQLiteAuditLog(auditPath)
		if err != nil {
			logger.Error("audit log open failed", "path", auditPath, "error", err)
			return 1
		}
		defer func() { _ = auditLog.Close() }()
		engine.SetAuditLog(auditLog)
	}

	if recorder, err := observability.NewRecorder(); err != nil {
		logger.Warn("metrics recorder unavailable", "error", err)
	} else {
		engine.SetRecorder(recorder)
	}

	fleet := governance.NewFleet()
	for _, id := range strings.Split(agentList, ",") {
		if id = strings.TrimSpace(id); id != "" {
			fleet.Register(id)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := governance.NewSweeper(engine, fleet, interval)
	sweeper.Start(ctx)
	logger.Info("governance loop started", "interval", interval, "collector", collectorURL)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	cancel()
	sweeper.Stop()
	return 0
}

// httpSource pulls per-agent metrics from the fleet's telemetry
// collector.
type httpSource struct {
	base   string
	client http.Client
}

func (s *httpSource) AgentMetrics(ctx context.Context, agentID string) (*telemetry.Metrics, error) {
	url := fmt.Sprintf("%s/agents/%s/metrics", s.base, agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collector request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collector returned %d for agent %s", resp.StatusCode, agentID)
	}
	var m telemetry.Metrics
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode collector response: %w", err)
	}
	return &m, nil
}
