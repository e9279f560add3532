package main

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-automation/internal/config"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// defaultProjectID scopes every rule and event in single-tenant mode.
var defaultProjectID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// command runs a subcommand with the remaining arguments and returns its
// exit code.
type command func(args []string, stdout, stderr io.Writer) int

var commands = map[string]command{
	"serve":    func([]string, io.Writer, io.Writer) int { return runServe() },
	"validate": runValidate,
	"config":   runConfig,
	"rules":    runRules,
	"version":  runVersion,
}

func main() {
	os.Exit(run(os.Args[1:], cmdStdout, cmdStderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return exitRuntimeError
	}

	switch args[0] {
	case "--help", "-h", "help":
		printUsage(stdout)
		return exitSuccess
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return exitRuntimeError
	}
	return cmd(args[1:], stdout, stderr)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `easyauto - event-driven automation rules for tasks

Usage:
  easyauto <command>

Commands:
  serve                 Start the rule engine, scheduler, dispatcher and API
  validate              Validate configuration (no connections made)
  config                Print effective configuration as JSON (secrets masked)
  rules lint <file>     Validate a YAML rule file (no connections made)
  rules import <file>   Validate a YAML rule file and upsert its rules
  version               Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for firing analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")
  TICK_INTERVAL             Scheduler tick interval (default: "30s")
  SCHEDULER_BATCH_SIZE      Scheduled rules loaded per page (default: "500")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  Dispatcher firing drain timeout (default: "30s")
  EVENTBUS_BUFFER_SIZE      Buffered firings awaiting dispatch (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a webhook URL is skipped, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Time before a skipped URL is retried (default: "2m")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  RECONCILE_ENABLED         Re-emit firings that were never dispatched (default: "false")
  RECONCILE_INTERVAL        How often to scan for orphans (default: "5m")
  RECONCILE_THRESHOLD       Age before a firing is orphaned (default: "20m")
  RECONCILE_MAX_AGE         Age after which an orphan is marked failed, 0 to disable (default: "24h")
  RECONCILE_BATCH_SIZE      Max orphans per cycle (default: "100")

  LEADER_ELECTION_ENABLED   Run scheduler and reconciler on one instance only (default: "false")
  LEADER_LOCK_KEY           Postgres advisory lock key (default: "728379")
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")

  RULES_FILE                YAML rule file imported at startup and on change (optional)
  RULE_REFRESH_INTERVAL     How often the rule index is reloaded (default: "1m")`)
}

// openDatabase opens and pings a pooled PostgreSQL connection.
func openDatabase(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("easyauto: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func runValidate(_ []string, stdout, stderr io.Writer) int {
	if err := config.Validate(config.Load()); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Fprintln(stdout, "configuration valid")
	return exitSuccess
}

func runConfig(_ []string, stdout, stderr io.Writer) int {
	data, err := config.Load().MaskedJSON()
	if err != nil {
		fmt.Fprintf(stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Fprintln(stdout, string(data))
	return exitSuccess
}

func runVersion(_ []string, stdout, _ io.Writer) int {
	fmt.Fprintf(stdout, "easyauto version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
