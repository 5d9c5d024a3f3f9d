package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alertlake/lakectl/internal/athena"
	"github.com/alertlake/lakectl/internal/catalog"
	"github.com/alertlake/lakectl/internal/common"
	"github.com/alertlake/lakectl/internal/config"
	"github.com/alertlake/lakectl/internal/observability"
	"github.com/alertlake/lakectl/internal/tables"
)

const usageText = `Usage: lakectl <command> [flags]

Commands:
  create-table       Create the table for one log type (or "alerts")
  create-log-tables  Create tables for every enabled log type
  rebuild-partitions Rebuild the partitions of an existing table
  drop-all-tables    Drop every table in the database
  sync-catalog       Register missing tables in the data catalog
  test-sentry        Send a test error to Sentry and exit
  version            Show version information

Run "lakectl <command> -h" for command flags.
`

// stringList collects repeated -override flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	command := os.Args[1]
	args := os.Args[2:]

	if command == "version" {
		fmt.Printf("lakectl %s\n", common.GetVersion())
		return
	}

	status, err := dispatch(command, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if status == tables.StatusFailed {
		os.Exit(1)
	}
}

func dispatch(command string, args []string) (tables.Status, error) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "configs/example.yaml", "Path to configuration file")

	switch command {
	case "create-table":
		table := fs.String("table", "", "Log type (or \"alerts\") to create the table for")
		bucket := fs.String("bucket", "", "Override the data bucket backing the table")
		var overrides stringList
		fs.Var(&overrides, "override", "Replace a column type, as column=type (repeatable)")
		fs.Parse(args)
		if *table == "" {
			return tables.StatusFailed, fmt.Errorf("-table is required")
		}
		return run(*configPath, func(ctx context.Context, d *tables.Driver) (tables.Status, error) {
			return d.CreateTable(ctx, *table, *bucket, overrides)
		})

	case "create-log-tables":
		fs.Parse(args)
		return run(*configPath, func(ctx context.Context, d *tables.Driver) (tables.Status, error) {
			return d.CreateLogTables(ctx)
		})

	case "rebuild-partitions":
		table := fs.String("table", "", "Table to rebuild partitions for")
		bucket := fs.String("bucket", "", "Override the data bucket backing the table")
		fs.Parse(args)
		if *table == "" {
			return tables.StatusFailed, fmt.Errorf("-table is required")
		}
		return run(*configPath, func(ctx context.Context, d *tables.Driver) (tables.Status, error) {
			return d.RebuildPartitions(ctx, *table, *bucket)
		})

	case "drop-all-tables":
		yes := fs.Bool("yes", false, "Skip the confirmation prompt")
		fs.Parse(args)
		return run(*configPath, func(ctx context.Context, d *tables.Driver) (tables.Status, error) {
			if *yes {
				d.AssumeYes()
			}
			return d.DropAllTables(ctx)
		})

	case "sync-catalog":
		fs.Parse(args)
		return run(*configPath, func(ctx context.Context, d *tables.Driver) (tables.Status, error) {
			return d.SyncCatalogTables(ctx)
		})

	case "test-sentry":
		fs.Parse(args)
		if err := runSentryTest(*configPath); err != nil {
			return tables.StatusFailed, err
		}
		return tables.StatusApplied, nil

	default:
		fmt.Fprint(os.Stderr, usageText)
		return tables.StatusFailed, fmt.Errorf("unknown command: %s", command)
	}
}

// run loads the configuration, wires logging, observability and the service
// clients, then executes one driver operation.
func run(configPath string, op func(context.Context, *tables.Driver) (tables.Status, error)) (tables.Status, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return tables.StatusFailed, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create logger core (allows wrapping for NewRelic)
	loggerCore, err := common.NewLoggerCore(&cfg.Logging)
	if err != nil {
		return tables.StatusFailed, fmt.Errorf("failed to create logger core: %w", err)
	}

	// Build initial logger for observability manager initialization
	initialLogger := loggerCore.BuildLogger(loggerCore.Core)

	obsManager, err := observability.NewManager(
		&cfg.Observability,
		common.LoggerWithComponent(initialLogger, "observability"),
	)
	if err != nil {
		return tables.StatusFailed, fmt.Errorf("failed to create observability manager: %w", err)
	}
	defer func() {
		if err := obsManager.Stop(); err != nil {
			initialLogger.Warn("Error stopping observability manager", zap.Error(err))
		}
	}()

	// Build final logger with potentially wrapped core
	logger := loggerCore.BuildLogger(obsManager.WrapZapCore(loggerCore.Core))
	defer logger.Sync()

	region := cfg.Global.Account.Region

	queryClient, err := athena.NewClient(region, cfg.DatabaseName(), cfg.ResultsBucket(),
		common.LoggerWithComponent(logger, "athena"))
	if err != nil {
		return tables.StatusFailed, fmt.Errorf("failed to create Athena client: %w", err)
	}

	catalogClient, err := catalog.NewClient(region, cfg.CatalogName(),
		common.LoggerWithComponent(logger, "catalog"))
	if err != nil {
		return tables.StatusFailed, fmt.Errorf("failed to create Glue client: %w", err)
	}

	driver := tables.NewDriver(cfg, queryClient, catalogClient,
		common.LoggerWithComponent(logger, "tables"))

	ctx := context.Background()

	exists, err := queryClient.CheckDatabaseExists(ctx)
	if err != nil {
		return tables.StatusFailed, fmt.Errorf("failed to check database %s: %w", cfg.DatabaseName(), err)
	}
	if !exists {
		return tables.StatusFailed, fmt.Errorf("database %s does not exist", cfg.DatabaseName())
	}

	status, err := op(ctx, driver)
	if err != nil {
		obsManager.GetErrorReporter().CaptureError(ctx, err,
			observability.NewErrorContext("tables", "lifecycle").
				WithDatabase(cfg.DatabaseName()))
		logger.Error("Operation failed", zap.Error(err), zap.Stringer("status", status))
		return status, err
	}

	logger.Info("Operation finished", zap.Stringer("status", status))
	return status, nil
}

func runSentryTest(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Force enable error reporting for the test
	cfg.Observability.ErrorReporting.Enabled = true

	logger, err := common.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	obsManager, err := observability.NewManager(
		&cfg.Observability,
		common.LoggerWithComponent(logger, "observability"),
	)
	if err != nil {
		return fmt.Errorf("failed to create observability manager: %w", err)
	}

	testErr := fmt.Errorf("test error from lakectl: verifying Sentry integration at %s", time.Now().Format(time.RFC3339))

	logger.Info("Sending test error to Sentry...", zap.String("error", testErr.Error()))

	ctx := context.Background()
	obsManager.GetErrorReporter().CaptureError(ctx, testErr,
		observability.NewErrorContext("test", "sentry_verification").
			WithDatabase(cfg.DatabaseName()).
			WithExtra("test_key", "test_value"))

	obsManager.GetErrorReporter().CaptureMessage(ctx,
		"Test message from lakectl Sentry verification",
		observability.SeverityInfo,
		observability.NewErrorContext("test", "sentry_verification"))

	if !obsManager.GetErrorReporter().Flush(10 * time.Second) {
		logger.Warn("Flush timed out, some events may not have been sent")
	}

	if err := obsManager.Stop(); err != nil {
		logger.Warn("Error stopping observability manager", zap.Error(err))
	}

	logger.Info("Sentry test completed. Check your Sentry dashboard for the test error.")
	return nil
}
