// Package tables drives table lifecycle operations against the query and
// catalog services: create, drop-all, partition rebuild and batch catalog
// sync. The driver builds statements, delegates execution to clients, and
// reports a tri-state Status plus an error for everything that went wrong.
package tables

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/alertlake/lakectl/internal/alert"
	"github.com/alertlake/lakectl/internal/athena"
	"github.com/alertlake/lakectl/internal/config"
	"github.com/alertlake/lakectl/internal/schema"
)

// alertsTable is a virtual table: its schema comes from a synthetic alert
// record rather than the logs configuration.
const alertsTable = "alerts"

// QueryClient is the query service surface the driver needs. Satisfied by
// *athena.Client.
type QueryClient interface {
	RunQuery(ctx context.Context, query string) error
	CheckTableExists(ctx context.Context, name string) (bool, error)
	GetTablePartitions(ctx context.Context, name string) ([]string, error)
	DropTable(ctx context.Context, name string) error
	DropAllTables(ctx context.Context) error
	Database() string
}

// CatalogClient is the data catalog surface the driver needs. Satisfied by
// *catalog.Client.
type CatalogClient interface {
	ListTables(ctx context.Context) ([]string, error)
	CreateTable(ctx context.Context, name string, columns map[string]string, location string) error
}

type Driver struct {
	cfg     *config.Config
	query   QueryClient
	catalog CatalogClient
	logger  *zap.Logger

	// confirmIn feeds the drop-all-tables prompt; stdin outside of tests.
	confirmIn io.Reader
	assumeYes bool

	// fallbackDir receives partitions_<table>.txt when a rebuild cannot be
	// executed; the working directory outside of tests.
	fallbackDir string

	persist func(*config.Config) error
}

func NewDriver(cfg *config.Config, query QueryClient, catalog CatalogClient, logger *zap.Logger) *Driver {
	return &Driver{
		cfg:         cfg,
		query:       query,
		catalog:     catalog,
		logger:      logger,
		confirmIn:   os.Stdin,
		fallbackDir: ".",
		persist:     (*config.Config).Save,
	}
}

// AssumeYes skips interactive confirmation prompts.
func (d *Driver) AssumeYes() {
	d.assumeYes = true
}

// CreateTable creates the table backing a log type (or the alerts virtual
// table) at s3://{bucket}/{table}/. An empty bucket falls back to the
// configured ingestion bucket. Overrides are "column=type" pairs replacing
// the configured type of an existing column.
func (d *Driver) CreateTable(ctx context.Context, table, bucket string, overrides []string) (Status, error) {
	if bucket == "" {
		bucket = d.cfg.FirehoseBucket()
	}

	sanitized := schema.SanitizeTableName(table)

	enabled := d.enabledLogSources()
	logKey, isLog := enabled[sanitized]
	if sanitized != alertsTable && !isLog {
		return StatusFailed, fmt.Errorf("table %s is missing from configuration or is not enabled", sanitized)
	}

	exists, err := d.query.CheckTableExists(ctx, sanitized)
	if err != nil {
		return StatusFailed, fmt.Errorf("failed to check table existence: %w", err)
	}
	if exists {
		d.logger.Info("Table already exists, nothing to do", zap.String("table", sanitized))
		return StatusUnchanged, nil
	}

	var statement string
	if table == alertsTable {
		statement, err = d.alertsCreateStatement(bucket)
	} else {
		statement, err = d.logCreateStatement(logKey, sanitized, bucket, overrides)
	}
	if err != nil {
		return StatusFailed, err
	}

	if err := d.query.RunQuery(ctx, statement); err != nil {
		return StatusFailed, fmt.Errorf("failed to create table %s: %w", sanitized, err)
	}

	if table != alertsTable {
		if err := d.registerPartitionBucket(bucket); err != nil {
			return StatusFailed, fmt.Errorf("table %s created but bucket registration failed: %w", sanitized, err)
		}
	}

	d.logger.Info("Table successfully created",
		zap.String("table", sanitized),
		zap.String("bucket", bucket))

	return StatusApplied, nil
}

// alertsCreateStatement derives the alerts table from a synthetic
// fully-populated alert record.
func (d *Driver) alertsCreateStatement(bucket string) (string, error) {
	record := alert.New("temp_rule_name", nil, nil).OutputDict()

	athenaSchema, err := schema.ToAthenaSchema(schema.RecordToSchema(record))
	if err != nil {
		return "", fmt.Errorf("failed to derive alerts schema: %w", err)
	}

	return schema.CreateTableStatement(athenaSchema, alertsTable, bucket)
}

// logCreateStatement builds the CREATE statement for a configured log type,
// appending the envelope_keys struct column and applying overrides.
func (d *Driver) logCreateStatement(logKey, sanitized, bucket string, overrides []string) (string, error) {
	logCfg := d.cfg.Logs[logKey]

	athenaSchema, err := schema.ToAthenaSchema(schema.SanitizeKeys(logCfg.Schema))
	if err != nil {
		return "", fmt.Errorf("invalid schema for log %s: %w", logKey, err)
	}

	if len(logCfg.Configuration.EnvelopeKeys) > 0 {
		envelope, err := schema.ToAthenaSchema(schema.SanitizeKeys(logCfg.Configuration.EnvelopeKeys))
		if err != nil {
			return "", fmt.Errorf("invalid envelope keys for log %s: %w", logKey, err)
		}
		fields := make(map[string]string, len(envelope))
		for name, columnType := range envelope {
			if columnType.Struct != nil {
				return "", fmt.Errorf("envelope key %s of log %s must be a primitive type", name, logKey)
			}
			fields[name] = columnType.Primitive
		}
		athenaSchema["envelope_keys"] = schema.ColumnType{Struct: fields}
	}

	d.applyOverrides(athenaSchema, overrides)

	return schema.CreateTableStatement(athenaSchema, sanitized, bucket)
}

// applyOverrides replaces column types in place. An override naming a column
// that is not in the schema is skipped with a warning; the override's type
// text is taken verbatim.
func (d *Driver) applyOverrides(athenaSchema schema.AthenaSchema, overrides []string) {
	for _, override := range overrides {
		column, columnType, ok := strings.Cut(override, "=")
		if !ok || column == "" || columnType == "" {
			d.logger.Warn("Invalid schema override, use column_name=type",
				zap.String("override", override))
			continue
		}

		if _, exists := athenaSchema[column]; !exists {
			d.logger.Warn("Schema override column not found, skipping",
				zap.String("column", column))
			continue
		}

		athenaSchema[column] = schema.ColumnType{Primitive: columnType}
		d.logger.Info("Applied schema override",
			zap.String("column", column),
			zap.String("type", columnType))
	}
}

// registerPartitionBucket records the bucket for the partition refresh
// function and persists a new config snapshot if it was not yet registered.
func (d *Driver) registerPartitionBucket(bucket string) error {
	next, changed := d.cfg.WithPartitionBucket(bucket)
	if !changed {
		return nil
	}

	if err := d.persist(next); err != nil {
		return err
	}

	d.cfg = next
	d.logger.Info("Registered bucket for partition refresh", zap.String("bucket", bucket))
	return nil
}

// DropAllTables drops every table in the database after interactive
// confirmation. A declined prompt performs no client calls.
func (d *Driver) DropAllTables(ctx context.Context) (Status, error) {
	if !d.confirm(fmt.Sprintf("Are you sure you want to drop all tables from database %s?", d.query.Database())) {
		d.logger.Info("Aborted, no tables dropped")
		return StatusUnchanged, nil
	}

	if err := d.query.DropAllTables(ctx); err != nil {
		return StatusFailed, fmt.Errorf("failed to drop all tables from database %s: %w", d.query.Database(), err)
	}

	d.logger.Info("Successfully dropped all tables",
		zap.String("database", d.query.Database()))

	return StatusApplied, nil
}

func (d *Driver) confirm(message string) bool {
	if d.assumeYes {
		return true
	}

	fmt.Fprintf(os.Stderr, "%s (y/N): ", message)

	line, err := bufio.NewReader(d.confirmIn).ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// RebuildPartitions drops and recreates a table, then re-registers its
// previously existing partitions. An empty bucket falls back to the
// configured ingestion bucket. The ALTER statement is built and checked
// against the query size limit before anything is dropped, so an oversized
// partition set fails the operation without touching the table.
func (d *Driver) RebuildPartitions(ctx context.Context, table, bucket string) (Status, error) {
	if bucket == "" {
		bucket = d.cfg.FirehoseBucket()
	}

	sanitized := schema.SanitizeTableName(table)

	partitions, err := d.query.GetTablePartitions(ctx, sanitized)
	if err != nil {
		return StatusFailed, fmt.Errorf("failed to fetch partitions for %s: %w", sanitized, err)
	}
	if len(partitions) == 0 {
		d.logger.Info("No partitions to rebuild, nothing to do", zap.String("table", sanitized))
		return StatusUnchanged, nil
	}

	statement, err := schema.AddPartitionStatement(partitions, bucket, sanitized)
	if err != nil {
		return StatusFailed, fmt.Errorf("failed to build partition statement for %s: %w", sanitized, err)
	}

	if len(statement) > athena.MaxQueryLength {
		path, writeErr := d.writePartitionFallback(sanitized, statement)
		if writeErr != nil {
			return StatusFailed, fmt.Errorf("partition statement exceeds query size limit and could not be saved: %w", writeErr)
		}
		d.logger.Error("Partition statement too large, wrote to local file for manual execution",
			zap.String("table", sanitized),
			zap.String("file", path),
			zap.Int("statement_length", len(statement)))
		return StatusFailed, fmt.Errorf("partition statement for %s exceeds query size limit of %d", sanitized, athena.MaxQueryLength)
	}

	d.logger.Info("Dropping table", zap.String("table", sanitized))
	if err := d.query.DropTable(ctx, sanitized); err != nil {
		return StatusFailed, fmt.Errorf("failed to drop table %s: %w", sanitized, err)
	}

	d.logger.Info("Recreating table", zap.String("table", sanitized))
	if status, err := d.CreateTable(ctx, table, bucket, nil); err != nil || status != StatusApplied {
		// The table is gone at this point. Persist the partition statement
		// so the rebuild can be finished by hand once the create succeeds.
		if path, writeErr := d.writePartitionFallback(sanitized, statement); writeErr == nil {
			d.logger.Error("Table dropped but recreation failed, saved partition statement for recovery",
				zap.String("table", sanitized),
				zap.String("file", path))
		}
		if err == nil {
			err = fmt.Errorf("recreating table %s reported %s", sanitized, status)
		}
		return StatusFailed, err
	}

	d.logger.Info("Re-registering partitions",
		zap.String("table", sanitized),
		zap.Int("partitions", len(partitions)))

	if err := d.query.RunQuery(ctx, statement); err != nil {
		if path, writeErr := d.writePartitionFallback(sanitized, statement); writeErr == nil {
			d.logger.Error("Partition statement failed, saved to local file for manual execution",
				zap.String("table", sanitized),
				zap.String("file", path))
		}
		return StatusFailed, fmt.Errorf("failed to re-register partitions for %s: %w", sanitized, err)
	}

	d.logger.Info("Successfully rebuilt partitions", zap.String("table", sanitized))
	return StatusApplied, nil
}

func (d *Driver) writePartitionFallback(table, statement string) (string, error) {
	path := filepath.Join(d.fallbackDir, fmt.Sprintf("partitions_%s.txt", table))
	if err := os.WriteFile(path, []byte(statement), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// CreateLogTables creates the table for every enabled log source, skipping
// ones that already exist. A disabled ingestion pipeline makes the whole
// operation a no-op.
func (d *Driver) CreateLogTables(ctx context.Context) (Status, error) {
	if !d.cfg.Global.Infrastructure.Firehose.Enabled {
		d.logger.Info("Ingestion pipeline disabled, no log tables to create")
		return StatusUnchanged, nil
	}

	bucket := d.cfg.FirehoseBucket()
	enabled := d.enabledLogSources()

	var errs []error
	applied := false
	for _, sanitized := range sortedSourceKeys(enabled) {
		status, err := d.CreateTable(ctx, sanitized, bucket, nil)
		if err != nil {
			d.logger.Error("Failed to create log table",
				zap.String("table", sanitized),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if status == StatusApplied {
			applied = true
		}
	}

	if len(errs) > 0 {
		return StatusFailed, errors.Join(errs...)
	}
	if !applied {
		return StatusUnchanged, nil
	}
	return StatusApplied, nil
}

// SyncCatalogTables mirrors every enabled log source into the data catalog
// as a flat string-typed table definition. The catalog listing is fetched
// once up front; sources already present are skipped.
func (d *Driver) SyncCatalogTables(ctx context.Context) (Status, error) {
	existing, err := d.catalog.ListTables(ctx)
	if err != nil {
		return StatusFailed, err
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	prefix := d.cfg.Global.Infrastructure.Firehose.CatalogTablePrefix
	bucket := d.cfg.FirehoseBucket()
	enabled := d.enabledLogSources()

	var errs []error
	applied := false
	for _, sanitized := range sortedSourceKeys(enabled) {
		tableName := prefix + sanitized
		if present[tableName] {
			d.logger.Info("Catalog table already exists, not recreating",
				zap.String("table", tableName))
			continue
		}

		sanitizedSchema := schema.SanitizeKeys(d.cfg.Logs[enabled[sanitized]].Schema)
		columns := make(map[string]string, len(sanitizedSchema))
		for name := range sanitizedSchema {
			columns[name] = "string"
		}

		location := fmt.Sprintf("s3://%s/%s/", bucket, sanitized)

		d.logger.Info("Creating catalog table", zap.String("table", tableName))
		if err := d.catalog.CreateTable(ctx, tableName, columns, location); err != nil {
			d.logger.Error("Failed to create catalog table",
				zap.String("table", tableName),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		applied = true
	}

	if len(errs) > 0 {
		return StatusFailed, errors.Join(errs...)
	}
	if !applied {
		return StatusUnchanged, nil
	}
	return StatusApplied, nil
}

func sortedSourceKeys(sources map[string]string) []string {
	keys := make([]string, 0, len(sources))
	for key := range sources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
