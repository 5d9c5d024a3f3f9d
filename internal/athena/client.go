// Package athena wraps the managed query service API behind the handful of
// operations the table lifecycle driver needs. Statements run synchronously:
// RunQuery submits an execution and polls until it reaches a terminal state.
package athena

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awsathena "github.com/aws/aws-sdk-go/service/athena"
	"github.com/aws/aws-sdk-go/service/athena/athenaiface"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alertlake/lakectl/internal/security"
)

// MaxQueryLength is the query service's hard limit on statement size. Larger
// statements are rejected before submission.
const MaxQueryLength = 262144

const (
	pollInitialInterval = 500 * time.Millisecond
	pollMaxInterval     = 10 * time.Second
	pollMaxElapsed      = 10 * time.Minute
)

type Client struct {
	api      athenaiface.AthenaAPI
	database string
	results  string
	logger   *zap.Logger
}

// NewClient builds a client against the given region, database and query
// results location (an s3:// URL).
func NewClient(region, database, resultsBucket string, logger *zap.Logger) (*Client, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewClientWithAPI(awsathena.New(sess), database, resultsBucket, logger), nil
}

// NewClientWithAPI wires an explicit API implementation, used by tests.
func NewClientWithAPI(api athenaiface.AthenaAPI, database, resultsBucket string, logger *zap.Logger) *Client {
	return &Client{
		api:      api,
		database: database,
		results:  resultsBucket,
		logger:   logger,
	}
}

// Database returns the database this client executes against.
func (c *Client) Database() string {
	return c.database
}

// RunQuery executes a statement to completion, discarding any result rows.
func (c *Client) RunQuery(ctx context.Context, query string) error {
	_, err := c.execute(ctx, query)
	return err
}

// QueryRows executes a statement and returns the first column of every
// result row. SHOW-style statements return their values this way.
func (c *Client) QueryRows(ctx context.Context, query string) ([]string, error) {
	executionID, err := c.execute(ctx, query)
	if err != nil {
		return nil, err
	}

	var rows []string
	input := &awsathena.GetQueryResultsInput{QueryExecutionId: aws.String(executionID)}
	err = c.api.GetQueryResultsPagesWithContext(ctx, input,
		func(page *awsathena.GetQueryResultsOutput, _ bool) bool {
			for _, row := range page.ResultSet.Rows {
				if len(row.Data) == 0 || row.Data[0].VarCharValue == nil {
					continue
				}
				rows = append(rows, aws.StringValue(row.Data[0].VarCharValue))
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch query results: %w", err)
	}

	return rows, nil
}

// execute submits a statement and polls until it reaches a terminal state,
// returning the query execution ID.
func (c *Client) execute(ctx context.Context, query string) (string, error) {
	if len(query) > MaxQueryLength {
		return "", fmt.Errorf("query length %d exceeds service limit of %d", len(query), MaxQueryLength)
	}

	start, err := c.api.StartQueryExecutionWithContext(ctx, &awsathena.StartQueryExecutionInput{
		// A fresh token per invocation: retries within one call are
		// deduplicated, separate CLI runs are not.
		ClientRequestToken: aws.String(uuid.NewString()),
		QueryString:        aws.String(query),
		QueryExecutionContext: &awsathena.QueryExecutionContext{
			Database: aws.String(c.database),
		},
		ResultConfiguration: &awsathena.ResultConfiguration{
			OutputLocation: aws.String(c.results),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to start query execution: %w", err)
	}

	executionID := aws.StringValue(start.QueryExecutionId)
	c.logger.Debug("Submitted query execution",
		zap.String("execution_id", executionID),
		zap.Int("query_length", len(query)))

	if err := c.waitForCompletion(ctx, executionID); err != nil {
		return "", err
	}

	return executionID, nil
}

func (c *Client) waitForCompletion(ctx context.Context, executionID string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = pollInitialInterval
	policy.MaxInterval = pollMaxInterval
	policy.MaxElapsedTime = pollMaxElapsed

	return backoff.Retry(func() error {
		out, err := c.api.GetQueryExecutionWithContext(ctx, &awsathena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(executionID),
		})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to get query execution %s: %w", executionID, err))
		}

		status := out.QueryExecution.Status
		switch aws.StringValue(status.State) {
		case awsathena.QueryExecutionStateSucceeded:
			return nil
		case awsathena.QueryExecutionStateFailed, awsathena.QueryExecutionStateCancelled:
			return backoff.Permanent(fmt.Errorf("query execution %s %s: %s",
				executionID,
				aws.StringValue(status.State),
				aws.StringValue(status.StateChangeReason)))
		default:
			return fmt.Errorf("query execution %s still %s", executionID, aws.StringValue(status.State))
		}
	}, backoff.WithContext(policy, ctx))
}

// CheckDatabaseExists reports whether the configured database exists.
func (c *Client) CheckDatabaseExists(ctx context.Context) (bool, error) {
	if err := security.ValidateIdentifier(c.database, "database name"); err != nil {
		return false, err
	}
	rows, err := c.QueryRows(ctx, fmt.Sprintf("SHOW DATABASES LIKE '%s'", c.database))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// ListTables returns every table in the database.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	return c.QueryRows(ctx, "SHOW TABLES")
}

// CheckTableExists reports whether the named table exists.
func (c *Client) CheckTableExists(ctx context.Context, name string) (bool, error) {
	if err := security.ValidateIdentifier(name, "table name"); err != nil {
		return false, err
	}
	rows, err := c.QueryRows(ctx, fmt.Sprintf("SHOW TABLES LIKE '%s'", name))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// GetTablePartitions returns the table's partition specs ("dt=...").
func (c *Client) GetTablePartitions(ctx context.Context, name string) ([]string, error) {
	escaped, err := security.ValidateAndEscapeIdentifier(name, "table name")
	if err != nil {
		return nil, err
	}
	return c.QueryRows(ctx, fmt.Sprintf("SHOW PARTITIONS %s", escaped))
}

// DropTable drops the named table if it exists.
func (c *Client) DropTable(ctx context.Context, name string) error {
	escaped, err := security.ValidateAndEscapeIdentifier(name, "table name")
	if err != nil {
		return err
	}
	return c.RunQuery(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", escaped))
}

// DropAllTables drops every table in the database, continuing past per-table
// failures and reporting them together.
func (c *Client) DropAllTables(ctx context.Context) error {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	var errs []error
	for _, table := range tables {
		if err := c.DropTable(ctx, table); err != nil {
			c.logger.Error("Failed to drop table",
				zap.String("table", table),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("drop %s: %w", table, err))
			continue
		}
		c.logger.Info("Dropped table", zap.String("table", table))
	}

	return errors.Join(errs...)
}
