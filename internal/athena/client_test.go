package athena

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awsathena "github.com/aws/aws-sdk-go/service/athena"
	"github.com/aws/aws-sdk-go/service/athena/athenaiface"
	"go.uber.org/zap"
)

// fakeAthenaAPI scripts the three API calls the client makes. Executions
// succeed immediately unless a terminal state is configured.
type fakeAthenaAPI struct {
	athenaiface.AthenaAPI

	startInputs []*awsathena.StartQueryExecutionInput
	startErr    error

	state       string
	stateReason string

	resultRows [][]string
}

func (f *fakeAthenaAPI) StartQueryExecutionWithContext(ctx aws.Context, input *awsathena.StartQueryExecutionInput, _ ...request.Option) (*awsathena.StartQueryExecutionOutput, error) {
	f.startInputs = append(f.startInputs, input)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &awsathena.StartQueryExecutionOutput{
		QueryExecutionId: aws.String("execution-1"),
	}, nil
}

func (f *fakeAthenaAPI) GetQueryExecutionWithContext(ctx aws.Context, input *awsathena.GetQueryExecutionInput, _ ...request.Option) (*awsathena.GetQueryExecutionOutput, error) {
	state := f.state
	if state == "" {
		state = awsathena.QueryExecutionStateSucceeded
	}
	return &awsathena.GetQueryExecutionOutput{
		QueryExecution: &awsathena.QueryExecution{
			Status: &awsathena.QueryExecutionStatus{
				State:             aws.String(state),
				StateChangeReason: aws.String(f.stateReason),
			},
		},
	}, nil
}

func (f *fakeAthenaAPI) GetQueryResultsPagesWithContext(ctx aws.Context, input *awsathena.GetQueryResultsInput, fn func(*awsathena.GetQueryResultsOutput, bool) bool, _ ...request.Option) error {
	for i, rowValues := range f.resultRows {
		rows := make([]*awsathena.Row, 0, len(rowValues))
		for _, value := range rowValues {
			rows = append(rows, &awsathena.Row{
				Data: []*awsathena.Datum{{VarCharValue: aws.String(value)}},
			})
		}
		last := i == len(f.resultRows)-1
		if !fn(&awsathena.GetQueryResultsOutput{
			ResultSet: &awsathena.ResultSet{Rows: rows},
		}, last) {
			break
		}
	}
	return nil
}

func testClient(api athenaiface.AthenaAPI) *Client {
	return NewClientWithAPI(api, "acme_alertlake", "s3://acme.alertlake.athena-results", zap.NewNop())
}

func TestRunQuerySubmitsWithContext(t *testing.T) {
	api := &fakeAthenaAPI{}
	c := testClient(api)

	if err := c.RunQuery(context.Background(), "SHOW TABLES"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(api.startInputs) != 1 {
		t.Fatalf("expected one execution, got %d", len(api.startInputs))
	}
	input := api.startInputs[0]
	if aws.StringValue(input.QueryString) != "SHOW TABLES" {
		t.Errorf("unexpected query: %s", aws.StringValue(input.QueryString))
	}
	if aws.StringValue(input.QueryExecutionContext.Database) != "acme_alertlake" {
		t.Errorf("unexpected database: %s", aws.StringValue(input.QueryExecutionContext.Database))
	}
	if aws.StringValue(input.ResultConfiguration.OutputLocation) != "s3://acme.alertlake.athena-results" {
		t.Errorf("unexpected output location: %s", aws.StringValue(input.ResultConfiguration.OutputLocation))
	}
	if aws.StringValue(input.ClientRequestToken) == "" {
		t.Error("expected a client request token")
	}
}

func TestRunQueryRejectsOversizedStatement(t *testing.T) {
	api := &fakeAthenaAPI{}
	c := testClient(api)

	err := c.RunQuery(context.Background(), strings.Repeat("x", MaxQueryLength+1))
	if err == nil || !strings.Contains(err.Error(), "exceeds service limit") {
		t.Fatalf("expected size limit error, got %v", err)
	}
	if len(api.startInputs) != 0 {
		t.Error("oversized statement must not be submitted")
	}
}

func TestRunQueryFailedExecution(t *testing.T) {
	api := &fakeAthenaAPI{
		state:       awsathena.QueryExecutionStateFailed,
		stateReason: "SYNTAX_ERROR: line 1",
	}
	c := testClient(api)

	err := c.RunQuery(context.Background(), "CREATE EXTERNAL TABLE broken")
	if err == nil {
		t.Fatal("expected error but got none")
	}
	if !strings.Contains(err.Error(), "SYNTAX_ERROR") {
		t.Errorf("expected state change reason in error, got %v", err)
	}
}

func TestRunQueryStartFailure(t *testing.T) {
	api := &fakeAthenaAPI{startErr: errors.New("throttled")}
	c := testClient(api)

	err := c.RunQuery(context.Background(), "SHOW TABLES")
	if err == nil || !strings.Contains(err.Error(), "failed to start query execution") {
		t.Fatalf("expected start error, got %v", err)
	}
}

func TestQueryRowsFirstColumn(t *testing.T) {
	api := &fakeAthenaAPI{
		resultRows: [][]string{
			{"alerts"},
			{"cloudwatch_events"},
		},
	}
	c := testClient(api)

	rows, err := c.QueryRows(context.Background(), "SHOW TABLES")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 || rows[0] != "alerts" || rows[1] != "cloudwatch_events" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

func TestCheckTableExists(t *testing.T) {
	tests := []struct {
		name     string
		rows     [][]string
		table    string
		expected bool
		wantErr  bool
	}{
		{
			name:     "table present",
			rows:     [][]string{{"cloudwatch_events"}},
			table:    "cloudwatch_events",
			expected: true,
		},
		{
			name:     "table absent",
			rows:     nil,
			table:    "cloudwatch_events",
			expected: false,
		},
		{
			name:    "invalid name rejected before query",
			table:   "bad'name",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAthenaAPI{resultRows: tt.rows}
			c := testClient(api)

			exists, err := c.CheckTableExists(context.Background(), tt.table)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if len(api.startInputs) != 0 {
					t.Error("invalid name must not reach the service")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if exists != tt.expected {
				t.Errorf("expected exists=%v, got %v", tt.expected, exists)
			}
		})
	}
}

func TestCheckDatabaseExists(t *testing.T) {
	api := &fakeAthenaAPI{resultRows: [][]string{{"acme_alertlake"}}}
	c := testClient(api)

	exists, err := c.CheckDatabaseExists(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected database to exist")
	}
	if got := aws.StringValue(api.startInputs[0].QueryString); got != "SHOW DATABASES LIKE 'acme_alertlake'" {
		t.Errorf("unexpected query: %s", got)
	}

	c = testClient(&fakeAthenaAPI{})
	exists, err = c.CheckDatabaseExists(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("expected database to be absent")
	}
}

func TestGetTablePartitions(t *testing.T) {
	api := &fakeAthenaAPI{resultRows: [][]string{{"dt=2024-06-01-17"}}}
	c := testClient(api)

	partitions, err := c.GetTablePartitions(context.Background(), "cloudwatch_events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(partitions) != 1 || partitions[0] != "dt=2024-06-01-17" {
		t.Errorf("unexpected partitions: %v", partitions)
	}
	if got := aws.StringValue(api.startInputs[0].QueryString); got != "SHOW PARTITIONS `cloudwatch_events`" {
		t.Errorf("unexpected query: %s", got)
	}
}

func TestDropTable(t *testing.T) {
	api := &fakeAthenaAPI{}
	c := testClient(api)

	if err := c.DropTable(context.Background(), "cloudwatch_events"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.StringValue(api.startInputs[0].QueryString); got != "DROP TABLE IF EXISTS `cloudwatch_events`" {
		t.Errorf("unexpected query: %s", got)
	}
}

func TestDropAllTables(t *testing.T) {
	api := &fakeAthenaAPI{resultRows: [][]string{{"alerts"}, {"cloudwatch_events"}}}
	c := testClient(api)

	if err := c.DropAllTables(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One SHOW TABLES plus one DROP per table.
	if len(api.startInputs) != 3 {
		t.Fatalf("expected three executions, got %d", len(api.startInputs))
	}
	if got := aws.StringValue(api.startInputs[1].QueryString); got != "DROP TABLE IF EXISTS `alerts`" {
		t.Errorf("unexpected first drop: %s", got)
	}
	if got := aws.StringValue(api.startInputs[2].QueryString); got != "DROP TABLE IF EXISTS `cloudwatch_events`" {
		t.Errorf("unexpected second drop: %s", got)
	}
}
