// Package catalog mirrors table definitions into the data catalog service,
// bypassing the DDL path the query service uses.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/glue"
	"github.com/aws/aws-sdk-go/service/glue/glueiface"
	"go.uber.org/zap"
)

// Parquet serde settings shared by every table the pipeline writes.
var (
	serdeName             = "ParquetHiveSerDe"
	serdeSerializationLib = "org.apache.hadoop.hive.ql.io.parquet.serde.ParquetHiveSerDe"
	parquetInputFormat    = "org.apache.hadoop.hive.ql.io.parquet.MapredParquetInputFormat"
	parquetOutputFormat   = "org.apache.hadoop.hive.ql.io.parquet.MapredParquetOutputFormat"
)

type Client struct {
	api      glueiface.GlueAPI
	database string
	logger   *zap.Logger
}

func NewClient(region, database string, logger *zap.Logger) (*Client, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewClientWithAPI(glue.New(sess), database, logger), nil
}

// NewClientWithAPI wires an explicit API implementation, used by tests.
func NewClientWithAPI(api glueiface.GlueAPI, database string, logger *zap.Logger) *Client {
	return &Client{
		api:      api,
		database: database,
		logger:   logger,
	}
}

// ListTables returns the names of every table in the catalog database. A
// missing database is treated as an empty catalog.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	var nextToken *string

	for {
		out, err := c.api.GetTablesWithContext(ctx, &glue.GetTablesInput{
			DatabaseName: aws.String(c.database),
			NextToken:    nextToken,
		})
		if err != nil {
			var notFound *glue.EntityNotFoundException
			if errors.As(err, &notFound) {
				c.logger.Debug("Catalog database not found, treating as empty",
					zap.String("database", c.database))
				return nil, nil
			}
			return nil, fmt.Errorf("failed to list catalog tables: %w", err)
		}

		for _, table := range out.TableList {
			if table.Name != nil {
				names = append(names, aws.StringValue(table.Name))
			}
		}

		if out.NextToken == nil {
			return names, nil
		}
		nextToken = out.NextToken
	}
}

// CreateTable registers a table definition with the given column name to type
// mapping and storage location. An already-existing table is not an error.
func (c *Client) CreateTable(ctx context.Context, name string, columns map[string]string, location string) error {
	_, err := c.api.CreateTableWithContext(ctx, &glue.CreateTableInput{
		DatabaseName: aws.String(c.database),
		TableInput: &glue.TableInput{
			Name:              aws.String(name),
			StorageDescriptor: storageDescriptor(columns, location),
		},
	})
	if err != nil {
		var alreadyExists *glue.AlreadyExistsException
		if errors.As(err, &alreadyExists) {
			c.logger.Info("Catalog table already exists", zap.String("table", name))
			return nil
		}
		return fmt.Errorf("failed to create catalog table %s: %w", name, err)
	}

	return nil
}

func storageDescriptor(columns map[string]string, location string) *glue.StorageDescriptor {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptor := &glue.StorageDescriptor{
		Columns:  make([]*glue.Column, 0, len(columns)),
		Location: aws.String(location),
		SerdeInfo: &glue.SerDeInfo{
			Name:                 aws.String(serdeName),
			SerializationLibrary: aws.String(serdeSerializationLib),
		},
		InputFormat:  aws.String(parquetInputFormat),
		OutputFormat: aws.String(parquetOutputFormat),
	}

	for _, name := range names {
		descriptor.Columns = append(descriptor.Columns, &glue.Column{
			Name: aws.String(name),
			Type: aws.String(columns[name]),
		})
	}

	return descriptor
}
