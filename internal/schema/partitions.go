package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/alertlake/lakectl/internal/security"
)

// partitionSpecRegex matches the hourly date partition specs the ingestion
// pipeline emits, e.g. "dt=2024-06-01-17".
var partitionSpecRegex = regexp.MustCompile(`^dt=(\d{4})-(\d{2})-(\d{2})-(\d{2})$`)

// AddPartitionStatement rebuilds the ALTER TABLE statement re-registering a
// table's partitions against s3://{bucket}/{table}/YYYY/MM/DD/HH/ locations.
// Specs are emitted in sorted order; specs that do not match the hourly dt
// layout are dropped, since they cannot have been written by the pipeline.
func AddPartitionStatement(partitions []string, bucket, tableName string) (string, error) {
	escapedTable, err := security.ValidateAndEscapeIdentifier(tableName, "table name")
	if err != nil {
		return "", err
	}

	specs := append([]string(nil), partitions...)
	sort.Strings(specs)

	clauses := make([]string, 0, len(specs))
	for _, spec := range specs {
		parts := partitionSpecRegex.FindStringSubmatch(spec)
		if parts == nil {
			continue
		}
		year, month, day, hour := parts[1], parts[2], parts[3], parts[4]
		clauses = append(clauses, fmt.Sprintf(
			"PARTITION (dt = '%s-%s-%s-%s') LOCATION 's3://%s/%s/%s/%s/%s/%s/'",
			year, month, day, hour, bucket, tableName, year, month, day, hour))
	}

	if len(clauses) == 0 {
		return "", fmt.Errorf("no valid partition specs for table %s", tableName)
	}

	return fmt.Sprintf("ALTER TABLE %s ADD IF NOT EXISTS %s",
		escapedTable, strings.Join(clauses, " ")), nil
}
