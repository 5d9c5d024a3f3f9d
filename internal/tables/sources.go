package tables

import (
	"strings"

	"go.uber.org/zap"

	"github.com/alertlake/lakectl/internal/schema"
)

// enabledLogSources expands the firehose enabled_logs entries against the
// configured log sources. An entry may name an exact log type
// ("cloudwatch:events") or a parent type ("cloudwatch") which enables every
// subtype. The result maps sanitized table names back to their config keys.
// Entries matching nothing are logged and skipped.
func (d *Driver) enabledLogSources() map[string]string {
	enabled := make(map[string]string)

	for _, entry := range d.cfg.Global.Infrastructure.Firehose.EnabledLogs {
		if _, ok := d.cfg.Logs[entry]; ok {
			enabled[schema.SanitizeTableName(entry)] = entry
			continue
		}

		matched := false
		for logKey := range d.cfg.Logs {
			if parent, _, _ := strings.Cut(logKey, ":"); parent == entry {
				enabled[schema.SanitizeTableName(logKey)] = logKey
				matched = true
			}
		}

		if !matched {
			d.logger.Error("Enabled log source not found in logs configuration",
				zap.String("log", entry))
		}
	}

	return enabled
}
