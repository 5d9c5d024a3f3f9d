// Package alert models the alert records the rule engine publishes to the
// data lake. The CLI only needs a synthetic, fully-populated record to derive
// the alerts table schema from.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// Alert is one triggered rule match. Record and Context are free-form.
type Alert struct {
	ID              string
	RuleName        string
	RuleDescription string
	Record          map[string]interface{}
	Context         map[string]interface{}
	Outputs         []interface{}
	Cluster         string
	LogSource       string
	LogType         string
	SourceEntity    string
	SourceService   string
	Staged          bool
	Created         time.Time
}

// New builds an alert for the given rule. Nil record or context maps are
// replaced with empty maps so downstream schema derivation never sees nil.
func New(ruleName string, record, context map[string]interface{}) *Alert {
	if record == nil {
		record = map[string]interface{}{}
	}
	if context == nil {
		context = map[string]interface{}{}
	}

	return &Alert{
		ID:       uuid.NewString(),
		RuleName: ruleName,
		Record:   record,
		Context:  context,
		Outputs:  []interface{}{},
		Created:  time.Now().UTC(),
	}
}

// OutputDict returns the alert in its published wire shape. The key set is
// fixed: it defines the alerts table columns, so adding or removing a key
// here is a table schema change.
func (a *Alert) OutputDict() map[string]interface{} {
	return map[string]interface{}{
		"id":               a.ID,
		"rule_name":        a.RuleName,
		"rule_description": a.RuleDescription,
		"record":           a.Record,
		"context":          a.Context,
		"outputs":          a.Outputs,
		"cluster":          a.Cluster,
		"log_source":       a.LogSource,
		"log_type":         a.LogType,
		"source_entity":    a.SourceEntity,
		"source_service":   a.SourceService,
		"staged":           a.Staged,
		"created":          a.Created.Format(time.RFC3339),
	}
}
