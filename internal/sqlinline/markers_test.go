package sqlinline

import (
	"testing"

	"storybook/internal/infra"
)

func allStatements() map[string]string {
	stmts := map[string]string{
		"QInsertStoryJob":           QInsertStoryJob,
		"QSelectStoryJob":           QSelectStoryJob,
		"QListStoryJobsByOwner":     QListStoryJobsByOwner,
		"QMarkStoryJobProcessing":   QMarkStoryJobProcessing,
		"QCompleteStoryJob":         QCompleteStoryJob,
		"QFailStoryJob":             QFailStoryJob,
		"QFailStaleStoryJobs":       QFailStaleStoryJobs,
		"QStoryJobExists":           QStoryJobExists,
		"QSelectIntegrationToken":   QSelectIntegrationToken,
		"QUpsertIntegrationToken":   QUpsertIntegrationToken,
		"QListIntegrationProviders": QListIntegrationProviders,
	}
	for i, ddl := range Schema {
		stmts["Schema["+string(rune('0'+i))+"]"] = ddl
	}
	return stmts
}

func TestStatementsCarryUniqueMarkers(t *testing.T) {
	seen := make(map[string]string)
	for name, stmt := range allStatements() {
		marker, _, err := infra.ExtractMarker(stmt)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if other, ok := seen[marker]; ok {
			t.Fatalf("%s reuses marker %s from %s", name, marker, other)
		}
		seen[marker] = name
	}
}
