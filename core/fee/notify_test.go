package fee

import (
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomesCSV(t *testing.T) {
	buf, err := outcomesCSV([]StudentOutcome{
		{StudentID: "s1", Result: ResultCreated, State: StateDone, AllocationID: "a1"},
		{StudentID: "s2", Result: ResultFailed, State: StateFailed, Reason: "getting student: student not found, really"},
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"student_id", "result", "state", "allocation_id", "reason"},
		{"s1", "created", "done", "a1", ""},
		{"s2", "failed", "failed", "", "getting student: student not found, really"},
	}, rows)
}

func TestReport_count(t *testing.T) {
	var r Report
	for _, res := range []OutcomeResult{ResultCreated, ResultCreated, ResultUpdated, ResultUnchanged, ResultSkipped, ResultFailed} {
		r.count(StudentOutcome{Result: res})
	}
	assert.Equal(t, Report{Total: 6, Created: 2, Updated: 1, Unchanged: 1, Skipped: 1, Failed: 1}, r)
}
