package handlers

import (
	"fmt"

	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
)

// summarize renders batch statistics for a notification. A nil result
// means it is not available yet or has expired.
func summarize(jobID string, res *inventory.JobResult) string {
	if res == nil {
		return fmt.Sprintf("Audit %s: result not available.", jobID)
	}
	s := res.Statistics
	return fmt.Sprintf(
		"Audit %s (%s): %d records, %d valid, %d invalid, average quality %.2f, success rate %.2f%%.",
		jobID, res.Source, s.Total, s.Valid, s.Invalid, s.AvgScore, s.SuccessRate,
	)
}
