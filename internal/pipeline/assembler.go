package pipeline

import (
	"sort"
	"time"
)

/**
 * Document Assembler
 *
 * Merges terminal per-page outcomes into a DocumentResult. Pages may finish
 * in any order under parallel execution; the assembler restores page-index
 * order. Aggregate confidence is the arithmetic mean over successful pages
 * only. Status is failed only when zero pages succeeded.
 */

// Assembler builds DocumentResults from per-page outcomes.
type Assembler struct{}

// Assemble places page outcomes by index and computes document aggregates.
func (Assembler) Assemble(documentID string, pages []PageResult, total time.Duration) *DocumentResult {
	ordered := make([]PageResult, len(pages))
	copy(ordered, pages)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PageIndex < ordered[j].PageIndex })

	var succeeded, failed int
	var confidenceSum float64
	for _, page := range ordered {
		if page.Status == PageCompleted {
			succeeded++
			confidenceSum += page.MeanConfidence
		} else {
			failed++
		}
	}

	result := &DocumentResult{
		DocumentID:     documentID,
		Status:         StatusCompleted,
		Pages:          ordered,
		SucceededPages: succeeded,
		FailedPages:    failed,
		TotalDuration:  total,
	}

	if succeeded == 0 {
		result.Status = StatusFailed
		return result
	}

	result.MeanConfidence = confidenceSum / float64(succeeded)
	return result
}
