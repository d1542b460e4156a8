package memory

import (
	"context"
	"sort"
	"time"

	"github.com/mleone/durmem/internal/model"
)

// ConsolidationTag marks entries Compact has identified as candidates.
const ConsolidationTag = "consolidation-candidate"

// CompactReport lists consolidation candidates and replacements left
// orphaned by an interrupted supersede. Compaction never deletes
// anything.
type CompactReport struct {
	Timestamp            time.Time `json:"timestamp"`
	DryRun               bool      `json:"dry_run"`
	CandidateCount       int       `json:"candidate_count"`
	CandidateIDs         []string  `json:"candidate_ids,omitempty"`
	OrphanedReplacements []string  `json:"orphaned_replacements,omitempty"`
}

// Compact scans all entries, reports superseded entries as consolidation
// candidates, and (unless dryRun) tags them. It also reports replacement
// entries whose back-linked target was never marked superseded, the
// crash window between supersede's two writes.
func (m *Manager) Compact(ctx context.Context, dryRun bool) (*CompactReport, error) {
	entries, err := m.list(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*model.Entry, len(entries))
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
	}

	report := &CompactReport{Timestamp: m.now(), DryRun: dryRun}
	for i := range entries {
		e := &entries[i]
		if e.Status == model.StatusSuperseded {
			report.CandidateIDs = append(report.CandidateIDs, e.ID)
		}
		if e.Replaces != "" {
			if target, ok := byID[e.Replaces]; ok && target.Status != model.StatusSuperseded {
				report.OrphanedReplacements = append(report.OrphanedReplacements, e.ID)
			}
		}
	}
	sort.Strings(report.CandidateIDs)
	sort.Strings(report.OrphanedReplacements)
	report.CandidateCount = len(report.CandidateIDs)

	if dryRun {
		return report, nil
	}

	for _, id := range report.CandidateIDs {
		e := byID[id]
		if e.HasTag(ConsolidationTag) {
			continue
		}
		e.Tags = append(e.Tags, ConsolidationTag)
		e.UpdatedAt = nextTimestamp(m.now(), e.UpdatedAt)
		if err := m.writeEntry(ctx, e); err != nil {
			return report, err
		}
		m.stats.Invalidate(e.Scope)
	}
	return report, nil
}
