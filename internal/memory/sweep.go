package memory

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mleone/durmem/internal/model"
)

// SweepReport is the outcome of an evidence reachability pass.
type SweepReport struct {
	Checked    int      `json:"checked"`
	Flagged    []string `json:"flagged,omitempty"`
	Unflagged  []string `json:"unflagged,omitempty"`
	EvidenceOK int      `json:"evidence_ok"`
}

// VerifyEvidence runs the asynchronous reachability pass over existing
// entries: file-path URIs are checked for existence under projectRoot,
// URL URIs for parseable shape only. Entries whose evidence went
// unreachable get the stale-evidence flag; entries whose evidence
// recovered lose it. The flag feeds ranking but never blocks writes.
func (m *Manager) VerifyEvidence(ctx context.Context, projectRoot string) (*SweepReport, error) {
	entries, err := m.list(ctx)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{}
	for i := range entries {
		e := &entries[i]
		report.Checked++

		stale := false
		for _, ev := range e.Evidence {
			if ev.Type == model.EvidenceAssumption {
				continue
			}
			if evidenceReachable(ev.URI, projectRoot) {
				report.EvidenceOK++
				continue
			}
			stale = true
		}

		if stale == e.StaleEvidence {
			continue
		}
		e.StaleEvidence = stale
		e.UpdatedAt = nextTimestamp(m.now(), e.UpdatedAt)
		if err := m.writeEntry(ctx, e); err != nil {
			return report, err
		}
		m.stats.Invalidate(e.Scope)
		if stale {
			report.Flagged = append(report.Flagged, e.ID)
		} else {
			report.Unflagged = append(report.Unflagged, e.ID)
		}
	}
	sort.Strings(report.Flagged)
	sort.Strings(report.Unflagged)
	return report, nil
}

func evidenceReachable(uri, projectRoot string) bool {
	if strings.Contains(uri, "://") {
		u, err := url.Parse(uri)
		return err == nil && u.Host != ""
	}
	// Strip line anchors like pkg/file.go:42 or #L10 before the stat.
	path := uri
	if i := strings.IndexAny(path, "#"); i >= 0 {
		path = path[:i]
	}
	if i := strings.LastIndex(path, ":"); i >= 0 && !strings.Contains(path[i+1:], "/") {
		if _, err := os.Stat(filepath.Join(projectRoot, path)); err == nil {
			return true
		}
		path = path[:i]
	}
	_, err := os.Stat(filepath.Join(projectRoot, path))
	return err == nil
}
