package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/mleone/durmem/internal/model"
	"github.com/mleone/durmem/internal/secrets"
	"github.com/mleone/durmem/internal/store"
	"github.com/mleone/durmem/internal/validate"
)

// ConflictStrategy decides what an import does when a record collides
// with an existing entry.
type ConflictStrategy string

const (
	ConflictSkip      ConflictStrategy = "skip"
	ConflictOverwrite ConflictStrategy = "overwrite"
	ConflictMerge     ConflictStrategy = "merge"
)

// ValidConflictStrategies are the accepted import conflict strategies.
var ValidConflictStrategies = map[ConflictStrategy]bool{
	ConflictSkip:      true,
	ConflictOverwrite: true,
	ConflictMerge:     true,
}

// ImportReport is the structured outcome of an import; conflicts are
// never silently dropped.
type ImportReport struct {
	Imported    int      `json:"imported"`
	Skipped     []string `json:"skipped,omitempty"`
	Overwritten []string `json:"overwritten,omitempty"`
	Merged      []string `json:"merged,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// Export writes every matching entry to w, one JSON object per line.
// Only field filters apply: no default injection, no ranking, no
// truncation, so an export/import round-trip is lossless.
func (m *Manager) Export(ctx context.Context, f QueryFilters, w io.Writer) (int, error) {
	entries, err := m.list(ctx)
	if err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	minConf := 0.0
	if f.MinConfidence != nil {
		minConf = *f.MinConfidence
	}

	enc := json.NewEncoder(w)
	n := 0
	for i := range entries {
		if !matchesFields(&entries[i], &f, f.Status, minConf) {
			continue
		}
		if err := enc.Encode(&entries[i]); err != nil {
			return n, fmt.Errorf("encode entry %s: %w", entries[i].ID, err)
		}
		n++
	}
	return n, nil
}

// Import reads line-delimited entries from r and stores them verbatim,
// preserving identifiers, timestamps, and status. Collisions (same ID,
// or same subject/scope/summary) are resolved per the strategy.
func (m *Manager) Import(ctx context.Context, r io.Reader, strategy ConflictStrategy) (*ImportReport, error) {
	if !ValidConflictStrategies[strategy] {
		return nil, fmt.Errorf("unknown conflict strategy %q", strategy)
	}
	if err := m.ensureInit(); err != nil {
		return nil, err
	}

	existing, err := m.list(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Entry, len(existing))
	byTriple := make(map[[3]string]*model.Entry, len(existing))
	for i := range existing {
		e := &existing[i]
		byID[e.ID] = e
		byTriple[[3]string{e.Subject, e.Scope, e.Summary}] = e
	}

	report := &ImportReport{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e model.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}

		prev := byID[e.ID]
		if prev == nil {
			prev = byTriple[[3]string{e.Subject, e.Scope, e.Summary}]
		}
		if prev == nil {
			if err := m.importCreate(ctx, &e); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("line %d (%s): %v", lineNo, e.ID, err))
				continue
			}
			byID[e.ID] = &e
			byTriple[[3]string{e.Subject, e.Scope, e.Summary}] = &e
			report.Imported++
			continue
		}

		switch strategy {
		case ConflictSkip:
			report.Skipped = append(report.Skipped, prev.ID)
		case ConflictOverwrite:
			e.ID = prev.ID
			// an older export must not move updated_at backwards
			e.UpdatedAt = nextTimestamp(m.now(), prev.UpdatedAt)
			if err := m.writeEntry(ctx, &e); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("line %d (%s): %v", lineNo, e.ID, err))
				continue
			}
			m.stats.Invalidate(e.Scope)
			report.Overwritten = append(report.Overwritten, prev.ID)
		case ConflictMerge:
			merged := mergeEntries(prev, &e)
			merged.UpdatedAt = nextTimestamp(m.now(), prev.UpdatedAt)
			if err := m.writeEntry(ctx, merged); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("line %d (%s): %v", lineNo, merged.ID, err))
				continue
			}
			m.stats.Invalidate(merged.Scope)
			report.Merged = append(report.Merged, prev.ID)
		}
	}
	if err := sc.Err(); err != nil {
		return report, fmt.Errorf("read import stream: %w", err)
	}
	return report, nil
}

// importCreate persists an imported entry keeping its identifier and
// provenance. The creation gates still apply: imported files are
// external input, so nothing reaches storage unvalidated or unscanned.
func (m *Manager) importCreate(ctx context.Context, e *model.Entry) error {
	if err := validate.Entry(e); err != nil {
		return err
	}
	if err := secrets.ScanEntry(e); err != nil {
		return err
	}
	if err := validate.EvidenceList(e.Evidence); err != nil {
		return err
	}
	iss, err := store.EncodeEntry(e)
	if err != nil {
		return err
	}
	_, err = m.records.Create(ctx, iss)
	if err != nil {
		return err
	}
	m.stats.Invalidate(e.Scope)
	return nil
}

// mergeEntries keeps the existing entry's scalar fields and unions the
// collection fields from the incoming record.
func mergeEntries(prev, in *model.Entry) *model.Entry {
	merged := *prev
	merged.Tags = unionStrings(prev.Tags, in.Tags)
	merged.RelatedEntries = unionStrings(prev.RelatedEntries, in.RelatedEntries)
	for _, ev := range in.Evidence {
		found := false
		for _, have := range merged.Evidence {
			if have == ev {
				found = true
				break
			}
		}
		if !found {
			merged.Evidence = append(merged.Evidence, ev)
		}
	}
	return &merged
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
