package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mleone/durmem/internal/model"
)

const (
	// maxResults caps every query regardless of match count.
	maxResults = 50

	// defaultMinConfidence applies when the caller gives no confidence
	// floor.
	defaultMinConfidence = 0.6

	// lowConfidenceFloor tags results callers should treat cautiously.
	lowConfidenceFloor = 0.5

	// nearExpiryWindow is how close to valid_to an entry gets down-ranked
	// (and reported by statistics as near expiry).
	nearExpiryWindow = 7 * 24 * time.Hour

	// stalePenalty is subtracted from the composite score of entries
	// flagged stale-evidence or near expiry, after score computation.
	stalePenalty = 0.05

	// recencyHorizon is the age at which the recency component reaches
	// zero.
	recencyHorizon = 365 * 24 * time.Hour
)

// QueryFilters select and shape query results. Zero values mean
// "not specified".
type QueryFilters struct {
	Section       model.Section  `json:"section,omitempty"`
	Kind          model.Kind     `json:"kind,omitempty"`
	Status        []model.Status `json:"status,omitempty"`
	Subject       string         `json:"subject,omitempty"`
	Scope         string         `json:"scope,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	MinConfidence *float64       `json:"min_confidence,omitempty"`
	MaxConfidence *float64       `json:"max_confidence,omitempty"`
	CreatedAfter  *time.Time     `json:"created_after,omitempty"`
	CreatedBefore *time.Time     `json:"created_before,omitempty"`
	UpdatedAfter  *time.Time     `json:"updated_after,omitempty"`
	UpdatedBefore *time.Time     `json:"updated_before,omitempty"`

	// IncludeExpired keeps state entries whose valid_to has passed.
	IncludeExpired bool `json:"include_expired,omitempty"`
	// SummaryOnly strips results down to id, summary, subject, scope,
	// kind, and confidence.
	SummaryOnly bool `json:"summary_only,omitempty"`
	// IncludeRelated appends each result's related entries.
	IncludeRelated bool `json:"include_related,omitempty"`
}

// Hit is one ranked query result.
type Hit struct {
	model.Entry
	Score float64 `json:"score"`
	// LowConfidence tags entries below 0.5 regardless of the filters
	// that admitted them.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// QueryResult is the ranked, truncated, projected result set.
type QueryResult struct {
	Hits      []Hit `json:"hits"`
	Total     int   `json:"total"`
	Truncated bool  `json:"truncated"`
}

// Query runs the filter-rank-limit pipeline. A malformed filter degrades
// to an empty result with a warning instead of an error, so querying
// stays non-blocking for callers.
func (m *Manager) Query(ctx context.Context, f QueryFilters) (*QueryResult, error) {
	started := time.Now()
	if err := checkFilters(&f); err != nil {
		log.Warn("malformed query filter, returning empty result", "err", err)
		return &QueryResult{Hits: []Hit{}}, nil
	}

	entries, err := m.list(ctx)
	if err != nil {
		return nil, err
	}

	// Default-filter injection.
	statuses := f.Status
	if len(statuses) == 0 {
		statuses = []model.Status{model.StatusActive}
	}
	minConf := defaultMinConfidence
	if f.MinConfidence != nil {
		minConf = *f.MinConfidence
	}

	now := m.now()
	var hits []Hit
	for i := range entries {
		e := &entries[i]
		if !matchesFields(e, &f, statuses, minConf) {
			continue
		}
		// Freshness: state queries exclude entries past their window.
		if f.Section == model.SectionState && !f.IncludeExpired && e.Expired(now) {
			continue
		}
		hits = append(hits, Hit{
			Entry:         *e,
			Score:         m.score(e, f.Scope, now),
			LowConfidence: e.Confidence < lowConfidenceFloor,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	total := len(hits)
	truncated := total > maxResults
	if truncated {
		hits = hits[:maxResults]
	}

	if f.IncludeRelated {
		hits = m.expandRelated(ctx, hits)
	}
	if f.SummaryOnly {
		for i := range hits {
			project(&hits[i].Entry)
		}
	}
	if hits == nil {
		hits = []Hit{}
	}

	result := &QueryResult{Hits: hits, Total: total, Truncated: truncated}
	m.qlog.Record(f.Scope, f, len(hits), time.Since(started))
	return result, nil
}

// checkFilters rejects filter shapes the pipeline cannot evaluate.
func checkFilters(f *QueryFilters) error {
	if f.Section != "" && !model.ValidSections[f.Section] {
		return fmt.Errorf("unknown section %q", f.Section)
	}
	if f.Kind != "" && !model.ValidKinds[f.Kind] {
		return fmt.Errorf("unknown kind %q", f.Kind)
	}
	for _, s := range f.Status {
		if !model.ValidStatuses[s] {
			return fmt.Errorf("unknown status %q", s)
		}
	}
	if f.Scope != "" && !model.ValidScope(f.Scope) {
		return fmt.Errorf("malformed scope %q", f.Scope)
	}
	if f.MinConfidence != nil && (*f.MinConfidence < 0 || *f.MinConfidence > 1) {
		return fmt.Errorf("min confidence %v outside [0, 1]", *f.MinConfidence)
	}
	if f.MaxConfidence != nil && (*f.MaxConfidence < 0 || *f.MaxConfidence > 1) {
		return fmt.Errorf("max confidence %v outside [0, 1]", *f.MaxConfidence)
	}
	return nil
}

// matchesFields applies the field filters and scope expansion. statuses
// and minConf are the effective values after default injection; an empty
// statuses slice admits every status.
func matchesFields(e *model.Entry, f *QueryFilters, statuses []model.Status, minConf float64) bool {
	if f.Section != "" && e.Section != f.Section {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if len(statuses) > 0 {
		ok := false
		for _, s := range statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Subject != "" && !strings.Contains(e.Subject, f.Subject) {
		return false
	}
	for _, tag := range f.Tags {
		if !e.HasTag(tag) {
			return false
		}
	}
	if e.Confidence < minConf {
		return false
	}
	if f.MaxConfidence != nil && e.Confidence > *f.MaxConfidence {
		return false
	}
	if f.CreatedAfter != nil && e.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && e.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	if f.UpdatedAfter != nil && e.UpdatedAt.Before(*f.UpdatedAfter) {
		return false
	}
	if f.UpdatedBefore != nil && e.UpdatedAt.After(*f.UpdatedBefore) {
		return false
	}
	return scopeAdmitted(e.Scope, f.Scope)
}

// scopeAdmitted implements the scope hierarchy: service, environment,
// and customer scoped queries also admit repo- and org-scoped entries.
// An absent scope filter admits all scopes.
func scopeAdmitted(entryScope, filterScope string) bool {
	if filterScope == "" || entryScope == filterScope {
		return true
	}
	if hierarchicalFilter(filterScope) {
		return entryScope == "repo" || entryScope == "org"
	}
	return false
}

func hierarchicalFilter(scope string) bool {
	return scope == "customer" ||
		strings.HasPrefix(scope, "service:") ||
		strings.HasPrefix(scope, "environment:")
}

var evidenceWeight = map[model.EvidenceType]float64{
	model.EvidenceCode:       1.0,
	model.EvidenceArtifact:   1.0,
	model.EvidenceTicket:     0.8,
	model.EvidenceDoc:        0.8,
	model.EvidenceLog:        0.6,
	model.EvidenceScreenshot: 0.6,
	model.EvidenceAssumption: 0.4,
}

// score computes the composite relevance score:
// 0.5*confidence + 0.3*evidenceQuality + 0.1*recency + 0.1*scopeMatch,
// then applies the stale-evidence / near-expiry penalty.
func (m *Manager) score(e *model.Entry, filterScope string, now time.Time) float64 {
	var quality float64
	for _, ev := range e.Evidence {
		if w := evidenceWeight[ev.Type]; w > quality {
			quality = w
		}
	}

	age := now.Sub(e.UpdatedAt)
	recency := 1.0 - float64(age)/float64(recencyHorizon)
	if recency < 0 {
		recency = 0
	} else if recency > 1 {
		recency = 1
	}

	var scopeMatch float64
	switch {
	case filterScope == "":
		scopeMatch = 0.5
	case e.Scope == filterScope:
		scopeMatch = 1.0
	case e.Scope == "repo" || e.Scope == "org":
		scopeMatch = 0.5
	}

	score := 0.5*e.Confidence + 0.3*quality + 0.1*recency + 0.1*scopeMatch
	if e.StaleEvidence || e.NearExpiry(now, nearExpiryWindow) {
		score -= stalePenalty
	}
	return score
}

// expandRelated appends each hit's related entries that are not already
// present. Appended entries get no second round of ranking or
// truncation.
func (m *Manager) expandRelated(ctx context.Context, hits []Hit) []Hit {
	present := make(map[string]bool, len(hits))
	for _, h := range hits {
		present[h.ID] = true
	}
	for _, h := range hits {
		for _, rid := range h.RelatedEntries {
			if present[rid] {
				continue
			}
			r, err := m.Get(ctx, rid)
			if err != nil {
				log.Warn("related entry unavailable", "id", rid, "err", err)
				continue
			}
			present[rid] = true
			hits = append(hits, Hit{
				Entry:         *r,
				LowConfidence: r.Confidence < lowConfidenceFloor,
			})
		}
	}
	return hits
}

// project strips an entry down to the summary-only field set.
func project(e *model.Entry) {
	*e = model.Entry{
		ID:         e.ID,
		Summary:    e.Summary,
		Subject:    e.Subject,
		Scope:      e.Scope,
		Kind:       e.Kind,
		Confidence: e.Confidence,
	}
}
