package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mleone/durmem/internal/model"
)

const (
	statsTTL        = 5 * time.Minute
	topCreatorCount = 5
	recentOpsWindow = 10
)

// DateRange bounds an aggregation by created_at. Nil ends are open.
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

func (r DateRange) contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

// CreatorCount is one row of the most-active-creators list.
type CreatorCount struct {
	Creator string `json:"creator"`
	Count   int    `json:"count"`
}

// Operation is one row of the most-recent-operations window.
type Operation struct {
	ID        string       `json:"id"`
	Status    model.Status `json:"status"`
	Summary   string       `json:"summary"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Stats aggregates metrics over the full record set.
type Stats struct {
	Scope                string         `json:"scope,omitempty"`
	ComputedAt           time.Time      `json:"computed_at"`
	TotalEntries         int            `json:"total_entries"`
	BySection            map[string]int `json:"by_section"`
	ByStatus             map[string]int `json:"by_status"`
	ByKind               map[string]int `json:"by_kind"`
	MeanConfidence       float64        `json:"mean_confidence"`
	ConfidenceHistogram  [5]int         `json:"confidence_histogram"`
	EvidenceTypes        map[string]int `json:"evidence_types"`
	LowConfidenceCount   int            `json:"low_confidence_count"`
	StaleEvidenceCount   int            `json:"stale_evidence_count"`
	CreatedByDay         map[string]int `json:"created_by_day"`
	SupersededByDay      map[string]int `json:"superseded_by_day"`
	CreatorCounts        map[string]int `json:"creator_counts"`
	TopCreators          []CreatorCount `json:"top_creators"`
	RecentOperations     []Operation    `json:"recent_operations"`
	SupersededPercent    float64        `json:"superseded_percent"`
	NearExpiry           []string       `json:"near_expiry,omitempty"`
	CompactionCandidates int            `json:"compaction_candidates"`
}

// statsCache holds one computed aggregate per scope with a five-minute
// time-to-live. It is safe for concurrent readers against an
// invalidation triggered by a writer in another call path.
type statsCache struct {
	mu      sync.Mutex
	entries map[string]statsCacheEntry
	now     func() time.Time
}

type statsCacheEntry struct {
	computedAt time.Time
	expiresAt  time.Time
	stats      *Stats
}

func newStatsCache(now func() time.Time) *statsCache {
	return &statsCache{entries: make(map[string]statsCacheEntry), now: now}
}

func (c *statsCache) get(key string) (*Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[key]
	if !ok || c.now().After(ent.expiresAt) {
		return nil, false
	}
	return ent.stats, true
}

func (c *statsCache) put(key string, s *Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[key] = statsCacheEntry{computedAt: now, expiresAt: now.Add(statsTTL), stats: s}
}

// Invalidate drops the cached aggregate for scope and the all-scopes
// aggregate, which any scoped write also changes.
func (c *statsCache) Invalidate(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, scope)
	delete(c.entries, "")
}

// GetStatistics computes aggregates for scope (empty for all scopes)
// over entries whose created_at falls in dateRange. Cached values are
// served within their TTL unless bypass forces recomputation. Date-range
// queries bypass the cache; the cache keys whole-scope aggregates only.
func (m *Manager) GetStatistics(ctx context.Context, scope string, dateRange DateRange, bypass bool) (*Stats, error) {
	cacheable := dateRange.From == nil && dateRange.To == nil
	if cacheable && !bypass {
		if s, ok := m.stats.get(scope); ok {
			return s, nil
		}
	}

	entries, err := m.list(ctx)
	if err != nil {
		return nil, err
	}

	s := m.computeStats(entries, scope, dateRange)
	if cacheable {
		m.stats.put(scope, s)
	}
	return s, nil
}

func (m *Manager) computeStats(entries []model.Entry, scope string, dateRange DateRange) *Stats {
	now := m.now()
	s := &Stats{
		Scope:           scope,
		ComputedAt:      now,
		BySection:       map[string]int{},
		ByStatus:        map[string]int{},
		ByKind:          map[string]int{},
		EvidenceTypes:   map[string]int{},
		CreatedByDay:    map[string]int{},
		SupersededByDay: map[string]int{},
		CreatorCounts:   map[string]int{},
	}

	var confidenceSum float64
	var recent []Operation
	for i := range entries {
		e := &entries[i]
		if scope != "" && e.Scope != scope {
			continue
		}
		if !dateRange.contains(e.CreatedAt) {
			continue
		}

		s.TotalEntries++
		s.BySection[string(e.Section)]++
		s.ByStatus[string(e.Status)]++
		s.ByKind[string(e.Kind)]++
		s.CreatorCounts[e.CreatedBy]++
		s.CreatedByDay[e.CreatedAt.Format("2006-01-02")]++

		confidenceSum += e.Confidence
		bucket := int(e.Confidence * 5)
		if bucket > 4 {
			bucket = 4
		}
		s.ConfidenceHistogram[bucket]++
		if e.Confidence < lowConfidenceFloor {
			s.LowConfidenceCount++
		}

		for _, ev := range e.Evidence {
			s.EvidenceTypes[string(ev.Type)]++
		}
		if e.StaleEvidence {
			s.StaleEvidenceCount++
		}
		if e.Status == model.StatusSuperseded {
			s.SupersededByDay[e.UpdatedAt.Format("2006-01-02")]++
			s.CompactionCandidates++
		}
		if e.NearExpiry(now, nearExpiryWindow) {
			s.NearExpiry = append(s.NearExpiry, e.ID)
		}

		recent = append(recent, Operation{
			ID:        e.ID,
			Status:    e.Status,
			Summary:   e.Summary,
			UpdatedAt: e.UpdatedAt,
		})
	}

	if s.TotalEntries > 0 {
		s.MeanConfidence = confidenceSum / float64(s.TotalEntries)
		s.SupersededPercent = 100 * float64(s.ByStatus[string(model.StatusSuperseded)]) / float64(s.TotalEntries)
	}

	for creator, count := range s.CreatorCounts {
		s.TopCreators = append(s.TopCreators, CreatorCount{Creator: creator, Count: count})
	}
	sort.Slice(s.TopCreators, func(i, j int) bool {
		if s.TopCreators[i].Count != s.TopCreators[j].Count {
			return s.TopCreators[i].Count > s.TopCreators[j].Count
		}
		return s.TopCreators[i].Creator < s.TopCreators[j].Creator
	})
	if len(s.TopCreators) > topCreatorCount {
		s.TopCreators = s.TopCreators[:topCreatorCount]
	}

	sort.Slice(recent, func(i, j int) bool {
		if !recent[i].UpdatedAt.Equal(recent[j].UpdatedAt) {
			return recent[i].UpdatedAt.After(recent[j].UpdatedAt)
		}
		return recent[i].ID < recent[j].ID
	})
	if len(recent) > recentOpsWindow {
		recent = recent[:recentOpsWindow]
	}
	s.RecentOperations = recent

	sort.Strings(s.NearExpiry)
	return s
}
