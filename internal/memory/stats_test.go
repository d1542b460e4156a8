package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/durmem/internal/model"
)

func TestStatisticsAggregates(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	frozen := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return frozen }

	_, err := m.Create(ctx, testEntry("a", "Solid decision"))
	require.NoError(t, err)

	shaky := testEntry("b", "Shaky observation")
	shaky.Section = model.SectionObservations
	shaky.Kind = model.KindHypothesis
	shaky.Confidence = 0.4
	_, err = m.Create(ctx, shaky)
	require.NoError(t, err)

	expiring := testEntry("c", "Window closing soon")
	expiring.Section = model.SectionState
	expiring.Kind = model.KindOther
	from := frozen.Add(-time.Hour)
	to := frozen.Add(3 * 24 * time.Hour)
	expiring.ValidFrom = &from
	expiring.ValidTo = &to
	expiringID, err := m.Create(ctx, expiring)
	require.NoError(t, err)

	oldID, err := m.Create(ctx, testEntry("d", "To be replaced"))
	require.NoError(t, err)
	_, err = m.Supersede(ctx, oldID, testEntry("d", "The replacement"))
	require.NoError(t, err)

	s, err := m.GetStatistics(ctx, "", DateRange{}, false)
	require.NoError(t, err)

	assert.Equal(t, 5, s.TotalEntries)
	assert.Equal(t, 3, s.BySection[string(model.SectionDecisions)])
	assert.Equal(t, 1, s.BySection[string(model.SectionObservations)])
	assert.Equal(t, 1, s.BySection[string(model.SectionState)])
	assert.Equal(t, 4, s.ByStatus[string(model.StatusActive)])
	assert.Equal(t, 1, s.ByStatus[string(model.StatusSuperseded)])
	assert.Equal(t, 1, s.ByKind[string(model.KindHypothesis)])

	// (0.9*4 + 0.4) / 5
	assert.InDelta(t, 0.8, s.MeanConfidence, 1e-9)
	assert.Equal(t, [5]int{0, 0, 1, 0, 4}, s.ConfidenceHistogram)
	assert.Equal(t, 1, s.LowConfidenceCount)

	assert.Equal(t, 5, s.EvidenceTypes[string(model.EvidenceDoc)])
	assert.Equal(t, 5, s.CreatedByDay[frozen.Format("2006-01-02")])
	assert.Equal(t, 1, s.SupersededByDay[frozen.Format("2006-01-02")])
	assert.InDelta(t, 20.0, s.SupersededPercent, 1e-9)
	assert.Equal(t, 1, s.CompactionCandidates)
	assert.Equal(t, []string{expiringID}, s.NearExpiry)

	require.Len(t, s.TopCreators, 1)
	assert.Equal(t, CreatorCount{Creator: "test-agent", Count: 5}, s.TopCreators[0])
	assert.Len(t, s.RecentOperations, 5)
	// superseding is the most recent write
	assert.Equal(t, oldID, s.RecentOperations[0].ID)
}

func TestStatisticsScopeFilter(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Create(ctx, scopedEntry("a", "Repo fact", "repo"))
	require.NoError(t, err)
	_, err = m.Create(ctx, scopedEntry("b", "Org fact", "org"))
	require.NoError(t, err)

	s, err := m.GetStatistics(ctx, "org", DateRange{}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalEntries)
	assert.Equal(t, "org", s.Scope)
}

func TestStatisticsCacheServesWithinTTL(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	cur := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return cur }

	_, err := m.Create(ctx, testEntry("a", "Cached fact"))
	require.NoError(t, err)

	first, err := m.GetStatistics(ctx, "", DateRange{}, false)
	require.NoError(t, err)

	cur = cur.Add(time.Minute)
	second, err := m.GetStatistics(ctx, "", DateRange{}, false)
	require.NoError(t, err)
	assert.True(t, second.ComputedAt.Equal(first.ComputedAt), "within TTL the cached aggregate is served")

	cur = cur.Add(statsTTL)
	third, err := m.GetStatistics(ctx, "", DateRange{}, false)
	require.NoError(t, err)
	assert.True(t, third.ComputedAt.After(first.ComputedAt), "past TTL the aggregate is recomputed")
}

func TestStatisticsWriteInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	cur := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return cur }

	_, err := m.Create(ctx, testEntry("a", "First fact"))
	require.NoError(t, err)

	before, err := m.GetStatistics(ctx, "", DateRange{}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, before.TotalEntries)

	_, err = m.Create(ctx, testEntry("b", "Second fact"))
	require.NoError(t, err)

	after, err := m.GetStatistics(ctx, "", DateRange{}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, after.TotalEntries, "a write must invalidate the cached aggregate")
}

func TestStatisticsBypassForcesRecompute(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	cur := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return cur }

	_, err := m.Create(ctx, testEntry("a", "Fact"))
	require.NoError(t, err)

	first, err := m.GetStatistics(ctx, "", DateRange{}, false)
	require.NoError(t, err)

	cur = cur.Add(time.Minute)
	forced, err := m.GetStatistics(ctx, "", DateRange{}, true)
	require.NoError(t, err)
	assert.True(t, forced.ComputedAt.After(first.ComputedAt))
}

func TestStatisticsDateRangeBypassesCache(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	cur := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return cur }

	_, err := m.Create(ctx, testEntry("a", "Inside the range"))
	require.NoError(t, err)

	// warm the whole-scope cache
	_, err = m.GetStatistics(ctx, "", DateRange{}, false)
	require.NoError(t, err)

	from := cur.Add(time.Hour)
	ranged, err := m.GetStatistics(ctx, "", DateRange{From: &from}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, ranged.TotalEntries, "date-range queries never serve the cached whole-scope aggregate")

	whole, err := m.GetStatistics(ctx, "", DateRange{}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, whole.TotalEntries, "a date-range query must not poison the cache")
}
