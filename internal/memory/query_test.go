package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/durmem/internal/model"
)

func floatPtr(v float64) *float64 { return &v }

func scopedEntry(subject, summary, scope string) *model.Entry {
	e := testEntry(subject, summary)
	e.Scope = scope
	return e
}

func TestQueryDefaultFilters(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	activeID, err := m.Create(ctx, testEntry("active", "Confident and active"))
	require.NoError(t, err)

	draft := testEntry("draft", "Still a draft")
	draft.Status = model.StatusDraft
	_, err = m.Create(ctx, draft)
	require.NoError(t, err)

	shaky := testEntry("shaky", "Below the confidence floor")
	shaky.Confidence = 0.4
	_, err = m.Create(ctx, shaky)
	require.NoError(t, err)

	result, err := m.Query(ctx, QueryFilters{})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1, "defaults admit only active entries at confidence >= 0.6")
	assert.Equal(t, activeID, result.Hits[0].ID)
}

func TestQueryExplicitConfidenceFloorTagsLowConfidence(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	shaky := testEntry("shaky", "Below the caution floor")
	shaky.Confidence = 0.4
	shakyID, err := m.Create(ctx, shaky)
	require.NoError(t, err)

	_, err = m.Create(ctx, testEntry("solid", "Well above the floor"))
	require.NoError(t, err)

	result, err := m.Query(ctx, QueryFilters{MinConfidence: floatPtr(0)})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	for _, h := range result.Hits {
		if h.ID == shakyID {
			assert.True(t, h.LowConfidence)
		} else {
			assert.False(t, h.LowConfidence)
		}
	}
}

func TestQueryScopeHierarchy(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	repoID, _ := m.Create(ctx, scopedEntry("a", "Repo-wide fact", "repo"))
	orgID, _ := m.Create(ctx, scopedEntry("b", "Org-wide fact", "org"))
	authID, _ := m.Create(ctx, scopedEntry("c", "Auth service fact", "service:auth"))
	_, err := m.Create(ctx, scopedEntry("d", "Billing service fact", "service:billing"))
	require.NoError(t, err)

	// service scope pulls in the broader repo and org context
	result, err := m.Query(ctx, QueryFilters{Scope: "service:auth"})
	require.NoError(t, err)
	ids := hitIDs(result)
	assert.ElementsMatch(t, []string{repoID, orgID, authID}, ids)

	// repo scope is exact, narrower scopes stay out
	result, err = m.Query(ctx, QueryFilters{Scope: "repo"})
	require.NoError(t, err)
	ids = hitIDs(result)
	assert.Equal(t, []string{repoID}, ids)
}

func hitIDs(r *QueryResult) []string {
	ids := make([]string, 0, len(r.Hits))
	for _, h := range r.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestQueryScopeMatchOutranksInherited(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	m.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }

	repoID, _ := m.Create(ctx, scopedEntry("a", "Inherited context", "repo"))
	authID, _ := m.Create(ctx, scopedEntry("b", "Exact scope match", "service:auth"))

	result, err := m.Query(ctx, QueryFilters{Scope: "service:auth"})
	require.NoError(t, err)
	require.Equal(t, []string{authID, repoID}, hitIDs(result))
	assert.Greater(t, result.Hits[0].Score, result.Hits[1].Score)
}

func TestQueryStateFreshness(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	now := time.Now().UTC()
	mkState := func(subject, summary string, from, to time.Time) *model.Entry {
		e := testEntry(subject, summary)
		e.Section = model.SectionState
		e.Kind = model.KindOther
		e.ValidFrom = &from
		e.ValidTo = &to
		return e
	}

	freshID, err := m.Create(ctx, mkState("fresh", "Migration in progress", now.Add(-time.Hour), now.Add(time.Hour)))
	require.NoError(t, err)
	expiredID, err := m.Create(ctx, mkState("expired", "Old deploy freeze", now.Add(-2*time.Hour), now.Add(-time.Hour)))
	require.NoError(t, err)

	result, err := m.Query(ctx, QueryFilters{Section: model.SectionState})
	require.NoError(t, err)
	assert.Equal(t, []string{freshID}, hitIDs(result))

	result, err = m.Query(ctx, QueryFilters{Section: model.SectionState, IncludeExpired: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{freshID, expiredID}, hitIDs(result))
}

func TestQueryTruncatesAtCap(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	for i := 0; i < maxResults+5; i++ {
		_, err := m.Create(ctx, testEntry(fmt.Sprintf("subject-%02d", i), fmt.Sprintf("Summary number %02d", i)))
		require.NoError(t, err)
	}

	result, err := m.Query(ctx, QueryFilters{})
	require.NoError(t, err)
	assert.Len(t, result.Hits, maxResults)
	assert.Equal(t, maxResults+5, result.Total)
	assert.True(t, result.Truncated)
}

func TestQuerySummaryProjection(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	e := testEntry("proj", "Projected down to the summary view")
	e.Tags = []string{"infra"}
	id, err := m.Create(ctx, e)
	require.NoError(t, err)

	result, err := m.Query(ctx, QueryFilters{SummaryOnly: true})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)

	h := result.Hits[0]
	assert.Equal(t, id, h.ID)
	assert.Equal(t, "proj", h.Subject)
	assert.Equal(t, "Projected down to the summary view", h.Summary)
	assert.Equal(t, "repo", h.Scope)
	assert.Equal(t, model.KindDecision, h.Kind)
	assert.Equal(t, 0.9, h.Confidence)
	assert.Empty(t, h.Content)
	assert.Empty(t, h.Tags)
	assert.Empty(t, h.Evidence)
	assert.Empty(t, h.Status)
	assert.Empty(t, h.CreatedBy)
}

func TestQueryRelatedExpansion(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	baseID, err := m.Create(ctx, testEntry("alpha-subject", "Background context"))
	require.NoError(t, err)

	linked := testEntry("beta-subject", "Builds on the background")
	linked.RelatedEntries = []string{baseID}
	linkedID, err := m.Create(ctx, linked)
	require.NoError(t, err)

	result, err := m.Query(ctx, QueryFilters{Subject: "beta", IncludeRelated: true})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2, "related entry appended after the ranked set")
	assert.Equal(t, linkedID, result.Hits[0].ID)
	assert.Equal(t, baseID, result.Hits[1].ID)
	assert.Equal(t, 1, result.Total, "appended entries do not count toward the match total")
}

func TestQueryRankingByScore(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	m.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }

	weak := testEntry("weak", "Lower confidence, weaker evidence")
	weak.Confidence = 0.65
	weak.Evidence = []model.Evidence{{Type: model.EvidenceAssumption, URI: "", Note: "gut feel"}}
	weakID, err := m.Create(ctx, weak)
	require.NoError(t, err)

	strong := testEntry("strong", "High confidence, code evidence")
	strong.Confidence = 0.95
	strong.Evidence = []model.Evidence{{Type: model.EvidenceCode, URI: "internal/auth/token.go:42", Note: "the check"}}
	strongID, err := m.Create(ctx, strong)
	require.NoError(t, err)

	result, err := m.Query(ctx, QueryFilters{})
	require.NoError(t, err)
	require.Equal(t, []string{strongID, weakID}, hitIDs(result))
	assert.Greater(t, result.Hits[0].Score, result.Hits[1].Score)
}

func TestQueryEqualScoresTieBreakByID(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	m.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }

	_, err := m.Create(ctx, testEntry("twin-a", "First of two equals"))
	require.NoError(t, err)
	_, err = m.Create(ctx, testEntry("twin-b", "Second of two equals"))
	require.NoError(t, err)

	result, err := m.Query(ctx, QueryFilters{})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, result.Hits[0].Score, result.Hits[1].Score)
	assert.Less(t, result.Hits[0].ID, result.Hits[1].ID)
}

func TestQueryStaleEvidenceDownranked(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	m.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }

	stale := testEntry("stale", "Evidence went missing")
	stale.StaleEvidence = true
	staleID, err := m.Create(ctx, stale)
	require.NoError(t, err)

	freshID, err := m.Create(ctx, testEntry("fresh", "Evidence still reachable"))
	require.NoError(t, err)

	result, err := m.Query(ctx, QueryFilters{})
	require.NoError(t, err)
	require.Equal(t, []string{freshID, staleID}, hitIDs(result))
	assert.InDelta(t, stalePenalty, result.Hits[0].Score-result.Hits[1].Score, 1e-9)
}

func TestQueryMalformedFiltersDegradeToEmpty(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Create(ctx, testEntry("present", "Would match a sane query"))
	require.NoError(t, err)

	for _, f := range []QueryFilters{
		{Scope: "bogus"},
		{Section: "nonsense"},
		{Status: []model.Status{"zombie"}},
		{MinConfidence: floatPtr(2.0)},
	} {
		result, err := m.Query(ctx, f)
		require.NoError(t, err, "malformed filters must not error")
		assert.Empty(t, result.Hits)
	}
}
