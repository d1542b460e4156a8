package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := InitTracker(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("init tracker: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func testIssue(title string, labels ...string) Issue {
	now := time.Now().UTC()
	return Issue{
		Title:     title,
		Labels:    labels,
		Body:      "body\n\n" + MetadataMarker + "\n{}",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestTrackerCreateAndGet(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	iss := testIssue("first", "section:decisions", "status:active")
	id, err := tr.Create(ctx, iss)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated ID")
	}

	got, err := tr.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "first" {
		t.Errorf("expected title 'first', got %q", got.Title)
	}
	if len(got.Labels) != 2 {
		t.Errorf("expected 2 labels, got %v", got.Labels)
	}
}

func TestTrackerKeepsCallerID(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	iss := testIssue("imported", "section:state", "status:active")
	iss.ID = "proj-feedbeef1234"
	id, err := tr.Create(ctx, iss)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "proj-feedbeef1234" {
		t.Errorf("caller-supplied ID not kept: %q", id)
	}
}

func TestTrackerGetNotFound(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	_, err := tr.Get(ctx, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTrackerUpdate(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	id, _ := tr.Create(ctx, testIssue("before", "section:decisions", "status:active"))

	title := "after"
	labels := []string{"section:decisions", "status:superseded"}
	if err := tr.Update(ctx, id, Mutation{Title: &title, Labels: labels}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := tr.Get(ctx, id)
	if got.Title != "after" {
		t.Errorf("title not updated: %q", got.Title)
	}
	found := false
	for _, l := range got.Labels {
		if l == "status:superseded" {
			found = true
		}
		if l == "status:active" {
			t.Error("stale label survived the label replacement")
		}
	}
	if !found {
		t.Error("expected status:superseded label")
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Error("updated_at should advance on update")
	}

	if err := tr.Update(ctx, "missing", Mutation{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing issue, got %v", err)
	}
}

func TestTrackerListByLabels(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	tr.Create(ctx, testIssue("a", "section:decisions", "status:active"))
	tr.Create(ctx, testIssue("b", "section:decisions", "status:superseded"))
	tr.Create(ctx, testIssue("c", "section:state", "status:active"))

	all, err := tr.List(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 issues, got %d", len(all))
	}

	decisions, _ := tr.List(ctx, LabelFilter{"section:decisions"})
	if len(decisions) != 2 {
		t.Errorf("expected 2 decisions, got %d", len(decisions))
	}

	activeDecisions, _ := tr.List(ctx, LabelFilter{"section:decisions", "status:active"})
	if len(activeDecisions) != 1 || activeDecisions[0].Title != "a" {
		t.Errorf("expected only issue a, got %v", activeDecisions)
	}
}

func TestOpenTrackerMissingIsUnavailable(t *testing.T) {
	_, err := OpenTracker(filepath.Join(t.TempDir(), "missing", "tracker.db"))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestTrackerConcurrentCreateIDsDistinct(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	const n = 20
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			id, err := tr.Create(ctx, testIssue("x", "section:decisions", "status:active"))
			if err != nil {
				t.Errorf("create: %v", err)
			}
			ids <- id
		}()
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := <-ids
		if seen[id] {
			t.Fatalf("duplicate ID %s", id)
		}
		seen[id] = true
	}
}
