package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// downStore simulates a primary whose persistence engine is unreachable.
type downStore struct{}

func (downStore) Create(ctx context.Context, iss Issue) (string, error) {
	return "", fmt.Errorf("%w: engine down", ErrUnavailable)
}
func (downStore) Update(ctx context.Context, id string, mut Mutation) error {
	return fmt.Errorf("%w: engine down", ErrUnavailable)
}
func (downStore) Get(ctx context.Context, id string) (*Issue, error) {
	return nil, fmt.Errorf("%w: engine down", ErrUnavailable)
}
func (downStore) List(ctx context.Context, filter LabelFilter) ([]Issue, error) {
	return nil, fmt.Errorf("%w: engine down", ErrUnavailable)
}
func (downStore) Close() error { return nil }

// flakyStore fails transiently a fixed number of times before delegating.
type flakyStore struct {
	inner    RecordStore
	failures int
}

func (s *flakyStore) trip() error {
	if s.failures > 0 {
		s.failures--
		return errors.New("transient io error")
	}
	return nil
}

func (s *flakyStore) Create(ctx context.Context, iss Issue) (string, error) {
	if err := s.trip(); err != nil {
		return "", err
	}
	return s.inner.Create(ctx, iss)
}
func (s *flakyStore) Update(ctx context.Context, id string, mut Mutation) error {
	if err := s.trip(); err != nil {
		return err
	}
	return s.inner.Update(ctx, id, mut)
}
func (s *flakyStore) Get(ctx context.Context, id string) (*Issue, error) {
	if err := s.trip(); err != nil {
		return nil, err
	}
	return s.inner.Get(ctx, id)
}
func (s *flakyStore) List(ctx context.Context, filter LabelFilter) ([]Issue, error) {
	if err := s.trip(); err != nil {
		return nil, err
	}
	return s.inner.List(ctx, filter)
}
func (s *flakyStore) Close() error { return s.inner.Close() }

func TestRouterFallsBackWhenPrimaryDown(t *testing.T) {
	ctx := context.Background()
	fallback := newTestFallback(t)
	r := NewRouter(downStore{}, fallback)

	id, err := r.Create(ctx, testIssue("written offline", "section:observations", "status:active"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := r.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "written offline" {
		t.Errorf("expected fallback read, got %q", got.Title)
	}

	all, err := r.List(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 issue from fallback, got %d", len(all))
	}
}

func TestRouterNilPrimaryUsesFallback(t *testing.T) {
	ctx := context.Background()
	fallback := newTestFallback(t)
	r := NewRouter(nil, fallback)

	id, err := r.Create(ctx, testIssue("no primary", "section:decisions", "status:active"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Get(ctx, id); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestRouterMergesBothSources(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)
	fallback := newTestFallback(t)
	r := NewRouter(tr, fallback)

	primaryID, _ := tr.Create(ctx, testIssue("from primary", "section:decisions", "status:active"))
	fallbackID, _ := fallback.Create(ctx, testIssue("from fallback", "section:decisions", "status:active"))

	all, err := r.List(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected merged view of 2 issues, got %d", len(all))
	}

	if _, err := r.Get(ctx, primaryID); err != nil {
		t.Errorf("get primary-written: %v", err)
	}
	if _, err := r.Get(ctx, fallbackID); err != nil {
		t.Errorf("get fallback-written: %v", err)
	}
}

func TestRouterDeduplicatesByID(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)
	fallback := newTestFallback(t)
	r := NewRouter(tr, fallback)

	iss := testIssue("both paths", "section:decisions", "status:active")
	iss.ID = "proj-cafe00012345"
	tr.Create(ctx, iss)
	fallback.Create(ctx, iss)

	all, err := r.List(ctx, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected deduplicated view, got %d", len(all))
	}
}

func TestRouterUpdateFindsFallbackRecord(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)
	fallback := newTestFallback(t)
	r := NewRouter(tr, fallback)

	id, _ := fallback.Create(ctx, testIssue("offline", "section:decisions", "status:active"))

	title := "updated"
	if err := r.Update(ctx, id, Mutation{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := r.Get(ctx, id)
	if got.Title != "updated" {
		t.Errorf("expected fallback record updated, got %q", got.Title)
	}
}

func TestRouterRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)
	fallback := newTestFallback(t)
	r := NewRouter(&flakyStore{inner: tr, failures: 2}, fallback)

	id, err := r.Create(ctx, testIssue("eventually lands", "section:decisions", "status:active"))
	if err != nil {
		t.Fatalf("create should succeed after retries: %v", err)
	}

	// landed on the primary, not the fallback
	if _, err := tr.Get(ctx, id); err != nil {
		t.Errorf("expected issue on primary after retries: %v", err)
	}
}
