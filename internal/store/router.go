package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
)

const (
	// callTimeout bounds every backend call so a hung engine surfaces as
	// a transient failure instead of blocking the caller indefinitely.
	callTimeout = 5 * time.Second

	// maxRetries for transient storage errors before surfacing.
	maxRetries = 3
)

// Router is the RecordStore facing the rest of the system. Writes go to
// the primary tracker; the specific unavailable signal (and only that
// signal) switches them to the fallback log. Reads merge both sources by
// identifier so callers never need to know which path served a prior
// write.
type Router struct {
	primary  RecordStore
	fallback RecordStore
}

// NewRouter wires a primary store and a fallback log. primary may be nil
// when the tracker could not be opened at all; every call then uses the
// fallback.
func NewRouter(primary, fallback RecordStore) *Router {
	return &Router{primary: primary, fallback: fallback}
}

// retry runs op with exponential backoff for transient errors. The
// unavailable and not-found conditions are permanent: the first routes to
// the fallback, the second is an answer.
func retry(ctx context.Context, op func(context.Context) error) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		err := op(callCtx)
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
	return backoff.Retry(attempt, backoff.WithContext(bo, ctx))
}

func (r *Router) Create(ctx context.Context, iss Issue) (string, error) {
	if r.primary != nil {
		var id string
		err := retry(ctx, func(ctx context.Context) error {
			var err error
			id, err = r.primary.Create(ctx, iss)
			return err
		})
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return "", err
		}
		log.Warn("primary backend unavailable, writing to fallback log", "err", err)
	}
	return r.fallback.Create(ctx, iss)
}

func (r *Router) Update(ctx context.Context, id string, mut Mutation) error {
	if r.primary != nil {
		err := retry(ctx, func(ctx context.Context) error {
			return r.primary.Update(ctx, id, mut)
		})
		if err == nil {
			return nil
		}
		// Not found on the primary may simply mean the record was
		// written through the fallback.
		if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrNotFound) {
			return err
		}
		if errors.Is(err, ErrUnavailable) {
			log.Warn("primary backend unavailable, updating fallback log", "err", err)
		}
	}
	return r.fallback.Update(ctx, id, mut)
}

func (r *Router) Get(ctx context.Context, id string) (*Issue, error) {
	var fromPrimary *Issue
	if r.primary != nil {
		err := retry(ctx, func(ctx context.Context) error {
			var err error
			fromPrimary, err = r.primary.Get(ctx, id)
			return err
		})
		if err != nil && !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if errors.Is(err, ErrUnavailable) {
			log.Warn("primary backend unavailable, reading fallback log only", "err", err)
		}
	}

	fromFallback, err := r.fallback.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	switch {
	case fromPrimary == nil && fromFallback == nil:
		return nil, ErrNotFound
	case fromPrimary == nil:
		return fromFallback, nil
	case fromFallback == nil:
		return fromPrimary, nil
	case fromFallback.UpdatedAt.After(fromPrimary.UpdatedAt):
		return fromFallback, nil
	default:
		return fromPrimary, nil
	}
}

func (r *Router) List(ctx context.Context, filter LabelFilter) ([]Issue, error) {
	merged := make(map[string]Issue)

	if r.primary != nil {
		var issues []Issue
		err := retry(ctx, func(ctx context.Context) error {
			var err error
			issues, err = r.primary.List(ctx, filter)
			return err
		})
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		if errors.Is(err, ErrUnavailable) {
			log.Warn("primary backend unavailable, listing fallback log only", "err", err)
		}
		for _, iss := range issues {
			merged[iss.ID] = iss
		}
	}

	fromFallback, err := r.fallback.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, iss := range fromFallback {
		if prev, ok := merged[iss.ID]; !ok || iss.UpdatedAt.After(prev.UpdatedAt) {
			merged[iss.ID] = iss
		}
	}

	issues := make([]Issue, 0, len(merged))
	for _, iss := range merged {
		issues = append(issues, iss)
	}
	return issues, nil
}

func (r *Router) Close() error {
	var firstErr error
	if r.primary != nil {
		firstErr = r.primary.Close()
	}
	if err := r.fallback.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
