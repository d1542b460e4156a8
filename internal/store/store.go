// Package store provides the record storage port: a tracker-backed
// primary, an append-only local fallback log, and a router that keeps
// reads consistent across both.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for an unknown identifier.
var ErrNotFound = errors.New("record not found")

// ErrUnavailable marks the specific condition where the primary
// backend's persistence engine is not reachable. The router treats it as
// the signal to switch to the fallback log; every other storage error is
// surfaced (after retries) instead.
var ErrUnavailable = errors.New("backend unavailable")

// Issue is the record shape shared by both storage paths: label-encoded
// classification plus a body carrying content and a structured metadata
// block. It mirrors what the tracker backend stores.
type Issue struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Labels    []string  `json:"labels"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mutation is a partial update to an existing issue. Nil fields are left
// unchanged; Labels, when non-nil, replaces the full label set. A nil
// UpdatedAt lets the store stamp the current time.
type Mutation struct {
	Title     *string
	Labels    []string
	Body      *string
	UpdatedAt *time.Time
}

// LabelFilter selects issues carrying every listed label. Empty selects
// all.
type LabelFilter []string

// Matches reports whether the issue carries every filter label.
func (f LabelFilter) Matches(labels []string) bool {
	for _, want := range f {
		found := false
		for _, l := range labels {
			if l == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RecordStore is the storage port. The primary implementation delegates
// to the tracker database; the fallback appends to a local line-record
// file. Both produce issues decodable by the same routine.
type RecordStore interface {
	// Create persists a new issue. When iss.ID is empty an identifier is
	// generated; a caller-supplied ID (import, replay) is kept as-is.
	Create(ctx context.Context, iss Issue) (string, error)

	// Update applies a partial mutation to an existing issue.
	Update(ctx context.Context, id string, mut Mutation) error

	// Get returns the issue with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Issue, error)

	// List returns issues carrying every label in the filter.
	List(ctx context.Context, filter LabelFilter) ([]Issue, error)

	Close() error
}

// SanitizeTag normalizes a project name into the identifier prefix used
// by fallback-generated IDs.
func SanitizeTag(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	tag := strings.Trim(b.String(), "-")
	if tag == "" {
		return "mem"
	}
	return tag
}
