// Package memory implements the durable knowledge store: lifecycle
// transitions, the query pipeline, statistics, and query-pattern
// logging, all above the storage port.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mleone/durmem/internal/model"
	"github.com/mleone/durmem/internal/secrets"
	"github.com/mleone/durmem/internal/store"
	"github.com/mleone/durmem/internal/validate"
)

// ErrDuplicate marks a create whose subject, scope, and summary already
// exist.
var ErrDuplicate = errors.New("duplicate entry")

// ErrBadTransition marks a lifecycle transition the state machine does
// not allow.
var ErrBadTransition = errors.New("invalid status transition")

const (
	trackerFile  = "tracker.db"
	fallbackFile = "fallback-log.jsonl"
	queryLogDir  = "query-logs"
)

// Manager owns the write path and the read surface of the store.
type Manager struct {
	root    string
	agent   string
	records store.RecordStore
	stats   *statsCache
	qlog    *QueryLog
	now     func() time.Time

	// set when the tracker database does not exist yet; the first write
	// auto-initializes it
	uninitialized bool
}

// Open wires a manager over the memory root directory. A missing tracker
// database is not an error: reads work against the fallback log (empty
// when nothing was ever written) and the first write initializes storage.
func Open(root, agent string) (*Manager, error) {
	m := &Manager{
		root:  root,
		agent: agent,
		qlog:  NewQueryLog(filepath.Join(root, queryLogDir)),
		now:   func() time.Time { return time.Now().UTC() },
	}
	m.stats = newStatsCache(func() time.Time { return m.now() })

	fallback := store.NewFallbackLog(filepath.Join(root, fallbackFile), projectTag(root))

	primary, err := store.OpenTracker(filepath.Join(root, trackerFile))
	switch {
	case err == nil:
		m.records = store.NewRouter(primary, fallback)
	case errors.Is(err, store.ErrUnavailable):
		m.uninitialized = true
		m.records = store.NewRouter(nil, fallback)
	default:
		return nil, err
	}
	return m, nil
}

// Init creates the memory root and the tracker database with defaults.
// It is idempotent.
func (m *Manager) Init() error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return fmt.Errorf("create memory root: %w", err)
	}
	primary, err := store.InitTracker(filepath.Join(m.root, trackerFile))
	if err != nil {
		return err
	}
	m.records.Close()
	fallback := store.NewFallbackLog(filepath.Join(m.root, fallbackFile), projectTag(m.root))
	m.records = store.NewRouter(primary, fallback)
	m.uninitialized = false
	return nil
}

// ensureInit auto-initializes storage before a write against an
// uninitialized project. An unreachable (as opposed to absent) tracker is
// left alone; the router handles that with the fallback log.
func (m *Manager) ensureInit() error {
	if !m.uninitialized {
		return nil
	}
	return m.Init()
}

func (m *Manager) Close() error {
	return m.records.Close()
}

// projectTag derives the fallback ID prefix from the directory holding
// the memory root.
func projectTag(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "mem"
	}
	return store.SanitizeTag(filepath.Base(filepath.Dir(abs)))
}

// nextTimestamp keeps updated_at strictly increasing per entry even when
// the clock has not advanced past the previous write.
func nextTimestamp(now, prev time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Millisecond)
}

// Create validates, gates, and persists a new entry, returning its
// identifier. Status defaults to active unless the candidate is draft.
func (m *Manager) Create(ctx context.Context, e *model.Entry) (string, error) {
	if e.Status == "" {
		e.Status = model.StatusActive
	}
	if err := validate.Entry(e); err != nil {
		return "", err
	}
	if err := secrets.ScanEntry(e); err != nil {
		return "", err
	}
	if err := validate.EvidenceList(e.Evidence); err != nil {
		return "", err
	}
	if err := m.checkDuplicate(ctx, e); err != nil {
		return "", err
	}
	if err := m.ensureInit(); err != nil {
		return "", err
	}

	now := m.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.Before(e.CreatedAt) {
		e.UpdatedAt = e.CreatedAt
	}
	if e.CreatedBy == "" {
		e.CreatedBy = m.agent
	}

	iss, err := store.EncodeEntry(e)
	if err != nil {
		return "", err
	}
	id, err := m.records.Create(ctx, iss)
	if err != nil {
		return "", err
	}
	e.ID = id
	m.stats.Invalidate(e.Scope)
	return id, nil
}

func (m *Manager) checkDuplicate(ctx context.Context, e *model.Entry) error {
	existing, err := m.list(ctx)
	if err != nil {
		return err
	}
	for _, prev := range existing {
		if prev.Subject == e.Subject && prev.Scope == e.Scope && prev.Summary == e.Summary {
			return fmt.Errorf("%w: %s already records %q in scope %s", ErrDuplicate, prev.ID, e.Summary, e.Scope)
		}
	}
	return nil
}

// Get returns the decoded entry for id from whichever path holds it.
func (m *Manager) Get(ctx context.Context, id string) (*model.Entry, error) {
	iss, err := m.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.DecodeIssue(iss)
}

// GetRelated follows the entry's related-entry links. Dangling links are
// skipped with a warning.
func (m *Manager) GetRelated(ctx context.Context, id string) ([]model.Entry, error) {
	e, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var related []model.Entry
	for _, rid := range e.RelatedEntries {
		r, err := m.Get(ctx, rid)
		if err != nil {
			log.Warn("related entry unavailable", "id", rid, "err", err)
			continue
		}
		related = append(related, *r)
	}
	return related, nil
}

// Supersede replaces target with a new entry. The replacement is created
// first (status forced to active, carrying a defensive back-link to the
// target), then the target is marked superseded. The two writes are not
// transactional: a crash in between leaves a replacement whose back-link
// lets Compact report it for reconciliation.
func (m *Manager) Supersede(ctx context.Context, targetID string, replacement *model.Entry) (string, error) {
	target, err := m.Get(ctx, targetID)
	if err != nil {
		return "", err
	}
	if target.Status != model.StatusActive {
		return "", fmt.Errorf("%w: cannot supersede %s entry %s", ErrBadTransition, target.Status, targetID)
	}

	replacement.Status = model.StatusActive
	replacement.Replaces = targetID
	newID, err := m.Create(ctx, replacement)
	if err != nil {
		return "", err
	}

	target.Status = model.StatusSuperseded
	target.SupersededBy = newID
	target.UpdatedAt = nextTimestamp(m.now(), target.UpdatedAt)
	if err := m.writeEntry(ctx, target); err != nil {
		return "", fmt.Errorf("replacement %s created but target not marked: %w", newID, err)
	}
	m.stats.Invalidate(target.Scope)
	return newID, nil
}

// Deprecate retires target with no replacement.
func (m *Manager) Deprecate(ctx context.Context, targetID string) error {
	target, err := m.Get(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Status != model.StatusActive {
		return fmt.Errorf("%w: cannot deprecate %s entry %s", ErrBadTransition, target.Status, targetID)
	}
	target.Status = model.StatusDeprecated
	target.SupersededBy = ""
	target.UpdatedAt = nextTimestamp(m.now(), target.UpdatedAt)
	if err := m.writeEntry(ctx, target); err != nil {
		return err
	}
	m.stats.Invalidate(target.Scope)
	return nil
}

// Activate promotes a draft to active. Drafts never activate on their
// own.
func (m *Manager) Activate(ctx context.Context, id string) error {
	e, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != model.StatusDraft {
		return fmt.Errorf("%w: cannot activate %s entry %s", ErrBadTransition, e.Status, id)
	}
	e.Status = model.StatusActive
	e.UpdatedAt = nextTimestamp(m.now(), e.UpdatedAt)
	if err := m.writeEntry(ctx, e); err != nil {
		return err
	}
	m.stats.Invalidate(e.Scope)
	return nil
}

// Extend pushes an entry's valid_to forward. It is the one mutation
// allowed on terminal-status entries.
func (m *Manager) Extend(ctx context.Context, id string, validTo time.Time) error {
	e, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.ValidTo == nil {
		return fmt.Errorf("entry %s has no validity window to extend", id)
	}
	if !validTo.After(*e.ValidTo) {
		return fmt.Errorf("valid_to may only be extended (current %s)", e.ValidTo.Format(time.RFC3339))
	}
	e.ValidTo = &validTo
	e.UpdatedAt = nextTimestamp(m.now(), e.UpdatedAt)
	if err := m.writeEntry(ctx, e); err != nil {
		return err
	}
	m.stats.Invalidate(e.Scope)
	return nil
}

// writeEntry re-encodes the full entry and updates the stored record.
func (m *Manager) writeEntry(ctx context.Context, e *model.Entry) error {
	iss, err := store.EncodeEntry(e)
	if err != nil {
		return err
	}
	return m.records.Update(ctx, e.ID, store.Mutation{
		Title:     &iss.Title,
		Labels:    iss.Labels,
		Body:      &iss.Body,
		UpdatedAt: &iss.UpdatedAt,
	})
}

// list returns every decodable entry from both storage paths.
// Undecodable records are reported and skipped so one bad record cannot
// take the whole read path down.
func (m *Manager) list(ctx context.Context) ([]model.Entry, error) {
	issues, err := m.records.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	entries := make([]model.Entry, 0, len(issues))
	for i := range issues {
		e, err := store.DecodeIssue(&issues[i])
		if err != nil {
			log.Warn("skipping undecodable record", "err", err)
			continue
		}
		entries = append(entries, *e)
	}
	return entries, nil
}
