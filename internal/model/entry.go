// Package model defines the core memory entry types.
package model

import (
	"regexp"
	"time"
)

// Section groups entries by the part of the knowledge base they belong to.
type Section string

const (
	SectionDecisions    Section = "decisions"
	SectionState        Section = "state"
	SectionObservations Section = "observations"
	SectionLearnings    Section = "learnings"
)

// Kind classifies what an entry asserts.
type Kind string

const (
	KindDecision    Kind = "decision"
	KindRequirement Kind = "requirement"
	KindInvariant   Kind = "invariant"
	KindIncident    Kind = "incident"
	KindMetric      Kind = "metric"
	KindHypothesis  Kind = "hypothesis"
	KindRunbookStep Kind = "runbook_step"
	KindOther       Kind = "other"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusDeprecated Status = "deprecated"
	StatusDraft      Status = "draft"
)

// EvidenceType classifies a supporting reference.
type EvidenceType string

const (
	EvidenceArtifact   EvidenceType = "artifact"
	EvidenceCode       EvidenceType = "code"
	EvidenceLog        EvidenceType = "log"
	EvidenceScreenshot EvidenceType = "screenshot"
	EvidenceAssumption EvidenceType = "assumption"
	EvidenceTicket     EvidenceType = "ticket"
	EvidenceDoc        EvidenceType = "doc"
)

// ValidSections are the allowed entry sections.
var ValidSections = map[Section]bool{
	SectionDecisions:    true,
	SectionState:        true,
	SectionObservations: true,
	SectionLearnings:    true,
}

// ValidKinds are the allowed entry kinds.
var ValidKinds = map[Kind]bool{
	KindDecision:    true,
	KindRequirement: true,
	KindInvariant:   true,
	KindIncident:    true,
	KindMetric:      true,
	KindHypothesis:  true,
	KindRunbookStep: true,
	KindOther:       true,
}

// ValidStatuses are the allowed lifecycle states.
var ValidStatuses = map[Status]bool{
	StatusActive:     true,
	StatusSuperseded: true,
	StatusDeprecated: true,
	StatusDraft:      true,
}

// ValidEvidenceTypes are the allowed evidence reference types.
var ValidEvidenceTypes = map[EvidenceType]bool{
	EvidenceArtifact:   true,
	EvidenceCode:       true,
	EvidenceLog:        true,
	EvidenceScreenshot: true,
	EvidenceAssumption: true,
	EvidenceTicket:     true,
	EvidenceDoc:        true,
}

// Length ceilings enforced at creation.
const (
	MaxSummaryLen = 300
	MaxContentLen = 2000
)

var scopeRe = regexp.MustCompile(`^(repo|org|customer|service:[a-zA-Z0-9_.-]+|environment:(prod|staging))$`)

// ValidScope reports whether a scope string is one of repo, org, customer,
// service:<name>, or environment:<prod|staging>.
func ValidScope(scope string) bool {
	return scopeRe.MatchString(scope)
}

// Evidence is one supporting reference attached to an entry.
type Evidence struct {
	Type EvidenceType `json:"type"`
	URI  string       `json:"uri"`
	Note string       `json:"note"`
}

// Entry is a single durable memory record.
//
// Entries are append-mostly: after creation the only mutable fields are
// Status, SupersededBy, UpdatedAt, StaleEvidence, and ValidTo (extension
// only). Entries are never physically deleted.
type Entry struct {
	ID             string     `json:"id"`
	Section        Section    `json:"section"`
	Kind           Kind       `json:"kind"`
	Subject        string     `json:"subject"`
	Scope          string     `json:"scope"`
	Summary        string     `json:"summary"`
	Content        string     `json:"content"`
	Tags           []string   `json:"tags,omitempty"`
	Confidence     float64    `json:"confidence"`
	Evidence       []Evidence `json:"evidence"`
	Status         Status     `json:"status"`
	SupersededBy   string     `json:"superseded_by,omitempty"`
	RelatedEntries []string   `json:"related_entries,omitempty"`
	// Replaces is the defensive back-link a replacement records at create
	// time so an interrupted supersede can be reconciled later.
	Replaces      string     `json:"replaces,omitempty"`
	ValidFrom     *time.Time `json:"valid_from,omitempty"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
	CreatedBy     string     `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StaleEvidence bool       `json:"stale_evidence,omitempty"`
}

// HasTag reports whether the entry carries the given free tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Expired reports whether the entry's validity window has passed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ValidTo != nil && e.ValidTo.Before(now)
}

// NearExpiry reports whether valid_to falls within the given window of now.
func (e *Entry) NearExpiry(now time.Time, window time.Duration) bool {
	if e.ValidTo == nil {
		return false
	}
	return !e.ValidTo.Before(now) && e.ValidTo.Sub(now) <= window
}
