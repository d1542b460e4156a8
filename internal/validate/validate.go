// Package validate enforces field-level invariants on memory entries
// before they reach storage.
package validate

import (
	"fmt"
	"strings"

	"github.com/mleone/durmem/internal/model"
)

// Reason is one violated rule, attributed to the offending field.
type Reason struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error aggregates every rule an entry violated. Validation never stops
// at the first failure.
type Error struct {
	Reasons []Reason
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		parts[i] = fmt.Sprintf("%s: %s", r.Field, r.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Entry checks a candidate entry against every creation invariant and
// returns an *Error listing all violations, or nil. It is pure: the
// candidate is never modified and nothing is persisted.
func Entry(e *model.Entry) error {
	var reasons []Reason
	add := func(field, msg string) {
		reasons = append(reasons, Reason{Field: field, Message: msg})
	}

	if e.Section == "" {
		add("section", "required")
	} else if !model.ValidSections[e.Section] {
		add("section", fmt.Sprintf("unknown section %q", e.Section))
	}
	if e.Kind == "" {
		add("kind", "required")
	} else if !model.ValidKinds[e.Kind] {
		add("kind", fmt.Sprintf("unknown kind %q", e.Kind))
	}
	if e.Subject == "" {
		add("subject", "required")
	}
	if e.Scope == "" {
		add("scope", "required")
	} else if !model.ValidScope(e.Scope) {
		add("scope", fmt.Sprintf("%q does not match repo, org, customer, service:<name>, or environment:<prod|staging>", e.Scope))
	}
	if e.Summary == "" {
		add("summary", "required")
	} else if len(e.Summary) > model.MaxSummaryLen {
		add("summary", fmt.Sprintf("exceeds %d characters", model.MaxSummaryLen))
	}
	if e.Content == "" {
		add("content", "required")
	} else if len(e.Content) > model.MaxContentLen {
		add("content", fmt.Sprintf("exceeds %d characters", model.MaxContentLen))
	}
	if e.Confidence < 0.0 || e.Confidence > 1.0 {
		add("confidence", fmt.Sprintf("%v is outside [0.0, 1.0]", e.Confidence))
	}
	if len(e.Evidence) == 0 {
		add("evidence", "at least one evidence reference is required")
	}
	if e.Status != "" && !model.ValidStatuses[e.Status] {
		add("status", fmt.Sprintf("unknown status %q", e.Status))
	}

	// State entries describe a time-bounded condition; both ends of the
	// validity window are mandatory.
	if e.Section == model.SectionState {
		if e.ValidFrom == nil {
			add("valid_from", "required when section is state")
		}
		if e.ValidTo == nil {
			add("valid_to", "required when section is state")
		}
		if e.ValidFrom != nil && e.ValidTo != nil && e.ValidTo.Before(*e.ValidFrom) {
			add("valid_to", "must not precede valid_from")
		}
	}

	if len(reasons) > 0 {
		return &Error{Reasons: reasons}
	}
	return nil
}
