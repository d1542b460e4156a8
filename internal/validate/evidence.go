package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mleone/durmem/internal/model"
)

var (
	// Permalink or path with an optional line anchor, e.g.
	// https://github.com/org/repo/blob/sha/pkg/file.go#L42 or
	// internal/store/tracker.go:120.
	codeLocatorRe = regexp.MustCompile(`^(https?://\S+/blob/\S+|[\w./-]+\.\w+(:\d+)?(#L\d+(-L\d+)?)?)$`)

	// Ticket-system URL shapes: issue trackers and short ticket IDs.
	ticketRe = regexp.MustCompile(`^(https?://\S+/(issues?|browse|tickets?|work_items)/\S+|[A-Za-z][A-Za-z0-9]+-\d+)$`)
)

// EvidenceList checks every evidence element for structural and
// type-specific shape rules, reporting all violations.
func EvidenceList(evidence []model.Evidence) error {
	var reasons []Reason
	add := func(i int, msg string) {
		reasons = append(reasons, Reason{Field: fmt.Sprintf("evidence[%d]", i), Message: msg})
	}

	for i, ev := range evidence {
		if ev.Type == "" {
			add(i, "type is required")
		} else if !model.ValidEvidenceTypes[ev.Type] {
			add(i, fmt.Sprintf("unknown type %q", ev.Type))
		}
		if ev.Note == "" {
			add(i, "note is required")
		}
		if ev.URI == "" {
			add(i, "uri is required")
			continue
		}

		switch ev.Type {
		case model.EvidenceCode:
			if !codeLocatorRe.MatchString(ev.URI) {
				add(i, "code evidence needs a source permalink or file path")
			}
		case model.EvidenceTicket:
			if !ticketRe.MatchString(ev.URI) {
				add(i, "ticket evidence needs a ticket URL or ticket ID")
			}
		case model.EvidenceDoc:
			if !urlOrPath(ev.URI) {
				add(i, "doc evidence needs a URL or file path")
			}
		case model.EvidenceAssumption:
			// Assumptions carry free-form URIs; nothing to check.
		}
	}

	if len(reasons) > 0 {
		return &Error{Reasons: reasons}
	}
	return nil
}

func urlOrPath(s string) bool {
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		return err == nil && u.Host != ""
	}
	return !strings.ContainsAny(s, " \t\n")
}
