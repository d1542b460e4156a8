package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mleone/durmem/internal/model"
)

// MetadataMarker separates an issue body's free text from its structured
// metadata block.
const MetadataMarker = "---METADATA---"

// metadataBlock is the structured sub-document embedded in an issue body.
type metadataBlock struct {
	Subject        string           `json:"subject"`
	Confidence     float64          `json:"confidence"`
	Evidence       []model.Evidence `json:"evidence"`
	SupersededBy   string           `json:"superseded_by,omitempty"`
	RelatedEntries []string         `json:"related_entries,omitempty"`
	Replaces       string           `json:"replaces,omitempty"`
	CreatedBy      string           `json:"created_by"`
	ValidFrom      *time.Time       `json:"valid_from,omitempty"`
	ValidTo        *time.Time       `json:"valid_to,omitempty"`
	StaleEvidence  bool             `json:"stale_evidence,omitempty"`
}

// EncodeEntry renders an entry into the issue shape both storage paths
// persist: classification as colon-delimited labels, summary as the
// title, content plus a metadata block as the body.
func EncodeEntry(e *model.Entry) (Issue, error) {
	meta := metadataBlock{
		Subject:        e.Subject,
		Confidence:     e.Confidence,
		Evidence:       e.Evidence,
		SupersededBy:   e.SupersededBy,
		RelatedEntries: e.RelatedEntries,
		Replaces:       e.Replaces,
		CreatedBy:      e.CreatedBy,
		ValidFrom:      e.ValidFrom,
		ValidTo:        e.ValidTo,
		StaleEvidence:  e.StaleEvidence,
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Issue{}, fmt.Errorf("encode metadata: %w", err)
	}

	labels := []string{
		"section:" + string(e.Section),
		"kind:" + string(e.Kind),
		"scope:" + e.Scope,
		"status:" + string(e.Status),
	}
	for _, t := range e.Tags {
		labels = append(labels, "tag:"+t)
	}

	return Issue{
		ID:        e.ID,
		Title:     e.Summary,
		Labels:    labels,
		Body:      e.Content + "\n\n" + MetadataMarker + "\n" + string(raw),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}, nil
}

// DecodeIssue parses an issue back into a typed entry. Unknown or
// malformed labels and a missing or unparsable metadata block are decode
// errors surfaced here, at the port boundary, never silently dropped.
func DecodeIssue(iss *Issue) (*model.Entry, error) {
	e := &model.Entry{
		ID:        iss.ID,
		Summary:   iss.Title,
		CreatedAt: iss.CreatedAt,
		UpdatedAt: iss.UpdatedAt,
	}

	for _, label := range iss.Labels {
		key, value, ok := strings.Cut(label, ":")
		if !ok {
			return nil, fmt.Errorf("issue %s: malformed label %q", iss.ID, label)
		}
		switch key {
		case "section":
			e.Section = model.Section(value)
		case "kind":
			e.Kind = model.Kind(value)
		case "scope":
			e.Scope = value
		case "status":
			e.Status = model.Status(value)
		case "tag":
			e.Tags = append(e.Tags, value)
		default:
			return nil, fmt.Errorf("issue %s: unknown label key %q", iss.ID, key)
		}
	}
	if !model.ValidSections[e.Section] {
		return nil, fmt.Errorf("issue %s: missing or unknown section label", iss.ID)
	}
	if !model.ValidStatuses[e.Status] {
		return nil, fmt.Errorf("issue %s: missing or unknown status label", iss.ID)
	}

	// EncodeEntry always appends the metadata block last, so cut at the
	// final marker; content is free to mention the marker itself.
	cut := strings.LastIndex(iss.Body, MetadataMarker)
	if cut < 0 {
		return nil, fmt.Errorf("issue %s: body has no metadata block", iss.ID)
	}
	content := iss.Body[:cut]
	raw := iss.Body[cut+len(MetadataMarker):]
	var meta metadataBlock
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &meta); err != nil {
		return nil, fmt.Errorf("issue %s: decode metadata: %w", iss.ID, err)
	}

	e.Content = strings.TrimSpace(content)
	e.Subject = meta.Subject
	e.Confidence = meta.Confidence
	e.Evidence = meta.Evidence
	e.SupersededBy = meta.SupersededBy
	e.RelatedEntries = meta.RelatedEntries
	e.Replaces = meta.Replaces
	e.CreatedBy = meta.CreatedBy
	e.ValidFrom = meta.ValidFrom
	e.ValidTo = meta.ValidTo
	e.StaleEvidence = meta.StaleEvidence
	return e, nil
}
