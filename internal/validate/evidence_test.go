package validate

import (
	"strings"
	"testing"

	"github.com/mleone/durmem/internal/model"
)

func TestEvidenceListShapes(t *testing.T) {
	ok := []model.Evidence{
		{Type: model.EvidenceCode, URI: "https://github.com/org/repo/blob/abc123/pkg/auth.go", Note: "impl"},
		{Type: model.EvidenceCode, URI: "internal/store/tracker.go:42", Note: "impl"},
		{Type: model.EvidenceTicket, URI: "https://tracker.example.com/issues/1234", Note: "outage"},
		{Type: model.EvidenceTicket, URI: "OPS-451", Note: "followup"},
		{Type: model.EvidenceDoc, URI: "https://docs.example.com/runbook", Note: "runbook"},
		{Type: model.EvidenceDoc, URI: "docs/design.md", Note: "design"},
		{Type: model.EvidenceAssumption, URI: "gut feeling", Note: "needs verification"},
		{Type: model.EvidenceLog, URI: "logs/2026-02-01.txt", Note: "trace"},
	}
	if err := EvidenceList(ok); err != nil {
		t.Fatalf("expected valid evidence, got %v", err)
	}
}

func TestEvidenceListRejections(t *testing.T) {
	cases := []struct {
		name string
		ev   model.Evidence
		want string
	}{
		{"missing type", model.Evidence{URI: "x", Note: "n"}, "type is required"},
		{"unknown type", model.Evidence{Type: "vibes", URI: "x", Note: "n"}, "unknown type"},
		{"missing note", model.Evidence{Type: model.EvidenceDoc, URI: "docs/a.md"}, "note is required"},
		{"missing uri", model.Evidence{Type: model.EvidenceDoc, Note: "n"}, "uri is required"},
		{"bad code locator", model.Evidence{Type: model.EvidenceCode, URI: "not a locator at all", Note: "n"}, "code evidence"},
		{"bad ticket shape", model.Evidence{Type: model.EvidenceTicket, URI: "just words", Note: "n"}, "ticket evidence"},
		{"bad doc uri", model.Evidence{Type: model.EvidenceDoc, URI: "has spaces in it", Note: "n"}, "doc evidence"},
	}
	for _, tc := range cases {
		err := EvidenceList([]model.Evidence{tc.ev})
		if err == nil {
			t.Errorf("%s: expected rejection", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q should contain %q", tc.name, err, tc.want)
		}
	}
}

func TestEvidenceListReportsAllViolations(t *testing.T) {
	err := EvidenceList([]model.Evidence{
		{Type: model.EvidenceCode, URI: "not a locator at all", Note: "n"},
		{Type: "vibes", URI: "x", Note: "n"},
	})
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(err.Error(), "evidence[0]") || !strings.Contains(err.Error(), "evidence[1]") {
		t.Errorf("expected both elements attributed: %v", err)
	}
}
