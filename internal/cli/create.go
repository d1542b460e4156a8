package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mleone/durmem/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a memory entry",
		Long:  "Create a memory entry. Pipe a full entry as JSON via stdin, or build one from flags.",
		Run:   runCreate,
	}

	cmd.Flags().String("section", "", "Section: decisions, state, observations, learnings")
	cmd.Flags().String("kind", "other", "Kind: decision, requirement, invariant, incident, metric, hypothesis, runbook_step, other")
	cmd.Flags().String("subject", "", "Canonical entity key")
	cmd.Flags().String("scope", "repo", "Scope: repo, org, customer, service:<name>, environment:<prod|staging>")
	cmd.Flags().String("summary", "", "One-line summary (max 300 chars)")
	cmd.Flags().String("content", "", "Entry content (max 2000 chars)")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().Float64("confidence", 0.7, "Confidence in [0.0, 1.0]")
	cmd.Flags().String("evidence", "", `Evidence list as JSON, e.g. [{"type":"code","uri":"pkg/x.go:10","note":"impl"}]`)
	cmd.Flags().Bool("draft", false, "Create as draft instead of active")
	cmd.Flags().String("valid-from", "", "Validity window start (RFC 3339, required for state entries)")
	cmd.Flags().String("valid-to", "", "Validity window end (RFC 3339, required for state entries)")

	RootCmd.AddCommand(cmd)
}

func runCreate(cmd *cobra.Command, args []string) {
	e := entryFromInput(cmd)

	m := openManager()
	defer m.Close()

	if _, err := m.Create(cmd.Context(), e); err != nil {
		exitErr("create", err)
	}

	b, _ := json.Marshal(e)
	fmt.Println(string(b))
}

// entryFromInput decodes a piped JSON entry when stdin is not a
// terminal, otherwise assembles one from flags.
func entryFromInput(cmd *cobra.Command) *model.Entry {
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		if len(strings.TrimSpace(string(raw))) > 0 {
			var e model.Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				exitErr("parse entry json", err)
			}
			return &e
		}
	}

	section, _ := cmd.Flags().GetString("section")
	kind, _ := cmd.Flags().GetString("kind")
	subject, _ := cmd.Flags().GetString("subject")
	scope, _ := cmd.Flags().GetString("scope")
	summary, _ := cmd.Flags().GetString("summary")
	content, _ := cmd.Flags().GetString("content")
	tagsStr, _ := cmd.Flags().GetString("tags")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	evidenceJSON, _ := cmd.Flags().GetString("evidence")
	draft, _ := cmd.Flags().GetBool("draft")

	e := &model.Entry{
		Section:    model.Section(section),
		Kind:       model.Kind(kind),
		Subject:    subject,
		Scope:      scope,
		Summary:    summary,
		Content:    content,
		Confidence: confidence,
		Tags:       splitTags(tagsStr),
	}
	if draft {
		e.Status = model.StatusDraft
	}
	if evidenceJSON != "" {
		if err := json.Unmarshal([]byte(evidenceJSON), &e.Evidence); err != nil {
			exitErr("parse evidence json", err)
		}
	}
	e.ValidFrom = parseTimeFlag(cmd, "valid-from")
	e.ValidTo = parseTimeFlag(cmd, "valid-to")
	return e
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func parseTimeFlag(cmd *cobra.Command, name string) *time.Time {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		exitErr("parse --"+name, err)
	}
	return &t
}
