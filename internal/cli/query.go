package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mleone/durmem/internal/memory"
	"github.com/mleone/durmem/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query memory entries",
		Long:  "Query entries through the filter-rank-limit pipeline. Without explicit filters, only active entries with confidence >= 0.6 are returned, at most 50, best first.",
		Run:   runQuery,
	}

	cmd.Flags().String("section", "", "Filter by section")
	cmd.Flags().String("kind", "", "Filter by kind")
	cmd.Flags().StringSlice("status", nil, "Filter by status (repeatable; default active)")
	cmd.Flags().String("subject", "", "Filter by subject (contains match)")
	cmd.Flags().String("scope", "", "Filter by scope; service/environment/customer scopes also admit repo and org entries")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags, all required")
	cmd.Flags().Float64("min-confidence", -1, "Confidence floor (default 0.6)")
	cmd.Flags().Float64("max-confidence", -1, "Confidence ceiling")
	cmd.Flags().String("created-after", "", "Only entries created after (RFC 3339)")
	cmd.Flags().String("created-before", "", "Only entries created before (RFC 3339)")
	cmd.Flags().String("updated-after", "", "Only entries updated after (RFC 3339)")
	cmd.Flags().String("updated-before", "", "Only entries updated before (RFC 3339)")
	cmd.Flags().Bool("include-expired", false, "Keep state entries whose valid_to has passed")
	cmd.Flags().Bool("summary-only", false, "Return only id, summary, subject, scope, kind, confidence")
	cmd.Flags().Bool("related", false, "Append related entries to the results")

	RootCmd.AddCommand(cmd)
}

func runQuery(cmd *cobra.Command, args []string) {
	f := filtersFromFlags(cmd)

	m := openManager()
	defer m.Close()

	result, err := m.Query(cmd.Context(), f)
	if err != nil {
		exitErr("query", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}

func filtersFromFlags(cmd *cobra.Command) memory.QueryFilters {
	section, _ := cmd.Flags().GetString("section")
	kind, _ := cmd.Flags().GetString("kind")
	statuses, _ := cmd.Flags().GetStringSlice("status")
	subject, _ := cmd.Flags().GetString("subject")
	scope, _ := cmd.Flags().GetString("scope")
	tagsStr, _ := cmd.Flags().GetString("tags")
	includeExpired, _ := cmd.Flags().GetBool("include-expired")
	summaryOnly, _ := cmd.Flags().GetBool("summary-only")
	related, _ := cmd.Flags().GetBool("related")

	f := memory.QueryFilters{
		Section:        model.Section(section),
		Kind:           model.Kind(kind),
		Subject:        subject,
		Scope:          scope,
		Tags:           splitTags(tagsStr),
		IncludeExpired: includeExpired,
		SummaryOnly:    summaryOnly,
		IncludeRelated: related,
	}
	for _, s := range statuses {
		f.Status = append(f.Status, model.Status(s))
	}
	if v, _ := cmd.Flags().GetFloat64("min-confidence"); v >= 0 {
		f.MinConfidence = &v
	}
	if v, _ := cmd.Flags().GetFloat64("max-confidence"); v >= 0 {
		f.MaxConfidence = &v
	}
	f.CreatedAfter = parseTimeFlag(cmd, "created-after")
	f.CreatedBefore = parseTimeFlag(cmd, "created-before")
	f.UpdatedAfter = parseTimeFlag(cmd, "updated-after")
	f.UpdatedBefore = parseTimeFlag(cmd, "updated-before")
	return f
}
