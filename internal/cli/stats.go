package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mleone/durmem/internal/memory"
)

func init() {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Long:  "Aggregate metrics over the store: counts, confidence histogram, evidence types, creators, supersession trends. Cached for five minutes per scope.",
		Run:   runStats,
	}
	statsCmd.Flags().String("scope", "", "Limit to one scope")
	statsCmd.Flags().String("from", "", "Count only entries created after (RFC 3339)")
	statsCmd.Flags().String("to", "", "Count only entries created before (RFC 3339)")
	statsCmd.Flags().Bool("refresh", false, "Bypass the cache and recompute")

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Report (and tag) consolidation candidates",
		Long:  "Scan for superseded entries and replacements orphaned by an interrupted supersede. Nothing is ever deleted; without --dry-run candidates get a consolidation-candidate tag.",
		Run:   runCompact,
	}
	compactCmd.Flags().Bool("dry-run", false, "Report without writing tags")

	RootCmd.AddCommand(statsCmd, compactCmd)
}

// memoryDateRange builds a date range from the shared --from/--to flags.
func memoryDateRange(cmd *cobra.Command) memory.DateRange {
	return memory.DateRange{
		From: parseTimeFlag(cmd, "from"),
		To:   parseTimeFlag(cmd, "to"),
	}
}

func runStats(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	refresh, _ := cmd.Flags().GetBool("refresh")
	dr := memoryDateRange(cmd)

	m := openManager()
	defer m.Close()

	stats, err := m.GetStatistics(cmd.Context(), scope, dr, refresh)
	if err != nil {
		exitErr("stats", err)
	}
	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}

func runCompact(cmd *cobra.Command, args []string) {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	m := openManager()
	defer m.Close()

	report, err := m.Compact(cmd.Context(), dryRun)
	if err != nil {
		exitErr("compact", err)
	}
	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}
