package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mleone/durmem/internal/memory"
)

func init() {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export entries as line-delimited JSON",
		Long:  "Export matching entries, one JSON object per line. No default filters, ranking, or truncation apply, so export/import round-trips are lossless.",
		Run:   runExport,
	}
	exportCmd.Flags().String("out", "", "Output file (default: stdout)")
	exportCmd.Flags().String("section", "", "Filter by section")
	exportCmd.Flags().String("kind", "", "Filter by kind")
	exportCmd.Flags().StringSlice("status", nil, "Filter by status")
	exportCmd.Flags().String("subject", "", "Filter by subject")
	exportCmd.Flags().String("scope", "", "Filter by scope")
	exportCmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	exportCmd.Flags().Float64("min-confidence", -1, "Confidence floor")
	exportCmd.Flags().Float64("max-confidence", -1, "Confidence ceiling")
	exportCmd.Flags().String("created-after", "", "Only entries created after (RFC 3339)")
	exportCmd.Flags().String("created-before", "", "Only entries created before (RFC 3339)")
	exportCmd.Flags().String("updated-after", "", "Only entries updated after (RFC 3339)")
	exportCmd.Flags().String("updated-before", "", "Only entries updated before (RFC 3339)")
	exportCmd.Flags().Bool("include-expired", true, "Keep expired state entries")
	exportCmd.Flags().Bool("summary-only", false, "")
	exportCmd.Flags().Bool("related", false, "")
	exportCmd.Flags().MarkHidden("summary-only")
	exportCmd.Flags().MarkHidden("related")

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import line-delimited JSON entries",
		Long:  "Import entries from a file or stdin, preserving identifiers and timestamps. Collisions are resolved by --strategy and reported.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}
	importCmd.Flags().String("strategy", "skip", "Conflict strategy: skip, overwrite, merge")

	RootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	f := filtersFromFlags(cmd)

	var w io.Writer = os.Stdout
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		fh, err := os.Create(resolvePath(out))
		if err != nil {
			exitErr("create export file", err)
		}
		defer fh.Close()
		w = fh
	}

	m := openManager()
	defer m.Close()

	n, err := m.Export(cmd.Context(), f, w)
	if err != nil {
		exitErr("export", err)
	}
	fmt.Fprintf(os.Stderr, "exported %d entries\n", n)
}

func runImport(cmd *cobra.Command, args []string) {
	strategy, _ := cmd.Flags().GetString("strategy")

	var r io.Reader = os.Stdin
	if len(args) == 1 {
		fh, err := os.Open(resolvePath(args[0]))
		if err != nil {
			exitErr("open import file", err)
		}
		defer fh.Close()
		r = fh
	}

	m := openManager()
	defer m.Close()

	report, err := m.Import(cmd.Context(), r, memory.ConflictStrategy(strategy))
	if err != nil {
		exitErr("import", err)
	}
	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}
