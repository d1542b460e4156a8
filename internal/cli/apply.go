package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mleone/durmem/internal/model"
)

func init() {
	applyCmd := &cobra.Command{
		Use:   "apply [file]",
		Short: "Apply a batch of memory updates",
		Long:  "Apply line-delimited update commands (create, supersede, deprecate) from a file or stdin. Each update is applied independently; failures are reported and skipped, never aborting the batch.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runApply,
	}

	analyzeCmd := &cobra.Command{
		Use:   "trends",
		Short: "Analyze query patterns from the query log",
		Run:   runTrends,
	}
	analyzeCmd.Flags().String("scope", "", "Analyze the log for one scope")
	analyzeCmd.Flags().String("from", "", "Only queries after (RFC 3339)")
	analyzeCmd.Flags().String("to", "", "Only queries before (RFC 3339)")

	verifyCmd := &cobra.Command{
		Use:   "verify-evidence",
		Short: "Flag entries whose evidence went unreachable",
		Long:  "Check every entry's evidence references: file paths for existence under the project root, URLs for shape. Entries with unreachable evidence get the stale-evidence flag, which down-ranks them in queries.",
		Run:   runVerifyEvidence,
	}
	verifyCmd.Flags().String("project-root", ".", "Project root file evidence paths resolve against")

	RootCmd.AddCommand(applyCmd, analyzeCmd, verifyCmd)
}

func runApply(cmd *cobra.Command, args []string) {
	var r io.Reader = os.Stdin
	if len(args) == 1 {
		fh, err := os.Open(resolvePath(args[0]))
		if err != nil {
			exitErr("open batch file", err)
		}
		defer fh.Close()
		r = fh
	}

	var updates []model.Update
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var u model.Update
		if err := json.Unmarshal(sc.Bytes(), &u); err != nil {
			exitErr("parse update", err)
		}
		updates = append(updates, u)
	}
	if err := sc.Err(); err != nil {
		exitErr("read batch", err)
	}

	m := openManager()
	defer m.Close()

	results := m.Apply(cmd.Context(), updates)
	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}

func runTrends(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")

	m := openManager()
	defer m.Close()

	trends, err := m.AnalyzeQueries(scope, memoryDateRange(cmd))
	if err != nil {
		exitErr("trends", err)
	}
	b, _ := json.MarshalIndent(trends, "", "  ")
	fmt.Println(string(b))
}

func runVerifyEvidence(cmd *cobra.Command, args []string) {
	projectRoot, _ := cmd.Flags().GetString("project-root")

	m := openManager()
	defer m.Close()

	report, err := m.VerifyEvidence(cmd.Context(), resolvePath(projectRoot))
	if err != nil {
		exitErr("verify evidence", err)
	}
	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}
