// Package cli implements the durmem CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mleone/durmem/internal/memory"
	"github.com/mleone/durmem/internal/workspace"
)

var (
	rootFlag  string
	agentFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "durmem",
	Short: "Durable evidence-backed memory for software agents",
	Long:  "Durable memory for autonomous agents: validated, evidence-backed entries persisted in a git-tracked issue store, with a local fallback log when the backend is down.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&rootFlag, "root", "r", "", "Memory root directory (default: $DURMEM_ROOT or ai-memory)")
	RootCmd.PersistentFlags().StringVarP(&agentFlag, "agent", "a", "", "Agent identifier recorded as created_by (default: $DURMEM_AGENT)")
}

func memoryRoot() string {
	if rootFlag != "" {
		return rootFlag
	}
	if env := os.Getenv("DURMEM_ROOT"); env != "" {
		return env
	}
	return "ai-memory"
}

func agentID() string {
	if agentFlag != "" {
		return agentFlag
	}
	if env := os.Getenv("DURMEM_AGENT"); env != "" {
		return env
	}
	return "unknown-agent"
}

// resolvePath confines a caller-supplied path to the workspace (the
// current working directory) before anything touches the filesystem.
func resolvePath(p string) string {
	cwd, err := os.Getwd()
	if err != nil {
		exitErr("resolve workspace", err)
	}
	resolved, err := workspace.Resolve(cwd, p)
	if err != nil {
		exitErr("resolve path", err)
	}
	return resolved
}

func openManager() *memory.Manager {
	m, err := memory.Open(resolvePath(memoryRoot()), agentID())
	if err != nil {
		exitErr("open memory store", err)
	}
	return m
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
