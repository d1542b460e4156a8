package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mleone/durmem/internal/model"
)

func init() {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the memory store",
		Run: func(cmd *cobra.Command, args []string) {
			m := openManager()
			defer m.Close()
			if err := m.Init(); err != nil {
				exitErr("init", err)
			}
			fmt.Printf(`{"ok":true,"root":%q}`+"\n", memoryRoot())
		},
	}

	supersedeCmd := &cobra.Command{
		Use:   "supersede <id>",
		Short: "Replace an entry with a new one",
		Long:  "Replace an active entry. The replacement entry is read as JSON from stdin, created active, and the target is marked superseded pointing at it.",
		Args:  cobra.ExactArgs(1),
		Run:   runSupersede,
	}

	deprecateCmd := &cobra.Command{
		Use:   "deprecate <id>",
		Short: "Retire an entry without replacement",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			m := openManager()
			defer m.Close()
			if err := m.Deprecate(cmd.Context(), args[0]); err != nil {
				exitErr("deprecate", err)
			}
			fmt.Printf(`{"ok":true,"id":%q,"status":"deprecated"}`+"\n", args[0])
		},
	}

	activateCmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Promote a draft entry to active",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			m := openManager()
			defer m.Close()
			if err := m.Activate(cmd.Context(), args[0]); err != nil {
				exitErr("activate", err)
			}
			fmt.Printf(`{"ok":true,"id":%q,"status":"active"}`+"\n", args[0])
		},
	}

	extendCmd := &cobra.Command{
		Use:   "extend <id>",
		Short: "Extend an entry's validity window",
		Args:  cobra.ExactArgs(1),
		Run:   runExtend,
	}
	extendCmd.Flags().String("until", "", "New valid_to (RFC 3339, must be later than the current one)")
	extendCmd.MarkFlagRequired("until")

	RootCmd.AddCommand(initCmd, supersedeCmd, deprecateCmd, activateCmd, extendCmd)
}

func runSupersede(cmd *cobra.Command, args []string) {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	var replacement model.Entry
	if err := json.Unmarshal(raw, &replacement); err != nil {
		exitErr("parse replacement json", err)
	}

	m := openManager()
	defer m.Close()

	newID, err := m.Supersede(cmd.Context(), args[0], &replacement)
	if err != nil {
		exitErr("supersede", err)
	}
	fmt.Printf(`{"ok":true,"superseded":%q,"replacement":%q}`+"\n", args[0], newID)
}

func runExtend(cmd *cobra.Command, args []string) {
	until, _ := cmd.Flags().GetString("until")
	t, err := time.Parse(time.RFC3339, until)
	if err != nil {
		exitErr("parse --until", err)
	}

	m := openManager()
	defer m.Close()

	if err := m.Extend(cmd.Context(), args[0], t); err != nil {
		exitErr("extend", err)
	}
	fmt.Printf(`{"ok":true,"id":%q,"valid_to":%q}`+"\n", args[0], t.Format(time.RFC3339))
}
