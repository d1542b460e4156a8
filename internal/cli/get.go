package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one entry by identifier",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			m := openManager()
			defer m.Close()

			e, err := m.Get(cmd.Context(), args[0])
			if err != nil {
				exitErr("get", err)
			}
			b, _ := json.MarshalIndent(e, "", "  ")
			fmt.Println(string(b))
		},
	}

	relatedCmd := &cobra.Command{
		Use:   "related <id>",
		Short: "Show the entries linked from an entry",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			m := openManager()
			defer m.Close()

			entries, err := m.GetRelated(cmd.Context(), args[0])
			if err != nil {
				exitErr("related", err)
			}
			b, _ := json.MarshalIndent(entries, "", "  ")
			fmt.Println(string(b))
		},
	}

	RootCmd.AddCommand(getCmd, relatedCmd)
}
