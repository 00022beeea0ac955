package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <field-id>",
	Short: "Show the version history of a field",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		versions, err := st.History(ctx, args[0], historyLimit)
		if err != nil {
			return eris.Wrap(err, "load history")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(versions)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "maximum versions to return (keeps the newest, listed oldest first)")
	rootCmd.AddCommand(historyCmd)
}
