package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ghostmonday/formmonkeyplatform/internal/audit"
	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

var (
	rollbackToVersion int64
	rollbackActor     string
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <field-id>",
	Short: "Roll a field back to an earlier version",
	Long:  "Appends a new version carrying the target version's value. History is never rewritten; the rollback itself becomes the latest version.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fieldID := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		v, err := st.Rollback(ctx, fieldID, rollbackToVersion)
		if err != nil {
			return eris.Wrapf(err, "rollback %s", fieldID)
		}

		// With no explicit target the store restored the version just
		// before the previous latest, which is two behind the new one.
		resolved := rollbackToVersion
		if resolved <= 0 {
			resolved = v.VersionID - 2
		}

		rec := audit.NewRecorder(st)
		rec.Record(ctx, model.AuditRollback, fieldID, rollbackActor, map[string]any{
			"to_version_id":  resolved,
			"new_version_id": v.VersionID,
		})

		zap.L().Info("field rolled back",
			zap.String("field_id", fieldID),
			zap.Int64("to_version", resolved),
			zap.Int64("new_version", v.VersionID),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	},
}

func init() {
	rollbackCmd.Flags().Int64Var(&rollbackToVersion, "to-version", 0, "version number to restore (default: the version before the latest)")
	rollbackCmd.Flags().StringVar(&rollbackActor, "actor", "", "operator identifier for the audit trail")
	rootCmd.AddCommand(rollbackCmd)
}
