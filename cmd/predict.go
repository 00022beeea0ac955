package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

var (
	predictFile    string
	predictDocID   string
	predictDocType string
	predictFields  []string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict field values for a document",
	Long:  "Reads document text from --file (or stdin) and runs it through the fallback chain. The outcome JSON, including the attempt trace, is written to stdout.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var text []byte
		var err error
		if predictFile != "" {
			text, err = os.ReadFile(predictFile)
			if err != nil {
				return eris.Wrap(err, "read document")
			}
		} else {
			text, err = io.ReadAll(os.Stdin)
			if err != nil {
				return eris.Wrap(err, "read stdin")
			}
		}
		if len(text) == 0 {
			return eris.New("empty document text")
		}

		env, err := initEngine(ctx, "engine")
		if err != nil {
			return err
		}
		defer env.Close()

		outcome, err := env.Chain.Predict(ctx, model.PredictionRequest{
			DocumentID:   predictDocID,
			Text:         string(text),
			DocumentType: predictDocType,
			Fields:       predictFields,
		})
		if err != nil {
			return eris.Wrap(err, "predict")
		}

		zap.L().Info("prediction complete",
			zap.String("document_id", outcome.DocumentID),
			zap.Int("fields", len(outcome.Fields)),
			zap.Int("attempts", len(outcome.AttemptTrace)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	},
}

func init() {
	predictCmd.Flags().StringVar(&predictFile, "file", "", "document text file (default: stdin)")
	predictCmd.Flags().StringVar(&predictDocID, "doc-id", "", "document identifier for the outcome")
	predictCmd.Flags().StringVar(&predictDocType, "type", "", "document type hint, e.g. lease, nda")
	predictCmd.Flags().StringSliceVar(&predictFields, "fields", nil, "field names to predict (default: whole catalog)")
	rootCmd.AddCommand(predictCmd)
}
