package main

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

var (
	correctFieldID        string
	correctValue          string
	correctReason         string
	correctActor          string
	correctOriginalValue  string
	correctOriginalConf   float64
	correctFile           string
)

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "Submit one correction or a JSONL batch",
	Long:  "Submits a human correction through validation, conflict resolution, and tier routing. With --file, reads one correction JSON object per line.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, "engine")
		if err != nil {
			return err
		}
		defer env.Close()

		var corrections []model.Correction
		if correctFile != "" {
			corrections, err = readCorrectionLines(correctFile)
			if err != nil {
				return err
			}
		} else {
			if correctFieldID == "" {
				return eris.New("either --field-id or --file is required")
			}
			corrections = []model.Correction{{
				FieldID: correctFieldID,
				OriginalPrediction: model.PredictedField{
					Name:       correctFieldID,
					Value:      correctOriginalValue,
					Confidence: correctOriginalConf,
				},
				CorrectedValue: correctValue,
				ReasonCode:     model.ReasonCode(correctReason),
				ActorID:        correctActor,
				Timestamp:      time.Now().UTC(),
			}}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		rejected := 0
		for _, c := range corrections {
			result, err := env.Service.Submit(ctx, c)
			if err != nil {
				return eris.Wrapf(err, "submit correction for %s", c.FieldID)
			}
			if !result.Accepted {
				rejected++
			}
			if err := enc.Encode(result); err != nil {
				return err
			}
		}

		zap.L().Info("corrections submitted",
			zap.Int("total", len(corrections)),
			zap.Int("rejected", rejected),
		)
		return nil
	},
}

// readCorrectionLines parses a JSONL file of corrections, one object per
// non-empty line.
func readCorrectionLines(path string) ([]model.Correction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open corrections file")
	}
	defer f.Close()

	var corrections []model.Correction
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var c model.Correction
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, eris.Wrapf(err, "parse correction on line %d", line)
		}
		corrections = append(corrections, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "read corrections file")
	}
	return corrections, nil
}

func init() {
	correctCmd.Flags().StringVar(&correctFieldID, "field-id", "", "catalog field being corrected")
	correctCmd.Flags().StringVar(&correctValue, "value", "", "corrected value")
	correctCmd.Flags().StringVar(&correctReason, "reason", string(model.ReasonWrongValue), "reason code: wrong-value, formatting, incomplete, critical-error, other")
	correctCmd.Flags().StringVar(&correctActor, "actor", "", "reviewer identifier")
	correctCmd.Flags().StringVar(&correctOriginalValue, "original-value", "", "value the backend predicted")
	correctCmd.Flags().Float64Var(&correctOriginalConf, "original-confidence", 0, "confidence of the original prediction")
	correctCmd.Flags().StringVar(&correctFile, "file", "", "JSONL file of corrections, one per line")
	rootCmd.AddCommand(correctCmd)
}
