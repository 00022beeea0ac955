package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

func TestReadCorrectionLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrections.jsonl")
	content := `{"field_id":"party_a","corrected_value":"ACME Corporation","reason_code":"wrong-value","actor_id":"reviewer-1"}

{"field_id":"effective_date","corrected_value":"2026-03-01","reason_code":"formatting","original_prediction":{"name":"effective_date","value":"03/01/2026","confidence":0.7}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	corrections, err := readCorrectionLines(path)
	require.NoError(t, err)
	require.Len(t, corrections, 2, "blank lines are skipped")

	assert.Equal(t, "party_a", corrections[0].FieldID)
	assert.Equal(t, model.ReasonWrongValue, corrections[0].ReasonCode)
	assert.Equal(t, "effective_date", corrections[1].FieldID)
	assert.InDelta(t, 0.7, corrections[1].OriginalPrediction.Confidence, 0.001)
}

func TestReadCorrectionLines_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrections.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0644))

	_, err := readCorrectionLines(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestReadCorrectionLines_MissingFile(t *testing.T) {
	_, err := readCorrectionLines(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}
