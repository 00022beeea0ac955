package correct

import (
	"github.com/rotisserie/eris"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

// ConflictPolicy selects the winner when multiple corrections land on the
// same field within the resolution window.
type ConflictPolicy string

const (
	// PolicyLatestTimestamp picks the most recent correction. Default.
	PolicyLatestTimestamp ConflictPolicy = "latest-timestamp"
	// PolicyHighestConfidence picks the correction whose original
	// prediction had the highest confidence — the reviewer who overrode
	// the most confident prediction presumably looked hardest.
	PolicyHighestConfidence ConflictPolicy = "highest-original-confidence"
	// PolicyManual declines to pick; the whole conflict set is surfaced
	// and every correction is stored unresolved.
	PolicyManual ConflictPolicy = "manual"
)

// ErrConflictUnresolved is returned by the manual policy. The conflict
// set travels alongside it in the CorrectionResult.
var ErrConflictUnresolved = eris.New("correct: conflict requires manual resolution")

// Resolve picks a winner from the conflict set under the given policy and
// returns the losers. The set must contain at least one correction;
// single-element sets trivially resolve to themselves.
func Resolve(policy ConflictPolicy, set model.ConflictSet) (*model.Correction, []model.Correction, error) {
	if len(set.Corrections) == 0 {
		return nil, nil, eris.New("correct: empty conflict set")
	}
	if len(set.Corrections) == 1 {
		return &set.Corrections[0], nil, nil
	}

	var winnerIdx int
	switch policy {
	case PolicyManual:
		return nil, nil, ErrConflictUnresolved
	case PolicyHighestConfidence:
		for i, c := range set.Corrections {
			if c.OriginalPrediction.Confidence > set.Corrections[winnerIdx].OriginalPrediction.Confidence {
				winnerIdx = i
			}
		}
	default: // latest-timestamp
		for i, c := range set.Corrections {
			if c.Timestamp.After(set.Corrections[winnerIdx].Timestamp) {
				winnerIdx = i
			}
		}
	}

	winner := set.Corrections[winnerIdx]
	losers := make([]model.Correction, 0, len(set.Corrections)-1)
	for i, c := range set.Corrections {
		if i != winnerIdx {
			losers = append(losers, c)
		}
	}
	return &winner, losers, nil
}
