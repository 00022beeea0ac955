// Package audit writes the immutable event trail backing legal-hold
// review of prediction and correction activity.
package audit

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/store"
)

// Recorder persists audit events and mirrors them to the structured log.
// A failed audit write never fails the operation it describes; it is
// logged and dropped.
type Recorder struct {
	st store.Store
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(st store.Store) *Recorder {
	return &Recorder{st: st}
}

// Record writes one audit event. detail is marshaled to JSON; pass nil
// for events with no payload.
func (r *Recorder) Record(ctx context.Context, action model.AuditAction, fieldID, actorID string, detail any) {
	var payload []byte
	if detail != nil {
		var err error
		payload, err = json.Marshal(detail)
		if err != nil {
			zap.L().Warn("audit detail marshal failed",
				zap.String("action", string(action)),
				zap.Error(err),
			)
		}
	}

	e := model.AuditEvent{
		FieldID: fieldID,
		Action:  action,
		ActorID: actorID,
		Detail:  payload,
	}
	if err := r.st.AppendAudit(ctx, e); err != nil {
		zap.L().Error("audit write failed",
			zap.String("action", string(action)),
			zap.String("field_id", fieldID),
			zap.Error(err),
		)
		return
	}

	zap.L().Info("audit event",
		zap.String("action", string(action)),
		zap.String("field_id", fieldID),
		zap.String("actor_id", actorID),
	)
}
