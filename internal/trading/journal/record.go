// Package journal stores simulator messages as JSON lines for replay and
// keeps the output of each run in badger.
package journal

import (
	"encoding/json"
	"fmt"

	"github.com/Aidin1998/pincex_sim/internal/trading/model"
	"github.com/google/uuid"
)

// Record is one journal entry: the message kind and its JSON body.
type Record struct {
	RunID uuid.UUID       `json:"run_id"`
	Seq   int64           `json:"seq"`
	Kind  model.Kind      `json:"kind"`
	Body  json.RawMessage `json:"body"`
}

// NewRecord encodes msg as the seq-th record of run.
func NewRecord(runID uuid.UUID, seq int64, msg model.Message) (Record, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal %s: %w", msg.Kind(), err)
	}
	return Record{RunID: runID, Seq: seq, Kind: msg.Kind(), Body: body}, nil
}

// Message decodes the body into a message of the recorded kind.
func (r Record) Message() (model.Message, error) {
	msg, err := model.NewMessage(r.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(r.Body, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", r.Kind, err)
	}
	return msg, nil
}
