package connector

import (
	"time"

	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/jsonutil"
)

// State is the connector lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateSyncing   State = "syncing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Checkpoint marks the furthest position whose entire batch was fully
// processed. It is opaque to callers: persist the encoded form and hand
// it back as SyncParams.Since on the next pass. Submitting the same
// checkpoint twice is safe.
type Checkpoint struct {
	// Cursor is the source-specific resume token (pagination position).
	Cursor string `json:"cursor,omitempty"`
	// Timestamp is the latest fully-processed source timestamp.
	Timestamp time.Time `json:"timestamp"`
}

// Encode serializes the checkpoint for persistence.
func (c *Checkpoint) Encode() ([]byte, error) {
	data, err := jsonutil.MarshalCompact(c)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode checkpoint")
	}
	return data, nil
}

// DecodeCheckpoint parses a previously encoded checkpoint.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := jsonutil.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid checkpoint")
	}
	return &cp, nil
}

// SyncParams shapes one pass. A nil Since with an empty Cursor means a
// full sync. Cursor, when set, overrides the checkpoint's cursor.
type SyncParams struct {
	Since  *Checkpoint
	Cursor string
}

// ItemError is one isolated per-item failure. The pass continues past it.
type ItemError struct {
	// Unit names the batch the item belonged to (page or file).
	Unit string
	// Filename is the affected output file, when known.
	Filename string
	// Stage is "transform" or "upload".
	Stage string
	Err   error
}

// SyncResult summarizes one pass. Partial success is normal: non-zero
// uploads alongside non-empty Errors.
type SyncResult struct {
	PassID             string
	DocumentsProcessed int
	DocumentsUploaded  int
	Errors             []ItemError
	Checkpoint         *Checkpoint
	StartedAt          time.Time
	CompletedAt        time.Time
}
