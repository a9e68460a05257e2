package snapshot

import (
	"encoding/json"
	"fmt"

	"VolSurface/internal/domain/models"
)

// CodecVersion is written into every encoded snapshot.
const CodecVersion = 1

type envelope struct {
	Version  int              `json:"version"`
	Snapshot *models.Snapshot `json:"snapshot"`
}

// Encode serializes a snapshot into the versioned JSON envelope used by the stores
// and the broker.
func Encode(s *models.Snapshot) ([]byte, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	b, err := json.Marshal(envelope{Version: CodecVersion, Snapshot: s})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", s.Ticker, err)
	}
	return b, nil
}

// Decode is the inverse of Encode.
func Decode(b []byte) (*models.Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if env.Version != CodecVersion {
		return nil, fmt.Errorf("decode snapshot: unsupported version %d", env.Version)
	}
	if err := Validate(env.Snapshot); err != nil {
		return nil, err
	}
	return env.Snapshot, nil
}
