package websocket

import (
	"encoding/json"
	"fmt"
)

// MetaVersion is bumped when the blob layout changes so a reconstructed
// instance can refuse metadata it does not understand.
const MetaVersion = 1

// Meta is the minimal per-connection state needed to rebuild a session
// without re-running the identity handshake: the frozen display name and the
// quota record handle. It is attached at identification time and read back
// on resume; a connection with no blob was never identified.
type Meta struct {
	Version  int    `json:"v"`
	Name     string `json:"name,omitempty"`
	QuotaKey string `json:"quota_key"`
}

// MarshalMeta serializes a blob for attachment to transport-level storage.
func MarshalMeta(meta Meta) ([]byte, error) {
	meta.Version = MetaVersion
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connection metadata: %w", err)
	}
	return data, nil
}

// UnmarshalMeta deserializes a blob, rejecting unknown versions.
func UnmarshalMeta(data []byte) (Meta, error) {
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("failed to unmarshal connection metadata: %w", err)
	}
	if meta.Version != MetaVersion {
		return Meta{}, fmt.Errorf("%w: version %d", ErrUnknownMetaVersion, meta.Version)
	}
	return meta, nil
}
