package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	objerr "github.com/bleepstore/objstore/pkg/errors"
)

// ReplicationMode selects how encrypted data crosses backends.
type ReplicationMode int

const (
	// ModeTransparent decrypts at the source and re-encrypts at the destination.
	ModeTransparent ReplicationMode = iota
	// ModeOpaque copies ciphertext as-is.
	ModeOpaque
)

// String returns the wire name of the mode.
func (m ReplicationMode) String() string {
	if m == ModeOpaque {
		return "opaque"
	}
	return "transparent"
}

// ParseReplicationMode accepts the wire names; empty means transparent.
func ParseReplicationMode(s string) (ReplicationMode, error) {
	switch strings.ToLower(s) {
	case "", "transparent":
		return ModeTransparent, nil
	case "opaque":
		return ModeOpaque, nil
	}
	return ModeTransparent, objerr.Newf(objerr.Validation, "unknown replication mode %q", s)
}

// MarshalJSON encodes the mode by name.
func (m ReplicationMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either the name or the numeric enum value.
func (m *ReplicationMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		mode, err := ParseReplicationMode(s)
		if err != nil {
			return err
		}
		*m = mode
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("replication mode: %w", err)
	}
	if n != int(ModeTransparent) && n != int(ModeOpaque) {
		return objerr.Newf(objerr.Validation, "unknown replication mode %d", n)
	}
	*m = ReplicationMode(n)
	return nil
}

// EncryptionConfig configures one encryption layer.
type EncryptionConfig struct {
	Enabled    bool    `json:"enabled"`
	Provider   string  `json:"provider"`
	DefaultKey *string `json:"default_key,omitempty"`
}

// DefaultEncryptionProvider is used when a layer names no provider.
const DefaultEncryptionProvider = "noop"

// EncryptionPolicy holds the per-layer encryption settings.
type EncryptionPolicy struct {
	Backend     *EncryptionConfig `json:"backend,omitempty"`
	Source      *EncryptionConfig `json:"source,omitempty"`
	Destination *EncryptionConfig `json:"destination,omitempty"`
}

// ReplicationPolicy syncs objects from one backend to another on an interval.
type ReplicationPolicy struct {
	ID                   string            `json:"id"`
	SourceBackend        string            `json:"source_backend"`
	SourceSettings       map[string]string `json:"source_settings,omitempty"`
	SourcePrefix         string            `json:"source_prefix,omitempty"`
	DestinationBackend   string            `json:"destination_backend"`
	DestinationSettings  map[string]string `json:"destination_settings,omitempty"`
	CheckIntervalSeconds int64             `json:"check_interval_seconds"`
	LastSyncTime         *time.Time        `json:"last_sync_time,omitempty"`
	Enabled              bool              `json:"enabled"`
	Encryption           *EncryptionPolicy `json:"encryption,omitempty"`
	Mode                 ReplicationMode   `json:"replication_mode"`
}

// Validate checks the policy before it is sent.
func (p ReplicationPolicy) Validate() error {
	if err := ValidatePolicyID(p.ID); err != nil {
		return err
	}
	if p.SourceBackend == "" {
		return objerr.New(objerr.Validation, "source backend is required")
	}
	if p.DestinationBackend == "" {
		return objerr.New(objerr.Validation, "destination backend is required")
	}
	if p.CheckIntervalSeconds <= 0 {
		return objerr.Newf(objerr.Validation, "check interval must be positive, got %d", p.CheckIntervalSeconds)
	}
	return nil
}

// Normalize fills default encryption providers.
func (p *ReplicationPolicy) Normalize() {
	if p.Encryption == nil {
		return
	}
	for _, layer := range []*EncryptionConfig{p.Encryption.Backend, p.Encryption.Source, p.Encryption.Destination} {
		if layer != nil && layer.Provider == "" {
			layer.Provider = DefaultEncryptionProvider
		}
	}
}

// TriggerOptions controls an on-demand replication run.
type TriggerOptions struct {
	PolicyID    string `json:"policy_id"`
	Parallel    bool   `json:"parallel"`
	WorkerCount int    `json:"worker_count"`
}

// Validate checks the policy id and defaults WorkerCount to 1.
func (o *TriggerOptions) Validate() error {
	if err := ValidatePolicyID(o.PolicyID); err != nil {
		return err
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 1
	}
	return nil
}

// SyncResult is the outcome of one replication run. Errors may be
// truncated by the server.
type SyncResult struct {
	PolicyID   string   `json:"policy_id"`
	Synced     int      `json:"synced"`
	Deleted    int      `json:"deleted"`
	Failed     int      `json:"failed"`
	BytesTotal int64    `json:"bytes_total"`
	DurationMs int64    `json:"duration_ms"`
	Errors     []string `json:"errors,omitempty"`
}

// ReplicationStatus holds cumulative counters for a policy.
type ReplicationStatus struct {
	PolicyID              string     `json:"policy_id"`
	SourceBackend         string     `json:"source_backend"`
	DestinationBackend    string     `json:"destination_backend"`
	Enabled               bool       `json:"enabled"`
	TotalObjectsSynced    int64      `json:"total_objects_synced"`
	TotalObjectsDeleted   int64      `json:"total_objects_deleted"`
	TotalBytesSynced      int64      `json:"total_bytes_synced"`
	TotalErrors           int64      `json:"total_errors"`
	LastSyncTime          *time.Time `json:"last_sync_time,omitempty"`
	AverageSyncDurationMs int64      `json:"average_sync_duration_ms"`
	SyncCount             int64      `json:"sync_count"`
}
