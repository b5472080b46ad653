package model

import (
	objerr "github.com/bleepstore/objstore/pkg/errors"
)

// LifecycleAction is what a lifecycle policy does to expired objects.
type LifecycleAction string

const (
	ActionDelete  LifecycleAction = "delete"
	ActionArchive LifecycleAction = "archive"
)

const (
	secondsPerDay = 86400
	// DefaultRetentionSeconds applies when a policy names neither a
	// retention nor an age in days (30 days).
	DefaultRetentionSeconds int64 = 30 * secondsPerDay
)

// LifecyclePolicy expires objects under a prefix after a retention period.
type LifecyclePolicy struct {
	ID                  string            `json:"id"`
	Prefix              string            `json:"prefix"`
	RetentionSeconds    int64             `json:"retention_seconds"`
	Action              LifecycleAction   `json:"action"`
	DestinationType     string            `json:"destination_type,omitempty"`
	DestinationSettings map[string]string `json:"destination_settings,omitempty"`
	Enabled             bool              `json:"enabled"`
}

// LifecycleSpec is the construction input for a LifecyclePolicy. AgeDays is
// a convenience that is folded into RetentionSeconds and never sent.
type LifecycleSpec struct {
	ID                  string
	Prefix              string
	RetentionSeconds    *int64
	AgeDays             *int
	Action              LifecycleAction
	DestinationType     string
	DestinationSettings map[string]string
	// Disabled inverts the default-enabled state.
	Disabled bool
}

// NewLifecyclePolicy builds a policy from spec. An explicit retention wins;
// otherwise AgeDays×86400; otherwise DefaultRetentionSeconds. An empty
// action means delete.
func NewLifecyclePolicy(spec LifecycleSpec) LifecyclePolicy {
	retention := DefaultRetentionSeconds
	switch {
	case spec.RetentionSeconds != nil:
		retention = *spec.RetentionSeconds
	case spec.AgeDays != nil:
		retention = int64(*spec.AgeDays) * secondsPerDay
	}
	action := spec.Action
	if action == "" {
		action = ActionDelete
	}
	return LifecyclePolicy{
		ID:                  spec.ID,
		Prefix:              spec.Prefix,
		RetentionSeconds:    retention,
		Action:              action,
		DestinationType:     spec.DestinationType,
		DestinationSettings: spec.DestinationSettings,
		Enabled:             !spec.Disabled,
	}
}

// Validate checks the policy before it is sent.
func (p LifecyclePolicy) Validate() error {
	if err := ValidatePolicyID(p.ID); err != nil {
		return err
	}
	if p.RetentionSeconds < 0 {
		return objerr.Newf(objerr.Validation, "retention must not be negative, got %d", p.RetentionSeconds)
	}
	switch p.Action {
	case ActionDelete:
	case ActionArchive:
		if p.DestinationType == "" {
			return objerr.New(objerr.Validation, "archive policies require a destination type")
		}
	default:
		return objerr.Newf(objerr.Validation, "unknown lifecycle action %q", p.Action)
	}
	return nil
}

// ValidatePolicyID rejects empty policy identifiers.
func ValidatePolicyID(id string) error {
	if id == "" {
		return objerr.New(objerr.Validation, "policy id cannot be empty")
	}
	return nil
}
