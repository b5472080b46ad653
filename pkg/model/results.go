package model

import (
	"strings"

	objerr "github.com/bleepstore/objstore/pkg/errors"
)

// PutResult reports an upload.
type PutResult struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	ETag    *string `json:"etag,omitempty"`
}

// DeleteResult reports a deletion.
type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ArchiveResult reports an archive request.
type ArchiveResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PolicyResult reports a policy or metadata mutation.
type PolicyResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ApplyPoliciesResult reports a lifecycle sweep.
type ApplyPoliciesResult struct {
	Success          bool   `json:"success"`
	PoliciesCount    int    `json:"policies_count"`
	ObjectsProcessed int    `json:"objects_processed"`
	Message          string `json:"message,omitempty"`
}

// HealthStatus is the coarse service state.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthServing
	HealthNotServing
)

// String returns the wire name of the status.
func (s HealthStatus) String() string {
	switch s {
	case HealthServing:
		return "SERVING"
	case HealthNotServing:
		return "NOT_SERVING"
	default:
		return "UNKNOWN"
	}
}

// ParseHealthStatus maps a wire value to a HealthStatus. Matching is
// case-insensitive; "ok" and "healthy" count as serving. Anything else
// is HealthUnknown.
func ParseHealthStatus(s string) HealthStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SERVING", "OK", "HEALTHY":
		return HealthServing
	case "NOT_SERVING", "UNHEALTHY":
		return HealthNotServing
	default:
		return HealthUnknown
	}
}

// MarshalText encodes the status by its wire name.
func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a wire name.
func (s *HealthStatus) UnmarshalText(b []byte) error {
	*s = ParseHealthStatus(string(b))
	return nil
}

// HealthResult is the answer to a health probe.
type HealthResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// FailureMessage returns a non-empty message describing err, for results
// built on an error path.
func FailureMessage(err error, fallback string) string {
	if err != nil {
		if e, ok := objerr.As(err); ok && e.Message != "" {
			return e.Message
		}
		if s := err.Error(); s != "" {
			return s
		}
	}
	if fallback == "" {
		return "operation failed"
	}
	return fallback
}
