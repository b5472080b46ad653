// Package model defines the value types exchanged between the objstore
// façade and its transport adapters. Adapters build these from wire data;
// the façade passes them through untouched.
package model

import (
	"strings"
	"time"

	objerr "github.com/bleepstore/objstore/pkg/errors"
)

// Metadata describes an object. Nil fields mean "unknown".
type Metadata struct {
	ContentType     *string           `json:"content_type,omitempty"`
	ContentEncoding *string           `json:"content_encoding,omitempty"`
	Size            *int64            `json:"size,omitempty"`
	LastModified    *time.Time        `json:"last_modified,omitempty"`
	ETag            *string           `json:"etag,omitempty"`
	Custom          map[string]string `json:"custom,omitempty"`
}

// ObjectInfo is one entry of a listing.
type ObjectInfo struct {
	Key      string    `json:"key"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// ListOptions controls a listing request.
type ListOptions struct {
	Prefix            string `json:"prefix,omitempty"`
	Delimiter         string `json:"delimiter,omitempty"`
	MaxResults        int    `json:"max_results"`
	ContinuationToken string `json:"continue_from,omitempty"`
}

// DefaultMaxResults is the page size used when none is requested.
const DefaultMaxResults = 100

// DefaultListOptions returns options listing everything, one default page at a time.
func DefaultListOptions() ListOptions {
	return ListOptions{MaxResults: DefaultMaxResults}
}

// Validate checks that MaxResults is positive.
func (o ListOptions) Validate() error {
	if o.MaxResults <= 0 {
		return objerr.Newf(objerr.Validation, "max results must be positive, got %d", o.MaxResults)
	}
	return nil
}

// ListResult is one page of a listing. Objects keep the server's order.
// Callers must rely on Truncated, not on NextToken being set.
type ListResult struct {
	Objects        []ObjectInfo `json:"objects"`
	CommonPrefixes []string     `json:"common_prefixes,omitempty"`
	NextToken      *string      `json:"next_token,omitempty"`
	Truncated      bool         `json:"truncated"`
}

// ValidateKey rejects keys that are empty or all whitespace.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return objerr.New(objerr.Validation, "key cannot be empty")
	}
	return nil
}

// String returns a pointer to s, or nil when s is empty.
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// Time returns a pointer to t, or nil when t is the zero time.
func Time(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Deref returns *p or the zero value.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
