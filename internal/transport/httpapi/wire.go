package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bleepstore/objstore/pkg/model"
)

// Header names used by the object endpoints.
const (
	HeaderObjectMetadata = "X-Object-Metadata"
	HeaderRequestID      = "X-Request-Id"
)

// Envelope is the common JSON response wrapper. Success is optional; only
// an explicit false marks a failed operation.
type Envelope struct {
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// PutResponse is the body of a successful upload.
type PutResponse struct {
	Envelope
	Data struct {
		ETag string `json:"etag,omitempty"`
	} `json:"data"`
}

// WireObject is one listing entry.
type WireObject struct {
	Key      string            `json:"key"`
	Size     *int64            `json:"size,omitempty"`
	Modified *time.Time        `json:"modified,omitempty"`
	ETag     string            `json:"etag,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListResponse is the body of a listing.
type ListResponse struct {
	Objects        []WireObject `json:"objects"`
	CommonPrefixes []string     `json:"common_prefixes,omitempty"`
	NextToken      *string      `json:"next_token,omitempty"`
	Truncated      bool         `json:"truncated"`
}

// MetadataResponse is the body of GET metadata/{key}.
type MetadataResponse struct {
	Key             string            `json:"key"`
	Size            *int64            `json:"size,omitempty"`
	ETag            string            `json:"etag,omitempty"`
	Modified        *time.Time        `json:"modified,omitempty"`
	ContentType     string            `json:"content_type,omitempty"`
	ContentEncoding string            `json:"content_encoding,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Version string `json:"version,omitempty"`
}

// ArchiveRequest is the body of POST archive.
type ArchiveRequest struct {
	Key                 string            `json:"key"`
	DestinationType     string            `json:"destination_type"`
	DestinationSettings map[string]string `json:"destination_settings,omitempty"`
}

// PoliciesResponse is the body of GET policies.
type PoliciesResponse struct {
	Envelope
	Policies []model.LifecyclePolicy `json:"policies"`
}

// ApplyResponse is the body of POST policies/apply.
type ApplyResponse struct {
	Envelope
	PoliciesCount    int `json:"policies_count"`
	ObjectsProcessed int `json:"objects_processed"`
}

// ReplicationPoliciesResponse is the body of GET replication/policies.
type ReplicationPoliciesResponse struct {
	Envelope
	Policies []model.ReplicationPolicy `json:"policies"`
}

// ReplicationPolicyResponse is the body of GET replication/policies/{id}.
type ReplicationPolicyResponse struct {
	Envelope
	Policy *model.ReplicationPolicy `json:"policy"`
}

// TriggerResponse is the body of POST replication/trigger.
type TriggerResponse struct {
	Envelope
	Result *model.SyncResult `json:"result"`
}

// StatusResponse is the body of GET replication/status/{id}.
type StatusResponse struct {
	Envelope
	Status *model.ReplicationStatus `json:"status"`
}

// SetMetadataHeaders writes md onto h for an upload.
func SetMetadataHeaders(h http.Header, md *model.Metadata) error {
	if md == nil {
		return nil
	}
	if md.ContentType != nil {
		h.Set("Content-Type", *md.ContentType)
	}
	if md.ContentEncoding != nil {
		h.Set("Content-Encoding", *md.ContentEncoding)
	}
	if len(md.Custom) > 0 {
		b, err := json.Marshal(md.Custom)
		if err != nil {
			return err
		}
		h.Set(HeaderObjectMetadata, string(b))
	}
	return nil
}

// MetadataFromHeaders reads object metadata from a GET or HEAD response.
// Absent headers stay nil.
func MetadataFromHeaders(h http.Header) *model.Metadata {
	md := &model.Metadata{
		ContentType:     model.String(h.Get("Content-Type")),
		ContentEncoding: model.String(h.Get("Content-Encoding")),
		ETag:            model.String(strings.Trim(h.Get("ETag"), `"`)),
	}
	if cl := h.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			md.Size = &n
		}
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			md.LastModified = &t
		}
	}
	if raw := h.Get(HeaderObjectMetadata); raw != "" {
		var custom map[string]string
		if err := json.Unmarshal([]byte(raw), &custom); err == nil && len(custom) > 0 {
			md.Custom = custom
		}
	}
	return md
}

// ToObjectInfo converts a listing entry.
func (o WireObject) ToObjectInfo() model.ObjectInfo {
	return model.ObjectInfo{
		Key: o.Key,
		Metadata: &model.Metadata{
			Size:         o.Size,
			LastModified: o.Modified,
			ETag:         model.String(o.ETag),
			Custom:       o.Metadata,
		},
	}
}

// ToMetadata converts a metadata body.
func (m MetadataResponse) ToMetadata() *model.Metadata {
	return &model.Metadata{
		ContentType:     model.String(m.ContentType),
		ContentEncoding: model.String(m.ContentEncoding),
		Size:            m.Size,
		LastModified:    m.Modified,
		ETag:            model.String(m.ETag),
		Custom:          m.Metadata,
	}
}
