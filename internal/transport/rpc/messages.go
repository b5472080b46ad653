package rpc

import "github.com/bleepstore/objstore/pkg/model"

// Ack is the common response envelope. Success false marks a failure the
// server chose to report in-band.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type KeyRequest struct {
	Key string `json:"key"`
}

type IDRequest struct {
	ID string `json:"id"`
}

type Empty struct{}

type PutRequest struct {
	Key      string          `json:"key"`
	Data     []byte          `json:"data"`
	Metadata *model.Metadata `json:"metadata,omitempty"`
}

type PutResponse struct {
	Ack
	ETag string `json:"etag,omitempty"`
}

// GetChunk is one message of the Get stream. Metadata is set on the first
// message only.
type GetChunk struct {
	Metadata *model.Metadata `json:"metadata,omitempty"`
	Data     []byte          `json:"data,omitempty"`
}

type ExistsResponse struct {
	Exists bool `json:"exists"`
}

type ListRequest struct {
	Prefix            string `json:"prefix,omitempty"`
	Delimiter         string `json:"delimiter,omitempty"`
	MaxResults        int    `json:"max_results"`
	ContinuationToken string `json:"continuation_token,omitempty"`
}

type ListResponse struct {
	Objects        []model.ObjectInfo `json:"objects"`
	CommonPrefixes []string           `json:"common_prefixes,omitempty"`
	NextToken      *string            `json:"next_token,omitempty"`
	Truncated      bool               `json:"truncated"`
}

type MetadataResponse struct {
	Metadata *model.Metadata `json:"metadata"`
}

type UpdateMetadataRequest struct {
	Key      string          `json:"key"`
	Metadata *model.Metadata `json:"metadata"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ArchiveRequest struct {
	Key                 string            `json:"key"`
	DestinationType     string            `json:"destination_type"`
	DestinationSettings map[string]string `json:"destination_settings,omitempty"`
}

type AddPolicyRequest struct {
	Policy model.LifecyclePolicy `json:"policy"`
}

type PrefixRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

type PoliciesResponse struct {
	Policies []model.LifecyclePolicy `json:"policies"`
}

type ApplyPoliciesResponse struct {
	Ack
	PoliciesCount    int `json:"policies_count"`
	ObjectsProcessed int `json:"objects_processed"`
}

type AddReplicationPolicyRequest struct {
	Policy model.ReplicationPolicy `json:"policy"`
}

type ReplicationPoliciesResponse struct {
	Policies []model.ReplicationPolicy `json:"policies"`
}

type ReplicationPolicyResponse struct {
	Policy *model.ReplicationPolicy `json:"policy"`
}

type TriggerResponse struct {
	Result *model.SyncResult `json:"result"`
}

type ReplicationStatusResponse struct {
	Status *model.ReplicationStatus `json:"status"`
}
