// Package transport defines the operation contract every protocol adapter
// implements, and helpers shared by the HTTP-based adapters.
package transport

import (
	"context"
	"io"

	"github.com/bleepstore/objstore/pkg/model"
)

// ChunkSize is the size of the chunks yielded by streaming downloads.
const ChunkSize = 8 * 1024

// Adapter performs the objstore operation set over one wire protocol. It
// owns one connection or channel, never retries, and returns only
// *errors.Error failures.
type Adapter interface {
	Put(ctx context.Context, key string, body io.Reader, md *model.Metadata) (*model.PutResult, error)
	Get(ctx context.Context, key string) ([]byte, *model.Metadata, error)
	GetStream(ctx context.Context, key string) (ChunkIterator, error)
	Delete(ctx context.Context, key string) (*model.DeleteResult, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, opts model.ListOptions) (*model.ListResult, error)
	GetMetadata(ctx context.Context, key string) (*model.Metadata, error)
	UpdateMetadata(ctx context.Context, key string, md *model.Metadata) (*model.PolicyResult, error)
	Health(ctx context.Context) (*model.HealthResult, error)
	Archive(ctx context.Context, key, destinationType string, settings map[string]string) (*model.ArchiveResult, error)

	AddPolicy(ctx context.Context, policy model.LifecyclePolicy) (*model.PolicyResult, error)
	RemovePolicy(ctx context.Context, id string) (*model.PolicyResult, error)
	GetPolicies(ctx context.Context, prefix string) ([]model.LifecyclePolicy, error)
	ApplyPolicies(ctx context.Context) (*model.ApplyPoliciesResult, error)

	AddReplicationPolicy(ctx context.Context, policy model.ReplicationPolicy) (*model.PolicyResult, error)
	RemoveReplicationPolicy(ctx context.Context, id string) (*model.PolicyResult, error)
	GetReplicationPolicies(ctx context.Context) ([]model.ReplicationPolicy, error)
	GetReplicationPolicy(ctx context.Context, id string) (*model.ReplicationPolicy, error)
	TriggerReplication(ctx context.Context, opts model.TriggerOptions) (*model.SyncResult, error)
	GetReplicationStatus(ctx context.Context, id string) (*model.ReplicationStatus, error)

	// Protocol names the wire protocol, e.g. "rest".
	Protocol() string
	Close() error
}

// ChunkIterator yields an object's bytes in order, at most ChunkSize at a
// time. Next returns io.EOF after the last chunk. Close releases the
// underlying connection and is safe to call at any point, more than once.
type ChunkIterator interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}
