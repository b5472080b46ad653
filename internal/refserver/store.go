// Package refserver is a reference implementation of the objstore service:
// an HTTP API (served over HTTP/1.1, HTTP/2 and HTTP/3) and a gRPC service
// over one Store. It executes lifecycle and replication policies against
// the same store, simulating external backends with key prefixes.
package refserver

import (
	"context"
	"sort"
	"strings"
	"time"

	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
)

// ObjectRecord is one stored object. Data is nil on records returned by
// HeadObject and ListObjects.
type ObjectRecord struct {
	Key             string
	Data            []byte
	Size            int64
	ETag            string
	ContentType     string
	ContentEncoding string
	Custom          map[string]string
	LastModified    time.Time
}

// Metadata converts the record to the shared model.
func (o *ObjectRecord) Metadata() *model.Metadata {
	return &model.Metadata{
		ContentType:     model.String(o.ContentType),
		ContentEncoding: model.String(o.ContentEncoding),
		Size:            model.Int64(o.Size),
		LastModified:    model.Time(o.LastModified),
		ETag:            model.String(o.ETag),
		Custom:          o.Custom,
	}
}

// ListOptions selects a page of keys.
type ListOptions struct {
	Prefix     string
	Delimiter  string
	MaxKeys    int
	StartAfter string
}

// ListResult is one page of keys in lexical order.
type ListResult struct {
	Objects        []ObjectRecord
	CommonPrefixes []string
	NextToken      string
	Truncated      bool
}

// Store persists objects and policy state.
type Store interface {
	PutObject(ctx context.Context, obj *ObjectRecord) error
	// GetObject returns a NotFound error for absent keys.
	GetObject(ctx context.Context, key string) (*ObjectRecord, error)
	HeadObject(ctx context.Context, key string) (*ObjectRecord, error)
	// DeleteObject reports whether the key existed.
	DeleteObject(ctx context.Context, key string) (bool, error)
	ListObjects(ctx context.Context, opts ListOptions) (*ListResult, error)
	UpdateMetadata(ctx context.Context, key string, md *model.Metadata) error
	CountObjects(ctx context.Context) (int, error)

	PutLifecyclePolicy(ctx context.Context, p model.LifecyclePolicy) error
	DeleteLifecyclePolicy(ctx context.Context, id string) (bool, error)
	ListLifecyclePolicies(ctx context.Context) ([]model.LifecyclePolicy, error)

	PutReplicationPolicy(ctx context.Context, p model.ReplicationPolicy) error
	GetReplicationPolicy(ctx context.Context, id string) (*model.ReplicationPolicy, error)
	DeleteReplicationPolicy(ctx context.Context, id string) (bool, error)
	ListReplicationPolicies(ctx context.Context) ([]model.ReplicationPolicy, error)
	GetReplicationStatus(ctx context.Context, id string) (*model.ReplicationStatus, error)
	PutReplicationStatus(ctx context.Context, st model.ReplicationStatus) error

	Ping(ctx context.Context) error
	Close() error
}

func objectNotFound(key string) error {
	return objerr.Newf(objerr.NotFound, "object not found: %s", key)
}

func policyNotFound(kind, id string) error {
	return objerr.Newf(objerr.NotFound, "%s policy not found: %s", kind, id)
}

// paginate applies prefix, delimiter, start-after and page size to records
// that already carry no data. Records need not be sorted.
func paginate(records []ObjectRecord, opts ListOptions) *ListResult {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = model.DefaultMaxResults
	}

	var matched []ObjectRecord
	for _, r := range records {
		if !strings.HasPrefix(r.Key, opts.Prefix) {
			continue
		}
		if opts.StartAfter != "" && r.Key <= opts.StartAfter {
			continue
		}
		// A token naming a common prefix skips every key under it.
		if opts.Delimiter != "" && strings.HasSuffix(opts.StartAfter, opts.Delimiter) &&
			strings.HasPrefix(r.Key, opts.StartAfter) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })

	// Entries are objects or common prefixes; both count towards maxKeys.
	type entry struct {
		key    string
		obj    *ObjectRecord
		prefix bool
	}
	var entries []entry
	seen := make(map[string]bool)
	for i := range matched {
		rest := matched[i].Key[len(opts.Prefix):]
		if opts.Delimiter != "" {
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				cp := opts.Prefix + rest[:idx+len(opts.Delimiter)]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, entry{key: cp, prefix: true})
				}
				continue
			}
		}
		entries = append(entries, entry{key: matched[i].Key, obj: &matched[i]})
	}

	res := &ListResult{Objects: []ObjectRecord{}}
	if len(entries) > maxKeys {
		entries = entries[:maxKeys]
		res.Truncated = true
	}
	for _, e := range entries {
		if e.prefix {
			res.CommonPrefixes = append(res.CommonPrefixes, e.key)
		} else {
			res.Objects = append(res.Objects, *e.obj)
		}
	}
	if res.Truncated && len(entries) > 0 {
		res.NextToken = entries[len(entries)-1].key
	}
	return res
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// applyMetadata overwrites the mutable metadata of obj with md. Nil fields
// of md leave the stored value unchanged.
func applyMetadata(obj *ObjectRecord, md *model.Metadata) {
	if md.ContentType != nil {
		obj.ContentType = *md.ContentType
	}
	if md.ContentEncoding != nil {
		obj.ContentEncoding = *md.ContentEncoding
	}
	if md.Custom != nil {
		obj.Custom = cloneMap(md.Custom)
	}
	obj.LastModified = time.Now().UTC()
}
