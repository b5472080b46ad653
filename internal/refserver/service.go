package refserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/bleepstore/objstore/internal/metrics"
	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// ArchivePrefix is where archived objects are moved, followed by the
// destination type.
const ArchivePrefix = "archive/"

// maxSyncErrors bounds the error list returned by a replication run.
const maxSyncErrors = 10

// Service implements the objstore operations on a Store. The HTTP and gRPC
// front ends are thin translations onto it.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time

	// syncMu serializes replication runs per policy.
	syncMu sync.Map
}

// NewService returns a Service over store.
func NewService(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Store returns the backing store.
func (s *Service) Store() Store { return s.store }

// ComputeETag returns the hex xxhash64 digest of data.
func ComputeETag(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return objerr.New(objerr.Validation, "key cannot be empty")
	}
	return nil
}

func (s *Service) refreshGauge(ctx context.Context) {
	if n, err := s.store.CountObjects(ctx); err == nil {
		metrics.ObjectsTotal.Set(float64(n))
	}
}

// Put stores data under key and returns the stored record without data.
func (s *Service) Put(ctx context.Context, key string, data []byte, md *model.Metadata) (*ObjectRecord, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	obj := &ObjectRecord{
		Key:          key,
		Data:         data,
		Size:         int64(len(data)),
		ETag:         ComputeETag(data),
		LastModified: s.now(),
	}
	if md != nil {
		obj.ContentType = model.Deref(md.ContentType)
		obj.ContentEncoding = model.Deref(md.ContentEncoding)
		obj.Custom = cloneMap(md.Custom)
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	if err := s.store.PutObject(ctx, obj); err != nil {
		return nil, err
	}
	s.refreshGauge(ctx)
	s.log.Debug("object stored", "key", key, "size", obj.Size, "etag", obj.ETag)
	obj.Data = nil
	return obj, nil
}

// Get returns the object including data.
func (s *Service) Get(ctx context.Context, key string) (*ObjectRecord, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return s.store.GetObject(ctx, key)
}

// Head returns the object without data.
func (s *Service) Head(ctx context.Context, key string) (*ObjectRecord, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return s.store.HeadObject(ctx, key)
}

// Delete removes key. Deleting an absent key is NotFound.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ok, err := s.store.DeleteObject(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return objectNotFound(key)
	}
	s.refreshGauge(ctx)
	return nil
}

// List returns one page of keys.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if opts.MaxKeys <= 0 {
		return nil, objerr.Newf(objerr.Validation, "limit must be positive, got %d", opts.MaxKeys)
	}
	return s.store.ListObjects(ctx, opts)
}

// UpdateMetadata replaces the mutable metadata of an existing object.
func (s *Service) UpdateMetadata(ctx context.Context, key string, md *model.Metadata) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if md == nil {
		return objerr.New(objerr.Validation, "metadata is required")
	}
	return s.store.UpdateMetadata(ctx, key, md)
}

// Health reports whether the store answers.
func (s *Service) Health(ctx context.Context) (model.HealthStatus, string) {
	if err := s.store.Ping(ctx); err != nil {
		return model.HealthNotServing, model.FailureMessage(err, "store unavailable")
	}
	return model.HealthServing, "service is healthy"
}

// ArchiveKey returns where key is archived for a destination type.
func ArchiveKey(destinationType, key string) string {
	return ArchivePrefix + destinationType + "/" + key
}

// Archive moves key under archive/{destinationType}/.
func (s *Service) Archive(ctx context.Context, key, destinationType string, settings map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if destinationType == "" {
		return objerr.New(objerr.Validation, "destination type is required")
	}
	obj, err := s.store.GetObject(ctx, key)
	if err != nil {
		return err
	}
	archived := *obj
	archived.Key = ArchiveKey(destinationType, key)
	if archived.Custom == nil {
		archived.Custom = map[string]string{}
	}
	archived.Custom["archived-from"] = key
	for k, v := range settings {
		archived.Custom["archive-"+k] = v
	}
	if err := s.store.PutObject(ctx, &archived); err != nil {
		return err
	}
	if _, err := s.store.DeleteObject(ctx, key); err != nil {
		return err
	}
	s.log.Info("object archived", "key", key, "destination", archived.Key)
	return nil
}

// ---- Lifecycle ----

// AddPolicy stores a lifecycle policy, replacing one with the same id.
func (s *Service) AddPolicy(ctx context.Context, p model.LifecyclePolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.store.PutLifecyclePolicy(ctx, p)
}

// RemovePolicy deletes a lifecycle policy.
func (s *Service) RemovePolicy(ctx context.Context, id string) error {
	ok, err := s.store.DeleteLifecyclePolicy(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return policyNotFound("lifecycle", id)
	}
	return nil
}

// Policies lists lifecycle policies whose prefix starts with prefix.
func (s *Service) Policies(ctx context.Context, prefix string) ([]model.LifecyclePolicy, error) {
	all, err := s.store.ListLifecyclePolicies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.LifecyclePolicy, 0, len(all))
	for _, p := range all {
		if strings.HasPrefix(p.Prefix, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ApplyPolicies runs every enabled lifecycle policy once. Objects already
// under ArchivePrefix are never touched.
func (s *Service) ApplyPolicies(ctx context.Context) (policies, processed int, err error) {
	all, err := s.store.ListLifecyclePolicies(ctx)
	if err != nil {
		return 0, 0, err
	}
	now := s.now()
	for _, p := range all {
		if !p.Enabled {
			continue
		}
		policies++
		cutoff := now.Add(-time.Duration(p.RetentionSeconds) * time.Second)
		expired, err := s.scan(ctx, p.Prefix, func(o ObjectRecord) bool {
			return !strings.HasPrefix(o.Key, ArchivePrefix) && !o.LastModified.After(cutoff)
		})
		if err != nil {
			return policies, processed, err
		}
		for _, o := range expired {
			switch p.Action {
			case model.ActionArchive:
				err = s.Archive(ctx, o.Key, p.DestinationType, p.DestinationSettings)
			default:
				_, err = s.store.DeleteObject(ctx, o.Key)
			}
			if err != nil && objerr.KindOf(err) != objerr.NotFound {
				return policies, processed, err
			}
			processed++
		}
		s.log.Info("lifecycle policy applied", "policy", p.ID, "action", p.Action, "objects", len(expired))
	}
	s.refreshGauge(ctx)
	return policies, processed, nil
}

// scan pages through every key under prefix and keeps those matching keep.
func (s *Service) scan(ctx context.Context, prefix string, keep func(ObjectRecord) bool) ([]ObjectRecord, error) {
	var out []ObjectRecord
	opts := ListOptions{Prefix: prefix, MaxKeys: 1000}
	for {
		page, err := s.store.ListObjects(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, o := range page.Objects {
			if keep == nil || keep(o) {
				out = append(out, o)
			}
		}
		if !page.Truncated {
			return out, nil
		}
		opts.StartAfter = page.NextToken
	}
}

// ---- Replication ----

// DestinationPrefix returns where a replication policy writes. It is taken
// from destination_settings["prefix"], defaulting to "replicas/{id}/".
func DestinationPrefix(p model.ReplicationPolicy) string {
	if v := p.DestinationSettings["prefix"]; v != "" {
		return v
	}
	return "replicas/" + p.ID + "/"
}

// AddReplicationPolicy stores a replication policy.
func (s *Service) AddReplicationPolicy(ctx context.Context, p model.ReplicationPolicy) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	if dst := DestinationPrefix(p); strings.HasPrefix(p.SourcePrefix, dst) {
		return objerr.Newf(objerr.Validation, "source prefix %q lies inside destination prefix %q", p.SourcePrefix, dst)
	}
	return s.store.PutReplicationPolicy(ctx, p)
}

// RemoveReplicationPolicy deletes a replication policy and its status.
func (s *Service) RemoveReplicationPolicy(ctx context.Context, id string) error {
	ok, err := s.store.DeleteReplicationPolicy(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return policyNotFound("replication", id)
	}
	return nil
}

// ReplicationPolicies lists all replication policies.
func (s *Service) ReplicationPolicies(ctx context.Context) ([]model.ReplicationPolicy, error) {
	return s.store.ListReplicationPolicies(ctx)
}

// ReplicationPolicy fetches one replication policy.
func (s *Service) ReplicationPolicy(ctx context.Context, id string) (*model.ReplicationPolicy, error) {
	return s.store.GetReplicationPolicy(ctx, id)
}

// ReplicationStatus returns cumulative counters. A policy that never ran
// reports zeroes.
func (s *Service) ReplicationStatus(ctx context.Context, id string) (*model.ReplicationStatus, error) {
	p, err := s.store.GetReplicationPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	st, err := s.store.GetReplicationStatus(ctx, id)
	if objerr.KindOf(err) == objerr.NotFound {
		st = &model.ReplicationStatus{PolicyID: id}
	} else if err != nil {
		return nil, err
	}
	st.SourceBackend = p.SourceBackend
	st.DestinationBackend = p.DestinationBackend
	st.Enabled = p.Enabled
	return st, nil
}

// TriggerReplication mirrors every object under the policy's source prefix
// to its destination prefix and deletes destination objects whose source is
// gone. Objects whose ETag already matches are skipped.
func (s *Service) TriggerReplication(ctx context.Context, opts model.TriggerOptions) (*model.SyncResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	p, err := s.store.GetReplicationPolicy(ctx, opts.PolicyID)
	if err != nil {
		return nil, err
	}

	mu, _ := s.syncMu.LoadOrStore(p.ID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	start := s.now()
	dst := DestinationPrefix(*p)
	sources, err := s.scan(ctx, p.SourcePrefix, func(o ObjectRecord) bool {
		return !strings.HasPrefix(o.Key, dst)
	})
	if err != nil {
		return nil, err
	}
	replicas, err := s.scan(ctx, dst, nil)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]string, len(replicas))
	for _, r := range replicas {
		existing[r.Key] = r.ETag
	}
	wanted := make(map[string]bool, len(sources))

	res := &model.SyncResult{PolicyID: p.ID}
	var resMu sync.Mutex
	record := func(step string, err error, bytes int64, deleted bool) {
		resMu.Lock()
		defer resMu.Unlock()
		switch {
		case err != nil:
			res.Failed++
			if len(res.Errors) < maxSyncErrors {
				res.Errors = append(res.Errors, step+": "+model.FailureMessage(err, "failed"))
			}
		case deleted:
			res.Deleted++
		default:
			res.Synced++
			res.BytesTotal += bytes
		}
	}

	workers := 1
	if opts.Parallel {
		workers = opts.WorkerCount
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, src := range sources {
		target := dst + strings.TrimPrefix(src.Key, p.SourcePrefix)
		wanted[target] = true
		if existing[target] == src.ETag {
			continue
		}
		g.Go(func() error {
			obj, err := s.store.GetObject(gctx, src.Key)
			if err != nil {
				record("reading "+src.Key, err, 0, false)
				return nil
			}
			obj.Key = target
			if err := s.store.PutObject(gctx, obj); err != nil {
				record("writing "+target, err, 0, false)
				return nil
			}
			record(target, nil, obj.Size, false)
			return nil
		})
	}
	for _, r := range replicas {
		if wanted[r.Key] {
			continue
		}
		g.Go(func() error {
			if _, err := s.store.DeleteObject(gctx, r.Key); err != nil {
				record("deleting "+r.Key, err, 0, false)
				return nil
			}
			record(r.Key, nil, 0, true)
			return nil
		})
	}
	_ = g.Wait()

	end := s.now()
	res.DurationMs = end.Sub(start).Milliseconds()
	if err := s.recordSync(ctx, p, res, end); err != nil {
		return nil, err
	}
	s.refreshGauge(ctx)
	s.log.Info("replication run finished", "policy", p.ID, "synced", res.Synced,
		"deleted", res.Deleted, "failed", res.Failed, "workers", workers)
	return res, nil
}

func (s *Service) recordSync(ctx context.Context, p *model.ReplicationPolicy, res *model.SyncResult, at time.Time) error {
	st, err := s.store.GetReplicationStatus(ctx, p.ID)
	if objerr.KindOf(err) == objerr.NotFound {
		st = &model.ReplicationStatus{PolicyID: p.ID}
	} else if err != nil {
		return err
	}
	st.SourceBackend = p.SourceBackend
	st.DestinationBackend = p.DestinationBackend
	st.Enabled = p.Enabled
	st.TotalObjectsSynced += int64(res.Synced)
	st.TotalObjectsDeleted += int64(res.Deleted)
	st.TotalBytesSynced += res.BytesTotal
	st.TotalErrors += int64(res.Failed)
	st.AverageSyncDurationMs = (st.AverageSyncDurationMs*st.SyncCount + res.DurationMs) / (st.SyncCount + 1)
	st.SyncCount++
	st.LastSyncTime = &at
	if err := s.store.PutReplicationStatus(ctx, *st); err != nil {
		return err
	}

	p.LastSyncTime = &at
	return s.store.PutReplicationPolicy(ctx, *p)
}
