package refserver

import (
	"context"
	"sort"
	"sync"

	"github.com/bleepstore/objstore/pkg/model"
)

// MemoryStore keeps everything in maps guarded by one RWMutex.
type MemoryStore struct {
	mu          sync.RWMutex
	objects     map[string]*ObjectRecord
	lifecycle   map[string]model.LifecyclePolicy
	replication map[string]model.ReplicationPolicy
	status      map[string]model.ReplicationStatus
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:     make(map[string]*ObjectRecord),
		lifecycle:   make(map[string]model.LifecyclePolicy),
		replication: make(map[string]model.ReplicationPolicy),
		status:      make(map[string]model.ReplicationStatus),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// PutObject stores a copy of obj, replacing any existing record.
func (s *MemoryStore) PutObject(ctx context.Context, obj *ObjectRecord) error {
	cp := *obj
	cp.Data = append([]byte(nil), obj.Data...)
	cp.Custom = cloneMap(obj.Custom)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Key] = &cp
	return nil
}

// GetObject returns a copy of the record including its data.
func (s *MemoryStore) GetObject(ctx context.Context, key string) (*ObjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, objectNotFound(key)
	}
	cp := *obj
	cp.Data = append([]byte(nil), obj.Data...)
	cp.Custom = cloneMap(obj.Custom)
	return &cp, nil
}

// HeadObject returns a copy of the record without data.
func (s *MemoryStore) HeadObject(ctx context.Context, key string) (*ObjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, objectNotFound(key)
	}
	cp := *obj
	cp.Data = nil
	cp.Custom = cloneMap(obj.Custom)
	return &cp, nil
}

func (s *MemoryStore) DeleteObject(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.objects[key]
	delete(s.objects, key)
	return ok, nil
}

func (s *MemoryStore) ListObjects(ctx context.Context, opts ListOptions) (*ListResult, error) {
	s.mu.RLock()
	records := make([]ObjectRecord, 0, len(s.objects))
	for _, obj := range s.objects {
		cp := *obj
		cp.Data = nil
		cp.Custom = cloneMap(obj.Custom)
		records = append(records, cp)
	}
	s.mu.RUnlock()

	return paginate(records, opts), nil
}

func (s *MemoryStore) UpdateMetadata(ctx context.Context, key string, md *model.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return objectNotFound(key)
	}
	applyMetadata(obj, md)
	return nil
}

func (s *MemoryStore) CountObjects(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects), nil
}

func (s *MemoryStore) PutLifecyclePolicy(ctx context.Context, p model.LifecyclePolicy) error {
	p.DestinationSettings = cloneMap(p.DestinationSettings)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycle[p.ID] = p
	return nil
}

func (s *MemoryStore) DeleteLifecyclePolicy(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lifecycle[id]
	delete(s.lifecycle, id)
	return ok, nil
}

// ListLifecyclePolicies returns all policies ordered by id.
func (s *MemoryStore) ListLifecyclePolicies(ctx context.Context) ([]model.LifecyclePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LifecyclePolicy, 0, len(s.lifecycle))
	for _, p := range s.lifecycle {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutReplicationPolicy(ctx context.Context, p model.ReplicationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replication[p.ID] = p
	return nil
}

func (s *MemoryStore) GetReplicationPolicy(ctx context.Context, id string) (*model.ReplicationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.replication[id]
	if !ok {
		return nil, policyNotFound("replication", id)
	}
	return &p, nil
}

// DeleteReplicationPolicy removes the policy and its status.
func (s *MemoryStore) DeleteReplicationPolicy(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.replication[id]
	delete(s.replication, id)
	delete(s.status, id)
	return ok, nil
}

// ListReplicationPolicies returns all policies ordered by id.
func (s *MemoryStore) ListReplicationPolicies(ctx context.Context) ([]model.ReplicationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ReplicationPolicy, 0, len(s.replication))
	for _, p := range s.replication {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetReplicationStatus(ctx context.Context, id string) (*model.ReplicationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[id]
	if !ok {
		return nil, policyNotFound("replication status for", id)
	}
	return &st, nil
}

func (s *MemoryStore) PutReplicationStatus(ctx context.Context, st model.ReplicationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[st.PolicyID] = st
	return nil
}
