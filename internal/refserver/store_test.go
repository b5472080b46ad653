package refserver

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
)

// newSQLiteTestStore creates a SQLiteStore backed by a temporary database
// file that is removed when the test finishes.
func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "objects.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) failed: %v", dbPath, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteTestStore(t)) })
}

func seedObjects(t *testing.T, store Store, keys ...string) {
	t.Helper()
	for _, k := range keys {
		obj := &ObjectRecord{
			Key:          k,
			Data:         []byte(k),
			Size:         int64(len(k)),
			ETag:         ComputeETag([]byte(k)),
			ContentType:  "text/plain",
			LastModified: time.Now().UTC(),
		}
		if err := store.PutObject(context.Background(), obj); err != nil {
			t.Fatalf("PutObject(%q) failed: %v", k, err)
		}
	}
}

func keysOf(res *ListResult) []string {
	out := make([]string, 0, len(res.Objects))
	for _, o := range res.Objects {
		out = append(out, o.Key)
	}
	return out
}

// ---- Object tests ----

func TestObjectCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		modified := time.Date(2026, 3, 1, 12, 30, 0, 123456000, time.UTC)

		obj := &ObjectRecord{
			Key:             "docs/readme.txt",
			Data:            []byte("hello world"),
			Size:            11,
			ETag:            ComputeETag([]byte("hello world")),
			ContentType:     "text/plain",
			ContentEncoding: "gzip",
			Custom:          map[string]string{"author": "ops"},
			LastModified:    modified,
		}
		if err := store.PutObject(ctx, obj); err != nil {
			t.Fatalf("PutObject: %v", err)
		}

		got, err := store.GetObject(ctx, "docs/readme.txt")
		if err != nil {
			t.Fatalf("GetObject: %v", err)
		}
		if string(got.Data) != "hello world" {
			t.Errorf("Data = %q, want %q", got.Data, "hello world")
		}
		if got.Size != 11 {
			t.Errorf("Size = %d, want 11", got.Size)
		}
		if got.ETag != obj.ETag {
			t.Errorf("ETag = %q, want %q", got.ETag, obj.ETag)
		}
		if got.ContentType != "text/plain" || got.ContentEncoding != "gzip" {
			t.Errorf("content headers = %q/%q, want text/plain/gzip", got.ContentType, got.ContentEncoding)
		}
		if !reflect.DeepEqual(got.Custom, map[string]string{"author": "ops"}) {
			t.Errorf("Custom = %v", got.Custom)
		}
		if !got.LastModified.Equal(modified) {
			t.Errorf("LastModified = %v, want %v", got.LastModified, modified)
		}

		head, err := store.HeadObject(ctx, "docs/readme.txt")
		if err != nil {
			t.Fatalf("HeadObject: %v", err)
		}
		if head.Data != nil {
			t.Errorf("HeadObject returned %d bytes of data", len(head.Data))
		}
		if head.Size != 11 {
			t.Errorf("HeadObject Size = %d, want 11", head.Size)
		}

		// Mutating the returned record must not touch the stored one.
		got.Custom["author"] = "mallory"
		again, _ := store.GetObject(ctx, "docs/readme.txt")
		if again.Custom["author"] != "ops" {
			t.Errorf("stored metadata changed through a returned copy")
		}

		existed, err := store.DeleteObject(ctx, "docs/readme.txt")
		if err != nil || !existed {
			t.Fatalf("DeleteObject = %v, %v; want true, nil", existed, err)
		}
		existed, err = store.DeleteObject(ctx, "docs/readme.txt")
		if err != nil || existed {
			t.Fatalf("second DeleteObject = %v, %v; want false, nil", existed, err)
		}

		_, err = store.GetObject(ctx, "docs/readme.txt")
		if objerr.KindOf(err) != objerr.NotFound {
			t.Errorf("GetObject after delete: got %v, want NotFound", err)
		}
		_, err = store.HeadObject(ctx, "docs/readme.txt")
		if objerr.KindOf(err) != objerr.NotFound {
			t.Errorf("HeadObject after delete: got %v, want NotFound", err)
		}
	})
}

func TestPutObjectReplaces(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seedObjects(t, store, "k")
		replacement := &ObjectRecord{Key: "k", Data: []byte("v2"), Size: 2, ETag: "e2", LastModified: time.Now().UTC()}
		if err := store.PutObject(ctx, replacement); err != nil {
			t.Fatalf("PutObject: %v", err)
		}
		got, err := store.GetObject(ctx, "k")
		if err != nil {
			t.Fatalf("GetObject: %v", err)
		}
		if string(got.Data) != "v2" || got.ETag != "e2" {
			t.Errorf("got %q/%q, want v2/e2", got.Data, got.ETag)
		}
		n, _ := store.CountObjects(ctx)
		if n != 1 {
			t.Errorf("CountObjects = %d, want 1", n)
		}
	})
}

func TestEmptyObject(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		obj := &ObjectRecord{Key: "empty", Size: 0, ETag: ComputeETag(nil), LastModified: time.Now().UTC()}
		if err := store.PutObject(ctx, obj); err != nil {
			t.Fatalf("PutObject: %v", err)
		}
		got, err := store.GetObject(ctx, "empty")
		if err != nil {
			t.Fatalf("GetObject: %v", err)
		}
		if len(got.Data) != 0 || got.Size != 0 {
			t.Errorf("got %d bytes, size %d; want empty", len(got.Data), got.Size)
		}
	})
}

func TestUpdateMetadata(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seedObjects(t, store, "k")

		err := store.UpdateMetadata(ctx, "k", &model.Metadata{
			ContentType: model.String("application/json"),
			Custom:      map[string]string{"tier": "hot"},
		})
		if err != nil {
			t.Fatalf("UpdateMetadata: %v", err)
		}
		got, err := store.GetObject(ctx, "k")
		if err != nil {
			t.Fatalf("GetObject: %v", err)
		}
		if got.ContentType != "application/json" {
			t.Errorf("ContentType = %q, want application/json", got.ContentType)
		}
		if got.Custom["tier"] != "hot" {
			t.Errorf("Custom = %v, want tier=hot", got.Custom)
		}
		if string(got.Data) != "k" {
			t.Errorf("data changed by metadata update: %q", got.Data)
		}

		err = store.UpdateMetadata(ctx, "missing", &model.Metadata{})
		if objerr.KindOf(err) != objerr.NotFound {
			t.Errorf("UpdateMetadata(missing): got %v, want NotFound", err)
		}
	})
}

// ---- Listing tests ----

func TestListObjectsPagination(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seedObjects(t, store, "e", "c", "a", "d", "b")

		var pages [][]string
		opts := ListOptions{MaxKeys: 2}
		for {
			res, err := store.ListObjects(ctx, opts)
			if err != nil {
				t.Fatalf("ListObjects: %v", err)
			}
			pages = append(pages, keysOf(res))
			if !res.Truncated {
				if res.NextToken != "" {
					t.Errorf("last page carries token %q", res.NextToken)
				}
				break
			}
			if res.NextToken == "" {
				t.Fatal("truncated page without a token")
			}
			opts.StartAfter = res.NextToken
		}

		want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
		if !reflect.DeepEqual(pages, want) {
			t.Errorf("pages = %v, want %v", pages, want)
		}
	})
}

func TestListObjectsWithPrefix(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		seedObjects(t, store, "logs/1", "logs/2", "data/1", "logsx")

		res, err := store.ListObjects(context.Background(), ListOptions{Prefix: "logs/", MaxKeys: 10})
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		if got := keysOf(res); !reflect.DeepEqual(got, []string{"logs/1", "logs/2"}) {
			t.Errorf("keys = %v", got)
		}
		if res.Truncated {
			t.Error("unexpected truncation")
		}
	})
}

func TestListObjectsWithDelimiter(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seedObjects(t, store, "dir/a", "dir/b", "dir/sub/x", "dir/sub/y", "top")

		res, err := store.ListObjects(ctx, ListOptions{Prefix: "dir/", Delimiter: "/", MaxKeys: 10})
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		if got := keysOf(res); !reflect.DeepEqual(got, []string{"dir/a", "dir/b"}) {
			t.Errorf("keys = %v", got)
		}
		if !reflect.DeepEqual(res.CommonPrefixes, []string{"dir/sub/"}) {
			t.Errorf("CommonPrefixes = %v", res.CommonPrefixes)
		}

		// A common prefix counts as one entry, and a token naming it skips
		// every key underneath.
		first, err := store.ListObjects(ctx, ListOptions{Delimiter: "/", MaxKeys: 1})
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		if !first.Truncated || first.NextToken != "dir/" {
			t.Fatalf("first page = %+v, want truncated with token dir/", first)
		}
		second, err := store.ListObjects(ctx, ListOptions{Delimiter: "/", MaxKeys: 1, StartAfter: first.NextToken})
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		if got := keysOf(second); !reflect.DeepEqual(got, []string{"top"}) {
			t.Errorf("second page keys = %v, want [top]", got)
		}
		if second.Truncated || len(second.CommonPrefixes) != 0 {
			t.Errorf("second page = %+v", second)
		}
	})
}

func TestListObjectsEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		res, err := store.ListObjects(context.Background(), ListOptions{MaxKeys: 5})
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		if res.Objects == nil || len(res.Objects) != 0 {
			t.Errorf("Objects = %#v, want empty non-nil slice", res.Objects)
		}
		if res.Truncated {
			t.Error("empty listing is truncated")
		}
	})
}

// ---- Policy tests ----

func TestLifecyclePolicyCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		for _, id := range []string{"b", "a"} {
			p := model.LifecyclePolicy{ID: id, Prefix: id + "/", RetentionSeconds: 60, Action: model.ActionDelete, Enabled: true}
			if err := store.PutLifecyclePolicy(ctx, p); err != nil {
				t.Fatalf("PutLifecyclePolicy(%q): %v", id, err)
			}
		}

		list, err := store.ListLifecyclePolicies(ctx)
		if err != nil {
			t.Fatalf("ListLifecyclePolicies: %v", err)
		}
		if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
			t.Fatalf("policies = %+v, want a then b", list)
		}
		if list[0].Prefix != "a/" || list[0].RetentionSeconds != 60 {
			t.Errorf("policy a = %+v", list[0])
		}

		existed, err := store.DeleteLifecyclePolicy(ctx, "a")
		if err != nil || !existed {
			t.Fatalf("DeleteLifecyclePolicy = %v, %v", existed, err)
		}
		existed, _ = store.DeleteLifecyclePolicy(ctx, "a")
		if existed {
			t.Error("second delete reported the policy as existing")
		}
	})
}

func TestReplicationPolicyAndStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		p := model.ReplicationPolicy{
			ID:                   "r1",
			SourceBackend:        "local",
			DestinationBackend:   "s3",
			DestinationSettings:  map[string]string{"bucket": "backup"},
			CheckIntervalSeconds: 300,
			Enabled:              true,
			Mode:                 model.ModeTransparent,
		}
		if err := store.PutReplicationPolicy(ctx, p); err != nil {
			t.Fatalf("PutReplicationPolicy: %v", err)
		}
		got, err := store.GetReplicationPolicy(ctx, "r1")
		if err != nil {
			t.Fatalf("GetReplicationPolicy: %v", err)
		}
		if got.DestinationSettings["bucket"] != "backup" || got.CheckIntervalSeconds != 300 {
			t.Errorf("policy = %+v", got)
		}

		_, err = store.GetReplicationStatus(ctx, "r1")
		if objerr.KindOf(err) != objerr.NotFound {
			t.Errorf("status before any run: got %v, want NotFound", err)
		}
		st := model.ReplicationStatus{PolicyID: "r1", TotalObjectsSynced: 7, SyncCount: 2}
		if err := store.PutReplicationStatus(ctx, st); err != nil {
			t.Fatalf("PutReplicationStatus: %v", err)
		}
		gotSt, err := store.GetReplicationStatus(ctx, "r1")
		if err != nil {
			t.Fatalf("GetReplicationStatus: %v", err)
		}
		if gotSt.TotalObjectsSynced != 7 || gotSt.SyncCount != 2 {
			t.Errorf("status = %+v", gotSt)
		}

		existed, err := store.DeleteReplicationPolicy(ctx, "r1")
		if err != nil || !existed {
			t.Fatalf("DeleteReplicationPolicy = %v, %v", existed, err)
		}
		_, err = store.GetReplicationStatus(ctx, "r1")
		if objerr.KindOf(err) != objerr.NotFound {
			t.Errorf("status survived policy deletion: %v", err)
		}
		_, err = store.GetReplicationPolicy(ctx, "r1")
		if objerr.KindOf(err) != objerr.NotFound {
			t.Errorf("GetReplicationPolicy after delete: got %v, want NotFound", err)
		}
	})
}

// ---- SQLite specifics ----

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "objects.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	seedObjects(t, store, "kept")
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetObject(context.Background(), "kept")
	if err != nil {
		t.Fatalf("GetObject after reopen: %v", err)
	}
	if string(got.Data) != "kept" {
		t.Errorf("Data = %q, want kept", got.Data)
	}
}

func TestSQLiteInMemoryDSN(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore(:memory:): %v", err)
	}
	defer store.Close()
	seedObjects(t, store, "a", "b")
	n, err := store.CountObjects(context.Background())
	if err != nil || n != 2 {
		t.Errorf("CountObjects = %d, %v; want 2", n, err)
	}
}

func TestSQLitePingAfterClose(t *testing.T) {
	store := newSQLiteTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	store.Close()
	if err := store.Ping(context.Background()); err == nil {
		t.Error("Ping succeeded on a closed database")
	}
}
