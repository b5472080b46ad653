package refserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/bleepstore/objstore/pkg/model"
)

// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store on a SQLite database. Policies and status
// records are kept as JSON documents keyed by id.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dsn and applies the
// schema. ":memory:" is accepted and pinned to a single connection.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the tables. Safe to call repeatedly.
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS objects (
			key              TEXT PRIMARY KEY,
			data             BLOB NOT NULL,
			size             INTEGER NOT NULL,
			etag             TEXT NOT NULL,
			content_type     TEXT NOT NULL DEFAULT '',
			content_encoding TEXT NOT NULL DEFAULT '',
			user_metadata    TEXT NOT NULL DEFAULT '{}',
			last_modified    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS lifecycle_policies (
			id   TEXT PRIMARY KEY,
			body TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS replication_policies (
			id   TEXT PRIMARY KEY,
			body TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS replication_status (
			policy_id TEXT PRIMARY KEY,
			body      TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Ping checks that the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ---- Objects ----

func (s *SQLiteStore) PutObject(ctx context.Context, obj *ObjectRecord) error {
	custom, err := json.Marshal(obj.Custom)
	if err != nil {
		return fmt.Errorf("encoding user metadata: %w", err)
	}
	data := obj.Data
	if data == nil {
		data = []byte{}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO objects
		 (key, data, size, etag, content_type, content_encoding, user_metadata, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		obj.Key, data, obj.Size, obj.ETag, obj.ContentType, obj.ContentEncoding,
		string(custom), obj.LastModified.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("putting object %q: %w", obj.Key, err)
	}
	return nil
}

const objectColumns = `key, size, etag, content_type, content_encoding, user_metadata, last_modified`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner, withData bool) (*ObjectRecord, error) {
	var (
		obj      ObjectRecord
		custom   string
		modified string
	)
	dest := []any{&obj.Key, &obj.Size, &obj.ETag, &obj.ContentType, &obj.ContentEncoding, &custom, &modified}
	if withData {
		dest = append(dest, &obj.Data)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if custom != "" && custom != "null" {
		if err := json.Unmarshal([]byte(custom), &obj.Custom); err != nil {
			return nil, fmt.Errorf("decoding user metadata of %q: %w", obj.Key, err)
		}
		if len(obj.Custom) == 0 {
			obj.Custom = nil
		}
	}
	t, err := time.Parse(timeFormat, modified)
	if err != nil {
		return nil, fmt.Errorf("parsing last_modified of %q: %w", obj.Key, err)
	}
	obj.LastModified = t
	return &obj, nil
}

func (s *SQLiteStore) GetObject(ctx context.Context, key string) (*ObjectRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+objectColumns+`, data FROM objects WHERE key = ?`, key)
	obj, err := scanObject(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, objectNotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}
	return obj, nil
}

func (s *SQLiteStore) HeadObject(ctx context.Context, key string) (*ObjectRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE key = ?`, key)
	obj, err := scanObject(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, objectNotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}
	return obj, nil
}

func (s *SQLiteStore) DeleteObject(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("deleting object %q: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListObjects bounds the scan by prefix and start key in SQL and leaves
// prefix matching, delimiter folding and paging to paginate.
func (s *SQLiteStore) ListObjects(ctx context.Context, opts ListOptions) (*ListResult, error) {
	query := `SELECT ` + objectColumns + ` FROM objects WHERE key >= ? AND key > ? ORDER BY key`
	rows, err := s.db.QueryContext(ctx, query, opts.Prefix, opts.StartAfter)
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	defer rows.Close()

	var records []ObjectRecord
	for rows.Next() {
		obj, err := scanObject(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scanning object row: %w", err)
		}
		records = append(records, *obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating object rows: %w", err)
	}
	return paginate(records, opts), nil
}

func (s *SQLiteStore) UpdateMetadata(ctx context.Context, key string, md *model.Metadata) error {
	obj, err := s.HeadObject(ctx, key)
	if err != nil {
		return err
	}
	applyMetadata(obj, md)
	custom, err := json.Marshal(obj.Custom)
	if err != nil {
		return fmt.Errorf("encoding user metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE objects SET content_type = ?, content_encoding = ?, user_metadata = ?, last_modified = ?
		 WHERE key = ?`,
		obj.ContentType, obj.ContentEncoding, string(custom), obj.LastModified.UTC().Format(timeFormat), key,
	)
	if err != nil {
		return fmt.Errorf("updating metadata of %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) CountObjects(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting objects: %w", err)
	}
	return n, nil
}

// ---- Documents ----

func (s *SQLiteStore) putDoc(ctx context.Context, table, idCol, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s %q: %w", table, id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+table+` (`+idCol+`, body) VALUES (?, ?)`, id, string(body))
	if err != nil {
		return fmt.Errorf("writing %s %q: %w", table, id, err)
	}
	return nil
}

// getDoc decodes one document into v and reports whether it existed.
func (s *SQLiteStore) getDoc(ctx context.Context, table, idCol, id string, v any) (bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM `+table+` WHERE `+idCol+` = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s %q: %w", table, id, err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return false, fmt.Errorf("decoding %s %q: %w", table, id, err)
	}
	return true, nil
}

func (s *SQLiteStore) deleteDoc(ctx context.Context, table, idCol, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+idCol+` = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting %s %q: %w", table, id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func listDocs[T any](ctx context.Context, db *sql.DB, table, idCol string) ([]T, error) {
	rows, err := db.QueryContext(ctx, `SELECT body FROM `+table+` ORDER BY `+idCol)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		var v T
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, fmt.Errorf("decoding %s row: %w", table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PutLifecyclePolicy(ctx context.Context, p model.LifecyclePolicy) error {
	return s.putDoc(ctx, "lifecycle_policies", "id", p.ID, p)
}

func (s *SQLiteStore) DeleteLifecyclePolicy(ctx context.Context, id string) (bool, error) {
	return s.deleteDoc(ctx, "lifecycle_policies", "id", id)
}

func (s *SQLiteStore) ListLifecyclePolicies(ctx context.Context) ([]model.LifecyclePolicy, error) {
	return listDocs[model.LifecyclePolicy](ctx, s.db, "lifecycle_policies", "id")
}

func (s *SQLiteStore) PutReplicationPolicy(ctx context.Context, p model.ReplicationPolicy) error {
	return s.putDoc(ctx, "replication_policies", "id", p.ID, p)
}

func (s *SQLiteStore) GetReplicationPolicy(ctx context.Context, id string) (*model.ReplicationPolicy, error) {
	var p model.ReplicationPolicy
	ok, err := s.getDoc(ctx, "replication_policies", "id", id, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, policyNotFound("replication", id)
	}
	return &p, nil
}

// DeleteReplicationPolicy removes the policy and its status.
func (s *SQLiteStore) DeleteReplicationPolicy(ctx context.Context, id string) (bool, error) {
	ok, err := s.deleteDoc(ctx, "replication_policies", "id", id)
	if err != nil {
		return false, err
	}
	if _, err := s.deleteDoc(ctx, "replication_status", "policy_id", id); err != nil {
		return ok, err
	}
	return ok, nil
}

func (s *SQLiteStore) ListReplicationPolicies(ctx context.Context) ([]model.ReplicationPolicy, error) {
	return listDocs[model.ReplicationPolicy](ctx, s.db, "replication_policies", "id")
}

func (s *SQLiteStore) GetReplicationStatus(ctx context.Context, id string) (*model.ReplicationStatus, error) {
	var st model.ReplicationStatus
	ok, err := s.getDoc(ctx, "replication_status", "policy_id", id, &st)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, policyNotFound("replication status for", id)
	}
	return &st, nil
}

func (s *SQLiteStore) PutReplicationStatus(ctx context.Context, st model.ReplicationStatus) error {
	return s.putDoc(ctx, "replication_status", "policy_id", st.PolicyID, st)
}
