package refserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bleepstore/objstore/internal/transport/httpapi"
	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
)

// HTTPOptions configures the HTTP front end.
type HTTPOptions struct {
	// APIVersion is the versioned path segment (default "v1").
	APIVersion string
	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string
	// DisableHead answers HEAD on objects with 405.
	DisableHead bool
	// MaxObjectSize bounds uploads (0 means unlimited).
	MaxObjectSize int64
	Logger        *slog.Logger
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status  string `json:"status" example:"SERVING" doc:"Serving status"`
	Message string `json:"message,omitempty" doc:"Detail"`
	Version string `json:"version" example:"1.0.0" doc:"Service version"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Status int
	Body   HealthBody
}

type httpFront struct {
	svc  *Service
	opts HTTPOptions
	base string
	log  *slog.Logger
}

// NewHandler returns the HTTP API: /health and /docs via Huma, /metrics,
// and the object and policy routes under /api/{version}/.
func NewHandler(svc *Service, opts HTTPOptions) http.Handler {
	if opts.APIVersion == "" {
		opts.APIVersion = "v1"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &httpFront{svc: svc, opts: opts, base: "/api/" + opts.APIVersion, log: log}

	router := chi.NewMux()
	humaConfig := huma.DefaultConfig("objstore reference API", Version)
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the serving status of the object store.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		status, msg := svc.Health(ctx)
		out := &HealthOutput{Status: http.StatusOK, Body: HealthBody{Status: status.String(), Message: msg, Version: Version}}
		if status != model.HealthServing {
			out.Status = http.StatusServiceUnavailable
		}
		return out, nil
	})
	router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Route(h.base, func(r chi.Router) {
		r.Use(h.requireToken)

		r.Put("/objects/*", h.putObject)
		r.Get("/objects/*", h.getObject)
		r.Head("/objects/*", h.headObject)
		r.Delete("/objects/*", h.deleteObject)
		r.Get("/objects", h.listObjects)

		r.Get("/metadata/*", h.getMetadata)
		r.Put("/metadata/*", h.updateMetadata)

		r.Post("/archive", h.archive)

		r.Post("/policies", h.addPolicy)
		r.Get("/policies", h.listPolicies)
		r.Post("/policies/apply", h.applyPolicies)
		r.Delete("/policies/{id}", h.removePolicy)

		r.Post("/replication/policies", h.addReplicationPolicy)
		r.Get("/replication/policies", h.listReplicationPolicies)
		r.Get("/replication/policies/{id}", h.getReplicationPolicy)
		r.Delete("/replication/policies/{id}", h.removeReplicationPolicy)
		r.Post("/replication/trigger", h.triggerReplication)
		r.Get("/replication/status/{id}", h.replicationStatus)
	})

	var handler http.Handler = router
	handler = requestID(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// requireToken rejects requests without the configured bearer token.
func (h *httpFront) requireToken(next http.Handler) http.Handler {
	if h.opts.AuthToken == "" {
		return next
	}
	want := "Bearer " + h.opts.AuthToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != want {
			writeError(w, objerr.New(objerr.Authentication, "missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// keyFrom returns the decoded object key following segment in the path.
func (h *httpFront) keyFrom(r *http.Request, segment string) string {
	return strings.TrimPrefix(r.URL.Path, h.base+"/"+segment+"/")
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch objerr.KindOf(err) {
	case objerr.NotFound:
		return http.StatusNotFound
	case objerr.Validation:
		return http.StatusBadRequest
	case objerr.Authentication:
		return http.StatusUnauthorized
	case objerr.Timeout:
		return http.StatusRequestTimeout
	case objerr.Connection:
		return http.StatusServiceUnavailable
	case objerr.Unsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	e := objerr.Normalize(err)
	writeJSON(w, statusFor(err), map[string]any{"success": false, "message": e.Message})
}

func ok(msg string) map[string]any {
	return map[string]any{"success": true, "message": msg}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return objerr.Wrap(objerr.Validation, err, "invalid JSON body: "+err.Error())
	}
	return nil
}

func (h *httpFront) putObject(w http.ResponseWriter, r *http.Request) {
	key := h.keyFrom(r, "objects")
	body := io.Reader(r.Body)
	if h.opts.MaxObjectSize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.opts.MaxObjectSize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, objerr.Wrap(objerr.Validation, err, "reading body: "+err.Error()))
		return
	}
	md := httpapi.MetadataFromHeaders(r.Header)
	obj, err := h.svc.Put(r.Context(), key, data, &model.Metadata{
		ContentType:     md.ContentType,
		ContentEncoding: md.ContentEncoding,
		Custom:          md.Custom,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", `"`+obj.ETag+`"`)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "object uploaded successfully",
		"data":    map[string]string{"etag": obj.ETag},
	})
}

func setObjectHeaders(w http.ResponseWriter, obj *ObjectRecord) {
	hdr := w.Header()
	hdr.Set("Content-Type", obj.ContentType)
	if obj.ContentEncoding != "" {
		hdr.Set("Content-Encoding", obj.ContentEncoding)
	}
	hdr.Set("ETag", `"`+obj.ETag+`"`)
	if len(obj.Custom) > 0 {
		if b, err := json.Marshal(obj.Custom); err == nil {
			hdr.Set(httpapi.HeaderObjectMetadata, string(b))
		}
	}
}

func (h *httpFront) getObject(w http.ResponseWriter, r *http.Request) {
	obj, err := h.svc.Get(r.Context(), h.keyFrom(r, "objects"))
	if err != nil {
		writeError(w, err)
		return
	}
	setObjectHeaders(w, obj)
	http.ServeContent(w, r, "", obj.LastModified, bytes.NewReader(obj.Data))
}

func (h *httpFront) headObject(w http.ResponseWriter, r *http.Request) {
	if h.opts.DisableHead {
		w.Header().Set("Allow", "GET, PUT, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	obj, err := h.svc.Head(r.Context(), h.keyFrom(r, "objects"))
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}
	setObjectHeaders(w, obj)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
}

func (h *httpFront) deleteObject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), h.keyFrom(r, "objects")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("object deleted successfully"))
}

func (h *httpFront) listObjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := model.DefaultMaxResults
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, objerr.Newf(objerr.Validation, "invalid limit %q", v))
			return
		}
		limit = n
	}
	res, err := h.svc.List(r.Context(), ListOptions{
		Prefix:     q.Get("prefix"),
		Delimiter:  q.Get("delimiter"),
		MaxKeys:    limit,
		StartAfter: q.Get("token"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := httpapi.ListResponse{
		Objects:        make([]httpapi.WireObject, 0, len(res.Objects)),
		CommonPrefixes: res.CommonPrefixes,
		Truncated:      res.Truncated,
	}
	if res.NextToken != "" {
		out.NextToken = model.String(res.NextToken)
	}
	for _, o := range res.Objects {
		out.Objects = append(out.Objects, httpapi.WireObject{
			Key:      o.Key,
			Size:     model.Int64(o.Size),
			Modified: model.Time(o.LastModified),
			ETag:     o.ETag,
			Metadata: o.Custom,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *httpFront) getMetadata(w http.ResponseWriter, r *http.Request) {
	key := h.keyFrom(r, "metadata")
	obj, err := h.svc.Head(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, httpapi.MetadataResponse{
		Key:             obj.Key,
		Size:            model.Int64(obj.Size),
		ETag:            obj.ETag,
		Modified:        model.Time(obj.LastModified),
		ContentType:     obj.ContentType,
		ContentEncoding: obj.ContentEncoding,
		Metadata:        obj.Custom,
	})
}

func (h *httpFront) updateMetadata(w http.ResponseWriter, r *http.Request) {
	var md model.Metadata
	if err := decodeJSON(r, &md); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.UpdateMetadata(r.Context(), h.keyFrom(r, "metadata"), &md); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("metadata updated successfully"))
}

func (h *httpFront) archive(w http.ResponseWriter, r *http.Request) {
	var req httpapi.ArchiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.Archive(r.Context(), req.Key, req.DestinationType, req.DestinationSettings); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("object archived successfully"))
}

func (h *httpFront) addPolicy(w http.ResponseWriter, r *http.Request) {
	var p model.LifecyclePolicy
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.AddPolicy(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ok("policy added successfully"))
}

func (h *httpFront) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.svc.Policies(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, httpapi.PoliciesResponse{Policies: policies})
}

func (h *httpFront) applyPolicies(w http.ResponseWriter, r *http.Request) {
	n, processed, err := h.svc.ApplyPolicies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, httpapi.ApplyResponse{
		Envelope:         httpapi.Envelope{Success: boolPtr(true), Message: "policies applied successfully"},
		PoliciesCount:    n,
		ObjectsProcessed: processed,
	})
}

func (h *httpFront) removePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemovePolicy(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("policy removed successfully"))
}

func (h *httpFront) addReplicationPolicy(w http.ResponseWriter, r *http.Request) {
	var p model.ReplicationPolicy
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.AddReplicationPolicy(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ok("replication policy added successfully"))
}

func (h *httpFront) listReplicationPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.svc.ReplicationPolicies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, httpapi.ReplicationPoliciesResponse{Policies: policies})
}

func (h *httpFront) getReplicationPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.ReplicationPolicy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, httpapi.ReplicationPolicyResponse{Policy: p})
}

func (h *httpFront) removeReplicationPolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveReplicationPolicy(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("replication policy removed successfully"))
}

func (h *httpFront) triggerReplication(w http.ResponseWriter, r *http.Request) {
	var opts model.TriggerOptions
	if err := decodeJSON(r, &opts); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.TriggerReplication(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, httpapi.TriggerResponse{Result: res})
}

func (h *httpFront) replicationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.ReplicationStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, httpapi.StatusResponse{Status: st})
}

func boolPtr(b bool) *bool { return &b }
