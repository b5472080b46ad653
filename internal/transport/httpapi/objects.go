package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bleepstore/objstore/internal/transport"
	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
)

// Put uploads body under key.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, md *model.Metadata) (*model.PutResult, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	if body == nil {
		body = http.NoBody
	}
	hdr := http.Header{}
	if err := SetMetadataHeaders(hdr, md); err != nil {
		return nil, objerr.Wrap(objerr.Validation, err, "encoding metadata")
	}
	if hdr.Get("Content-Type") == "" {
		hdr.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.send(ctx, http.MethodPut, c.APIPath("objects/"+EscapeKey(key)), body, hdr)
	if err != nil {
		return nil, err
	}
	defer resp.release()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, statusError(resp)
	}
	var out PutResponse
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, objerr.FromTransport(err)
	}
	if err := checkEnvelope(resp.StatusCode, data); err != nil {
		return nil, err
	}
	_ = jsonUnmarshalLenient(data, &out)

	etag := out.Data.ETag
	if etag == "" {
		etag = trimETag(resp.Header.Get("ETag"))
	}
	return &model.PutResult{
		Success: true,
		Message: messageOr(out.Message, "object uploaded successfully"),
		ETag:    model.String(etag),
	}, nil
}

// Get downloads the whole object.
func (c *Client) Get(ctx context.Context, key string) ([]byte, *model.Metadata, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, nil, err
	}
	resp, err := c.send(ctx, http.MethodGet, c.APIPath("objects/"+EscapeKey(key)), nil, nil)
	if err != nil {
		return nil, nil, err
	}
	defer resp.release()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, objerr.FromTransport(err)
	}
	md := MetadataFromHeaders(resp.Header)
	if md.Size == nil {
		md.Size = model.Int64(int64(len(data)))
	}
	return data, md, nil
}

// GetStream opens a download and returns an iterator over its body.
func (c *Client) GetStream(ctx context.Context, key string) (*BodyChunks, *model.Metadata, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, nil, err
	}
	resp, err := c.send(ctx, http.MethodGet, c.APIPath("objects/"+EscapeKey(key)), nil, nil)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.release()
		return nil, nil, statusError(resp)
	}
	return newBodyChunks(resp.Body, resp.cancel), MetadataFromHeaders(resp.Header), nil
}

// Delete removes key. A server that answers 500 with a "not found" message
// is reported as NotFound.
func (c *Client) Delete(ctx context.Context, key string) (*model.DeleteResult, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	var out Envelope
	code, err := c.doJSON(ctx, http.MethodDelete, c.APIPath("objects/"+EscapeKey(key)), nil, &out,
		http.StatusOK, http.StatusNoContent)
	if err != nil {
		if e, ok := objerr.As(err); ok && code >= 500 && objerr.LooksNotFound(e.Message) {
			return nil, objerr.WithCode(objerr.NotFound, code, e.Message)
		}
		return nil, err
	}
	return &model.DeleteResult{Success: true, Message: messageOr(out.Message, "object deleted successfully")}, nil
}

// Exists probes key with HEAD. 2xx means present and 404 absent; any other
// status is reported as the error it maps to. Servers that reject HEAD
// (405/501) are probed with a one-byte ranged GET instead.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if err := model.ValidateKey(key); err != nil {
		return false, err
	}
	target := c.APIPath("objects/" + EscapeKey(key))
	resp, err := c.send(ctx, http.MethodHead, target, nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.release()

	switch code := resp.StatusCode; {
	case code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented:
		return c.existsByRange(ctx, target)
	case code >= 200 && code < 300:
		return true, nil
	case code == http.StatusNotFound:
		return false, nil
	}
	return false, statusError(resp)
}

func (c *Client) existsByRange(ctx context.Context, target string) (bool, error) {
	resp, err := c.send(ctx, http.MethodGet, target, nil, http.Header{"Range": {"bytes=0-0"}})
	if err != nil {
		return false, err
	}
	defer resp.release()

	switch code := resp.StatusCode; {
	// 416 means the object exists but is empty.
	case code >= 200 && code < 300, code == http.StatusRequestedRangeNotSatisfiable:
		return true, nil
	case code == http.StatusNotFound:
		return false, nil
	}
	return false, statusError(resp)
}

// List returns one page of keys.
func (c *Client) List(ctx context.Context, opts model.ListOptions) (*model.ListResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	q := url.Values{"limit": {strconv.Itoa(opts.MaxResults)}}
	if opts.Prefix != "" {
		q.Set("prefix", opts.Prefix)
	}
	if opts.Delimiter != "" {
		q.Set("delimiter", opts.Delimiter)
	}
	if opts.ContinuationToken != "" {
		q.Set("token", opts.ContinuationToken)
	}

	var out ListResponse
	if _, err := c.doJSON(ctx, http.MethodGet, c.APIPath("objects")+"?"+q.Encode(), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	res := &model.ListResult{
		Objects:        make([]model.ObjectInfo, 0, len(out.Objects)),
		CommonPrefixes: out.CommonPrefixes,
		NextToken:      out.NextToken,
		Truncated:      out.Truncated,
	}
	for _, o := range out.Objects {
		res.Objects = append(res.Objects, o.ToObjectInfo())
	}
	return res, nil
}

// GetMetadata fetches metadata without the object body.
func (c *Client) GetMetadata(ctx context.Context, key string) (*model.Metadata, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	var out MetadataResponse
	if _, err := c.doJSON(ctx, http.MethodGet, c.APIPath("metadata/"+EscapeKey(key)), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.ToMetadata(), nil
}

// UpdateMetadata replaces an object's metadata. Both 200 and 201 count as
// success.
func (c *Client) UpdateMetadata(ctx context.Context, key string, md *model.Metadata) (*model.PolicyResult, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	if md == nil {
		return nil, objerr.New(objerr.Validation, "metadata cannot be nil")
	}
	var out Envelope
	if _, err := c.doJSON(ctx, http.MethodPut, c.APIPath("metadata/"+EscapeKey(key)), md, &out,
		http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	return &model.PolicyResult{Success: true, Message: messageOr(out.Message, "metadata updated successfully")}, nil
}

// Health probes the unversioned /health endpoint.
func (c *Client) Health(ctx context.Context) (*model.HealthResult, error) {
	var out HealthResponse
	code, err := c.doJSON(ctx, http.MethodGet, c.RootPath("health"), nil, &out, http.StatusOK, http.StatusServiceUnavailable)
	if err != nil {
		return nil, err
	}
	status := model.ParseHealthStatus(out.Status)
	if code == http.StatusServiceUnavailable && status == model.HealthUnknown {
		status = model.HealthNotServing
	}
	return &model.HealthResult{Status: status, Message: out.Message}, nil
}

// Archive asks the service to copy key to another backend.
func (c *Client) Archive(ctx context.Context, key, destinationType string, settings map[string]string) (*model.ArchiveResult, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	if destinationType == "" {
		return nil, objerr.New(objerr.Validation, "destination type cannot be empty")
	}
	var out Envelope
	req := ArchiveRequest{Key: key, DestinationType: destinationType, DestinationSettings: settings}
	if _, err := c.doJSON(ctx, http.MethodPost, c.APIPath("archive"), req, &out, http.StatusOK, http.StatusCreated, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &model.ArchiveResult{Success: true, Message: messageOr(out.Message, "object archived successfully")}, nil
}

var _ transport.ChunkIterator = (*BodyChunks)(nil)
