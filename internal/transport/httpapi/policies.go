package httpapi

import (
	"context"
	"net/http"
	"net/url"

	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
)

// AddPolicy registers a lifecycle policy.
func (c *Client) AddPolicy(ctx context.Context, policy model.LifecyclePolicy) (*model.PolicyResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	var out Envelope
	if _, err := c.doJSON(ctx, http.MethodPost, c.APIPath("policies"), policy, &out, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	return &model.PolicyResult{Success: true, Message: messageOr(out.Message, "policy added successfully")}, nil
}

// RemovePolicy deletes a lifecycle policy.
func (c *Client) RemovePolicy(ctx context.Context, id string) (*model.PolicyResult, error) {
	if err := model.ValidatePolicyID(id); err != nil {
		return nil, err
	}
	var out Envelope
	if _, err := c.doJSON(ctx, http.MethodDelete, c.APIPath("policies/"+url.PathEscape(id)), nil, &out, http.StatusOK, http.StatusNoContent); err != nil {
		return nil, err
	}
	return &model.PolicyResult{Success: true, Message: messageOr(out.Message, "policy removed successfully")}, nil
}

// GetPolicies lists lifecycle policies, optionally filtered by prefix.
func (c *Client) GetPolicies(ctx context.Context, prefix string) ([]model.LifecyclePolicy, error) {
	target := c.APIPath("policies")
	if prefix != "" {
		target += "?" + url.Values{"prefix": {prefix}}.Encode()
	}
	var out PoliciesResponse
	if _, err := c.doJSON(ctx, http.MethodGet, target, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out.Policies == nil {
		return []model.LifecyclePolicy{}, nil
	}
	return out.Policies, nil
}

// ApplyPolicies runs every lifecycle policy once.
func (c *Client) ApplyPolicies(ctx context.Context) (*model.ApplyPoliciesResult, error) {
	var out ApplyResponse
	if _, err := c.doJSON(ctx, http.MethodPost, c.APIPath("policies/apply"), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &model.ApplyPoliciesResult{
		Success:          true,
		PoliciesCount:    out.PoliciesCount,
		ObjectsProcessed: out.ObjectsProcessed,
		Message:          messageOr(out.Message, "policies applied successfully"),
	}, nil
}

// AddReplicationPolicy registers a replication policy.
func (c *Client) AddReplicationPolicy(ctx context.Context, policy model.ReplicationPolicy) (*model.PolicyResult, error) {
	policy.Normalize()
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	var out Envelope
	if _, err := c.doJSON(ctx, http.MethodPost, c.APIPath("replication/policies"), policy, &out, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	return &model.PolicyResult{Success: true, Message: messageOr(out.Message, "replication policy added successfully")}, nil
}

// RemoveReplicationPolicy deletes a replication policy.
func (c *Client) RemoveReplicationPolicy(ctx context.Context, id string) (*model.PolicyResult, error) {
	if err := model.ValidatePolicyID(id); err != nil {
		return nil, err
	}
	var out Envelope
	if _, err := c.doJSON(ctx, http.MethodDelete, c.APIPath("replication/policies/"+url.PathEscape(id)), nil, &out, http.StatusOK, http.StatusNoContent); err != nil {
		return nil, err
	}
	return &model.PolicyResult{Success: true, Message: messageOr(out.Message, "replication policy removed successfully")}, nil
}

// GetReplicationPolicies lists replication policies.
func (c *Client) GetReplicationPolicies(ctx context.Context) ([]model.ReplicationPolicy, error) {
	var out ReplicationPoliciesResponse
	if _, err := c.doJSON(ctx, http.MethodGet, c.APIPath("replication/policies"), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out.Policies == nil {
		return []model.ReplicationPolicy{}, nil
	}
	return out.Policies, nil
}

// GetReplicationPolicy fetches one replication policy.
func (c *Client) GetReplicationPolicy(ctx context.Context, id string) (*model.ReplicationPolicy, error) {
	if err := model.ValidatePolicyID(id); err != nil {
		return nil, err
	}
	var out ReplicationPolicyResponse
	if _, err := c.doJSON(ctx, http.MethodGet, c.APIPath("replication/policies/"+url.PathEscape(id)), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out.Policy == nil {
		return nil, objerr.WithCode(objerr.NotFound, http.StatusOK, "replication policy not found: "+id)
	}
	return out.Policy, nil
}

// TriggerReplication runs a replication policy now.
func (c *Client) TriggerReplication(ctx context.Context, opts model.TriggerOptions) (*model.SyncResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	var out TriggerResponse
	if _, err := c.doJSON(ctx, http.MethodPost, c.APIPath("replication/trigger"), opts, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out.Result == nil {
		return &model.SyncResult{PolicyID: opts.PolicyID}, nil
	}
	return out.Result, nil
}

// GetReplicationStatus fetches cumulative counters for a policy.
func (c *Client) GetReplicationStatus(ctx context.Context, id string) (*model.ReplicationStatus, error) {
	if err := model.ValidatePolicyID(id); err != nil {
		return nil, err
	}
	var out StatusResponse
	if _, err := c.doJSON(ctx, http.MethodGet, c.APIPath("replication/status/"+url.PathEscape(id)), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out.Status == nil {
		return nil, objerr.WithCode(objerr.NotFound, http.StatusOK, "replication status not found: "+id)
	}
	return out.Status, nil
}
