package model

import (
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"

	objerr "github.com/bleepstore/objstore/pkg/errors"
)

func TestLifecyclePolicyFromAgeDays(t *testing.T) {
	days := 30
	p := NewLifecyclePolicy(LifecycleSpec{ID: "p1", Prefix: "logs/", AgeDays: &days})
	if p.RetentionSeconds != 2592000 {
		t.Fatalf("RetentionSeconds = %d, want 2592000", p.RetentionSeconds)
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"retention_seconds":2592000`) {
		t.Errorf("serialized policy missing retention: %s", s)
	}
	for _, banned := range []string{"age", "days"} {
		if strings.Contains(s, banned) {
			t.Errorf("serialized policy must not mention %q: %s", banned, s)
		}
	}
}

func TestLifecyclePolicyDefaults(t *testing.T) {
	p := NewLifecyclePolicy(LifecycleSpec{ID: "p1"})
	if p.RetentionSeconds != DefaultRetentionSeconds || DefaultRetentionSeconds != 2592000 {
		t.Errorf("RetentionSeconds = %d, want 2592000", p.RetentionSeconds)
	}
	if p.Action != ActionDelete {
		t.Errorf("Action = %q, want delete", p.Action)
	}
	if !p.Enabled {
		t.Error("policies are enabled by default")
	}
}

func TestLifecyclePolicyExplicitRetentionWins(t *testing.T) {
	days := 7
	p := NewLifecyclePolicy(LifecycleSpec{ID: "p1", RetentionSeconds: Int64(60), AgeDays: &days})
	if p.RetentionSeconds != 60 {
		t.Errorf("RetentionSeconds = %d, want 60", p.RetentionSeconds)
	}
}

func TestLifecyclePolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  LifecyclePolicy
		wantErr bool
	}{
		{"valid delete", NewLifecyclePolicy(LifecycleSpec{ID: "a"}), false},
		{"missing id", NewLifecyclePolicy(LifecycleSpec{}), true},
		{"archive without destination", NewLifecyclePolicy(LifecycleSpec{ID: "a", Action: ActionArchive}), true},
		{"archive with destination", NewLifecyclePolicy(LifecycleSpec{ID: "a", Action: ActionArchive, DestinationType: "glacier"}), false},
		{"unknown action", LifecyclePolicy{ID: "a", Action: "shred"}, true},
		{"negative retention", LifecyclePolicy{ID: "a", Action: ActionDelete, RetentionSeconds: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !stderrors.Is(err, objerr.ErrValidation) {
				t.Errorf("expected Validation kind, got %v", err)
			}
		})
	}
}

func TestReplicationModeJSON(t *testing.T) {
	p := ReplicationPolicy{ID: "r", SourceBackend: "local", DestinationBackend: "s3", CheckIntervalSeconds: 60, Mode: ModeOpaque}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"replication_mode":"opaque"`) {
		t.Errorf("mode not encoded by name: %s", data)
	}

	var got ReplicationPolicy
	if err := json.Unmarshal([]byte(`{"id":"r","replication_mode":1}`), &got); err != nil {
		t.Fatalf("Unmarshal numeric: %v", err)
	}
	if got.Mode != ModeOpaque {
		t.Errorf("numeric mode = %v, want opaque", got.Mode)
	}
	if err := json.Unmarshal([]byte(`{"replication_mode":"sideways"}`), &got); err == nil {
		t.Error("expected error for unknown mode")
	}
	if err := json.Unmarshal([]byte(`{"replication_mode":7}`), &got); err == nil {
		t.Error("expected error for out-of-range mode")
	}
}

func TestReplicationPolicyValidateAndNormalize(t *testing.T) {
	p := ReplicationPolicy{ID: "r", SourceBackend: "local", DestinationBackend: "s3", CheckIntervalSeconds: 0}
	if err := p.Validate(); err == nil {
		t.Error("expected error for zero interval")
	}
	p.CheckIntervalSeconds = 30
	if err := p.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	p.Encryption = &EncryptionPolicy{Source: &EncryptionConfig{Enabled: true}}
	p.Normalize()
	if p.Encryption.Source.Provider != DefaultEncryptionProvider {
		t.Errorf("Provider = %q, want noop", p.Encryption.Source.Provider)
	}
}

func TestTriggerOptionsDefaultsWorkers(t *testing.T) {
	o := TriggerOptions{PolicyID: "r"}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if o.WorkerCount != 1 {
		t.Errorf("WorkerCount = %d, want 1", o.WorkerCount)
	}
	if err := (&TriggerOptions{}).Validate(); err == nil {
		t.Error("expected error for empty policy id")
	}
}

func TestValidateKey(t *testing.T) {
	for _, k := range []string{"", "   ", "\t\n"} {
		if err := ValidateKey(k); err == nil {
			t.Errorf("ValidateKey(%q) should fail", k)
		}
	}
	if err := ValidateKey("a/b/c.txt"); err != nil {
		t.Errorf("ValidateKey: %v", err)
	}
}

func TestListOptionsValidate(t *testing.T) {
	if err := (ListOptions{}).Validate(); err == nil {
		t.Error("zero MaxResults should fail")
	}
	if err := DefaultListOptions().Validate(); err != nil {
		t.Errorf("default options: %v", err)
	}
}

func TestParseHealthStatus(t *testing.T) {
	tests := map[string]HealthStatus{
		"SERVING":     HealthServing,
		"serving":     HealthServing,
		"ok":          HealthServing,
		"NOT_SERVING": HealthNotServing,
		"":            HealthUnknown,
		"degraded":    HealthUnknown,
	}
	for in, want := range tests {
		if got := ParseHealthStatus(in); got != want {
			t.Errorf("ParseHealthStatus(%q) = %v, want %v", in, got, want)
		}
	}
	data, _ := json.Marshal(HealthResult{Status: HealthNotServing})
	if !strings.Contains(string(data), `"NOT_SERVING"`) {
		t.Errorf("health status not encoded by name: %s", data)
	}
}

func TestFailureMessageNeverEmpty(t *testing.T) {
	if FailureMessage(nil, "") == "" {
		t.Error("nil error produced empty message")
	}
	if got := FailureMessage(objerr.New(objerr.Server, "disk full"), "x"); got != "disk full" {
		t.Errorf("FailureMessage = %q", got)
	}
	if got := FailureMessage(nil, "upload failed"); got != "upload failed" {
		t.Errorf("FailureMessage = %q", got)
	}
}
