package durationutil

import (
	"testing"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
)

func TestParsePodSettingsAllFields(t *testing.T) {
	settings, errs := ParsePodSettings(map[string]string{
		OpaquePortsAnnotation:          "4567",
		RequireIdentityPortsAnnotation: "8080",
		DefaultInboundPolicyAnnotation: "all-authenticated",
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !settings.OpaquePorts.Contains(4567) {
		t.Errorf("OpaquePorts = %v, want {4567}", settings.OpaquePorts)
	}
	if !settings.RequireIdentityPorts.Contains(8080) {
		t.Errorf("RequireIdentityPorts = %v, want {8080}", settings.RequireIdentityPorts)
	}
	if settings.DefaultPolicyOverride == nil || *settings.DefaultPolicyOverride != api.AllAuthenticated {
		t.Errorf("DefaultPolicyOverride = %v, want AllAuthenticated", settings.DefaultPolicyOverride)
	}
}

func TestParsePodSettingsAbsent(t *testing.T) {
	settings, errs := ParsePodSettings(nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(settings.OpaquePorts) != 0 || len(settings.RequireIdentityPorts) != 0 || settings.DefaultPolicyOverride != nil {
		t.Errorf("expected zero-value settings, got %+v", settings)
	}
}

func TestParsePodSettingsInvalidFieldsDoNotBlockOthers(t *testing.T) {
	settings, errs := ParsePodSettings(map[string]string{
		OpaquePortsAnnotation:          "not-a-port",
		RequireIdentityPortsAnnotation: "8080",
		DefaultInboundPolicyAnnotation: "bogus-policy",
	})
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors (opaque-ports, default-policy), got %v", errs)
	}
	if len(settings.OpaquePorts) != 0 {
		t.Errorf("expected OpaquePorts to stay empty on parse error, got %v", settings.OpaquePorts)
	}
	if !settings.RequireIdentityPorts.Contains(8080) {
		t.Errorf("RequireIdentityPorts should still parse despite the other two errors")
	}
	if settings.DefaultPolicyOverride != nil {
		t.Errorf("expected DefaultPolicyOverride to stay nil on unknown policy, got %v", *settings.DefaultPolicyOverride)
	}
}
