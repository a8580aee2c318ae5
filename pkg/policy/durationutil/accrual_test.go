package durationutil

import (
	"testing"
	"time"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
)

func TestParseFailureAccrualAbsent(t *testing.T) {
	keys := BalancerKeys("mesh.io")
	accrual, err := ParseFailureAccrual(map[string]string{}, keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accrual != nil {
		t.Fatalf("expected nil accrual when mode annotation absent, got %+v", accrual)
	}
}

func TestParseFailureAccrualDefaults(t *testing.T) {
	keys := BalancerKeys("mesh.io")
	accrual, err := ParseFailureAccrual(map[string]string{
		keys.Mode: "consecutive",
	}, keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := api.DefaultFailureAccrual()
	if *accrual != want {
		t.Fatalf("got %+v, want %+v", *accrual, want)
	}
}

// TestParseFailureAccrualPartialOverride matches scenario S6: overriding
// max-penalty alone still satisfies min <= max using the 1s default.
func TestParseFailureAccrualPartialOverride(t *testing.T) {
	keys := BalancerKeys("mesh.io")
	accrual, err := ParseFailureAccrual(map[string]string{
		keys.Mode:       "consecutive",
		keys.MaxPenalty: "10s",
	}, keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accrual.MinPenalty != time.Second {
		t.Errorf("min penalty = %v, want 1s default", accrual.MinPenalty)
	}
	if accrual.MaxPenalty != 10*time.Second {
		t.Errorf("max penalty = %v, want 10s", accrual.MaxPenalty)
	}
}

func TestParseFailureAccrualMinExceedsMax(t *testing.T) {
	keys := BalancerKeys("mesh.io")
	_, err := ParseFailureAccrual(map[string]string{
		keys.Mode:       "consecutive",
		keys.MaxPenalty: "10s",
		keys.MinPenalty: "20s",
	}, keys)
	if err == nil {
		t.Fatal("expected error when min-penalty exceeds max-penalty")
	}
}

func TestParseFailureAccrualUnknownMode(t *testing.T) {
	keys := BalancerKeys("mesh.io")
	_, err := ParseFailureAccrual(map[string]string{
		keys.Mode: "exponential",
	}, keys)
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestParseTimeouts(t *testing.T) {
	keys := TimeoutKeys("mesh.io")
	timeouts, err := ParseTimeouts(map[string]string{
		keys.Response: "10s",
		keys.Idle:     "30s",
	}, keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if timeouts.Response == nil || *timeouts.Response != 10*time.Second {
		t.Errorf("response timeout = %v, want 10s", timeouts.Response)
	}
	if timeouts.Request != nil {
		t.Errorf("request timeout = %v, want nil", timeouts.Request)
	}
	if timeouts.Idle == nil || *timeouts.Idle != 30*time.Second {
		t.Errorf("idle timeout = %v, want 30s", timeouts.Idle)
	}
}
