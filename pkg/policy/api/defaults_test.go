package api

import "testing"

func TestDefaultPolicyIsAllow(t *testing.T) {
	cases := []struct {
		policy DefaultPolicy
		want   bool
	}{
		{AllAuthenticated, true},
		{AllUnauthenticated, true},
		{ClusterAuthenticated, true},
		{ClusterUnauthenticated, true},
		{DefaultDeny, false},
		{DefaultAudit, false},
	}
	for _, c := range cases {
		if got := c.policy.IsAllow(); got != c.want {
			t.Errorf("%s.IsAllow() = %v, want %v", c.policy, got, c.want)
		}
	}
}

func TestDefaultPolicyRequiresIdentity(t *testing.T) {
	cases := []struct {
		policy DefaultPolicy
		want   bool
	}{
		{AllAuthenticated, true},
		{ClusterAuthenticated, true},
		{AllUnauthenticated, false},
		{ClusterUnauthenticated, false},
		{DefaultDeny, false},
	}
	for _, c := range cases {
		if got := c.policy.RequiresIdentity(); got != c.want {
			t.Errorf("%s.RequiresIdentity() = %v, want %v", c.policy, got, c.want)
		}
	}
}

func TestDefaultPolicyWithIdentityRequired(t *testing.T) {
	cases := []struct {
		policy DefaultPolicy
		want   DefaultPolicy
	}{
		{AllUnauthenticated, AllAuthenticated},
		{ClusterUnauthenticated, ClusterAuthenticated},
		{AllAuthenticated, AllAuthenticated},
		{DefaultDeny, DefaultDeny},
	}
	for _, c := range cases {
		if got := c.policy.WithIdentityRequired(); got != c.want {
			t.Errorf("%s.WithIdentityRequired() = %s, want %s", c.policy, got, c.want)
		}
	}
}

func TestDefaultPolicyIsClusterScoped(t *testing.T) {
	if !ClusterAuthenticated.IsClusterScoped() {
		t.Error("expected ClusterAuthenticated to be cluster-scoped")
	}
	if !ClusterUnauthenticated.IsClusterScoped() {
		t.Error("expected ClusterUnauthenticated to be cluster-scoped")
	}
	if AllAuthenticated.IsClusterScoped() {
		t.Error("expected AllAuthenticated to not be cluster-scoped")
	}
}
