package durationutil

import (
	"fmt"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
)

// Pod-level annotation keys. Unlike the balancer/timeout/retry families,
// these are consumed verbatim regardless of ClusterDefaults.AnnotationDomain
// (spec.md §6), matching linkerd's own config.linkerd.io annotations.
const (
	OpaquePortsAnnotation          = "config.linkerd.io/opaque-ports"
	RequireIdentityPortsAnnotation = "config.linkerd.io/proxy-require-identity-inbound-ports"
	DefaultInboundPolicyAnnotation = "config.linkerd.io/default-inbound-policy"
)

// ParsePodSettings parses the three pod/external-workload annotations named
// in spec.md §6 ("opaque-ports; require-identity ports; default-policy
// override"). Each family is independent: an invalid value for one is
// reported in errs but does not block the others, and that family is left
// at its zero value (spec.md §7's "illegal spec" — ignored, not fatal).
func ParsePodSettings(annotations map[string]string) (api.PodSettings, []error) {
	var out api.PodSettings
	var errs []error

	if raw, ok := annotations[OpaquePortsAnnotation]; ok {
		set, err := ParsePorts(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", OpaquePortsAnnotation, err))
		} else {
			out.OpaquePorts = set
		}
	}

	if raw, ok := annotations[RequireIdentityPortsAnnotation]; ok {
		set, err := ParsePorts(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", RequireIdentityPortsAnnotation, err))
		} else {
			out.RequireIdentityPorts = set
		}
	}

	if raw, ok := annotations[DefaultInboundPolicyAnnotation]; ok {
		policy := api.DefaultPolicy(raw)
		if !validDefaultPolicy(policy) {
			errs = append(errs, fmt.Errorf("%s: unknown default policy %q", DefaultInboundPolicyAnnotation, raw))
		} else {
			out.DefaultPolicyOverride = &policy
		}
	}

	return out, errs
}

func validDefaultPolicy(p api.DefaultPolicy) bool {
	switch p {
	case api.AllAuthenticated, api.AllUnauthenticated, api.ClusterAuthenticated, api.ClusterUnauthenticated, api.DefaultDeny, api.DefaultAudit:
		return true
	default:
		return false
	}
}
