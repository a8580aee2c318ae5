package api

import "time"

// DefaultPolicy is the cluster-wide default authorization policy applied to
// ports with no matching Server.
type DefaultPolicy string

const (
	AllAuthenticated       DefaultPolicy = "all-authenticated"
	AllUnauthenticated     DefaultPolicy = "all-unauthenticated"
	ClusterAuthenticated   DefaultPolicy = "cluster-authenticated"
	ClusterUnauthenticated DefaultPolicy = "cluster-unauthenticated"
	DefaultDeny            DefaultPolicy = "deny"
	DefaultAudit           DefaultPolicy = "audit"
)

// IsAllow reports whether the policy grants access to at least some clients
// (i.e. is not deny/audit).
func (p DefaultPolicy) IsAllow() bool {
	return p != DefaultDeny && p != DefaultAudit
}

// RequiresIdentity reports whether the policy, in its base form, requires an
// authenticated mesh identity.
func (p DefaultPolicy) RequiresIdentity() bool {
	return p == AllAuthenticated || p == ClusterAuthenticated
}

// WithIdentityRequired returns the authenticated-only variant of an "allow"
// policy, used when a pod's port is in its require-identity-ports set.
func (p DefaultPolicy) WithIdentityRequired() DefaultPolicy {
	switch p {
	case AllUnauthenticated:
		return AllAuthenticated
	case ClusterUnauthenticated:
		return ClusterAuthenticated
	default:
		return p
	}
}

// IsClusterScoped reports whether the policy restricts to cluster networks
// only (vs. all networks).
func (p DefaultPolicy) IsClusterScoped() bool {
	return p == ClusterAuthenticated || p == ClusterUnauthenticated
}

// Protocol is a Server's declared application protocol.
type Protocol string

const (
	ProtocolHTTP1  Protocol = "HTTP/1"
	ProtocolHTTP2  Protocol = "HTTP/2"
	ProtocolGRPC   Protocol = "gRPC"
	ProtocolOpaque Protocol = "opaque"
	ProtocolTLS    Protocol = "TLS"
	ProtocolDetect Protocol = "detect"
)

// AccessPolicy is a Server's declared default access behavior absent any
// explicit authorization.
type AccessPolicy string

const (
	AccessDeny  AccessPolicy = "deny"
	AccessAudit AccessPolicy = "audit"
)

// ClusterDefaults are read once at boot and apply to every namespace.
type ClusterDefaults struct {
	DefaultPolicy       DefaultPolicy
	DefaultDetectTimeout time.Duration
	ProbeNetworks       []NetworkMatch
	ClusterNetworks     []NetworkMatch
	IdentityDomain      string
	// AnnotationDomain is the DNS suffix used for the balancer.<domain>/…
	// and timeout.<domain>/… service annotations (§6).
	AnnotationDomain string
}
