package api

// This file holds the mesh-specific policy resources: Server,
// ServerAuthorization, AuthorizationPolicy, MeshTLSAuthentication,
// NetworkAuthentication, ExternalWorkload, and EgressNetwork. Unlike Pod and
// Service (ordinary core/v1 kinds) and the HTTPRoute/GRPCRoute/TCPRoute/
// TLSRoute family (sigs.k8s.io/gateway-api types), these have no upstream Go
// type and are defined here as plain specs — the watcher is assumed to
// translate whatever CRD wire format it watches into these values; the CRD
// schema itself is out of this repo's scope.

// Server selects a subset of (workload, port) tuples and declares the
// protocol and default access policy for them.
type Server struct {
	NamespacedName
	// Selector matches either pods or external workloads, per
	// SelectsExternalWorkloads.
	Selector                Selector
	SelectsExternalWorkloads bool
	Port                    PortRef
	Protocol                Protocol
	Labels                  map[string]string
	// AccessPolicy is the behavior absent any matching authorization; the
	// spec default is AccessDeny.
	AccessPolicy AccessPolicy
}

// ClientAuthzSpec is the client-authorization half of a ServerAuthorization.
type ClientAuthzSpec struct {
	// Unauthenticated, if true, means the client need not present a mesh
	// identity. Mutually exclusive with MeshTLSIdentities in valid input.
	Unauthenticated   bool
	MeshTLSIdentities []IdentityMatch
	// Networks is the list of permitted client networks. Empty means "all
	// networks" (both IPv4 and IPv6).
	Networks []NetworkMatch
}

// ServerAuthorization declares which clients may reach the servers it
// selects (by server name or by label selector over Server.Labels).
type ServerAuthorization struct {
	NamespacedName
	ServerSelector Selector
	Client         ClientAuthzSpec
}

// AuthorizationTargetKind distinguishes what an AuthorizationPolicy attaches
// to.
type AuthorizationTargetKind int

const (
	TargetServer AuthorizationTargetKind = iota
	TargetNamespace
	TargetHTTPRoute
)

// AuthorizationTarget is the parent an AuthorizationPolicy attaches to.
type AuthorizationTarget struct {
	Kind AuthorizationTargetKind
	// Name is the Server or HTTPRoute name; unused for TargetNamespace.
	Name string
	// Group is the route's API group, only meaningful for TargetHTTPRoute
	// (distinguishes the mesh's own HTTPRoute group from Gateway API's).
	Group string
}

// AuthenticationRefKind distinguishes the three authentication reference
// forms an AuthorizationPolicy may list.
type AuthenticationRefKind int

const (
	AuthMeshTLS AuthenticationRefKind = iota
	AuthNetwork
	AuthServiceAccount
)

// AuthenticationRef is one entry in an AuthorizationPolicy's
// RequiredAuthenticationRefs list.
type AuthenticationRef struct {
	Kind AuthenticationRefKind
	Name string
	// Namespace is empty to mean "same namespace as the policy"; resolved
	// by the caller before lookup.
	Namespace string
}

// AuthorizationPolicy targets a Server, Namespace, or HTTPRoute and lists the
// authentications a client must satisfy.
type AuthorizationPolicy struct {
	NamespacedName
	Target             AuthorizationTarget
	AuthenticationRefs []AuthenticationRef
}

// MeshTLSAuthentication names a set of acceptable mesh-TLS client
// identities; cross-namespace referable by name.
type MeshTLSAuthentication struct {
	NamespacedName
	Identities []IdentityMatch
}

// NetworkAuthentication names a set of acceptable client networks;
// cross-namespace referable by name.
type NetworkAuthentication struct {
	NamespacedName
	Networks []NetworkMatch
}

// ExternalWorkload is a non-Pod meshed workload: a VM or bare-metal process
// with named ports (one numeric port per name, unlike Pod's name-to-set
// map) and no probes.
type ExternalWorkload struct {
	NamespacedName
	Labels      map[string]string
	Settings    PodSettings
	PortNames   map[string]Port
}

// PodSettings holds the annotation-derived settings common to Pod and
// ExternalWorkload: opaque ports, ports that require an authenticated
// identity even under an "allow" default policy, and an optional per-
// workload override of the cluster default policy.
type PodSettings struct {
	OpaquePorts          PortSet
	RequireIdentityPorts PortSet
	DefaultPolicyOverride *DefaultPolicy
}

// TrafficPolicy is an EgressNetwork's default disposition for traffic that
// does not match any more specific Server/authorization.
type TrafficPolicy string

const (
	TrafficAllow TrafficPolicy = "allow"
	TrafficDeny  TrafficPolicy = "deny"
)

// EgressNetwork describes a network outside the mesh that workloads may
// route to directly.
type EgressNetwork struct {
	NamespacedName
	Networks      []NetworkMatch
	TrafficPolicy TrafficPolicy
}
