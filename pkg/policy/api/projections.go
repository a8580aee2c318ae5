package api

import (
	"time"

	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"
)

// ProtocolConfig is the protocol half of an InboundServer projection.
// DetectTimeout is only meaningful when Protocol is ProtocolDetect.
type ProtocolConfig struct {
	Protocol      Protocol
	DetectTimeout time.Duration
}

// ClientAuthenticationKind distinguishes the two ways a ClientAuthorization
// can authenticate a peer.
type ClientAuthenticationKind int

const (
	AuthnUnauthenticated ClientAuthenticationKind = iota
	AuthnTLS
)

// ClientAuthentication is the identity half of a ClientAuthorization.
type ClientAuthentication struct {
	Kind       ClientAuthenticationKind
	Identities []IdentityMatch
}

// ClientAuthorization is one entry in an InboundServer's authorizations map:
// a set of permitted client networks plus the identity they must present (or
// Unauthenticated).
type ClientAuthorization struct {
	Networks       []NetworkMatch
	Authentication ClientAuthentication
}

// RouteBackend is one resolved (or unresolved) backend of a route
// projection.
type RouteBackend struct {
	Ref     NamespacedName
	Port    Port
	Weight  int32
	Exists  bool
	Filters []gatewayv1.HTTPRouteFilter
}

// HTTPRouteProjection is the per-route-ref value stored in an
// InboundServer's or OutboundPolicy's HTTPRoutes map.
type HTTPRouteProjection struct {
	Matches  []gatewayv1.HTTPRouteMatch
	Filters  []gatewayv1.HTTPRouteFilter
	Backends []RouteBackend
}

// GRPCRouteProjection is the GRPC analogue of HTTPRouteProjection.
type GRPCRouteProjection struct {
	Matches  []gatewayv1.GRPCRouteMatch
	Filters  []gatewayv1.GRPCRouteFilter
	Backends []RouteBackend
}

// InboundServer is the projection published per (workload, port): either a
// named Server's configuration, or the synthesized default for a port with
// no matching Server.
type InboundServer struct {
	// Reference is either "server name" or "default:<policy>".
	Reference string
	Protocol  ProtocolConfig
	// AccessPolicy governs what the data plane does with a connection that
	// matches none of Authorizations: AccessDeny rejects it, AccessAudit
	// allows it through but should be logged.
	AccessPolicy   AccessPolicy
	Authorizations map[string]ClientAuthorization
	HTTPRoutes     map[string]HTTPRouteProjection
}

// DefaultReference formats the reference tag used for a synthesized default
// InboundServer.
func DefaultReference(policy DefaultPolicy) string {
	return "default:" + string(policy)
}

// FailureAccrualMode is the (currently sole) failure-accrual algorithm.
type FailureAccrualMode string

const FailureAccrualConsecutive FailureAccrualMode = "consecutive"

// FailureAccrual configures outlier ejection for an OutboundPolicy's
// backends.
type FailureAccrual struct {
	Mode        FailureAccrualMode
	MaxFailures uint32
	MinPenalty  time.Duration
	MaxPenalty  time.Duration
	Jitter      float64 // percentage, 0-100
}

// DefaultFailureAccrual returns the spec's consecutive-mode defaults.
func DefaultFailureAccrual() FailureAccrual {
	return FailureAccrual{
		Mode:        FailureAccrualConsecutive,
		MaxFailures: 7,
		MinPenalty:  1 * time.Second,
		MaxPenalty:  60 * time.Second,
		Jitter:      0.5,
	}
}

// RetryPolicy lists the retryable condition names configured for HTTP and
// gRPC outbound traffic.
type RetryPolicy struct {
	HTTPConditions []string
	GRPCConditions []string
}

// Timeouts holds the optional per-ServicePort timeout overrides.
type Timeouts struct {
	Response *time.Duration
	Request  *time.Duration
	Idle     *time.Duration
}

// Equal reports whether t and o carry the same timeout values.
func (t Timeouts) Equal(o Timeouts) bool {
	return durationPtrEqual(t.Response, o.Response) &&
		durationPtrEqual(t.Request, o.Request) &&
		durationPtrEqual(t.Idle, o.Idle)
}

func durationPtrEqual(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// OutboundPolicy is the projection published per (service, port, consumer
// namespace).
type OutboundPolicy struct {
	Authority  string
	Port       Port
	Opaque     bool
	Accrual    *FailureAccrual
	Retry      *RetryPolicy
	Timeouts   Timeouts
	HTTPRoutes map[string]HTTPRouteProjection
	GRPCRoutes map[string]GRPCRouteProjection
}
