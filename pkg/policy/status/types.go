// Package status implements the status reconciler: an index, independent
// of the inbound/outbound indices, that tracks route parent/backend refs
// and known parent resources, computes per-parent acceptance conditions,
// and emits bounded JSON-merge-patch updates for a leader-elected writer
// to apply.
package status

import (
	"time"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
)

// RouteType distinguishes the four route kinds this reconciler tracks, in
// increasing order of Gateway API "specificity" (GEP-1426): a route of a
// more specific type conflicts with, and wins over, a less specific type
// attached to the same parent.
type RouteType int

const (
	RouteTCP RouteType = iota
	RouteTLS
	RouteHTTP
	RouteGRPC
)

// moreSpecificThan reports whether r is strictly more specific than o.
func (r RouteType) moreSpecificThan(o RouteType) bool {
	return r > o
}

// ParentKind is the kind of resource a route's parent ref names.
type ParentKind int

const (
	ParentUnknown ParentKind = iota
	ParentServer
	ParentService
	ParentUnmeshedNetwork
)

// ParentReference identifies one parent a route attaches to. Port is zero
// when the parent ref does not name a port (e.g. a Server parent).
type ParentReference struct {
	Kind      ParentKind
	Namespace string
	Name      string
	Port      api.Port
}

func (p ParentReference) namespacedName() api.NamespacedName {
	return api.NamespacedName{Namespace: p.Namespace, Name: p.Name}
}

// BackendKind is the kind of resource a route's backend ref names.
type BackendKind int

const (
	BackendUnknown BackendKind = iota
	BackendService
	BackendUnmeshedNetwork
)

// BackendReference identifies one backend a route's rules reference.
type BackendReference struct {
	Kind      BackendKind
	Namespace string
	Name      string
}

func (b BackendReference) namespacedName() api.NamespacedName {
	return api.NamespacedName{Namespace: b.Namespace, Name: b.Name}
}

// Condition is this package's status-condition shape: independent of any
// particular Gateway API version's generated type, built from the same
// fields as metav1.Condition.
type Condition struct {
	Type               string
	Status             string
	Reason             string
	Message            string
	LastTransitionTime time.Time
}

// RouteParentStatus is one parent's status entry for a route, in the shape
// every Gateway API route kind's status.parents array element carries.
type RouteParentStatus struct {
	ParentRef      ParentReference
	ControllerName string
	Conditions     []Condition
}

// routeRef is the per-route record the reconciler tracks.
type routeRef struct {
	routeType RouteType
	parents   []ParentReference
	backends  []BackendReference
	statuses  []RouteParentStatus
}

func routeRefEqual(a, b routeRef) bool {
	if a.routeType != b.routeType || len(a.parents) != len(b.parents) ||
		len(a.backends) != len(b.backends) || len(a.statuses) != len(b.statuses) {
		return false
	}
	for i := range a.parents {
		if a.parents[i] != b.parents[i] {
			return false
		}
	}
	for i := range a.backends {
		if a.backends[i] != b.backends[i] {
			return false
		}
	}
	return eqTimeInsensitive(a.statuses, b.statuses)
}

// serviceParentInfo is the subset of Service state this reconciler needs:
// whether it is a valid route parent (has a cluster IP).
type serviceParentInfo struct {
	HasClusterIP bool
}

// Patch is one enqueued status update: the route it targets and the
// JSON-merge-patch document to apply to that route's status subresource.
type Patch struct {
	Target    api.NamespacedGKN
	RouteKind string
	Document  []byte
}
