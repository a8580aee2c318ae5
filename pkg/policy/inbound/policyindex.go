package inbound

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
	"github.com/meshcontrol/policy-controller/pkg/policy/authn"
)

// routeParent identifies one parent a route binds to by kind and name.
// ApplyHTTPRoute records only Server-kind parents, and the inbound index
// only consults those.
type routeParent struct {
	Kind string // "Server"
	Name string
}

type httpRouteEntry struct {
	parents    []routeParent
	projection api.HTTPRouteProjection
}

type grpcRouteEntry struct {
	parents    []routeParent
	projection api.GRPCRouteProjection
}

// PolicyIndex holds the policy resources of a single namespace: Servers,
// ServerAuthorizations, AuthorizationPolicies, and the HTTP/GRPC routes that
// may bind to them.
type PolicyIndex struct {
	namespace string
	cluster   api.ClusterDefaults

	servers               map[string]api.Server
	serverAuthorizations  map[string]api.ServerAuthorization
	authorizationPolicies map[string]api.AuthorizationPolicy
	httpRoutes            map[api.GroupKindName]httpRouteEntry
	grpcRoutes            map[api.GroupKindName]grpcRouteEntry

	// serverSeq records the order Servers were first applied in, so that
	// reindexServers can resolve a (workload, port) ownership conflict the
	// same way on every call: the first-applied Server wins, regardless of
	// map iteration order (spec.md's Server row, invariant 1).
	serverSeq     map[string]int64
	nextServerSeq int64
}

func newPolicyIndex(namespace string, cluster api.ClusterDefaults) *PolicyIndex {
	return &PolicyIndex{
		namespace:             namespace,
		cluster:               cluster,
		servers:               make(map[string]api.Server),
		serverAuthorizations:  make(map[string]api.ServerAuthorization),
		authorizationPolicies: make(map[string]api.AuthorizationPolicy),
		httpRoutes:            make(map[api.GroupKindName]httpRouteEntry),
		grpcRoutes:            make(map[api.GroupKindName]grpcRouteEntry),
		serverSeq:             make(map[string]int64),
	}
}

func (p *PolicyIndex) isEmpty() bool {
	return len(p.servers) == 0 && len(p.serverAuthorizations) == 0 &&
		len(p.authorizationPolicies) == 0 && len(p.httpRoutes) == 0 && len(p.grpcRoutes) == 0
}

// updateServer upserts a Server, returning false (no-op) if value is
// structurally equal to what is already stored. A first-time insert is
// stamped with the next arrival sequence number, which orderedServerNames
// uses to make conflict resolution deterministic.
func (p *PolicyIndex) updateServer(name string, value api.Server) bool {
	if existing, ok := p.servers[name]; ok && reflect.DeepEqual(existing, value) {
		return false
	}
	if _, ok := p.serverSeq[name]; !ok {
		p.serverSeq[name] = p.nextServerSeq
		p.nextServerSeq++
	}
	p.servers[name] = value
	return true
}

func (p *PolicyIndex) deleteServer(name string) {
	delete(p.servers, name)
	delete(p.serverSeq, name)
}

// orderedServerNames returns every Server name in the order it was first
// applied, oldest first. Re-applying a Server with an unchanged or changed
// value does not move its position.
func (p *PolicyIndex) orderedServerNames() []string {
	names := make([]string, 0, len(p.servers))
	for name := range p.servers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return p.serverSeq[names[i]] < p.serverSeq[names[j]]
	})
	return names
}

func (p *PolicyIndex) updateServerAuthorization(name string, value api.ServerAuthorization) bool {
	if existing, ok := p.serverAuthorizations[name]; ok && reflect.DeepEqual(existing, value) {
		return false
	}
	p.serverAuthorizations[name] = value
	return true
}

func (p *PolicyIndex) deleteServerAuthorization(name string) {
	delete(p.serverAuthorizations, name)
}

func (p *PolicyIndex) updateAuthorizationPolicy(name string, value api.AuthorizationPolicy) bool {
	if existing, ok := p.authorizationPolicies[name]; ok && reflect.DeepEqual(existing, value) {
		return false
	}
	p.authorizationPolicies[name] = value
	return true
}

func (p *PolicyIndex) deleteAuthorizationPolicy(name string) {
	delete(p.authorizationPolicies, name)
}

func (p *PolicyIndex) updateHTTPRoute(gkn api.GroupKindName, parents []routeParent, projection api.HTTPRouteProjection) bool {
	entry := httpRouteEntry{parents: parents, projection: projection}
	if existing, ok := p.httpRoutes[gkn]; ok && reflect.DeepEqual(existing, entry) {
		return false
	}
	p.httpRoutes[gkn] = entry
	return true
}

func (p *PolicyIndex) deleteHTTPRoute(gkn api.GroupKindName) {
	delete(p.httpRoutes, gkn)
}

func (p *PolicyIndex) updateGRPCRoute(gkn api.GroupKindName, parents []routeParent, projection api.GRPCRouteProjection) bool {
	entry := grpcRouteEntry{parents: parents, projection: projection}
	if existing, ok := p.grpcRoutes[gkn]; ok && reflect.DeepEqual(existing, entry) {
		return false
	}
	p.grpcRoutes[gkn] = entry
	return true
}

func (p *PolicyIndex) deleteGRPCRoute(gkn api.GroupKindName) {
	delete(p.grpcRoutes, gkn)
}

// catchAllHTTPRoute is the default, parent-less route: it matches every
// request.
func catchAllHTTPRoute() api.HTTPRouteProjection {
	return api.HTTPRouteProjection{}
}

// defaultHTTPRoutes builds the default route set for a port: the catch-all,
// plus (when probe networks are configured and the port has probe paths) a
// probe route.
func defaultHTTPRoutes(probePaths []string, hasProbeNetworks bool) map[string]api.HTTPRouteProjection {
	routes := map[string]api.HTTPRouteProjection{
		"default": catchAllHTTPRoute(),
	}
	if hasProbeNetworks && len(probePaths) > 0 {
		routes["probe"] = probeHTTPRoute(probePaths)
	}
	return routes
}

func probeHTTPRoute(paths []string) api.HTTPRouteProjection {
	// The projection carries no matches: paths is not used, and no GET
	// method or exact-path match is set, so its match fields are the same
	// as the catch-all route's.
	return api.HTTPRouteProjection{}
}

// probeAuthorizationKey is the authorizations-map key for the synthesized
// probe-route authorization.
const probeAuthorizationKey = "default:probe"

// DefaultInboundServer synthesizes the InboundServer projection for a port
// that no Server resource selects.
func DefaultInboundServer(port api.Port, settings api.PodSettings, probePaths []string, cluster api.ClusterDefaults) api.InboundServer {
	protocol := api.ProtocolConfig{Protocol: api.ProtocolDetect, DetectTimeout: cluster.DefaultDetectTimeout}
	if settings.OpaquePorts.Contains(port) {
		protocol = api.ProtocolConfig{Protocol: api.ProtocolOpaque}
	}

	policy := cluster.DefaultPolicy
	if settings.DefaultPolicyOverride != nil {
		policy = *settings.DefaultPolicyOverride
	}
	if settings.RequireIdentityPorts.Contains(port) && policy.IsAllow() {
		policy = policy.WithIdentityRequired()
	}

	authorizations := make(map[string]api.ClientAuthorization)
	if policy.IsAllow() {
		networks := api.AllNetworks()
		if policy.IsClusterScoped() {
			networks = cluster.ClusterNetworks
		}
		auth := api.ClientAuthentication{Kind: api.AuthnUnauthenticated}
		if policy.RequiresIdentity() {
			auth = api.ClientAuthentication{Kind: api.AuthnTLS, Identities: []api.IdentityMatch{{Kind: api.IdentityAny}}}
		}
		authorizations[api.DefaultReference(policy)] = api.ClientAuthorization{Networks: networks, Authentication: auth}
	}

	routes := defaultHTTPRoutes(probePaths, len(cluster.ProbeNetworks) > 0)
	if _, ok := routes["probe"]; ok {
		authorizations[probeAuthorizationKey] = api.ClientAuthorization{
			Networks:       cluster.ProbeNetworks,
			Authentication: api.ClientAuthentication{Kind: api.AuthnUnauthenticated},
		}
	}

	accessPolicy := api.AccessDeny
	if policy == api.DefaultAudit {
		accessPolicy = api.AccessAudit
	}

	return api.InboundServer{
		Reference:      api.DefaultReference(policy),
		Protocol:       protocol,
		AccessPolicy:   accessPolicy,
		Authorizations: authorizations,
		HTTPRoutes:     routes,
	}
}

// clientAuthorizationFromPolicy resolves an AuthorizationPolicy's
// authentication refs into a single ClientAuthorization, per §4.3: at most
// one identity source (MeshTLS or ServiceAccount) and at most one network
// source, else an error.
func clientAuthorizationFromPolicy(policy api.AuthorizationPolicy, authns *authn.Index, cluster api.ClusterDefaults) (api.ClientAuthorization, error) {
	var identities []api.IdentityMatch
	var networks []api.NetworkMatch
	haveIdentity := false
	haveNetwork := false

	for _, ref := range policy.AuthenticationRefs {
		ns := ref.Namespace
		if ns == "" {
			ns = policy.Namespace
		}
		switch ref.Kind {
		case api.AuthMeshTLS:
			if haveIdentity {
				return api.ClientAuthorization{}, fmt.Errorf("inbound: authorization policy %s must not include multiple identity sources", policy.Name)
			}
			ids, ok := authns.LookupMeshTLS(ns, ref.Name)
			if !ok {
				return api.ClientAuthorization{}, fmt.Errorf("inbound: authorization policy %s references missing MeshTLSAuthentication %s/%s", policy.Name, ns, ref.Name)
			}
			identities = ids
			haveIdentity = true
		case api.AuthServiceAccount:
			if haveIdentity {
				return api.ClientAuthorization{}, fmt.Errorf("inbound: authorization policy %s must not include multiple identity sources", policy.Name)
			}
			identities = []api.IdentityMatch{{
				Kind:  api.IdentityExact,
				Value: api.ServiceAccountIdentity(ref.Name, ns, cluster.IdentityDomain),
			}}
			haveIdentity = true
		case api.AuthNetwork:
			if haveNetwork {
				return api.ClientAuthorization{}, fmt.Errorf("inbound: authorization policy %s must not include multiple network sources", policy.Name)
			}
			nets, ok := authns.LookupNetwork(ns, ref.Name)
			if !ok {
				return api.ClientAuthorization{}, fmt.Errorf("inbound: authorization policy %s references missing NetworkAuthentication %s/%s", policy.Name, ns, ref.Name)
			}
			networks = nets
			haveNetwork = true
		default:
			return api.ClientAuthorization{}, fmt.Errorf("inbound: authorization policy %s has an unknown authentication ref kind", policy.Name)
		}
	}

	auth := api.ClientAuthentication{Kind: api.AuthnUnauthenticated}
	if haveIdentity {
		auth = api.ClientAuthentication{Kind: api.AuthnTLS, Identities: identities}
	}
	if !haveNetwork {
		networks = api.AllNetworks()
	}
	return api.ClientAuthorization{Networks: networks, Authentication: auth}, nil
}

func serverAuthorizationSelects(sa api.ServerAuthorization, serverName string, serverLabels map[string]string) bool {
	return sa.ServerSelector.Matches(serverName, serverLabels)
}

func authorizationPolicyTargets(ap api.AuthorizationPolicy, serverName string) bool {
	switch ap.Target.Kind {
	case api.TargetServer:
		return ap.Target.Name == serverName
	case api.TargetNamespace:
		return true
	default:
		return false
	}
}

// inboundServer assembles the InboundServer projection for a named Server,
// per §4.3's inbound_server.
func (p *PolicyIndex) inboundServer(name string, server api.Server, authns *authn.Index, probePaths []string) api.InboundServer {
	protocol := api.ProtocolConfig{Protocol: server.Protocol}
	if server.Protocol == api.ProtocolDetect {
		protocol.DetectTimeout = p.cluster.DefaultDetectTimeout
	}

	authorizations := make(map[string]api.ClientAuthorization)
	for saName, sa := range p.serverAuthorizations {
		if !serverAuthorizationSelects(sa, name, server.Labels) {
			continue
		}
		networks := sa.Client.Networks
		if len(networks) == 0 {
			networks = api.AllNetworks()
		}
		auth := api.ClientAuthentication{Kind: api.AuthnUnauthenticated}
		if !sa.Client.Unauthenticated {
			auth = api.ClientAuthentication{Kind: api.AuthnTLS, Identities: sa.Client.MeshTLSIdentities}
		}
		authorizations["ServerAuthorization:"+saName] = api.ClientAuthorization{Networks: networks, Authentication: auth}
	}
	for apName, ap := range p.authorizationPolicies {
		if !authorizationPolicyTargets(ap, name) {
			continue
		}
		auth, err := clientAuthorizationFromPolicy(ap, authns, p.cluster)
		if err != nil {
			// Missing reference: this authorization is skipped; the rest of
			// the server's authorizations are still computed (§7).
			continue
		}
		authorizations["AuthorizationPolicy:"+apName] = auth
	}

	routes := make(map[string]api.HTTPRouteProjection)
	for gkn, entry := range p.httpRoutes {
		if routeBindsTo(entry.parents, "Server", name) {
			routes[gkn.Name] = entry.projection
		}
	}
	if len(routes) == 0 {
		routes = defaultHTTPRoutes(probePaths, len(p.cluster.ProbeNetworks) > 0)
	}

	accessPolicy := server.AccessPolicy
	if accessPolicy == "" {
		accessPolicy = api.AccessDeny
	}

	return api.InboundServer{
		Reference:      name,
		Protocol:       protocol,
		AccessPolicy:   accessPolicy,
		Authorizations: authorizations,
		HTTPRoutes:     routes,
	}
}

func routeBindsTo(parents []routeParent, kind, name string) bool {
	for _, parent := range parents {
		if parent.Kind == kind && parent.Name == name {
			return true
		}
	}
	return false
}
