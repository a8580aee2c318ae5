package status

import (
	"testing"
	"time"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
)

func conditionsOf(t *testing.T, idx *Index, gkn api.NamespacedGKN, parentName string) []Condition {
	t.Helper()
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	route, ok := idx.routeRefs[gkn]
	if !ok {
		t.Fatalf("no route tracked for %v", gkn)
	}
	for _, s := range route.statuses {
		if s.ParentRef.Name == parentName {
			return s.Conditions
		}
	}
	t.Fatalf("no status for parent %q on route %v, got %v", parentName, gkn, route.statuses)
	return nil
}

func condition(conds []Condition, typ string) (Condition, bool) {
	for _, c := range conds {
		if c.Type == typ {
			return c, true
		}
	}
	return Condition{}, false
}

// TestScenarioS4RouteConflict implements spec scenario S4: a GRPCRoute and
// an HTTPRoute attached to the same Service parent conflict, with the more
// specific GRPCRoute winning.
func TestScenarioS4RouteConflict(t *testing.T) {
	idx := NewIndex("mesh.example.com/policy-controller", 16)
	idx.ApplyService("ns", "svc", true)

	gknG := api.NamespacedGKN{Namespace: "ns", GKN: api.GroupKindName{Kind: "GRPCRoute", Name: "g"}}
	gknH := api.NamespacedGKN{Namespace: "ns", GKN: api.GroupKindName{Kind: "HTTPRoute", Name: "h"}}
	parent := []ParentReference{{Kind: ParentService, Namespace: "ns", Name: "svc"}}

	idx.ApplyRoute(gknG, RouteGRPC, parent, nil, nil)
	idx.ApplyRoute(gknH, RouteHTTP, parent, nil, nil)

	gAccepted, ok := condition(conditionsOf(t, idx, gknG, "svc"), ConditionAccepted)
	if !ok || gAccepted.Status != statusTrue {
		t.Errorf("g Accepted = %+v, want status True", gAccepted)
	}

	hAccepted, ok := condition(conditionsOf(t, idx, gknH, "svc"), ConditionAccepted)
	if !ok || hAccepted.Status != statusFalse || hAccepted.Reason != ReasonRouteReasonConflicted {
		t.Errorf("h Accepted = %+v, want status False reason RouteReasonConflicted", hAccepted)
	}

	for _, gkn := range []api.NamespacedGKN{gknG, gknH} {
		resolved, ok := condition(conditionsOf(t, idx, gkn, "svc"), ConditionResolvedRefs)
		if !ok || resolved.Status != statusTrue {
			t.Errorf("%v ResolvedRefs = %+v, want status True (no backends referenced)", gkn, resolved)
		}
	}
}

// TestApplyRouteReconcilesConflictOnLaterArrival covers the case where the
// more specific route arrives second: the conflict must retroactively flip
// the already-applied HTTPRoute, not merely gate the new arrival.
func TestApplyRouteReconcilesConflictOnLaterArrival(t *testing.T) {
	idx := NewIndex("mesh.example.com/policy-controller", 16)
	idx.ApplyService("ns", "svc", true)

	gknH := api.NamespacedGKN{Namespace: "ns", GKN: api.GroupKindName{Kind: "HTTPRoute", Name: "h"}}
	gknG := api.NamespacedGKN{Namespace: "ns", GKN: api.GroupKindName{Kind: "GRPCRoute", Name: "g"}}
	parent := []ParentReference{{Kind: ParentService, Namespace: "ns", Name: "svc"}}

	idx.ApplyRoute(gknH, RouteHTTP, parent, nil, nil)
	if accepted, ok := condition(conditionsOf(t, idx, gknH, "svc"), ConditionAccepted); !ok || accepted.Status != statusTrue {
		t.Fatalf("h Accepted before conflict = %+v, want status True", accepted)
	}

	idx.ApplyRoute(gknG, RouteGRPC, parent, nil, nil)

	hAccepted, ok := condition(conditionsOf(t, idx, gknH, "svc"), ConditionAccepted)
	if !ok || hAccepted.Status != statusFalse || hAccepted.Reason != ReasonRouteReasonConflicted {
		t.Errorf("h Accepted after g arrives = %+v, want status False reason RouteReasonConflicted", hAccepted)
	}
}

// TestDeleteRouteRemovesFromIndex covers invariant 4: a route absent from
// the index produces no further status for this controller.
func TestDeleteRouteRemovesFromIndex(t *testing.T) {
	idx := NewIndex("mesh.example.com/policy-controller", 16)
	idx.ApplyService("ns", "svc", true)

	gkn := api.NamespacedGKN{Namespace: "ns", GKN: api.GroupKindName{Kind: "HTTPRoute", Name: "h"}}
	idx.ApplyRoute(gkn, RouteHTTP, []ParentReference{{Kind: ParentService, Namespace: "ns", Name: "svc"}}, nil, nil)

	idx.DeleteRoute(gkn)

	idx.mu.RLock()
	_, ok := idx.routeRefs[gkn]
	idx.mu.RUnlock()
	if ok {
		t.Fatal("expected route to be removed from the index")
	}
}

// TestApplyRouteNoPatchWhenUnchanged covers invariant 5: re-applying the
// same route with the same inputs produces no table change and no patch.
func TestApplyRouteNoPatchWhenUnchanged(t *testing.T) {
	idx := NewIndex("mesh.example.com/policy-controller", 16)
	idx.ApplyService("ns", "svc", true)

	gkn := api.NamespacedGKN{Namespace: "ns", GKN: api.GroupKindName{Kind: "HTTPRoute", Name: "h"}}
	parent := []ParentReference{{Kind: ParentService, Namespace: "ns", Name: "svc"}}

	if changed := idx.ApplyRoute(gkn, RouteHTTP, parent, nil, nil); !changed {
		t.Fatal("first ApplyRoute should report a change")
	}
	drainPatches(idx)

	idx.mu.RLock()
	statuses := append([]RouteParentStatus{}, idx.routeRefs[gkn].statuses...)
	idx.mu.RUnlock()

	if changed := idx.ApplyRoute(gkn, RouteHTTP, parent, nil, statuses); changed {
		t.Error("re-applying the same route with its own current statuses should report no change")
	}
	select {
	case p := <-idx.Patches():
		t.Errorf("expected no patch on an unchanged re-apply, got %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestParentUnknownKindEmitsNoStatus covers spec.md §4.7: a parent of
// unknown kind gets no status entry.
func TestParentUnknownKindEmitsNoStatus(t *testing.T) {
	idx := NewIndex("mesh.example.com/policy-controller", 16)

	gkn := api.NamespacedGKN{Namespace: "ns", GKN: api.GroupKindName{Kind: "HTTPRoute", Name: "h"}}
	idx.ApplyRoute(gkn, RouteHTTP, []ParentReference{{Kind: ParentUnknown, Namespace: "ns", Name: "mystery"}}, nil, nil)

	idx.mu.RLock()
	statuses := idx.routeRefs[gkn].statuses
	idx.mu.RUnlock()
	if len(statuses) != 0 {
		t.Errorf("expected no status entries for an unknown parent kind, got %v", statuses)
	}
}

// TestBackendNotFoundCondition covers the backend-resolution condition.
func TestBackendNotFoundCondition(t *testing.T) {
	idx := NewIndex("mesh.example.com/policy-controller", 16)
	idx.ApplyService("ns", "svc", true)

	gkn := api.NamespacedGKN{Namespace: "ns", GKN: api.GroupKindName{Kind: "HTTPRoute", Name: "h"}}
	idx.ApplyRoute(gkn, RouteHTTP,
		[]ParentReference{{Kind: ParentService, Namespace: "ns", Name: "svc"}},
		[]BackendReference{{Kind: BackendService, Namespace: "ns", Name: "missing"}},
		nil)

	resolved, ok := condition(conditionsOf(t, idx, gkn, "svc"), ConditionResolvedRefs)
	if !ok || resolved.Status != statusFalse || resolved.Reason != ReasonBackendNotFound {
		t.Errorf("ResolvedRefs = %+v, want status False reason BackendNotFound", resolved)
	}
}

// TestHeadlessServiceParent covers the headless-service special case, which
// reuses ReasonNoMatchingParent with a distinct message.
func TestHeadlessServiceParent(t *testing.T) {
	idx := NewIndex("mesh.example.com/policy-controller", 16)
	idx.ApplyService("ns", "svc", false)

	gkn := api.NamespacedGKN{Namespace: "ns", GKN: api.GroupKindName{Kind: "HTTPRoute", Name: "h"}}
	idx.ApplyRoute(gkn, RouteHTTP, []ParentReference{{Kind: ParentService, Namespace: "ns", Name: "svc"}}, nil, nil)

	accepted, ok := condition(conditionsOf(t, idx, gkn, "svc"), ConditionAccepted)
	if !ok || accepted.Status != statusFalse || accepted.Reason != ReasonNoMatchingParent {
		t.Fatalf("Accepted = %+v, want status False reason NoMatchingParent", accepted)
	}
	if accepted.Message != "parent service must have a ClusterIP" {
		t.Errorf("Message = %q, want the headless-service message", accepted.Message)
	}
}

// TestPatchChannelBackpressure covers the bounded patch channel's
// drop-and-count behavior when full.
func TestPatchChannelBackpressure(t *testing.T) {
	idx := NewIndex("mesh.example.com/policy-controller", 1)
	idx.ApplyService("ns", "svc", true)

	for i := 0; i < 3; i++ {
		gkn := api.NamespacedGKN{Namespace: "ns", GKN: api.GroupKindName{Kind: "HTTPRoute", Name: name(i)}}
		idx.ApplyRoute(gkn, RouteHTTP, []ParentReference{{Kind: ParentService, Namespace: "ns", Name: "svc"}}, nil, nil)
	}

	if idx.PatchEnqueues() == 0 {
		t.Error("expected at least one successful enqueue")
	}
	if idx.PatchChannelFulls() == 0 {
		t.Error("expected at least one dropped patch once the channel filled")
	}
}

func name(i int) string {
	return []string{"a", "b", "c"}[i]
}

func drainPatches(idx *Index) {
	for {
		select {
		case <-idx.Patches():
		default:
			return
		}
	}
}
