package outbound

import (
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
	"github.com/meshcontrol/policy-controller/pkg/policy/durationutil"
)

func recv(t *testing.T, ch <-chan api.OutboundPolicy) api.OutboundPolicy {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published OutboundPolicy")
		return api.OutboundPolicy{}
	}
}

// TestScenarioS5ProducerConsumerSplit implements spec scenario S5: a route
// filed in the service's own namespace (producer) is visible to every
// consumer namespace, while a route filed in a consumer namespace is
// visible only there.
func TestScenarioS5ProducerConsumerSplit(t *testing.T) {
	idx := NewIndex(logr.Discard())

	consumerA := idx.OutboundPolicyRx("ns-svc", "web", 8080, "ns-a")
	consumerB := idx.OutboundPolicyRx("ns-svc", "web", 8080, "ns-b")
	_ = recv(t, consumerA.C())
	_ = recv(t, consumerB.C())

	idx.ApplyHTTPRoute("ns-svc", "web", 8080, "ns-svc", api.GroupKindName{Kind: "HTTPRoute", Name: "producer-route"}, api.HTTPRouteProjection{})

	gotA := recv(t, consumerA.C())
	if _, ok := gotA.HTTPRoutes["producer-route"]; !ok {
		t.Errorf("consumer A missing producer route, got %v", gotA.HTTPRoutes)
	}
	gotB := recv(t, consumerB.C())
	if _, ok := gotB.HTTPRoutes["producer-route"]; !ok {
		t.Errorf("consumer B missing producer route, got %v", gotB.HTTPRoutes)
	}

	idx.ApplyHTTPRoute("ns-svc", "web", 8080, "ns-a", api.GroupKindName{Kind: "HTTPRoute", Name: "consumer-a-route"}, api.HTTPRouteProjection{})

	gotA2 := recv(t, consumerA.C())
	if _, ok := gotA2.HTTPRoutes["consumer-a-route"]; !ok {
		t.Errorf("consumer A missing its own consumer-scoped route, got %v", gotA2.HTTPRoutes)
	}

	select {
	case v := <-consumerB.C():
		t.Fatalf("consumer B should not observe ns-a's consumer-scoped route, got %v", v.HTTPRoutes)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestScenarioS6FailureAccrualAnnotationFlowsToOutboundPolicy implements
// spec scenario S6 end to end: parsing a Service's failure-accrual
// annotations and observing the result on a subscribed OutboundPolicy.
func TestScenarioS6FailureAccrualAnnotationFlowsToOutboundPolicy(t *testing.T) {
	idx := NewIndex(logr.Discard())

	keys := durationutil.BalancerKeys("mesh.example.com")
	annotations := map[string]string{
		keys.Mode:       "consecutive",
		keys.MaxPenalty: "30s",
	}

	idx.ApplyService("ns-svc", "web", nil, annotations, "mesh.example.com")

	rx := idx.OutboundPolicyRx("ns-svc", "web", 8080, "ns-a")
	got := recv(t, rx.C())
	if got.Accrual == nil {
		t.Fatal("expected failure accrual to be set")
	}
	if got.Accrual.MaxPenalty != 30*time.Second {
		t.Errorf("MaxPenalty = %v, want 30s", got.Accrual.MaxPenalty)
	}
	if got.Accrual.MinPenalty != time.Second {
		t.Errorf("MinPenalty = %v, want the unchanged 1s default", got.Accrual.MinPenalty)
	}
	if got.Accrual.MaxFailures != 7 {
		t.Errorf("MaxFailures = %d, want the unchanged default of 7", got.Accrual.MaxFailures)
	}
}

// TestApplyServiceRepublishesExistingServicePorts covers the case where a
// Service's annotations change after consumers have already subscribed.
func TestApplyServiceRepublishesExistingServicePorts(t *testing.T) {
	idx := NewIndex(logr.Discard())

	rx := idx.OutboundPolicyRx("ns-svc", "web", 8080, "ns-a")
	initial := recv(t, rx.C())
	if initial.Opaque {
		t.Fatal("expected not opaque before any annotation is applied")
	}

	idx.ApplyService("ns-svc", "web", []string{"10.0.0.1"}, map[string]string{
		durationutil.OpaquePortsAnnotation: "8080",
	}, "mesh.example.com")

	got := recv(t, rx.C())
	if !got.Opaque {
		t.Error("expected port 8080 to be marked opaque after ApplyService")
	}

	ref, ok := idx.LookupServiceByIP("10.0.0.1")
	if !ok || ref.Namespace != "ns-svc" || ref.Name != "web" {
		t.Errorf("LookupServiceByIP(10.0.0.1) = %v, %v, want ns-svc/web", ref, ok)
	}

	idx.DeleteService("ns-svc", "web")
	if _, ok := idx.LookupServiceByIP("10.0.0.1"); ok {
		t.Error("expected services-by-IP entry to be evicted after DeleteService")
	}
}

// TestDeleteHTTPRouteRemovesFromEveryWatch covers route removal.
func TestDeleteHTTPRouteRemovesFromEveryWatch(t *testing.T) {
	idx := NewIndex(logr.Discard())
	rx := idx.OutboundPolicyRx("ns-svc", "web", 8080, "ns-a")
	_ = recv(t, rx.C())

	gkn := api.GroupKindName{Kind: "HTTPRoute", Name: "r"}
	idx.ApplyHTTPRoute("ns-svc", "web", 8080, "ns-svc", gkn, api.HTTPRouteProjection{})
	withRoute := recv(t, rx.C())
	if _, ok := withRoute.HTTPRoutes["r"]; !ok {
		t.Fatalf("expected route r to be present, got %v", withRoute.HTTPRoutes)
	}

	idx.DeleteHTTPRoute("ns-svc", "web", 8080, gkn)
	withoutRoute := recv(t, rx.C())
	if _, ok := withoutRoute.HTTPRoutes["r"]; ok {
		t.Fatalf("expected route r to be removed, got %v", withoutRoute.HTTPRoutes)
	}
}

// TestScenarioS5GRPCProducerConsumerSplit is TestScenarioS5ProducerConsumerSplit's
// GRPCRoute analogue: a producer-namespace route is visible to every
// consumer, a consumer-scoped route is not.
func TestScenarioS5GRPCProducerConsumerSplit(t *testing.T) {
	idx := NewIndex(logr.Discard())

	consumerA := idx.OutboundPolicyRx("ns-svc", "web", 8080, "ns-a")
	consumerB := idx.OutboundPolicyRx("ns-svc", "web", 8080, "ns-b")
	_ = recv(t, consumerA.C())
	_ = recv(t, consumerB.C())

	idx.ApplyGRPCRoute("ns-svc", "web", 8080, "ns-svc", api.GroupKindName{Kind: "GRPCRoute", Name: "producer-route"}, api.GRPCRouteProjection{})

	gotA := recv(t, consumerA.C())
	if _, ok := gotA.GRPCRoutes["producer-route"]; !ok {
		t.Errorf("consumer A missing producer grpc route, got %v", gotA.GRPCRoutes)
	}
	gotB := recv(t, consumerB.C())
	if _, ok := gotB.GRPCRoutes["producer-route"]; !ok {
		t.Errorf("consumer B missing producer grpc route, got %v", gotB.GRPCRoutes)
	}

	idx.ApplyGRPCRoute("ns-svc", "web", 8080, "ns-a", api.GroupKindName{Kind: "GRPCRoute", Name: "consumer-a-route"}, api.GRPCRouteProjection{})

	gotA2 := recv(t, consumerA.C())
	if _, ok := gotA2.GRPCRoutes["consumer-a-route"]; !ok {
		t.Errorf("consumer A missing its own consumer-scoped grpc route, got %v", gotA2.GRPCRoutes)
	}

	select {
	case v := <-consumerB.C():
		t.Fatalf("consumer B should not observe ns-a's consumer-scoped grpc route, got %v", v.GRPCRoutes)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestDeleteGRPCRouteRemovesFromEveryWatch is TestDeleteHTTPRouteRemovesFromEveryWatch's
// GRPCRoute analogue.
func TestDeleteGRPCRouteRemovesFromEveryWatch(t *testing.T) {
	idx := NewIndex(logr.Discard())
	rx := idx.OutboundPolicyRx("ns-svc", "web", 8080, "ns-a")
	_ = recv(t, rx.C())

	gkn := api.GroupKindName{Kind: "GRPCRoute", Name: "r"}
	idx.ApplyGRPCRoute("ns-svc", "web", 8080, "ns-svc", gkn, api.GRPCRouteProjection{})
	withRoute := recv(t, rx.C())
	if _, ok := withRoute.GRPCRoutes["r"]; !ok {
		t.Fatalf("expected grpc route r to be present, got %v", withRoute.GRPCRoutes)
	}

	idx.DeleteGRPCRoute("ns-svc", "web", 8080, gkn)
	withoutRoute := recv(t, rx.C())
	if _, ok := withoutRoute.GRPCRoutes["r"]; ok {
		t.Fatalf("expected grpc route r to be removed, got %v", withoutRoute.GRPCRoutes)
	}
}
