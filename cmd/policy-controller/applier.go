package main

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"

	"github.com/meshcontrol/policy-controller/pkg/policy/status"
)

// routeGVRs maps the RouteKind string this repo's status.Patch carries to
// the Gateway API resource it patches. GRPCRoute graduated to v1 alongside
// HTTPRoute; TCPRoute/TLSRoute remain v1alpha2 as of the pinned gateway-api
// version.
var routeGVRs = map[string]schema.GroupVersionResource{
	"HTTPRoute": {Group: "gateway.networking.k8s.io", Version: "v1", Resource: "httproutes"},
	"GRPCRoute": {Group: "gateway.networking.k8s.io", Version: "v1", Resource: "grpcroutes"},
	"TLSRoute":  {Group: "gateway.networking.k8s.io", Version: "v1alpha2", Resource: "tlsroutes"},
	"TCPRoute":  {Group: "gateway.networking.k8s.io", Version: "v1alpha2", Resource: "tcproutes"},
}

// dynamicPatchApplier implements status.PatchApplier against a live
// cluster using the dynamic client, so this package does not need a
// generated clientset per Gateway API route kind.
type dynamicPatchApplier struct {
	client dynamic.Interface
}

func newDynamicPatchApplier(client dynamic.Interface) *dynamicPatchApplier {
	return &dynamicPatchApplier{client: client}
}

func (a *dynamicPatchApplier) ApplyPatch(ctx context.Context, patch status.Patch) error {
	gvr, ok := routeGVRs[patch.RouteKind]
	if !ok {
		return fmt.Errorf("policy-controller: no known resource for route kind %q", patch.RouteKind)
	}

	_, err := a.client.
		Resource(gvr).
		Namespace(patch.Target.Namespace).
		Patch(ctx, patch.Target.GKN.Name, types.MergePatchType, patch.Document, metav1.PatchOptions{}, "status")
	return err
}
