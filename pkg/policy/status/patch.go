package status

import (
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// wireCondition and wireParentStatus are the JSON shapes marshaled into a
// merge-patch document; kept separate from Condition/RouteParentStatus so
// this package's core types stay plain Go values, not tied to any
// particular Gateway API status-type version.
type wireCondition struct {
	Type               string    `json:"type"`
	Status             string    `json:"status"`
	Reason             string    `json:"reason"`
	Message            string    `json:"message"`
	LastTransitionTime time.Time `json:"lastTransitionTime"`
}

type wireParentRef struct {
	Kind      string  `json:"kind"`
	Namespace string  `json:"namespace"`
	Name      string  `json:"name"`
	Port      *uint16 `json:"port,omitempty"`
}

type wireParentStatus struct {
	ParentRef      wireParentRef   `json:"parentRef"`
	ControllerName string          `json:"controllerName"`
	Conditions     []wireCondition `json:"conditions"`
}

type wireStatus struct {
	Parents []wireParentStatus `json:"parents"`
}

type wireDocument struct {
	Status wireStatus `json:"status"`
}

func (k ParentKind) String() string {
	switch k {
	case ParentServer:
		return "Server"
	case ParentService:
		return "Service"
	case ParentUnmeshedNetwork:
		return "UnmeshedNetwork"
	default:
		return "Unknown"
	}
}

func toWireParentStatus(s RouteParentStatus) wireParentStatus {
	var port *uint16
	if s.ParentRef.Port != 0 {
		p := uint16(s.ParentRef.Port)
		port = &p
	}
	conditions := make([]wireCondition, len(s.Conditions))
	for i, c := range s.Conditions {
		conditions[i] = wireCondition{
			Type:               c.Type,
			Status:             c.Status,
			Reason:             c.Reason,
			Message:            c.Message,
			LastTransitionTime: c.LastTransitionTime,
		}
	}
	return wireParentStatus{
		ParentRef: wireParentRef{
			Kind:      s.ParentRef.Kind.String(),
			Namespace: s.ParentRef.Namespace,
			Name:      s.ParentRef.Name,
			Port:      port,
		},
		ControllerName: s.ControllerName,
		Conditions:     conditions,
	}
}

func toWireDocument(statuses []RouteParentStatus) wireDocument {
	parents := make([]wireParentStatus, len(statuses))
	for i, s := range statuses {
		parents[i] = toWireParentStatus(s)
	}
	return wireDocument{Status: wireStatus{Parents: parents}}
}

// buildMergePatch produces the literal JSON merge-patch document (RFC
// 7396) taking the route's status from oldStatuses to newStatuses.
func buildMergePatch(oldStatuses, newStatuses []RouteParentStatus) ([]byte, error) {
	oldJSON, err := json.Marshal(toWireDocument(oldStatuses))
	if err != nil {
		return nil, fmt.Errorf("status: marshal prior statuses: %w", err)
	}
	newJSON, err := json.Marshal(toWireDocument(newStatuses))
	if err != nil {
		return nil, fmt.Errorf("status: marshal new statuses: %w", err)
	}
	patch, err := jsonpatch.CreateMergePatch(oldJSON, newJSON)
	if err != nil {
		return nil, fmt.Errorf("status: create merge patch: %w", err)
	}
	return patch, nil
}
