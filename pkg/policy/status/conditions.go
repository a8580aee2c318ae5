package status

import "time"

// Condition type and reason string constants, matching the literal names
// spec.md §4.7 requires interoperability with.
const (
	ConditionAccepted     = "Accepted"
	ConditionResolvedRefs = "ResolvedRefs"

	ReasonAccepted              = "Accepted"
	ReasonResolvedRefs          = "ResolvedRefs"
	ReasonNoMatchingParent      = "NoMatchingParent"
	ReasonRouteReasonConflicted = "RouteReasonConflicted"
	ReasonInvalidKind           = "InvalidKind"
	ReasonBackendNotFound       = "BackendNotFound"

	statusTrue  = "True"
	statusFalse = "False"
)

func acceptedCondition(now func() time.Time) Condition {
	return Condition{Type: ConditionAccepted, Status: statusTrue, Reason: ReasonAccepted, LastTransitionTime: now()}
}

func noMatchingParentCondition(now func() time.Time) Condition {
	return Condition{Type: ConditionAccepted, Status: statusFalse, Reason: ReasonNoMatchingParent, LastTransitionTime: now()}
}

func headlessParentCondition(now func() time.Time) Condition {
	return Condition{
		Type:               ConditionAccepted,
		Status:             statusFalse,
		Reason:             ReasonNoMatchingParent,
		Message:            "parent service must have a ClusterIP",
		LastTransitionTime: now(),
	}
}

func routeConflictedCondition(now func() time.Time) Condition {
	return Condition{Type: ConditionAccepted, Status: statusFalse, Reason: ReasonRouteReasonConflicted, LastTransitionTime: now()}
}

func resolvedRefsCondition(now func() time.Time) Condition {
	return Condition{Type: ConditionResolvedRefs, Status: statusTrue, Reason: ReasonResolvedRefs, LastTransitionTime: now()}
}

func backendNotFoundCondition(now func() time.Time) Condition {
	return Condition{Type: ConditionResolvedRefs, Status: statusFalse, Reason: ReasonBackendNotFound, LastTransitionTime: now()}
}

func invalidBackendKindCondition(now func() time.Time) Condition {
	return Condition{Type: ConditionResolvedRefs, Status: statusFalse, Reason: ReasonInvalidKind, LastTransitionTime: now()}
}

// eqTimeInsensitive implements invariant 5: statuses compare equal
// ignoring LastTransitionTime.
func eqTimeInsensitive(a, b []RouteParentStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ParentRef != b[i].ParentRef || a[i].ControllerName != b[i].ControllerName {
			return false
		}
		if len(a[i].Conditions) != len(b[i].Conditions) {
			return false
		}
		for j := range a[i].Conditions {
			ac, bc := a[i].Conditions[j], b[i].Conditions[j]
			if ac.Type != bc.Type || ac.Status != bc.Status || ac.Reason != bc.Reason || ac.Message != bc.Message {
				return false
			}
		}
	}
	return true
}
