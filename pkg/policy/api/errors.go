package api

import "errors"

// ErrNotFound is returned by index lookups (e.g. PodServerRx,
// ExternalWorkloadServerRx) when the requested workload is not present in
// the index.
var ErrNotFound = errors.New("policy: not found")

// ErrIllegalUpdate is returned when an index is asked to apply a mutation
// that would violate one of its invariants (e.g. changing an
// ExternalWorkload's port-name map on update).
var ErrIllegalUpdate = errors.New("policy: illegal update")

// ErrIllegalSpec is returned when a resource's spec cannot be translated
// into a valid projection (e.g. an AuthorizationPolicy referencing an
// authentication kind it is not permitted to reference for its target).
var ErrIllegalSpec = errors.New("policy: illegal spec")
