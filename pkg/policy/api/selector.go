package api

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// SelectorKind distinguishes the three forms a Selector can take.
type SelectorKind int

const (
	// SelectAll matches every workload/server (the empty selector).
	SelectAll SelectorKind = iota
	// SelectByLabels matches via a label selector (possibly a plain
	// MatchLabels equality map).
	SelectByLabels
	// SelectByName matches a single named resource, used by
	// ServerAuthorization's "by name" server reference.
	SelectByName
)

// Selector matches either a label set or a resource by name. Construct with
// NewLabelSelector, NewNameSelector, or the zero value for "matches all".
type Selector struct {
	kind   SelectorKind
	labels labels.Selector
	name   string
}

// NewLabelSelector builds a Selector from a Kubernetes LabelSelector. A nil
// or empty selector matches everything.
func NewLabelSelector(sel *metav1.LabelSelector) (Selector, error) {
	if sel == nil || (len(sel.MatchLabels) == 0 && len(sel.MatchExpressions) == 0) {
		return Selector{kind: SelectAll}, nil
	}
	ls, err := metav1.LabelSelectorAsSelector(sel)
	if err != nil {
		return Selector{}, err
	}
	return Selector{kind: SelectByLabels, labels: ls}, nil
}

// NewNameSelector builds a Selector that matches only the resource named
// name.
func NewNameSelector(name string) Selector {
	return Selector{kind: SelectByName, name: name}
}

// Kind reports which form the selector takes.
func (s Selector) Kind() SelectorKind {
	return s.kind
}

// Name returns the target name for a SelectByName selector.
func (s Selector) Name() string {
	return s.name
}

// Matches reports whether set matches this selector. name is used only for
// the SelectByName form and is ignored otherwise.
func (s Selector) Matches(name string, set map[string]string) bool {
	switch s.kind {
	case SelectAll:
		return true
	case SelectByName:
		return s.name == name
	case SelectByLabels:
		return s.labels.Matches(labels.Set(set))
	default:
		return false
	}
}
