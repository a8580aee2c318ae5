package api

import (
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestNewLabelSelectorEmptyMatchesAll(t *testing.T) {
	sel, err := NewLabelSelector(nil)
	if err != nil {
		t.Fatalf("NewLabelSelector(nil): %v", err)
	}
	if sel.Kind() != SelectAll {
		t.Fatalf("Kind() = %v, want SelectAll", sel.Kind())
	}
	if !sel.Matches("anything", map[string]string{"k": "v"}) {
		t.Error("expected SelectAll to match any labels")
	}

	sel2, err := NewLabelSelector(&metav1.LabelSelector{})
	if err != nil {
		t.Fatalf("NewLabelSelector(empty): %v", err)
	}
	if sel2.Kind() != SelectAll {
		t.Fatalf("Kind() = %v, want SelectAll for an empty selector", sel2.Kind())
	}
}

func TestNewLabelSelectorMatchLabels(t *testing.T) {
	sel, err := NewLabelSelector(&metav1.LabelSelector{
		MatchLabels: map[string]string{"app": "web"},
	})
	if err != nil {
		t.Fatalf("NewLabelSelector: %v", err)
	}
	if sel.Kind() != SelectByLabels {
		t.Fatalf("Kind() = %v, want SelectByLabels", sel.Kind())
	}
	if !sel.Matches("", map[string]string{"app": "web", "extra": "ignored"}) {
		t.Error("expected a matching label set to match")
	}
	if sel.Matches("", map[string]string{"app": "other"}) {
		t.Error("expected a non-matching label set to not match")
	}
}

func TestNameSelector(t *testing.T) {
	sel := NewNameSelector("web")
	if sel.Kind() != SelectByName {
		t.Fatalf("Kind() = %v, want SelectByName", sel.Kind())
	}
	if sel.Name() != "web" {
		t.Errorf("Name() = %q, want %q", sel.Name(), "web")
	}
	if !sel.Matches("web", nil) {
		t.Error("expected matching name to match")
	}
	if sel.Matches("other", nil) {
		t.Error("expected non-matching name to not match")
	}
}
