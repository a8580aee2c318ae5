package api

import "testing"

func TestNamespacedNameString(t *testing.T) {
	n := NamespacedName{Namespace: "ns", Name: "foo"}
	if got, want := n.String(), "ns/foo"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestNamespacedNameIsZero(t *testing.T) {
	if !(NamespacedName{}).IsZero() {
		t.Error("zero value should report IsZero")
	}
	if (NamespacedName{Namespace: "ns"}).IsZero() {
		t.Error("non-empty namespace should not report IsZero")
	}
}

func TestGroupKindNameString(t *testing.T) {
	g := GroupKindName{Group: "gateway.networking.k8s.io", Kind: "HTTPRoute", Name: "r"}
	want := "gateway.networking.k8s.io/HTTPRoute/r"
	if got := g.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestValidPort(t *testing.T) {
	cases := []struct {
		port int
		want bool
	}{
		{0, false},
		{1, true},
		{8080, true},
		{65535, true},
		{65536, false},
		{-1, false},
	}
	for _, c := range cases {
		if got := ValidPort(c.port); got != c.want {
			t.Errorf("ValidPort(%d) = %v, want %v", c.port, got, c.want)
		}
	}
}

func TestPortRefString(t *testing.T) {
	named := PortRef{Name: "http"}
	if !named.IsNamed() {
		t.Error("expected named PortRef to report IsNamed")
	}
	if got := named.String(); got != "http" {
		t.Errorf("String() = %q, want %q", got, "http")
	}

	numbered := PortRef{Number: 8080}
	if numbered.IsNamed() {
		t.Error("expected numbered PortRef to not report IsNamed")
	}
	if got := numbered.String(); got != "8080" {
		t.Errorf("String() = %q, want %q", got, "8080")
	}
}

func TestPortSetOperations(t *testing.T) {
	s := NewPortSet(80, 443)
	if !s.Contains(80) || !s.Contains(443) {
		t.Fatal("expected both ports to be present")
	}
	if s.Contains(22) {
		t.Fatal("expected port 22 to be absent")
	}

	s.Insert(22)
	if !s.Contains(22) {
		t.Fatal("expected port 22 to be present after Insert")
	}

	s.Remove(22)
	if s.Contains(22) {
		t.Fatal("expected port 22 to be absent after Remove")
	}
}

func TestPortSetEqual(t *testing.T) {
	a := NewPortSet(80, 443)
	b := NewPortSet(443, 80)
	if !a.Equal(b) {
		t.Error("expected sets with the same members in different order to be equal")
	}

	c := NewPortSet(80)
	if a.Equal(c) {
		t.Error("expected sets with different members to not be equal")
	}
}

func TestPortMap(t *testing.T) {
	m := NewPortMap[string]()
	m[80] = "http"
	if got, ok := m[80]; !ok || got != "http" {
		t.Errorf("m[80] = (%q, %v), want (\"http\", true)", got, ok)
	}
}
