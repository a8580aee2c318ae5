package api

import "net/netip"

// NetworkMatch is a CIDR with an optional set of excluded sub-CIDRs, as used
// by NetworkAuthentication and a ServerAuthorization's client networks list.
//
// CIDR containment is implemented on top of net/netip rather than a
// third-party library: none of the mesh/gateway dependency surface in this
// repo's corpus exposes a CIDR-set primitive narrower than a full IPAM or
// firewall library, and net/netip's Prefix.Contains is exactly the
// membership test the spec calls for.
type NetworkMatch struct {
	CIDR   netip.Prefix
	Except []netip.Prefix
}

// Matches reports whether addr falls within CIDR and not within any Except
// prefix.
func (n NetworkMatch) Matches(addr netip.Addr) bool {
	if !n.CIDR.Contains(addr) {
		return false
	}
	for _, ex := range n.Except {
		if ex.Contains(addr) {
			return false
		}
	}
	return true
}

// AllNetworks returns the (IPv4-all, IPv6-all) pair used as the default
// network match when a ServerAuthorization/AuthorizationPolicy specifies no
// explicit networks.
func AllNetworks() []NetworkMatch {
	return []NetworkMatch{
		{CIDR: netip.MustParsePrefix("0.0.0.0/0")},
		{CIDR: netip.MustParsePrefix("::/0")},
	}
}

// NetworkSet is an unordered collection of NetworkMatch values.
type NetworkSet struct {
	Networks []NetworkMatch
}

// MatchesAny reports whether addr is permitted by at least one network in
// the set.
func (s NetworkSet) MatchesAny(addr netip.Addr) bool {
	for _, n := range s.Networks {
		if n.Matches(addr) {
			return true
		}
	}
	return false
}
