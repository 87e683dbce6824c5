package station

import (
	"net/netip"
	"sync"
)

// Exclusion policy names as they appear in configuration files.
const (
	ExclusionNever       = "never"
	ExclusionPreExcluded = "pre_excluded"
	ExclusionConnectOnce = "connect_once"
)

type exclusionKind int

const (
	exclusionConnectOnce exclusionKind = iota
	exclusionNever
	exclusionPreExcluded
)

// PeerExclusion decides which endpoints must never be dialed. The zero
// value is ConnectOnce.
type PeerExclusion struct {
	kind  exclusionKind
	peers []netip.AddrPort
}

// Never excludes nothing.
func Never() PeerExclusion {
	return PeerExclusion{kind: exclusionNever}
}

// PreExcluded excludes a fixed set of endpoints for the life of the scan.
func PreExcluded(peers ...netip.AddrPort) PeerExclusion {
	return PeerExclusion{kind: exclusionPreExcluded, peers: append([]netip.AddrPort(nil), peers...)}
}

// ConnectOnce starts empty and excludes every peer once a connection to it
// has been delivered.
func ConnectOnce() PeerExclusion {
	return PeerExclusion{kind: exclusionConnectOnce}
}

func (p PeerExclusion) String() string {
	switch p.kind {
	case exclusionNever:
		return ExclusionNever
	case exclusionPreExcluded:
		return ExclusionPreExcluded
	default:
		return ExclusionConnectOnce
	}
}

// exclusionSet is the membership test built from a PeerExclusion before the
// first round. Only ConnectOnce sets grow, and only from delivered peers.
type exclusionSet struct {
	mu       sync.RWMutex
	peers    map[netip.AddrPort]struct{}
	recordOK bool
}

func newExclusionSet(policy PeerExclusion) *exclusionSet {
	set := &exclusionSet{}

	switch policy.kind {
	case exclusionNever:
		return set
	case exclusionPreExcluded:
		set.peers = make(map[netip.AddrPort]struct{}, len(policy.peers))
		for _, p := range policy.peers {
			set.peers[normalizeAddrPort(p)] = struct{}{}
		}
	case exclusionConnectOnce:
		set.peers = make(map[netip.AddrPort]struct{})
		set.recordOK = true
	}

	return set
}

// Excluded reports whether the endpoint must be skipped.
func (s *exclusionSet) Excluded(target netip.AddrPort) bool {
	if s == nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.peers) == 0 {
		return false
	}
	_, ok := s.peers[normalizeAddrPort(target)]
	return ok
}

// Record remembers a connected peer. It is a no-op unless the policy is
// ConnectOnce.
func (s *exclusionSet) Record(peer netip.AddrPort) {
	if s == nil || !s.recordOK {
		return
	}

	s.mu.Lock()
	s.peers[normalizeAddrPort(peer)] = struct{}{}
	s.mu.Unlock()
}

// Len returns the number of excluded endpoints.
func (s *exclusionSet) Len() int {
	if s == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// normalizeAddrPort folds IPv4-mapped IPv6 addresses so that a peer address
// read back from a socket matches the candidate that produced it.
func normalizeAddrPort(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
