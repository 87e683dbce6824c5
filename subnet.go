package station

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go4.org/netipx"
)

// Subnet errors
var (
	ErrLoopbackSubnet = errors.New("loopback subnet")
	ErrInvalidNetmask = errors.New("invalid netmask")
)

// Subnet is the network an interface address belongs to.
type Subnet struct {
	Interface string
	Local     netip.Addr
	Prefix    netip.Prefix
}

// Candidate is one endpoint to dial, along with the local address the dial
// is bound to.
type Candidate struct {
	Interface string
	Local     netip.Addr
	Target    netip.AddrPort
}

// NewSubnet derives a subnet from an IPv4 address and netmask.
func NewSubnet(iface string, addr netip.Addr, mask net.IPMask) (Subnet, error) {
	if !addr.Is4() {
		return Subnet{}, fmt.Errorf("%w: %s", ErrInterfaceNoIPv4, addr)
	}
	if addr.IsLoopback() {
		return Subnet{}, fmt.Errorf("%w: %s", ErrLoopbackSubnet, addr)
	}

	ones, bits := ipv4Mask(mask).Size()
	if bits != 32 {
		return Subnet{}, fmt.Errorf("%w: %s", ErrInvalidNetmask, mask)
	}

	return Subnet{
		Interface: iface,
		Local:     addr,
		Prefix:    netip.PrefixFrom(addr, ones).Masked(),
	}, nil
}

// subnetForInterface uses the interface's first IPv4 address.
func subnetForInterface(ni NetworkInterface) (Subnet, error) {
	if len(ni.Addrs) == 0 {
		return Subnet{}, ErrInterfaceNoIPv4
	}
	first := ni.Addrs[0]
	return NewSubnet(ni.DisplayName(), first.Addr, first.Netmask)
}

// hostRange returns the first and last usable host. Below /31 the network
// and broadcast addresses are dropped; /31 and /32 keep every address.
func (s Subnet) hostRange() (netip.Addr, netip.Addr) {
	r := netipx.RangeOfPrefix(s.Prefix)
	first, last := r.From(), r.To()
	if s.Prefix.Bits() < 31 {
		first, last = first.Next(), last.Prev()
	}
	return first, last
}

// HostCount returns the number of usable hosts.
func (s Subnet) HostCount() uint64 {
	first, last := s.hostRange()
	return uint64(ipv4ToUint32(last)-ipv4ToUint32(first)) + 1
}

// ForEachHost calls fn for every usable host in address order, stopping
// early when fn returns false.
func (s Subnet) ForEachHost(fn func(netip.Addr) bool) {
	first, last := s.hostRange()
	for ip := first; ip.IsValid(); ip = ip.Next() {
		if !fn(ip) {
			return
		}
		if ip == last {
			return
		}
	}
}

// ForEachCandidate crosses every usable host with every port.
func (s Subnet) ForEachCandidate(ports []uint16, fn func(Candidate) bool) {
	s.ForEachHost(func(host netip.Addr) bool {
		for _, port := range ports {
			c := Candidate{
				Interface: s.Interface,
				Local:     s.Local,
				Target:    netip.AddrPortFrom(host, port),
			}
			if !fn(c) {
				return false
			}
		}
		return true
	})
}

func ipv4ToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
