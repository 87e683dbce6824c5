package station

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"
)

// Discovery errors
var (
	ErrNoDefaultInterface = errors.New("no default interface found")
	ErrInterfaceNoIPv4    = errors.New("interface has no IPv4 address")
)

// outboundRouteAddr is only used to let the kernel pick a route; connecting a
// UDP socket sends nothing.
const outboundRouteAddr = "8.8.8.8:80"

// InterfaceAddr is one IPv4 address/netmask pair of an interface.
type InterfaceAddr struct {
	Addr    netip.Addr
	Netmask net.IPMask
}

// NetworkInterface is a read-only snapshot of a local interface.
type NetworkInterface struct {
	Name         string
	FriendlyName string
	Addrs        []InterfaceAddr
}

// DisplayName returns the friendly name when the platform provides one.
func (ni NetworkInterface) DisplayName() string {
	if ni.FriendlyName != "" {
		return ni.FriendlyName
	}
	return ni.Name
}

// InterfaceSource lists the local interfaces. Implementations must return a
// fresh snapshot on every call.
type InterfaceSource interface {
	Interfaces() ([]NetworkInterface, error)
}

// InterfaceSourceFunc adapts a function to InterfaceSource.
type InterfaceSourceFunc func() ([]NetworkInterface, error)

// Interfaces calls f.
func (f InterfaceSourceFunc) Interfaces() ([]NetworkInterface, error) {
	return f()
}

// SystemInterfaces returns the InterfaceSource backed by the host's network
// stack.
func SystemInterfaces() InterfaceSource {
	return systemInterfaces{}
}

type systemInterfaces struct{}

// Interfaces merges the default interface with the full listing. The default
// interface comes first and wins on a name conflict.
func (systemInterfaces) Interfaces() ([]NetworkInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var listed []NetworkInterface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		listed = append(listed, snapshotInterface(iface))
	}

	var merged []NetworkInterface
	if def, err := defaultInterface(listed); err == nil {
		merged = append(merged, def)
	}

	return mergeInterfaces(merged, listed), nil
}

// mergeInterfaces appends every entry of more whose name is not already in
// base.
func mergeInterfaces(base, more []NetworkInterface) []NetworkInterface {
	seen := make(map[string]struct{}, len(base)+len(more))
	for _, ni := range base {
		seen[ni.Name] = struct{}{}
	}

	for _, ni := range more {
		if _, exists := seen[ni.Name]; exists {
			continue
		}
		seen[ni.Name] = struct{}{}
		base = append(base, ni)
	}

	return base
}

func snapshotInterface(iface net.Interface) NetworkInterface {
	ni := NetworkInterface{Name: iface.Name}

	addrs, err := iface.Addrs()
	if err != nil {
		return ni
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		a, ok := netip.AddrFromSlice(ip4)
		if !ok {
			continue
		}
		ni.Addrs = append(ni.Addrs, InterfaceAddr{Addr: a, Netmask: ipv4Mask(ipNet.Mask)})
	}

	return ni
}

// defaultInterface finds the listed interface that owns the preferred
// outbound address.
func defaultInterface(listed []NetworkInterface) (NetworkInterface, error) {
	outbound, err := GetPreferredOutboundIP()
	if err != nil {
		return NetworkInterface{}, err
	}

	for _, ni := range listed {
		for _, a := range ni.Addrs {
			if a.Addr == outbound {
				return ni, nil
			}
		}
	}

	return NetworkInterface{}, fmt.Errorf("%w: no interface owns %s", ErrNoDefaultInterface, outbound)
}

// GetPreferredOutboundIP gets the preferred outbound IPv4 address of this
// machine.
func GetPreferredOutboundIP() (netip.Addr, error) {
	conn, err := net.Dial("udp4", outboundRouteAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %v", ErrNoDefaultInterface, err)
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, ErrNoDefaultInterface
	}

	addr, ok := netip.AddrFromSlice(localAddr.IP.To4())
	if !ok {
		return netip.Addr{}, ErrNoDefaultInterface
	}
	return addr, nil
}

// ipv4Mask trims a 16-byte mask down to its IPv4 part.
func ipv4Mask(mask net.IPMask) net.IPMask {
	if len(mask) == net.IPv6len {
		return mask[12:]
	}
	return mask
}

// enumerateSubnets takes a fresh snapshot from src and derives the subnets
// to scan. A failed snapshot yields no subnets.
func enumerateSubnets(src InterfaceSource, logger *zap.Logger) []Subnet {
	ifaces, err := src.Interfaces()
	if err != nil {
		logger.Debug("Interface enumeration failed", zap.Error(err))
		return nil
	}

	var subnets []Subnet
	for _, ni := range ifaces {
		subnet, err := subnetForInterface(ni)
		if err != nil {
			logger.Debug("Skipping interface",
				zap.String("interface", ni.DisplayName()),
				zap.Error(err),
			)
			continue
		}

		logger.Debug("Using interface",
			zap.String("interface", ni.DisplayName()),
			zap.Stringer("address", subnet.Local),
			zap.Stringer("subnet", subnet.Prefix),
		)
		subnets = append(subnets, subnet)
	}

	return subnets
}
