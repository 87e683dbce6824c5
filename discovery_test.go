package station

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMergeInterfaces(t *testing.T) {
	def := testInterface(t, "eth0", "192.168.1.20/24")
	listedEth0 := testInterface(t, "eth0", "10.0.0.1/8")
	wlan := testInterface(t, "wlan0", "172.16.0.5/16")
	lo := testInterface(t, "lo", "127.0.0.1/8")

	merged := mergeInterfaces([]NetworkInterface{def}, []NetworkInterface{lo, listedEth0, wlan, wlan})

	require.Len(t, merged, 3)
	assert.Equal(t, def, merged[0], "default interface is listed first and wins")
	assert.Equal(t, "lo", merged[1].Name)
	assert.Equal(t, "wlan0", merged[2].Name)
}

func TestMergeInterfaces_NoDefault(t *testing.T) {
	wlan := testInterface(t, "wlan0", "172.16.0.5/16")

	merged := mergeInterfaces(nil, []NetworkInterface{wlan})
	assert.Equal(t, []NetworkInterface{wlan}, merged)
}

func TestEnumerateSubnets(t *testing.T) {
	logger := zaptest.NewLogger(t)

	src := InterfaceSourceFunc(func() ([]NetworkInterface, error) {
		return []NetworkInterface{
			testInterface(t, "eth0", "192.168.1.20/24"),
			testInterface(t, "lo", "127.0.0.1/8"),
			{Name: "tun0"},
			{Name: "v6only", Addrs: []InterfaceAddr{{Addr: netip.MustParseAddr("fe80::1"), Netmask: net.CIDRMask(64, 128)}}},
			testInterface(t, "wlan0", "10.0.0.5/30"),
		}, nil
	})

	subnets := enumerateSubnets(src, logger)
	require.Len(t, subnets, 2)
	assert.Equal(t, "eth0", subnets[0].Interface)
	assert.Equal(t, netip.MustParsePrefix("192.168.1.0/24"), subnets[0].Prefix)
	assert.Equal(t, "wlan0", subnets[1].Interface)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.4/30"), subnets[1].Prefix)
}

func TestEnumerateSubnets_SourceError(t *testing.T) {
	src := InterfaceSourceFunc(func() ([]NetworkInterface, error) {
		return nil, assert.AnError
	})

	assert.Empty(t, enumerateSubnets(src, zaptest.NewLogger(t)))
}

func TestEnumerateSubnets_FreshSnapshotEachCall(t *testing.T) {
	calls := 0
	src := InterfaceSourceFunc(func() ([]NetworkInterface, error) {
		calls++
		if calls == 1 {
			return nil, nil
		}
		return []NetworkInterface{testInterface(t, "eth0", "192.168.1.20/24")}, nil
	})

	logger := zaptest.NewLogger(t)
	assert.Empty(t, enumerateSubnets(src, logger))
	assert.Len(t, enumerateSubnets(src, logger), 1)
	assert.Equal(t, 2, calls)
}

func TestSnapshotInterface_Loopback(t *testing.T) {
	ifaces, err := net.Interfaces()
	require.NoError(t, err)

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback == 0 {
			continue
		}

		ni := snapshotInterface(iface)
		assert.Equal(t, iface.Name, ni.Name)
		for _, a := range ni.Addrs {
			assert.True(t, a.Addr.Is4())
			assert.Len(t, a.Netmask, net.IPv4len)
		}
		return
	}

	t.Skip("no loopback interface")
}

func TestNetworkInterface_DisplayName(t *testing.T) {
	assert.Equal(t, "eth0", NetworkInterface{Name: "eth0"}.DisplayName())
	assert.Equal(t, "Wi-Fi", NetworkInterface{Name: "{GUID}", FriendlyName: "Wi-Fi"}.DisplayName())
}
