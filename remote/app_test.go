package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ghostshell/app/station"
)

func connectedModel(t *testing.T) (*model, net.Conn) {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	m := newModel(nil, zaptest.NewLogger(t))
	m.conn = &station.EstablishedConnection{
		Conn:      client,
		Peer:      netip.MustParseAddrPort("10.0.0.7:1000"),
		Interface: "wlan0",
	}
	return m, server
}

func TestKeyMapping(t *testing.T) {
	tests := []struct {
		name string
		key  tea.KeyMsg
		want []byte
	}{
		{name: "up tilts up", key: tea.KeyMsg{Type: tea.KeyUp}, want: []byte{0}},
		{name: "down tilts down", key: tea.KeyMsg{Type: tea.KeyDown}, want: []byte{1}},
		{name: "right pans right", key: tea.KeyMsg{Type: tea.KeyRight}, want: []byte{3}},
		{name: "left pans left", key: tea.KeyMsg{Type: tea.KeyLeft}, want: []byte{4}},
		{name: "space stops both axes", key: tea.KeyMsg{Type: tea.KeySpace}, want: []byte{2, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, server := connectedModel(t)

			_, cmd := m.Update(tt.key)
			require.NotNil(t, cmd)

			msgCh := make(chan tea.Msg, 1)
			go func() { msgCh <- cmd() }()

			got := make([]byte, len(tt.want))
			_, err := io.ReadFull(server, got)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			msg := <-msgCh
			require.IsType(t, sentMsg{}, msg)

			m.Update(msg)
			assert.Contains(t, m.View(), "Sent command")
			assert.Contains(t, m.View(), "Connected!")
		})
	}
}

func TestKeysIgnoredUntilConnected(t *testing.T) {
	m := newModel(nil, zaptest.NewLogger(t))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Nil(t, cmd)
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
	} {
		m := newModel(nil, zaptest.NewLogger(t))
		_, cmd := m.Update(key)
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
	}
}

func TestWriteErrorIsShown(t *testing.T) {
	m, server := connectedModel(t)
	server.Close()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, errMsg{}, msg)

	m.Update(msg)
	assert.Contains(t, m.View(), "Error:")
}

func TestNewScanBuilder_KeepsConfiguredExclusion(t *testing.T) {
	config := station.DefaultConfig()
	config.Ports = []int{1000, 1001}
	config.ScanCount = station.Limited(2)
	config.WaitTimeMillis = 0
	config.Exclusion = station.ExclusionPreExcluded
	config.ExcludedPeers = []string{"10.0.0.6:1000"}
	require.NoError(t, config.Validate())

	iface := station.NetworkInterface{
		Name: "wlan0",
		Addrs: []station.InterfaceAddr{{
			Addr:    netip.MustParseAddr("10.0.0.5"),
			Netmask: net.CIDRMask(30, 32),
		}},
	}

	var mu sync.Mutex
	attempts := make(map[netip.AddrPort]int)
	dialer := station.DialerFunc(func(ctx context.Context, local netip.Addr, target netip.AddrPort) (net.Conn, error) {
		mu.Lock()
		attempts[target]++
		mu.Unlock()
		return nil, errors.New("connection refused")
	})

	scan, err := newScanBuilder(config, zaptest.NewLogger(t), nil).
		Interfaces(station.InterfaceSourceFunc(func() ([]station.NetworkInterface, error) {
			return []station.NetworkInterface{iface}, nil
		})).
		Dialer(dialer).
		Dispatch(context.Background())
	require.NoError(t, err)
	defer scan.Close()

	select {
	case <-scan.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, attempts[netip.MustParseAddrPort("10.0.0.6:1000")])
	assert.Equal(t, 2, attempts[netip.MustParseAddrPort("10.0.0.6:1001")])
}
