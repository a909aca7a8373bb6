package pionengine

import (
	"net"

	"github.com/pion/ice/v4"
	"github.com/pion/transport/v4"
)

// observedNet passes every packet read on the UDP sockets it opens to
// observe before ICE handles it.
type observedNet struct {
	transport.Net
	observe func([]byte)
}

func (n *observedNet) ListenUDP(network string, laddr *net.UDPAddr) (transport.UDPConn, error) {
	conn, err := n.Net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return &observedUDPConn{UDPConn: conn, observe: n.observe}, nil
}

type observedUDPConn struct {
	transport.UDPConn
	observe func([]byte)
}

func (c *observedUDPConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.UDPConn.ReadFrom(p)
	if n > 0 {
		c.observe(p[:n])
	}
	return n, addr, err
}

// observedTCPMux is one transport's view of the shared ICE-TCP mux. Closing
// it is a no-op; the engine owns the mux.
type observedTCPMux struct {
	ice.TCPMux
	observe func([]byte)
}

func (m *observedTCPMux) GetConnByUfrag(ufrag string, isIPv6 bool, local net.IP) (net.PacketConn, error) {
	conn, err := m.TCPMux.GetConnByUfrag(ufrag, isIPv6, local)
	if err != nil {
		return nil, err
	}
	return &observedPacketConn{PacketConn: conn, observe: m.observe}, nil
}

func (m *observedTCPMux) Close() error { return nil }

type observedPacketConn struct {
	net.PacketConn
	observe func([]byte)
}

func (c *observedPacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(p)
	if n > 0 {
		c.observe(p[:n])
	}
	return n, addr, err
}
