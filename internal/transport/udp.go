package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

// Tunables for the real UDP multicast sockets, matching the reference
// implementation's create_multicast_socket/join_multicast_group (spec
// §4.1): generous send/receive buffers so a burst of gossip doesn't
// overrun the kernel socket queue, TTL high enough to cross the local
// subnet's routers, and a short poll timeout so role event loops stay
// responsive to their own timers.
const (
	SocketBuffer   = 1 << 20
	MulticastTTL   = 2
	DefaultTimeout = 20 * time.Millisecond
)

// UDPTransport sends to, and receives from, IPv4 multicast groups over
// real sockets. One UDPTransport is bound to a single home group's
// socket; Broadcast dials out to whichever group address it's given,
// opening connections lazily and caching them.
type UDPTransport struct {
	home    Group
	addrs   GroupAddrs
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	senders map[Group]*net.UDPConn
	buf     []byte
}

// NewUDPTransport joins the multicast group for home; sender sockets
// are opened lazily by Broadcast. addrs must contain an entry for every
// group this transport will ever Broadcast to.
func NewUDPTransport(home Group, addrs GroupAddrs, iface *net.Interface) (*UDPTransport, error) {
	homeAddr, ok := addrs[home]
	if !ok {
		return nil, errors.Errorf("transport: no address configured for group %q", home)
	}

	udpAddr := &net.UDPAddr{IP: net.ParseIP(homeAddr.IP), Port: homeAddr.Port}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: homeAddr.Port})
	if err != nil {
		return nil, errors.Wrapf(err, "listen on port %d", homeAddr.Port)
	}

	if err := conn.SetReadBuffer(SocketBuffer); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "set read buffer")
	}
	if err := conn.SetWriteBuffer(SocketBuffer); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "set write buffer")
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.JoinGroup(iface, &net.UDPAddr{IP: udpAddr.IP}); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "join multicast group %s", udpAddr.IP)
	}
	if err := pconn.SetMulticastTTL(MulticastTTL); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "set multicast ttl")
	}

	t := &UDPTransport{
		home:    home,
		addrs:   addrs,
		conn:    conn,
		pconn:   pconn,
		senders: make(map[Group]*net.UDPConn),
		buf:     make([]byte, 64*1024),
	}
	return t, nil
}

func (t *UDPTransport) senderFor(group Group) (*net.UDPConn, error) {
	if c, ok := t.senders[group]; ok {
		return c, nil
	}
	addr, ok := t.addrs[group]
	if !ok {
		return nil, errors.Errorf("transport: no address configured for group %q", group)
	}
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(addr.IP), Port: addr.Port})
	if err != nil {
		return nil, errors.Wrapf(err, "dial group %s", group)
	}
	if err := conn.SetWriteBuffer(SocketBuffer); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "set write buffer")
	}
	if err := ipv4.NewPacketConn(conn).SetMulticastTTL(MulticastTTL); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "set multicast ttl")
	}
	t.senders[group] = conn
	return conn, nil
}

func (t *UDPTransport) Broadcast(group Group, payload string) error {
	conn, err := t.senderFor(group)
	if err != nil {
		return err
	}
	if _, err := conn.Write([]byte(payload)); err != nil {
		return errors.Wrapf(err, "write to group %s", group)
	}
	return nil
}

func (t *UDPTransport) ReceiveTimeout(timeout time.Duration) (string, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", errors.Wrap(err, "set read deadline")
	}
	n, _, err := t.conn.ReadFromUDP(t.buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return "", ErrTimeout
		}
		return "", errors.Wrap(err, "read datagram")
	}
	return string(t.buf[:n]), nil
}

func (t *UDPTransport) Close() error {
	for _, c := range t.senders {
		c.Close()
	}
	return t.conn.Close()
}

// ResolveInterface looks up a network interface by name for
// NewUDPTransport's iface argument; an empty name means "let the kernel
// choose the default multicast interface."
func ResolveInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "interface %q", name)
	}
	return iface, nil
}
