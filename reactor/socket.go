package reactor

import (
	"net"
	"strconv"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"someipd/config"
	"someipd/rterr"
)

// bindUDP opens a UDP socket bound to exactly the IP/port named by ep. The
// runtime never substitutes 0.0.0.0/::/127.0.0.1 on the caller's behalf
// (spec section 4.4's binding discipline); if ep.IP itself is a wildcard,
// that was the configuration author's explicit choice.
func bindUDP(ep config.Endpoint) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(ep.IP), Port: int(ep.Port)}
	if addr.IP == nil {
		return nil, rterr.New(rterr.KindBindFailure, "invalid IP literal "+ep.IP)
	}
	conn, err := net.ListenUDP(udpNetwork(ep.Version), addr)
	if err != nil {
		return nil, rterr.Wrap(rterr.KindBindFailure, "binding UDP "+net.JoinHostPort(ep.IP, strconv.Itoa(int(ep.Port))), err)
	}
	return conn, nil
}

// bindTCPListener opens a TCP listening socket bound to exactly ep's IP/port.
func bindTCPListener(ep config.Endpoint) (*net.TCPListener, error) {
	addr := &net.TCPAddr{IP: net.ParseIP(ep.IP), Port: int(ep.Port)}
	if addr.IP == nil {
		return nil, rterr.New(rterr.KindBindFailure, "invalid IP literal "+ep.IP)
	}
	ln, err := net.ListenTCP(tcpNetwork(ep.Version), addr)
	if err != nil {
		return nil, rterr.Wrap(rterr.KindBindFailure, "binding TCP "+net.JoinHostPort(ep.IP, strconv.Itoa(int(ep.Port))), err)
	}
	return ln, nil
}

// joinSDMulticast opens the SD UDP socket for ep's family, binds it to the
// configured multicast group/port, and joins that group on every available
// multicast-capable interface, enabling loopback so same-host peers can
// observe each other's traffic (used in the test scenarios).
func joinSDMulticast(ep config.Endpoint) (*net.UDPConn, error) {
	group := net.ParseIP(ep.IP)
	if group == nil {
		return nil, rterr.New(rterr.KindBindFailure, "invalid SD multicast group "+ep.IP)
	}

	conn, err := net.ListenUDP(udpNetwork(ep.Version), &net.UDPAddr{IP: group, Port: int(ep.Port)})
	if err != nil {
		return nil, rterr.Wrap(rterr.KindBindFailure, "binding SD multicast socket", err)
	}

	ifaces, _ := net.Interfaces()
	joined := false
	if ep.Version == config.IPv6 {
		pc := ipv6.NewPacketConn(conn)
		for _, iface := range ifaces {
			if iface.Flags&net.FlagMulticast == 0 {
				continue
			}
			if pc.JoinGroup(&iface, &net.UDPAddr{IP: group}) == nil {
				joined = true
			}
		}
		pc.SetMulticastLoopback(true)
	} else {
		pc := ipv4.NewPacketConn(conn)
		for _, iface := range ifaces {
			if iface.Flags&net.FlagMulticast == 0 {
				continue
			}
			if pc.JoinGroup(&iface, &net.UDPAddr{IP: group}) == nil {
				joined = true
			}
		}
		pc.SetMulticastLoopback(true)
	}
	if !joined {
		conn.Close()
		return nil, rterr.New(rterr.KindBindFailure, "failed to join SD multicast group on any interface")
	}
	return conn, nil
}

func udpNetwork(v config.IPVersion) string {
	if v == config.IPv6 {
		return "udp6"
	}
	return "udp4"
}

func tcpNetwork(v config.IPVersion) string {
	if v == config.IPv6 {
		return "tcp6"
	}
	return "tcp4"
}
