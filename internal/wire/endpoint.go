package wire

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ErrEndpointUnavailable wraps any failure standing up the local UDP socket.
var ErrEndpointUnavailable = fmt.Errorf("wire: endpoint unavailable")

// Endpoint owns one IPv4 UDP socket bound to a local address. It sets
// SO_REUSEADDR and explicitly clears non-blocking mode: blocking I/O is
// required so recvfrom/sendto double as the component's only suspension
// points (see the concurrency model — this is a single-threaded loop,
// not a multiplexed one).
type Endpoint struct {
	conn *net.UDPConn
	fd   int
}

// NewEndpoint creates and binds a local IPv4 datagram socket at ip:port.
// An empty ip binds to all interfaces (0.0.0.0).
func NewEndpoint(ip string, port int) (*Endpoint, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", ErrEndpointUnavailable, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("%w: SO_REUSEADDR: %v", ErrEndpointUnavailable, err)
	}
	// Blocking I/O is required; the socket is created blocking by
	// default, but clear O_NONBLOCK explicitly so this is never an
	// accident of inherited fd flags.
	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, fmt.Errorf("%w: clear nonblock: %v", ErrEndpointUnavailable, err)
	}

	addr, err := resolveSockaddr(ip, port)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s:%d: %v", ErrEndpointUnavailable, ip, port, err)
	}
	if err := unix.Bind(fd, addr); err != nil {
		return nil, fmt.Errorf("%w: bind %s:%d: %v", ErrEndpointUnavailable, ip, port, err)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("udp:%s:%d", ip, port))
	defer f.Close()
	genericConn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("%w: FileConn: %v", ErrEndpointUnavailable, err)
	}
	conn, ok2 := genericConn.(*net.UDPConn)
	if !ok2 {
		_ = genericConn.Close()
		return nil, fmt.Errorf("%w: unexpected conn type", ErrEndpointUnavailable)
	}

	ok = true
	return &Endpoint{conn: conn, fd: fd}, nil
}

func resolveSockaddr(ip string, port int) (unix.Sockaddr, error) {
	sa := &unix.SockaddrInet4{Port: port}
	if ip == "" {
		return sa, nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IPv4 address %q", ip)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return nil, fmt.Errorf("not an IPv4 address: %q", ip)
	}
	copy(sa.Addr[:], v4)
	return sa, nil
}

// Conn returns the underlying connection for reads/writes.
func (e *Endpoint) Conn() *net.UDPConn { return e.conn }

// LocalAddr returns the bound local address, useful when port 0 was
// requested and the kernel picked an ephemeral one.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	if e.conn == nil {
		return nil
	}
	addr, _ := e.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Close tears down the socket exactly once.
func (e *Endpoint) Close() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
