// Package transport opens the stream connections auctiond is reached over:
// vsock inside a Nitro enclave, TCP everywhere else.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mdlayher/vsock"
)

const (
	SchemeTCP   = "tcp"
	SchemeVsock = "vsock"
)

var ErrInvalidAddress = errors.New("invalid transport address")

// Address is a parsed "tcp://host:port" or "vsock://cid:port" address.
// For vsock the cid may be left empty when listening.
type Address struct {
	Scheme string
	Host   string
	CID    uint32
	Port   uint32
}

func (a Address) String() string {
	if a.Scheme == SchemeVsock {
		if a.CID == 0 {
			return fmt.Sprintf("vsock://:%d", a.Port)
		}
		return fmt.Sprintf("vsock://%d:%d", a.CID, a.Port)
	}
	return "tcp://" + net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10))
}

// ParseAddress parses addr. A bare "host:port" is taken as TCP.
func ParseAddress(addr string) (Address, error) {
	scheme, rest, found := strings.Cut(addr, "://")
	if !found {
		scheme, rest = SchemeTCP, addr
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: bad port", ErrInvalidAddress, addr)
	}

	switch scheme {
	case SchemeTCP:
		return Address{Scheme: SchemeTCP, Host: host, Port: uint32(port)}, nil
	case SchemeVsock:
		a := Address{Scheme: SchemeVsock, Port: uint32(port)}
		if host != "" {
			cid, err := strconv.ParseUint(host, 10, 32)
			if err != nil {
				return Address{}, fmt.Errorf("%w: %q: bad context id", ErrInvalidAddress, addr)
			}
			a.CID = uint32(cid)
		}
		return a, nil
	default:
		return Address{}, fmt.Errorf("%w: %q: unknown scheme %q", ErrInvalidAddress, addr, scheme)
	}
}

// Listen opens a listener on addr.
func Listen(addr string) (net.Listener, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if a.Scheme == SchemeVsock {
		if a.CID == 0 {
			l, err := vsock.Listen(a.Port, nil)
			if err != nil {
				return nil, fmt.Errorf("create vsock listener: %w", err)
			}
			return l, nil
		}
		l, err := vsock.ListenContextID(a.CID, a.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("create vsock listener: %w", err)
		}
		return l, nil
	}
	l, err := net.Listen("tcp", net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10)))
	if err != nil {
		return nil, fmt.Errorf("create tcp listener: %w", err)
	}
	return l, nil
}

// Dial connects to addr. The timeout bounds connection setup only; a zero
// timeout means no limit beyond ctx.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if a.Scheme == SchemeVsock {
		if a.CID == 0 {
			return nil, fmt.Errorf("%w: %q: dialing vsock needs a context id", ErrInvalidAddress, addr)
		}
		conn, err := vsock.Dial(a.CID, a.Port, nil)
		if err != nil {
			return nil, fmt.Errorf("dial vsock: %w", err)
		}
		return conn, nil
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10)))
	if err != nil {
		return nil, fmt.Errorf("dial tcp: %w", err)
	}
	return conn, nil
}
