package host

import (
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

const (
	maxEvents   = 16
	maxDatagram = 1 << 16
)

// poller is a non-blocking UDP socket plus an eventfd, both registered with
// one epoll instance. The eventfd lets session goroutines interrupt a wait.
type poller struct {
	fd     int
	domain int
	epfd   int
	wakefd int
	local  netip.AddrPort
	closed atomic.Bool

	events [maxEvents]unix.EpollEvent
	buf    []byte
}

func newPoller(bind netip.AddrPort) (_ *poller, err error) {
	p := &poller{fd: -1, epfd: -1, wakefd: -1, buf: make([]byte, maxDatagram)}
	defer func() {
		if err != nil {
			p.close()
		}
	}()

	if !bind.Addr().IsValid() {
		bind = netip.AddrPortFrom(netip.IPv4Unspecified(), bind.Port())
	}
	p.domain = unix.AF_INET
	if bind.Addr().Is6() && !bind.Addr().Is4In6() {
		p.domain = unix.AF_INET6
	}
	if p.fd, err = unix.Socket(p.domain, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP); err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err = unix.SetsockoptInt(p.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	if err = unix.Bind(p.fd, toSockaddr(bind, p.domain)); err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}
	sa, err := unix.Getsockname(p.fd)
	if err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	p.local = fromSockaddr(sa)

	if p.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	if p.wakefd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	for _, fd := range []int{p.fd, p.wakefd} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return nil, fmt.Errorf("epoll_ctl: %w", err)
		}
	}
	return p, nil
}

func (p *poller) localAddr() netip.AddrPort { return p.local }

// wait blocks for up to timeout, then reads every queued datagram and
// reports wakeups. Negative timeouts block indefinitely.
func (p *poller) wait(timeout time.Duration, onDatagram func(netip.AddrPort, []byte), onWake func()) error {
	if p.closed.Load() {
		return ErrClosed
	}

	msec := -1
	if timeout >= 0 {
		msec = int(timeout.Milliseconds())
		if msec == 0 && timeout > 0 {
			msec = 1
		}
	}

	n, err := unix.EpollWait(p.epfd, p.events[:], msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		switch int(p.events[i].Fd) {
		case p.fd:
			if err := p.readAll(onDatagram); err != nil {
				return err
			}
		case p.wakefd:
			var counter [8]byte
			_, _ = unix.Read(p.wakefd, counter[:])
			onWake()
		}
	}
	return nil
}

func (p *poller) readAll(onDatagram func(netip.AddrPort, []byte)) error {
	for {
		n, from, err := unix.Recvfrom(p.fd, p.buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return nil
			}
			return fmt.Errorf("recvfrom: %w", err)
		}
		if from == nil {
			continue
		}
		onDatagram(fromSockaddr(from), p.buf[:n])
	}
}

// wake interrupts a pending wait. It is safe to call from any goroutine.
func (p *poller) wake() {
	if p.wakefd < 0 || p.closed.Load() {
		return
	}
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(p.wakefd, one[:])
}

func (p *poller) send(b []byte, addr netip.AddrPort) error {
	if p.domain == unix.AF_INET && !addr.Addr().Unmap().Is4() {
		return fmt.Errorf("sendto %s: %w", addr, unix.EAFNOSUPPORT)
	}
	return unix.Sendto(p.fd, b, 0, toSockaddr(addr, p.domain))
}

func (p *poller) close() error {
	if p.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, fd := range []int{p.wakefd, p.epfd, p.fd} {
		if fd >= 0 {
			if err := unix.Close(fd); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func toSockaddr(addr netip.AddrPort, domain int) unix.Sockaddr {
	if domain == unix.AF_INET {
		return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().Unmap().As4()}
	}
	return &unix.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}
