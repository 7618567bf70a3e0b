//go:build !linux

package host

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"
)

const (
	maxDatagram   = 1 << 16
	datagramQueue = 256
)

type datagram struct {
	addr netip.AddrPort
	data []byte
}

// poller is the portable fallback: a reader goroutine feeds datagrams into a
// channel and wakeups arrive on a second one.
type poller struct {
	conn  *net.UDPConn
	in    chan datagram
	wakes chan struct{}
	done  chan struct{}
	err   error
	once  sync.Once
}

func newPoller(bind netip.AddrPort) (*poller, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(bind))
	if err != nil {
		return nil, err
	}
	p := &poller{
		conn:  conn,
		in:    make(chan datagram, datagramQueue),
		wakes: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

func (p *poller) readLoop() {
	defer close(p.in)
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := p.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				p.err = err
			}
			return
		}
		d := datagram{
			addr: netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()),
			data: append([]byte(nil), buf[:n]...),
		}
		select {
		case p.in <- d:
		case <-p.done:
			return
		}
	}
}

func (p *poller) localAddr() netip.AddrPort {
	return p.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (p *poller) wait(timeout time.Duration, onDatagram func(netip.AddrPort, []byte), onWake func()) error {
	var timer <-chan time.Time
	switch {
	case timeout == 0:
		closed := make(chan time.Time)
		close(closed)
		timer = closed
	case timeout > 0:
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case d, ok := <-p.in:
		if !ok {
			return p.readErr()
		}
		onDatagram(d.addr, d.data)
	case <-p.wakes:
		onWake()
	case <-timer:
		return nil
	}

	for {
		select {
		case d, ok := <-p.in:
			if !ok {
				return p.readErr()
			}
			onDatagram(d.addr, d.data)
		case <-p.wakes:
			onWake()
		default:
			return nil
		}
	}
}

func (p *poller) readErr() error {
	if p.err != nil {
		return p.err
	}
	return ErrClosed
}

func (p *poller) wake() {
	select {
	case p.wakes <- struct{}{}:
	default:
	}
}

func (p *poller) send(b []byte, addr netip.AddrPort) error {
	_, err := p.conn.WriteToUDPAddrPort(b, addr)
	return err
}

func (p *poller) close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.conn.Close()
	})
	return err
}
