package handshake

import (
	"net"
	"time"

	"github.com/pion/transport/v4/packetio"
)

// maxBufferedInbound bounds the ciphertext waiting to be consumed by the
// DTLS goroutine.
const maxBufferedInbound = 1 << 20

// memConn is the net.PacketConn handed to the DTLS library. Reads come from
// an in-memory datagram buffer the engine fills; writes go to a callback.
type memConn struct {
	in     *packetio.Buffer
	local  net.Addr
	remote net.Addr
	write  func([]byte)
}

func newMemConn(local, remote net.Addr, write func([]byte)) *memConn {
	in := packetio.NewBuffer()
	in.SetLimitSize(maxBufferedInbound)
	return &memConn{in: in, local: local, remote: remote, write: write}
}

func (c *memConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, err := c.in.Read(p)
	return n, c.remote, err
}

func (c *memConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	c.write(append([]byte(nil), p...))
	return len(p), nil
}

func (c *memConn) Close() error                       { return c.in.Close() }
func (c *memConn) LocalAddr() net.Addr                { return c.local }
func (c *memConn) SetDeadline(t time.Time) error      { return c.in.SetReadDeadline(t) }
func (c *memConn) SetReadDeadline(t time.Time) error  { return c.in.SetReadDeadline(t) }
func (c *memConn) SetWriteDeadline(_ time.Time) error { return nil }
