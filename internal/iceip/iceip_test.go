package iceip

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/pion/stun/v3"
)

// fakeServer answers binding requests with the given setter, or ignores
// them when setter is nil.
func fakeServer(t *testing.T, reply func(req *stun.Message, from *net.UDPAddr) stun.Setter) string {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil || reply == nil {
				continue
			}
			res, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				reply(req, from),
				stun.Fingerprint,
			)
			if err != nil {
				return
			}
			_, _ = conn.WriteToUDP(res.Raw, from)
		}
	}()
	return conn.LocalAddr().String()
}

func TestQueryXORMappedAddress(t *testing.T) {
	server := fakeServer(t, func(_ *stun.Message, _ *net.UDPAddr) stun.Setter {
		return &stun.XORMappedAddress{IP: net.IPv4(203, 0, 113, 9), Port: 40000}
	})

	addr, err := Query(context.Background(), server, time.Second)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if addr != netip.MustParseAddr("203.0.113.9") {
		t.Errorf("addr = %s", addr)
	}
}

func TestQueryMappedAddressFallback(t *testing.T) {
	server := fakeServer(t, func(_ *stun.Message, _ *net.UDPAddr) stun.Setter {
		return &stun.MappedAddress{IP: net.IPv4(198, 51, 100, 4), Port: 1}
	})

	addr, err := Query(context.Background(), server, time.Second)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if addr != netip.MustParseAddr("198.51.100.4") {
		t.Errorf("addr = %s", addr)
	}
}

func TestDiscoverSkipsSilentServers(t *testing.T) {
	silent := fakeServer(t, nil)
	good := fakeServer(t, func(_ *stun.Message, from *net.UDPAddr) stun.Setter {
		return &stun.XORMappedAddress{IP: from.IP, Port: from.Port}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr, err := Discover(ctx, []string{silent, good})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if addr != netip.MustParseAddr("127.0.0.1") {
		t.Errorf("addr = %s, want 127.0.0.1", addr)
	}
}

func TestDiscoverErrors(t *testing.T) {
	if _, err := Discover(context.Background(), nil); err != ErrNoServers {
		t.Errorf("Discover(nil) = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := Discover(ctx, []string{fakeServer(t, nil)}); err == nil {
		t.Error("Discover against a silent server succeeded")
	}
}
