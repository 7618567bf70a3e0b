// Package iceip discovers the server's public address by asking STUN
// servers what they see.
package iceip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pion/stun/v3"
)

// DefaultTimeout bounds one server query.
const DefaultTimeout = 2 * time.Second

// ErrNoServers is returned when the server list is empty.
var ErrNoServers = errors.New("iceip: no STUN servers configured")

// Discover queries each server in turn and returns the first reflexive
// address reported. Servers without a port use 3478.
func Discover(ctx context.Context, servers []string) (netip.Addr, error) {
	if len(servers) == 0 {
		return netip.Addr{}, ErrNoServers
	}

	var result *multierror.Error
	for _, server := range servers {
		if err := ctx.Err(); err != nil {
			return netip.Addr{}, err
		}
		addr, err := Query(ctx, server, DefaultTimeout)
		if err == nil {
			return addr, nil
		}
		result = multierror.Append(result, fmt.Errorf("%s: %w", server, err))
	}
	return netip.Addr{}, result.ErrorOrNil()
}

// Query sends one binding request to server and decodes the mapped address
// from the response.
func Query(ctx context.Context, server string, timeout time.Duration) (netip.Addr, error) {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "3478")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return netip.Addr{}, err
	}

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return netip.Addr{}, err
	}
	if _, err := conn.Write(req.Raw); err != nil {
		return netip.Addr{}, fmt.Errorf("failed to send binding request: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("no binding response: %w", err)
		}

		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		if res.Type != stun.BindingSuccess {
			return netip.Addr{}, fmt.Errorf("unexpected response %s", res.Type)
		}
		return mappedAddress(res)
	}
}

func mappedAddress(m *stun.Message) (netip.Addr, error) {
	var xor stun.XORMappedAddress
	if err := xor.GetFrom(m); err == nil {
		if addr, ok := netip.AddrFromSlice(xor.IP); ok {
			return addr.Unmap(), nil
		}
	}
	var mapped stun.MappedAddress
	if err := mapped.GetFrom(m); err != nil {
		return netip.Addr{}, fmt.Errorf("response carries no mapped address: %w", err)
	}
	addr, ok := netip.AddrFromSlice(mapped.IP)
	if !ok {
		return netip.Addr{}, fmt.Errorf("invalid mapped address %v", mapped.IP)
	}
	return addr.Unmap(), nil
}
