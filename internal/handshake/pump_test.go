package handshake

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
)

var (
	serverAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9555}
	clientAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
)

func TestGenerateCertificate(t *testing.T) {
	cert, err := GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}

	// 32 bytes as colon-separated hex.
	if len(cert.Fingerprint) != 32*3-1 {
		t.Fatalf("fingerprint %q has length %d, want %d", cert.Fingerprint, len(cert.Fingerprint), 32*3-1)
	}
	if cert.Fingerprint != strings.ToUpper(cert.Fingerprint) {
		t.Errorf("fingerprint %q is not uppercase", cert.Fingerprint)
	}
	if strings.Count(cert.Fingerprint, ":") != 31 {
		t.Errorf("fingerprint %q is not colon separated", cert.Fingerprint)
	}
}

func TestSendBeforeHandshake(t *testing.T) {
	cert, err := GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}

	p := NewPump(serverAddr, clientAddr, Config{Certificate: cert.TLS})
	defer p.Close()

	if err := p.Send([]byte("too early")); !errors.Is(err, ErrNotEstablished) {
		t.Fatalf("Send error = %v, want ErrNotEstablished", err)
	}
	if p.Established() {
		t.Fatal("pump reports established without a handshake")
	}
}

func TestCloseWithoutPeer(t *testing.T) {
	cert, err := GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}

	p := NewPump(serverAddr, clientAddr, Config{Certificate: cert.TLS})
	if err := p.Feed([]byte{22, 0xfe, 0xfd, 0, 0}); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if p.State() != StateClosed {
		t.Errorf("state = %v, want closed", p.State())
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

// TestHandshakeAndRecords drives a pion DTLS client against the pump through
// an in-memory relay and exchanges one record each way. The browser case
// offers use_srtp the way WebRTC stacks always do.
func TestHandshakeAndRecords(t *testing.T) {
	tests := []struct {
		name     string
		profiles []dtls.SRTPProtectionProfile
	}{
		{"plain client", nil},
		{"browser client", []dtls.SRTPProtectionProfile{
			dtls.SRTP_AEAD_AES_256_GCM,
			dtls.SRTP_AEAD_AES_128_GCM,
			dtls.SRTP_AES128_CM_HMAC_SHA1_80,
		}},
		{"legacy browser client", []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runHandshake(t, tt.profiles)
		})
	}
}

func runHandshake(t *testing.T, profiles []dtls.SRTPProtectionProfile) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cert, err := GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate failed: %v", err)
	}

	activity := make(chan struct{}, 1)
	server := NewPump(serverAddr, clientAddr, Config{
		Certificate: cert.TLS,
		OnActivity: func() {
			select {
			case activity <- struct{}{}:
			default:
			}
		},
	})
	defer server.Close()

	clientSide := newMemConn(clientAddr, serverAddr, func(b []byte) {
		if err := server.Feed(b); err != nil {
			t.Errorf("Feed failed: %v", err)
		}
	})
	defer clientSide.Close()

	// Relay: server ciphertext -> client, decrypted records -> appCh.
	appCh := make(chan []byte, 8)
	go func() {
		for {
			select {
			case <-activity:
				server.DrainOutgoing(func(b []byte) { _, _ = clientSide.in.Write(b) })
				server.DrainApplication(func(b []byte) { appCh <- b })
			case <-ctx.Done():
				return
			}
		}
	}()

	clientCert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		t.Fatalf("client certificate: %v", err)
	}
	client, err := dtls.Client(clientSide, serverAddr, &dtls.Config{
		Certificates:           []tls.Certificate{clientCert},
		InsecureSkipVerify:     true,
		ExtendedMasterSecret:   dtls.RequireExtendedMasterSecret,
		SRTPProtectionProfiles: profiles,
	})
	if err != nil {
		t.Fatalf("dtls.Client failed: %v", err)
	}
	defer client.Close()

	if err := client.HandshakeContext(ctx); err != nil {
		t.Fatalf("client handshake failed: %v", err)
	}
	if _, ok := client.SelectedSRTPProtectionProfile(); ok != (len(profiles) > 0) {
		t.Errorf("SRTP profile negotiated = %v, want %v", ok, len(profiles) > 0)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !server.Established() {
		if time.Now().After(deadline) {
			t.Fatalf("server never reported established (state %v)", server.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
	select {
	case got := <-appCh:
		if string(got) != "ping" {
			t.Fatalf("server decrypted %q, want ping", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for decrypted record")
	}

	if err := server.Send([]byte("pong")); err != nil {
		t.Fatalf("server Send failed: %v", err)
	}
	readCh := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := client.Read(buf)
		if err != nil {
			readCh <- "error: " + err.Error()
			return
		}
		readCh <- string(buf[:n])
	}()
	select {
	case got := <-readCh:
		if got != "pong" {
			t.Fatalf("client read %q, want pong", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for server record")
	}

	server.DrainErrors(func(err error) { t.Errorf("unexpected session error: %v", err) })
}
