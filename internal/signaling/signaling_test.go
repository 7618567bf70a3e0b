package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/1ureka/webudp/internal/engine"
)

const offer = "v=0\r\n" +
	"o=- 1 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:0123456789012345678901234\r\n" +
	"a=mid:0\r\n" +
	"a=sctp-port:5000\r\n"

// lockedEngine serializes engine access the way the host does.
type lockedEngine struct {
	mu sync.Mutex
	e  *engine.Engine
}

func (l *lockedEngine) ExchangeSDP(offer []byte) engine.SDPResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := l.e.ExchangeSDP(offer)
	res.Answer = append([]byte(nil), res.Answer...)
	return res
}

func newServer(t *testing.T, maxClients int) *httptest.Server {
	t.Helper()
	e, err := engine.New(engine.Options{
		Host:       "127.0.0.1",
		Port:       9555,
		MaxClients: maxClients,
		Write:      func([]byte, netip.AddrPort) {},
	})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	srv := httptest.NewServer(NewServer(&lockedEngine{e: e}, "/webrtc"))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/sdp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestPostOffer(t *testing.T) {
	srv := newServer(t, 1)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"accepted", offer, http.StatusOK},
		{"full", offer, http.StatusServiceUnavailable},
		{"invalid", "v=0\r\n", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := post(t, srv.URL+"/webrtc", tt.body)
			if code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", code, tt.want, body)
			}
			if code != http.StatusOK {
				return
			}
			var a Answer
			if err := json.Unmarshal([]byte(body), &a); err != nil {
				t.Fatalf("answer is not JSON: %v", err)
			}
			if a.Answer.Type != "answer" || !strings.Contains(a.Answer.SDP, "a=mid:0") {
				t.Errorf("answer = %+v", a.Answer)
			}
			if a.Candidate.SDPMid != "0" || !strings.Contains(a.Candidate.Candidate, "127.0.0.1 9555 typ host") {
				t.Errorf("candidate = %+v", a.Candidate)
			}
		})
	}
}

func TestPostRejectsOtherMethods(t *testing.T) {
	srv := newServer(t, 1)
	resp, err := http.Get(srv.URL + "/webrtc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", resp.StatusCode)
	}
}

func TestWebSocketExchange(t *testing.T) {
	srv := newServer(t, 1)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + WSPath

	conn, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	a, err := Exchange(conn, offer)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if !strings.Contains(a.Answer.SDP, "a=ice-ufrag:") {
		t.Errorf("answer SDP = %q", a.Answer.SDP)
	}

	// The single slot is taken now.
	_, err = Exchange(conn, offer)
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Code != http.StatusServiceUnavailable {
		t.Fatalf("second Exchange = %v, want 503 rejection", err)
	}

	_, err = Exchange(conn, "garbage")
	if !errors.As(err, &rejected) || rejected.Code != http.StatusBadRequest {
		t.Fatalf("garbage Exchange = %v, want 400 rejection", err)
	}
}

func TestWebSocketUnexpectedType(t *testing.T) {
	srv := newServer(t, 1)
	conn, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+WSPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Message{Type: MsgTypeAnswer}); err != nil {
		t.Fatal(err)
	}
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != MsgTypeError || msg.Code != http.StatusBadRequest {
		t.Errorf("reply = %+v", msg)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		in   engine.SDPStatus
		want int
	}{
		{engine.SDPSuccess, http.StatusOK},
		{engine.SDPInvalid, http.StatusBadRequest},
		{engine.SDPMaxClients, http.StatusServiceUnavailable},
		{engine.SDPError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusCode(tt.in); got != tt.want {
			t.Errorf("statusCode(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
