package sdp

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	pionsdp "github.com/pion/sdp/v3"

	"github.com/1ureka/webudp/internal/mem"
)

const browserOffer = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0\r\n" +
	"a=extmap-allow-mixed\r\n" +
	"a=msid-semantic: WMS\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:0123456789012345678901234\r\n" +
	"a=ice-options:trickle\r\n" +
	"a=fingerprint:sha-256 00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF\r\n" +
	"a=setup:actpass\r\n" +
	"a=mid:0\r\n" +
	"a=sctp-port:5000\r\n" +
	"a=max-message-size:262144\r\n"

func TestParseBrowserOffer(t *testing.T) {
	offer, err := Parse([]byte(browserOffer))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := Offer{Ufrag: "abcd", Password: "0123456789012345678901234", Mid: "0"}
	if offer != want {
		t.Errorf("offer = %+v, want %+v", offer, want)
	}
}

func TestParseFieldOrder(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"ufrag pwd mid", "a=ice-ufrag:Xy+/\na=ice-pwd:pw12345678901234567890AB\na=mid:data\n"},
		{"mid pwd ufrag", "a=mid:data\r\na=ice-pwd:pw12345678901234567890AB\r\na=ice-ufrag:Xy+/\r\n"},
		{"no trailing newline", "a=mid:data\na=ice-ufrag:Xy+/\na=ice-pwd:pw12345678901234567890AB"},
		{"noise between", "v=0\nb=AS:30\na=ice-pwd:pw12345678901234567890AB\nx=1\na=mid:data\nm=foo\na=ice-ufrag:Xy+/\n"},
	}

	want := Offer{Ufrag: "Xy+/", Password: "pw12345678901234567890AB", Mid: "data"}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			offer, err := Parse([]byte(tc.body))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if offer != want {
				t.Errorf("offer = %+v, want %+v", offer, want)
			}
		})
	}
}

func TestParseFirstValueWins(t *testing.T) {
	body := "a=mid:0\na=ice-ufrag:first\na=ice-pwd:secretsecretsecretsecret\na=mid:1\na=ice-ufrag:second\n"
	offer, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if offer.Mid != "0" || offer.Ufrag != "first" {
		t.Errorf("offer = %+v, want the first mid and ufrag", offer)
	}
}

func TestParseMissingFields(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"missing ufrag", "a=ice-pwd:pw12345678901234567890AB\na=mid:0\n"},
		{"missing pwd", "a=ice-ufrag:abcd\na=mid:0\n"},
		{"missing mid", "a=ice-ufrag:abcd\na=ice-pwd:pw12345678901234567890AB\n"},
		{"empty ufrag value", "a=ice-ufrag:\na=ice-pwd:pw12345678901234567890AB\na=mid:0\n"},
		{"fields outside attribute lines", "ice-ufrag:abcd\nice-pwd:pw12345678901234567890AB\nmid:0\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.body))
			if !errors.Is(err, ErrMissingField) {
				t.Fatalf("Parse error = %v, want ErrMissingField", err)
			}
		})
	}
}

func TestParseInvalidFields(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"quote in mid", "a=ice-ufrag:abcd\na=ice-pwd:pw12345678901234567890AB\na=mid:0\"\n"},
		{"space in ufrag", "a=ice-ufrag:ab cd\na=ice-pwd:pw12345678901234567890AB\na=mid:0\n"},
		{"ufrag too long", "a=ice-ufrag:" + strings.Repeat("a", maxUfragLength+1) + "\na=ice-pwd:x\na=mid:0\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.body))
			if !errors.Is(err, ErrInvalidField) {
				t.Fatalf("Parse error = %v, want ErrInvalidField", err)
			}
		})
	}
}

type answerDoc struct {
	Answer struct {
		SDP  string `json:"sdp"`
		Type string `json:"type"`
	} `json:"answer"`
	Candidate struct {
		SDPMLineIndex int    `json:"sdpMLineIndex"`
		SDPMid        string `json:"sdpMid"`
		Candidate     string `json:"candidate"`
	} `json:"candidate"`
}

func testAnswer() *Answer {
	return &Answer{
		SessionID:   123456,
		Host:        "203.0.113.9",
		Port:        9555,
		Ufrag:       "wxyz",
		Password:    "abcdefghijklmnopqrstuvwx",
		Fingerprint: "AA:BB:CC",
		Mid:         "0",
		Priority:    2130706431,
	}
}

func TestGenerateAnswer(t *testing.T) {
	arena := mem.NewArena(1 << 16)

	out, err := Generate(arena, testAnswer())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if arena.Used() != len(out) {
		t.Errorf("arena used %d bytes for a %d byte answer", arena.Used(), len(out))
	}
	if !strings.Contains(string(out), `"sdpMid":"0"`) {
		t.Errorf("answer does not contain sdpMid: %s", out)
	}

	var doc answerDoc
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("answer is not valid JSON: %v\n%s", err, out)
	}
	if doc.Answer.Type != "answer" {
		t.Errorf("type = %q, want answer", doc.Answer.Type)
	}
	if doc.Candidate.Candidate != "candidate:1 1 UDP 2130706431 203.0.113.9 9555 typ host" {
		t.Errorf("candidate = %q", doc.Candidate.Candidate)
	}

	var desc pionsdp.SessionDescription
	if err := desc.UnmarshalString(doc.Answer.SDP); err != nil {
		t.Fatalf("answer SDP rejected by pion: %v\n%s", err, doc.Answer.SDP)
	}
	if len(desc.MediaDescriptions) != 1 {
		t.Fatalf("media sections = %d, want 1", len(desc.MediaDescriptions))
	}
	media := desc.MediaDescriptions[0]
	if media.MediaName.Media != "application" || media.MediaName.Port.Value != 9555 {
		t.Errorf("media = %+v", media.MediaName)
	}

	wantAttrs := map[string]string{
		"ice-ufrag":   "wxyz",
		"ice-pwd":     "abcdefghijklmnopqrstuvwx",
		"fingerprint": "sha-256 AA:BB:CC",
		"setup":       "passive",
		"mid":         "0",
		"sctp-port":   "9555",
	}
	for key, want := range wantAttrs {
		got, ok := media.Attribute(key)
		if !ok || got != want {
			t.Errorf("a=%s = %q (present=%v), want %q", key, got, ok, want)
		}
	}
	if _, ok := media.Attribute("ice-lite"); !ok {
		t.Error("answer is missing a=ice-lite")
	}
}

func TestGenerateIPv6Host(t *testing.T) {
	a := testAnswer()
	a.Host = "2001:db8::1"
	out, err := Generate(mem.NewArena(1<<16), a)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(string(out), `c=IN IP6 2001:db8::1`) {
		t.Errorf("IPv6 connection line missing: %s", out)
	}
}

func TestGenerateFailures(t *testing.T) {
	big := testAnswer()
	big.Fingerprint = strings.Repeat("AB:", MaxAnswerLength)
	if _, err := Generate(mem.NewArena(1<<16), big); !errors.Is(err, ErrAnswerTooLarge) {
		t.Errorf("oversized answer error = %v, want ErrAnswerTooLarge", err)
	}

	if _, err := Generate(mem.NewArena(16), testAnswer()); !errors.Is(err, ErrArenaExhausted) {
		t.Errorf("small arena error = %v, want ErrArenaExhausted", err)
	}
}
