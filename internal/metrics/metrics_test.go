package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/1ureka/webudp/internal/engine"
)

type fixedStats engine.Stats

func (f fixedStats) Stats() engine.Stats { return engine.Stats(f) }

func sample() fixedStats {
	return fixedStats{
		Clients:       map[engine.State]int{engine.StateDataChannelOpen: 3, engine.StateHandshake: 1},
		DatagramsIn:   10,
		DatagramsOut:  12,
		BytesIn:       1000,
		BytesOut:      2000,
		Dropped:       2,
		Joins:         3,
		Leaves:        1,
		SDPAccepted:   4,
		SDPMaxClients: 1,
	}
}

func findMetric(t *testing.T, families []*dto.MetricFamily, name string, label ...string) float64 {
	t.Helper()
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if len(label) == 2 && !hasLabel(m, label[0], label[1]) {
				continue
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, label)
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestCollectorGather(t *testing.T) {
	reg, err := NewRegistry(sample())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	tests := []struct {
		name  string
		label []string
		want  float64
	}{
		{"webudp_engine_clients", []string{"state", "data-channel-open"}, 3},
		{"webudp_engine_clients", []string{"state", "handshake"}, 1},
		{"webudp_engine_clients", []string{"state", "pending-removal"}, 0},
		{"webudp_engine_datagrams_total", []string{"direction", "out"}, 12},
		{"webudp_engine_bytes_total", []string{"direction", "in"}, 1000},
		{"webudp_engine_dropped_total", nil, 2},
		{"webudp_engine_joins_total", nil, 3},
		{"webudp_engine_sdp_exchanges_total", []string{"status", "max-clients"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findMetric(t, families, tt.name, tt.label...); got != tt.want {
				t.Errorf("%s%v = %v, want %v", tt.name, tt.label, got, tt.want)
			}
		})
	}
}

func TestHandlerServesExposition(t *testing.T) {
	reg, err := NewRegistry(sample())
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(Handler(reg, "/metrics"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{"webudp_engine_leaves_total 1", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}

	resp2, err := http.Get(srv.URL + "/other")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d", resp2.StatusCode)
	}
}
