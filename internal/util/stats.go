package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic counter.
var Stats = &stats{}

type stats struct {
	DatagramsIn  atomic.Int64 // datagrams read from the UDP socket
	DatagramsOut atomic.Int64 // datagrams written to the UDP socket
	BytesIn      atomic.Int64
	BytesOut     atomic.Int64
	Joins        atomic.Int64 // clients whose data channel opened
	Leaves       atomic.Int64 // clients removed for any reason
}

func (s *stats) AddIn(n int) {
	s.DatagramsIn.Add(1)
	s.BytesIn.Add(int64(n))
}

func (s *stats) AddOut(n int) {
	s.DatagramsOut.Add(1)
	s.BytesOut.Add(int64(n))
}

func (s *stats) AddJoin()  { s.Joins.Add(1) }
func (s *stats) AddLeave() { s.Leaves.Add(1) }

type snapshot struct {
	datagramsIn, datagramsOut int64
	bytesIn, bytesOut         int64
	joins, leaves             int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		datagramsIn:  s.DatagramsIn.Load(),
		datagramsOut: s.DatagramsOut.Load(),
		bytesIn:      s.BytesIn.Load(),
		bytesOut:     s.BytesOut.Load(),
		joins:        s.Joins.Load(),
		leaves:       s.Leaves.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// ReportInterval is how often StartStatsReporter samples the counters.
const ReportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs traffic rates every
// ReportInterval while there is activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(ReportInterval)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if line, ok := reportLine(prev, cur, ReportInterval.Seconds()); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// reportLine formats the delta between two snapshots. It reports false when
// nothing noteworthy happened.
func reportLine(prev, cur snapshot, seconds float64) (string, bool) {
	inS := float64(cur.bytesIn-prev.bytesIn) / seconds
	outS := float64(cur.bytesOut-prev.bytesOut) / seconds
	pktIn := float64(cur.datagramsIn-prev.datagramsIn) / seconds
	pktOut := float64(cur.datagramsOut-prev.datagramsOut) / seconds
	joins := cur.joins - prev.joins
	leaves := cur.leaves - prev.leaves

	if joins == 0 && leaves == 0 && inS <= 10 && outS <= 10 {
		return "", false
	}
	return formatStats(inS, outS, pktIn, pktOut, joins, leaves), true
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(inS, outS, pktIn, pktOut float64, joins, leaves int64) string {
	return fmt.Sprintf("In: %s/s %6.0f pkt/s | Out: %s/s %6.0f pkt/s | Clients: %2d↑ %2d↓",
		formatBytes(inS), pktIn,
		formatBytes(outS), pktOut,
		joins,
		leaves,
	)
}
