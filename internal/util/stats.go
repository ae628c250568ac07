package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Relay traffic counters
// ──────────────────────────────────────────────────────────────────────────────

// Stats counts relay traffic. The zero value is ready to use.
type Stats struct {
	TotalConns  atomic.Int64 // connections accepted since start
	ClosedConns atomic.Int64 // connections closed since start
	BytesIn     atomic.Int64 // payload bytes read from clients
	BytesOut    atomic.Int64 // payload bytes written to clients
	Dropped     atomic.Int64 // frames dropped on a full buffer or rate limit
}

func (s *Stats) AddConn()      { s.TotalConns.Add(1) }
func (s *Stats) RemoveConn()   { s.ClosedConns.Add(1) }
func (s *Stats) AddIn(n int)   { s.BytesIn.Add(int64(n)) }
func (s *Stats) AddOut(n int)  { s.BytesOut.Add(int64(n)) }
func (s *Stats) AddDropped()   { s.Dropped.Add(1) }
func (s *Stats) Active() int64 { return s.TotalConns.Load() - s.ClosedConns.Load() }

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	TotalConns, ClosedConns int64
	BytesIn, BytesOut       int64
	Dropped                 int64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalConns:  s.TotalConns.Load(),
		ClosedConns: s.ClosedConns.Load(),
		BytesIn:     s.BytesIn.Load(),
		BytesOut:    s.BytesOut.Load(),
		Dropped:     s.Dropped.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter logs the traffic of each interval until ctx is done.
// Quiet intervals are skipped.
func StartStatsReporter(ctx context.Context, s *Stats, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := s.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()
				if line, ok := reportLine(prev, cur, interval); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

func reportLine(prev, cur StatsSnapshot, interval time.Duration) (string, bool) {
	secs := interval.Seconds()
	inS := float64(cur.BytesIn-prev.BytesIn) / secs
	outS := float64(cur.BytesOut-prev.BytesOut) / secs
	opened := cur.TotalConns - prev.TotalConns
	closed := cur.ClosedConns - prev.ClosedConns
	dropped := cur.Dropped - prev.Dropped

	if opened == 0 && closed == 0 && dropped == 0 && inS <= 10 && outS <= 10 {
		return "", false
	}
	return fmt.Sprintf("In: %s/s | Out: %s/s | Conn: %2d↑ %2d↓ (%d live) | Dropped: %d",
		formatBytes(inS),
		formatBytes(outS),
		opened,
		closed,
		cur.TotalConns-cur.ClosedConns,
		dropped,
	), true
}

var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes renders b in exactly 8 characters, e.g. "99.0   B" or " 1.5 KiB".
func formatBytes(b float64) string {
	unitIdx := 0
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}
	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}
