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

// Stats is the process-wide relay counter.
var Stats = &stats{}

type stats struct {
	Joins     atomic.Int64 // cumulative participants admitted since process start
	Leaves    atomic.Int64 // cumulative participants removed since process start
	Forwarded atomic.Int64 // targeted signaling envelopes forwarded
	Broadcast atomic.Int64 // per-recipient sends from RoomUsers/Chat fan-out
	Dropped   atomic.Int64 // envelopes dropped (routing miss or protocol error)
}

func (s *stats) AddJoin()      { s.Joins.Add(1) }
func (s *stats) AddLeave()     { s.Leaves.Add(1) }
func (s *stats) AddForwarded() { s.Forwarded.Add(1) }
func (s *stats) AddBroadcast() { s.Broadcast.Add(1) }
func (s *stats) AddDropped()   { s.Dropped.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs relay statistics every
// 10 seconds when there was activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevJoins, prevLeaves, prevFwd, prevBcast, prevDrop int64
		for {
			select {
			case <-ticker.C:
				joins := Stats.Joins.Load()
				leaves := Stats.Leaves.Load()
				fwd := Stats.Forwarded.Load()
				bcast := Stats.Broadcast.Load()
				drop := Stats.Dropped.Load()

				dJoins := joins - prevJoins
				dLeaves := leaves - prevLeaves
				dFwd := fwd - prevFwd
				dBcast := bcast - prevBcast
				dDrop := drop - prevDrop

				if dJoins > 0 || dLeaves > 0 || dFwd > 0 || dBcast > 0 || dDrop > 0 {
					pterm.DefaultLogger.Info(formatStats(dJoins, dLeaves, dFwd, dBcast, dDrop))
				}

				prevJoins = joins
				prevLeaves = leaves
				prevFwd = fwd
				prevBcast = bcast
				prevDrop = drop

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the last interval's counters.
func formatStats(joins, leaves, fwd, bcast, drop int64) string {
	return fmt.Sprintf("Join: %2d | Leave: %2d | Fwd: %4d | Bcast: %4d | Drop: %3d",
		joins, leaves, fwd, bcast, drop)
}
