// Package gate bounds how many network operations a stage may have in
// flight at once.
package gate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting admission gate. Every successful Acquire must be
// paired with exactly one Release.
type Gate struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
	peak     atomic.Int64
	admitted atomic.Int64
}

// New returns a gate admitting at most limit holders. Limits below one
// are raised to one.
func New(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: int64(limit),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := g.inFlight.Add(1)
	g.admitted.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return nil
}

func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

func (g *Gate) Limit() int { return int(g.limit) }

// InFlight is the number of current holders.
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

// Peak is the highest InFlight value observed since creation.
func (g *Gate) Peak() int { return int(g.peak.Load()) }

// Admitted counts every successful Acquire.
func (g *Gate) Admitted() int { return int(g.admitted.Load()) }
