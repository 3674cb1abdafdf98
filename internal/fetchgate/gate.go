// Package fetchgate bounds the number of concurrent outbound requests made by
// the whole process. One Gate is built at startup and shared by every source.
package fetchgate

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/stockcrawler/internal/metrics"
)

// DefaultMaxConcurrent returns the permit count used when none is configured.
func DefaultMaxConcurrent() int {
	return 4 * runtime.GOMAXPROCS(0)
}

// Gate hands out a fixed number of permits. Waiters are served in FIFO order.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
}

// New builds a Gate with max permits. max <= 0 selects DefaultMaxConcurrent.
func New(maxConcurrent int) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent()
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		capacity: maxConcurrent,
	}
}

// Permit is one unit of outbound capacity.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Release returns the permit. Calls after the first are no-ops.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		n := p.gate.inFlight.Add(-1)
		p.gate.sem.Release(1)
		metrics.SetFetchGateInFlight(n)
	})
}

// Acquire blocks until a permit is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	start := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire fetch permit: %w", err)
	}
	metrics.ObserveFetchGateWait(time.Since(start))
	metrics.SetFetchGateInFlight(g.inFlight.Add(1))
	return &Permit{gate: g}, nil
}

// Do runs fn while holding a permit. The permit is released when fn returns
// or panics.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	permit, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()
	return fn(ctx)
}

// InFlight reports the number of permits currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Capacity reports the total number of permits.
func (g *Gate) Capacity() int {
	return g.capacity
}
