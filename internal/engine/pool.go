package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Pool hands out a fixed set of workers round-robin. Membership never changes
// after NewPool returns, so Acquire needs no lock.
type Pool struct {
	workers []Worker
	next    atomic.Uint64
}

// NewPool starts count workers concurrently. If any worker fails to start,
// the ones that did start are closed and the error is returned; there is no
// retry.
func NewPool(ctx context.Context, e Engine, count int) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("worker count must be > 0, got %d", count)
	}

	workers := make([]Worker, count)
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		i := i
		g.Go(func() error {
			w, err := e.CreateWorker(gctx)
			if err != nil {
				return fmt.Errorf("create worker %d: %w", i, err)
			}
			workers[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, w := range workers {
			if w != nil {
				_ = w.Close()
			}
		}
		return nil, err
	}
	return &Pool{workers: workers}, nil
}

// Acquire returns the next worker in round-robin order.
func (p *Pool) Acquire() Worker {
	n := p.next.Add(1) - 1
	return p.workers[n%uint64(len(p.workers))]
}

func (p *Pool) Workers() []Worker {
	out := make([]Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

func (p *Pool) Len() int {
	return len(p.workers)
}

func (p *Pool) Close() error {
	var errs []error
	for _, w := range p.workers {
		if err := w.Close(); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, fmt.Errorf("close worker %s: %w", w.ID(), err))
		}
	}
	return errors.Join(errs...)
}
