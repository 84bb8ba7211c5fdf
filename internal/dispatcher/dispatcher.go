// Package dispatcher manages worker fan-out over the run queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   catalog.Queue
	ids     catalog.IDGenerator
	clock   catalog.Clock
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue catalog.Queue, ids catalog.IDGenerator, clock catalog.Clock, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		ids:     ids,
		clock:   clock,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit queues a run of categoryID and returns the request.
func (d *Dispatcher) Submit(ctx context.Context, categoryID int64) (catalog.RunRequest, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return catalog.RunRequest{}, fmt.Errorf("run id: %w", err)
	}
	req := catalog.RunRequest{ID: id, CategoryID: categoryID, Submitted: d.clock.Now()}
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return catalog.RunRequest{}, fmt.Errorf("queue enqueue: %w", err)
	}
	return req, nil
}
