// Package worker consumes run requests and executes category runs.
package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/metrics"
	"github.com/JakeFAU/classifieds-crawler/internal/orchestrator"
)

// CategoryRunner executes one category run.
type CategoryRunner interface {
	RunCategory(ctx context.Context, categoryID int64) (orchestrator.Result, error)
}

// Worker consumes queue items and runs their category.
type Worker struct {
	id     int
	queue  catalog.Queue
	runner CategoryRunner
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue catalog.Queue, runner CategoryRunner, logger *zap.Logger) *Worker {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		runner: runner,
		logger: logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued run", zap.String("run_id", req.ID), zap.Int64("category_id", req.CategoryID))
		w.process(ctx, req)
	}
}

func (w *Worker) process(ctx context.Context, req catalog.RunRequest) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	res, err := w.runner.RunCategory(ctx, req.CategoryID)
	if err != nil {
		w.logger.Error("category run failed",
			zap.String("run_id", req.ID),
			zap.Int64("category_id", req.CategoryID),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("category run done",
		zap.String("run_id", req.ID),
		zap.Int64("category_id", req.CategoryID),
		zap.Int("items_found", res.ItemsFound),
		zap.Bool("notified", res.Notified),
	)
}
