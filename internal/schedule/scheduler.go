// Package schedule enqueues category runs on each category's search frequency.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

const submitTimeout = 5 * time.Second

// Submitter queues a category run.
type Submitter interface {
	Submit(ctx context.Context, categoryID int64) (catalog.RunRequest, error)
}

// CategoryLister lists the categories to schedule.
type CategoryLister interface {
	ListCategories(ctx context.Context) ([]catalog.Category, error)
}

// Scheduler owns one cron entry per category.
type Scheduler struct {
	cron      *cron.Cron
	lister    CategoryLister
	submitter Submitter
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[int64]cron.EntryID
}

// New builds a Scheduler. Call Sync to load entries, then Start.
func New(lister CategoryLister, submitter Submitter, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:      cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		lister:    lister,
		submitter: submitter,
		logger:    logger.Named("schedule"),
		entries:   make(map[int64]cron.EntryID),
	}
}

// Sync replaces the entries with one "@every <frequency>" job per category.
// Categories with a zero frequency are only run on demand.
func (s *Scheduler) Sync(ctx context.Context) error {
	categories, err := s.lister.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	for _, c := range categories {
		if c.SearchFrequency <= 0 {
			continue
		}
		categoryID := c.ID
		every := fmt.Sprintf("@every %s", c.SearchFrequency)
		entry, err := s.cron.AddFunc(every, func() { s.trigger(categoryID) })
		if err != nil {
			return fmt.Errorf("schedule category %d: %w", c.ID, err)
		}
		s.entries[c.ID] = entry
		s.logger.Info("category scheduled", zap.Int64("category_id", c.ID), zap.String("schedule", every))
	}
	return nil
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Len reports how many categories are scheduled.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) trigger(categoryID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	req, err := s.submitter.Submit(ctx, categoryID)
	if err != nil {
		s.logger.Warn("scheduled run dropped", zap.Int64("category_id", categoryID), zap.Error(err))
		return
	}
	s.logger.Debug("scheduled run queued", zap.Int64("category_id", categoryID), zap.String("run_id", req.ID))
}
