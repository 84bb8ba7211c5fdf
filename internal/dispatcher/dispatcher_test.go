// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/orchestrator"
	"github.com/JakeFAU/classifieds-crawler/internal/worker"
)

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type noopRunner struct{}

func (noopRunner) RunCategory(context.Context, int64) (orchestrator.Result, error) {
	return orchestrator.Result{}, nil
}

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(1, queue, noopRunner{}, nil)
	dispatch := New(queue, fixedIDs{}, fixedClock{}, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherSubmitBuildsRequest checks ID and timestamp assignment.
func TestDispatcherSubmitBuildsRequest(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	queue := &recordingQueue{}
	dispatch := New(queue, fixedIDs{id: "run-7"}, fixedClock{t: now}, nil)

	req, err := dispatch.Submit(context.Background(), 12)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	want := catalog.RunRequest{ID: "run-7", CategoryID: 12, Submitted: now}
	if req != want || len(queue.items) != 1 || queue.items[0] != want {
		t.Fatalf("unexpected request %+v queued %+v", req, queue.items)
	}
}

// TestDispatcherSubmitForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherSubmitForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, fixedIDs{id: "x"}, fixedClock{}, nil)

	_, err := dispatch.Submit(context.Background(), 1)
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ catalog.RunRequest) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (catalog.RunRequest, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return catalog.RunRequest{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type recordingQueue struct {
	items []catalog.RunRequest
}

func (q *recordingQueue) Enqueue(_ context.Context, req catalog.RunRequest) error {
	q.items = append(q.items, req)
	return nil
}

func (q *recordingQueue) Dequeue(context.Context) (catalog.RunRequest, error) {
	return catalog.RunRequest{}, nil
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, catalog.RunRequest) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (catalog.RunRequest, error) {
	return catalog.RunRequest{}, nil
}
