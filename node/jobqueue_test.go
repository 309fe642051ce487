package node

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueSyncJobRuns(t *testing.T) {
	q, err := NewQueue(2)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	res, err := q.Submit(context.Background(), Job{
		Sync: func(CancelToken) JobResult {
			return JobResult{Value: 7}
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Value != 7 {
		t.Fatalf("expected value 7, got %v", res.Value)
	}
}

func TestQueueAsyncJobRuns(t *testing.T) {
	q, err := NewQueue(1)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	res, err := q.Submit(context.Background(), Job{
		Async: func(CancelToken) <-chan JobResult {
			ch := make(chan JobResult, 1)
			ch <- JobResult{Value: "done"}
			return ch
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Value != "done" {
		t.Fatalf("expected \"done\", got %v", res.Value)
	}
}

func TestQueueSyncJobPollsCancellation(t *testing.T) {
	q, err := NewQueue(1)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	go func() {
		<-started
		cancel()
	}()

	_, err = q.Submit(ctx, Job{
		Sync: func(tok CancelToken) JobResult {
			close(started)
			<-tok.Done()
			return JobResult{Err: tok.Err()}
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestQueueCapacityLimitsConcurrency(t *testing.T) {
	q, err := NewQueue(1)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	release := make(chan struct{})
	firstStarted := make(chan struct{})

	go func() {
		_, _ = q.Submit(context.Background(), Job{
			Sync: func(CancelToken) JobResult {
				close(firstStarted)
				<-release
				return JobResult{}
			},
		})
	}()

	<-firstStarted
	if q.TryAcquire() {
		t.Fatalf("expected queue to be at capacity")
	}
	close(release)

	deadline := time.After(time.Second)
	for q.Running() > 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for running job to finish")
		case <-time.After(time.Millisecond):
		}
	}
	if !q.TryAcquire() {
		t.Fatalf("expected a free slot after job completion")
	}
}

func TestNewQueueRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := NewQueue(0); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
	if _, err := NewQueue(-1); err == nil {
		t.Fatalf("expected error for negative capacity")
	}
}
