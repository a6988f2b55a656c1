package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_RunOnce(t *testing.T) {
	var ran []string

	w := NewWorker(Config{}, testLogger(),
		JobFunc{JobName: "first", Fn: func(ctx context.Context) error {
			ran = append(ran, "first")
			return nil
		}},
		JobFunc{JobName: "second", Fn: func(ctx context.Context) error {
			ran = append(ran, "second")
			return nil
		}},
	)

	w.RunOnce(context.Background())

	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestWorker_FailingJobDoesNotStopOthers(t *testing.T) {
	var ran []string

	w := NewWorker(Config{}, testLogger(),
		JobFunc{JobName: "broken", Fn: func(ctx context.Context) error {
			ran = append(ran, "broken")
			return errors.New("boom")
		}},
		JobFunc{JobName: "healthy", Fn: func(ctx context.Context) error {
			ran = append(ran, "healthy")
			return nil
		}},
	)

	w.RunOnce(context.Background())

	assert.Equal(t, []string{"broken", "healthy"}, ran)
}

func TestWorker_JobTimeout(t *testing.T) {
	var sawDeadline bool

	w := NewWorker(Config{JobTimeout: time.Minute}, testLogger(),
		JobFunc{JobName: "timed", Fn: func(ctx context.Context) error {
			_, sawDeadline = ctx.Deadline()
			return nil
		}},
	)

	w.RunOnce(context.Background())

	assert.True(t, sawDeadline)
}

func TestWorker_StartStopsOnCancel(t *testing.T) {
	w := NewWorker(Config{Interval: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(Config{}, testLogger())

	assert.NotEmpty(t, w.config.WorkerID)
	assert.Equal(t, time.Hour, w.config.Interval)
}
