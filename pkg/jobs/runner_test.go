package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRunnerExecutesTasks(t *testing.T) {
	var runs int64
	r := NewRunner(zap.NewNop())
	r.Add(Task{
		Name:     "count",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt64(&runs, 1)
			return nil
		},
	})

	r.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	r.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt64(&runs), int64(2))
}

func TestRunnerStopIdempotent(t *testing.T) {
	r := NewRunner(nil)
	r.Add(Task{Name: "noop", Interval: time.Millisecond, Run: func(ctx context.Context) error { return nil }})

	r.Start(context.Background())
	r.Stop()
	r.Stop()
}

func TestRunnerRejectsInvalidTasks(t *testing.T) {
	r := NewRunner(nil)
	r.Add(Task{Name: "no-func", Interval: time.Second})
	r.Add(Task{Name: "no-interval", Run: func(ctx context.Context) error { return nil }})

	assert.Empty(t, r.tasks)
}
