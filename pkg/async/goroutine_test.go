package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trusteekit/boardroom/pkg/observability"
)

func TestSafeGo(t *testing.T) {
	logger := observability.NewNopLogger()

	t.Run("runs the task", func(t *testing.T) {
		done := make(chan struct{})
		SafeGo(context.Background(), logger, time.Second, "test", func(ctx context.Context) error {
			close(done)
			return nil
		})

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("task did not run")
		}
	})

	t.Run("recovers from panics", func(t *testing.T) {
		done := make(chan struct{})
		SafeGo(context.Background(), logger, time.Second, "test", func(ctx context.Context) error {
			defer close(done)
			panic("boom")
		})

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("task did not run")
		}
		// Reaching here without the test process dying is the assertion.
	})

	t.Run("swallows errors", func(t *testing.T) {
		var ran atomic.Bool
		done := make(chan struct{})
		SafeGo(context.Background(), logger, time.Second, "test", func(ctx context.Context) error {
			ran.Store(true)
			close(done)
			return errors.New("delivery failed")
		})

		<-done
		assert.True(t, ran.Load())
	})

	t.Run("applies the deadline", func(t *testing.T) {
		deadlineCh := make(chan bool, 1)
		SafeGo(context.Background(), logger, time.Second, "test", func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			deadlineCh <- ok
			return nil
		})

		select {
		case ok := <-deadlineCh:
			require.True(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("task did not run")
		}
	})
}
