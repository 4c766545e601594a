package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/trusteekit/boardroom/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery, a deadline, and
// error logging. Use it for side effects that must not block or crash
// the caller, such as invitation notifications.
//
// The context passed to fn derives from parent; pass
// context.Background() when the work must outlive the request that
// triggered it.
func SafeGo(parent context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				}).Error("background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}
