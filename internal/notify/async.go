package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDeliveryTimeout bounds one background delivery, retries included.
const DefaultDeliveryTimeout = 45 * time.Second

// AsyncNotifier hands events to a background goroutine and returns at once.
// Deliveries are detached from the caller's cancellation and bounded by the
// delivery timeout. Failures are logged.
type AsyncNotifier struct {
	logger  zerolog.Logger
	next    Notifier
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsyncNotifier wraps next. A non-positive timeout uses DefaultDeliveryTimeout.
func NewAsyncNotifier(logger zerolog.Logger, next Notifier, timeout time.Duration) *AsyncNotifier {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &AsyncNotifier{logger: logger, next: next, timeout: timeout}
}

// Notify implements Notifier. It never returns an error.
func (n *AsyncNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.next == nil {
		return nil
	}

	deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer cancel()
		if err := n.next.Notify(deliveryCtx, event); err != nil {
			n.logger.Warn().
				Err(err).
				Str("kind", string(event.Kind)).
				Str("server", event.Server).
				Msg("notification failed")
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (n *AsyncNotifier) Wait(ctx context.Context) error {
	if n == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
