package notify

import "context"

// Notifier delivers lifecycle events to external systems.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
