package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type countingNotifier struct {
	calls int
	err   error
}

func (n *countingNotifier) Notify(context.Context, Event) error {
	n.calls++
	return n.err
}

func TestMultiNotifierDispatchesToAll(t *testing.T) {
	failing := &countingNotifier{err: errors.New("boom")}
	ok := &countingNotifier{}
	multi := NewMultiNotifier(failing, nil, ok)

	if multi.Len() != 2 {
		t.Fatalf("expected nil notifiers to be filtered, got %d", multi.Len())
	}

	err := multi.Notify(context.Background(), shutdownEvent())
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected first error, got %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Fatalf("expected every notifier to be called, got %d and %d", failing.calls, ok.calls)
	}
}

func TestDryRunNotifierSuppressesDelivery(t *testing.T) {
	inner := &countingNotifier{}
	dryRun := NewDryRunNotifier(zerolog.Nop(), inner)

	if err := dryRun.Notify(context.Background(), shutdownEvent()); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected no notifier calls, got %d", inner.calls)
	}
}
