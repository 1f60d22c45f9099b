package notify

import (
	"fmt"
	"time"
)

// Kind classifies a lifecycle event.
type Kind string

const (
	KindStateChanged   Kind = "state_changed"
	KindIdleRegistered Kind = "idle_registered"
	KindIdleCleared    Kind = "idle_cleared"
	KindIdleShutdown   Kind = "idle_shutdown"
)

// Event describes a change in the game server's lifecycle.
type Event struct {
	Kind       Kind          `json:"kind"`
	Server     string        `json:"server"`
	Target     string        `json:"target,omitempty"`
	Players    int           `json:"players"`
	IdleFor    time.Duration `json:"idle_for_ns,omitempty"`
	Source     string        `json:"source,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Summary renders a one-line human description of the event.
func (e Event) Summary() string {
	switch e.Kind {
	case KindStateChanged:
		return fmt.Sprintf("%s: desired state set to %s", e.Server, e.Target)
	case KindIdleRegistered:
		return fmt.Sprintf("%s: server is empty, idle clock started", e.Server)
	case KindIdleCleared:
		return fmt.Sprintf("%s: %d player(s) online, idle clock cleared", e.Server, e.Players)
	case KindIdleShutdown:
		return fmt.Sprintf("%s: stopped after %s without players", e.Server, e.IdleFor.Round(time.Second))
	default:
		return fmt.Sprintf("%s: %s", e.Server, e.Kind)
	}
}
