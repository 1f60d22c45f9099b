package status

import (
	"context"
	"fmt"

	"github.com/nholik/gameserver-sentinel/internal/cluster"
	"github.com/nholik/gameserver-sentinel/internal/metrics"
	"github.com/nholik/gameserver-sentinel/internal/stack"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// StackDescriber returns the server's CloudFormation stack.
type StackDescriber interface {
	Describe(ctx context.Context) (stack.Stack, error)
}

// ClusterDescriber returns the ECS cluster hosting the server.
type ClusterDescriber interface {
	Describe(ctx context.Context) (cluster.Cluster, error)
}

// PlayerCounter reports how many players are online.
type PlayerCounter interface {
	Players(ctx context.Context) (int, error)
}

// Snapshot is a best-effort view of the server assembled from three sources
// sampled at roughly the same time.
type Snapshot struct {
	ServerState                       *string         `json:"serverState"`
	StackStatus                       string          `json:"stackStatus"`
	ClusterRunningTasks               int             `json:"clusterRunningTasks"`
	RegisteredContainerInstancesCount int             `json:"registeredContainerInstancesCount"`
	Players                           *int            `json:"players"`
	Cluster                           cluster.Cluster `json:"cluster"`
	Stack                             stack.Stack     `json:"stack"`
}

// Aggregator builds status snapshots.
type Aggregator struct {
	logger   zerolog.Logger
	stacks   StackDescriber
	clusters ClusterDescriber
	players  PlayerCounter
	metrics  *metrics.Metrics
}

// Option customizes Aggregator behavior.
type Option func(*Aggregator)

// WithMetrics counts failed live queries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// New constructs an Aggregator.
func New(logger zerolog.Logger, stacks StackDescriber, clusters ClusterDescriber, players PlayerCounter, opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:   logger,
		stacks:   stacks,
		clusters: clusters,
		players:  players,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Status queries the stack, the cluster and the live server concurrently.
// The stack and cluster lookups are required; the player count is advisory
// and reported as nil when it cannot be obtained.
func (a *Aggregator) Status(ctx context.Context) (Snapshot, error) {
	playersCh := make(chan *int, 1)
	go func() {
		playersCh <- a.countPlayers(ctx)
	}()

	var (
		st stack.Stack
		cl cluster.Cluster
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		described, err := a.stacks.Describe(gctx)
		if err != nil {
			return fmt.Errorf("describe stack: %w", err)
		}
		st = described
		return nil
	})
	g.Go(func() error {
		described, err := a.clusters.Describe(gctx)
		if err != nil {
			return fmt.Errorf("describe cluster: %w", err)
		}
		cl = described
		return nil
	})

	err := g.Wait()
	players := <-playersCh
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		StackStatus:                       st.Status,
		ClusterRunningTasks:               cl.RunningTasksCount,
		RegisteredContainerInstancesCount: cl.RegisteredContainerInstancesCount,
		Players:                           players,
		Cluster:                           cl,
		Stack:                             st,
	}
	if state, ok := st.ServerState(); ok {
		snapshot.ServerState = &state
	}
	return snapshot, nil
}

func (a *Aggregator) countPlayers(ctx context.Context) *int {
	if a.players == nil {
		return nil
	}
	count, err := a.players.Players(ctx)
	if err != nil {
		a.metrics.IncQueryFailures("status")
		a.logger.Debug().Err(err).Msg("live query failed, reporting players as unknown")
		return nil
	}
	return &count
}
