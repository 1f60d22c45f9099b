package cluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/nholik/gameserver-sentinel/internal/provider"
)

const serviceName = "ecs"

// Cluster represents the runtime state of the ECS cluster hosting the server.
type Cluster struct {
	ARN                               string   `json:"clusterArn"`
	Name                              string   `json:"clusterName"`
	Status                            string   `json:"status"`
	RunningTasksCount                 int      `json:"runningTasksCount"`
	PendingTasksCount                 int      `json:"pendingTasksCount"`
	ActiveServicesCount               int      `json:"activeServicesCount"`
	RegisteredContainerInstancesCount int      `json:"registeredContainerInstancesCount"`
	CapacityProviders                 []string `json:"capacityProviders,omitempty"`
}

// Client describes a single ECS cluster.
type Client struct {
	api        ecsAPI
	clusterARN string
}

// NewClient returns a Client for the given cluster ARN or name.
func NewClient(cfg aws.Config, clusterARN string) *Client {
	return &Client{api: ecs.NewFromConfig(cfg), clusterARN: clusterARN}
}

// Describe returns the cluster. It fails with provider.ErrNotFound unless
// ECS returns exactly one cluster.
func (c *Client) Describe(ctx context.Context) (Cluster, error) {
	out, err := c.api.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{c.clusterARN},
	})
	if err != nil {
		return Cluster{}, provider.Wrap(serviceName, "DescribeClusters", err)
	}

	if len(out.Clusters) != 1 {
		return Cluster{}, fmt.Errorf("cluster %s: expected 1 cluster, got %d%s: %w",
			c.clusterARN, len(out.Clusters), describeFailures(out.Failures), provider.ErrNotFound)
	}

	return fromAPICluster(out.Clusters[0]), nil
}

func fromAPICluster(c ecstypes.Cluster) Cluster {
	return Cluster{
		ARN:                               aws.ToString(c.ClusterArn),
		Name:                              aws.ToString(c.ClusterName),
		Status:                            aws.ToString(c.Status),
		RunningTasksCount:                 int(c.RunningTasksCount),
		PendingTasksCount:                 int(c.PendingTasksCount),
		ActiveServicesCount:               int(c.ActiveServicesCount),
		RegisteredContainerInstancesCount: int(c.RegisteredContainerInstancesCount),
		CapacityProviders:                 c.CapacityProviders,
	}
}

func describeFailures(failures []ecstypes.Failure) string {
	if len(failures) == 0 {
		return ""
	}
	reasons := make([]string, 0, len(failures))
	for _, f := range failures {
		reasons = append(reasons, aws.ToString(f.Reason))
	}
	return " (" + strings.Join(reasons, ", ") + ")"
}
