package cluster

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ecs"
)

// ecsAPI defines the subset of ECS operations used by Client.
// This interface enables unit testing without AWS by allowing fakes to be injected.
type ecsAPI interface {
	DescribeClusters(ctx context.Context, params *ecs.DescribeClustersInput, optFns ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error)
}

// Ensure the official ECS client satisfies our interface at compile time.
var _ ecsAPI = (*ecs.Client)(nil)
