package stack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/nholik/gameserver-sentinel/internal/provider"
	"github.com/rs/zerolog"
)

const serviceName = "cloudformation"

// Client reads and updates the desired state held by a CloudFormation stack.
type Client struct {
	api       cloudFormationAPI
	stackName string
	roleARN   string
	logger    zerolog.Logger
}

// NewClient returns a Client for the given stack. roleARN is passed to
// UpdateStack when set so the update runs under the stack's service role.
func NewClient(cfg aws.Config, stackName, roleARN string, logger zerolog.Logger) *Client {
	return newClient(cloudformation.NewFromConfig(cfg), stackName, roleARN, logger)
}

func newClient(api cloudFormationAPI, stackName, roleARN string, logger zerolog.Logger) *Client {
	return &Client{
		api:       api,
		stackName: stackName,
		roleARN:   roleARN,
		logger:    logger,
	}
}

// SetState changes the ServerState parameter to target and leaves every other
// parameter and the template body as they are. It returns once CloudFormation
// accepts the update; convergence happens asynchronously.
func (c *Client) SetState(ctx context.Context, target DesiredState) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, target)
	}

	current, err := c.describe(ctx)
	if err != nil {
		return err
	}

	template, err := c.api.GetTemplate(ctx, &cloudformation.GetTemplateInput{
		StackName: aws.String(c.stackName),
	})
	if err != nil {
		if isStackMissing(err) {
			return fmt.Errorf("stack %s: %w", c.stackName, provider.ErrNotFound)
		}
		return provider.Wrap(serviceName, "GetTemplate", err)
	}

	params := ReplaceParameter(current.Parameters, ServerStateKey, string(target))

	input := &cloudformation.UpdateStackInput{
		StackName:    aws.String(c.stackName),
		TemplateBody: template.TemplateBody,
		Capabilities: []cftypes.Capability{cftypes.CapabilityCapabilityIam},
		Parameters:   toAPIParameters(params),
	}
	if c.roleARN != "" {
		input.RoleARN = aws.String(c.roleARN)
	}

	if _, err := c.api.UpdateStack(ctx, input); err != nil {
		if isNoUpdate(err) {
			c.logger.Info().
				Str("stack", c.stackName).
				Str("target", string(target)).
				Msg("stack already at desired state")
			return nil
		}
		return provider.Wrap(serviceName, "UpdateStack", err)
	}

	c.logger.Info().
		Str("stack", c.stackName).
		Str("previous", valueOr(current.ServerState)).
		Str("target", string(target)).
		Int("parameters", len(params)).
		Msg("stack update requested")

	return nil
}

// Describe returns the current stack. It fails with provider.ErrNotFound
// unless exactly one stack matches.
func (c *Client) Describe(ctx context.Context) (Stack, error) {
	return c.describe(ctx)
}

func (c *Client) describe(ctx context.Context) (Stack, error) {
	out, err := c.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(c.stackName),
	})
	if err != nil {
		if isStackMissing(err) {
			return Stack{}, fmt.Errorf("stack %s: %w", c.stackName, provider.ErrNotFound)
		}
		return Stack{}, provider.Wrap(serviceName, "DescribeStacks", err)
	}
	if out == nil || len(out.Stacks) != 1 {
		count := 0
		if out != nil {
			count = len(out.Stacks)
		}
		return Stack{}, fmt.Errorf("stack %s: expected 1 stack, got %d: %w", c.stackName, count, provider.ErrNotFound)
	}
	return fromAPIStack(out.Stacks[0]), nil
}

func fromAPIStack(s cftypes.Stack) Stack {
	result := Stack{
		Name:         aws.ToString(s.StackName),
		ID:           aws.ToString(s.StackId),
		Status:       string(s.StackStatus),
		StatusReason: aws.ToString(s.StackStatusReason),
		Description:  aws.ToString(s.Description),
		Parameters:   make([]Parameter, 0, len(s.Parameters)),
		CreatedAt:    s.CreationTime,
		UpdatedAt:    s.LastUpdatedTime,
	}
	for _, p := range s.Parameters {
		result.Parameters = append(result.Parameters, Parameter{
			Key:              aws.ToString(p.ParameterKey),
			Value:            aws.ToString(p.ParameterValue),
			UsePreviousValue: aws.ToBool(p.UsePreviousValue),
		})
	}
	for _, o := range s.Outputs {
		result.Outputs = append(result.Outputs, Output{
			Key:         aws.ToString(o.OutputKey),
			Value:       aws.ToString(o.OutputValue),
			Description: aws.ToString(o.Description),
			ExportName:  aws.ToString(o.ExportName),
		})
	}
	return result
}

func toAPIParameters(params []Parameter) []cftypes.Parameter {
	out := make([]cftypes.Parameter, 0, len(params))
	for _, p := range params {
		param := cftypes.Parameter{
			ParameterKey:   aws.String(p.Key),
			ParameterValue: aws.String(p.Value),
		}
		if p.UsePreviousValue {
			param.ParameterValue = nil
			param.UsePreviousValue = aws.Bool(true)
		}
		out = append(out, param)
	}
	return out
}

// CloudFormation reports both conditions as a generic ValidationError.
func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist")
}

func isNoUpdate(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
}

func valueOr(lookup func() (string, bool)) string {
	if value, ok := lookup(); ok {
		return value
	}
	return "unknown"
}
