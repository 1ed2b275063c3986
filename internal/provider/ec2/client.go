// Package ec2 implements the instance provider and the tag client on top of
// the AWS EC2 API.
package ec2

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"golang.org/x/time/rate"

	"powerbot/internal/config"
	"powerbot/internal/provider"
	"powerbot/pkg/logx"
)

// api is the slice of the EC2 client we call; narrowed for tests.
type api interface {
	DescribeInstances(ctx context.Context, in *awsec2.DescribeInstancesInput, opts ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, in *awsec2.StartInstancesInput, opts ...func(*awsec2.Options)) (*awsec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, in *awsec2.StopInstancesInput, opts ...func(*awsec2.Options)) (*awsec2.StopInstancesOutput, error)
	CreateTags(ctx context.Context, in *awsec2.CreateTagsInput, opts ...func(*awsec2.Options)) (*awsec2.CreateTagsOutput, error)
	DeleteTags(ctx context.Context, in *awsec2.DeleteTagsInput, opts ...func(*awsec2.Options)) (*awsec2.DeleteTagsOutput, error)
	DescribeTags(ctx context.Context, in *awsec2.DescribeTagsInput, opts ...func(*awsec2.Options)) (*awsec2.DescribeTagsOutput, error)
}

// Client satisfies provider.Provider and store.TagClient.
type Client struct {
	api        api
	controlTag string
	limiter    *rate.Limiter
	log        logx.Logger
}

func New(ctx context.Context, cfg config.AWSConfig, controlTag string, log logx.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	rps := cfg.APIRatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		api:        awsec2.NewFromConfig(awsCfg),
		controlTag: controlTag,
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		log:        log.With(logx.String("comp", "ec2")),
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrTransient, err)
	}
	return nil
}

func (c *Client) ListControllable(ctx context.Context) ([]string, error) {
	var ids []string
	var token *string
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		out, err := c.api.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("tag:" + c.controlTag), Values: []string{"true"}},
			},
			NextToken: token,
		})
		if err != nil {
			return nil, mapErr(err)
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if inst.InstanceId != nil {
					ids = append(ids, *inst.InstanceId)
				}
			}
		}
		if out.NextToken == nil {
			return ids, nil
		}
		token = out.NextToken
	}
}

func (c *Client) IsControllable(ctx context.Context, id string) (bool, error) {
	inst, err := c.describeOne(ctx, id)
	if err != nil {
		return false, err
	}
	for _, tag := range inst.Tags {
		if tag.Key != nil && *tag.Key == c.controlTag {
			return tag.Value != nil && strings.EqualFold(*tag.Value, "true"), nil
		}
	}
	return false, nil
}

func (c *Client) PowerState(ctx context.Context, id string) (provider.PowerState, error) {
	inst, err := c.describeOne(ctx, id)
	if err != nil {
		return provider.StateUnknown, err
	}
	if inst.State == nil {
		return provider.StateUnknown, nil
	}
	return mapStateName(string(inst.State.Name)), nil
}

func (c *Client) Start(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.StartInstances(ctx, &awsec2.StartInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return mapErr(err)
	}
	c.log.Info("start requested", logx.String("instance", id))
	return nil
}

func (c *Client) Stop(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.StopInstances(ctx, &awsec2.StopInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return mapErr(err)
	}
	c.log.Info("stop requested", logx.String("instance", id))
	return nil
}

func (c *Client) describeOne(ctx context.Context, id string) (*ec2types.Instance, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.api.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return nil, mapErr(err)
	}
	for _, res := range out.Reservations {
		for i := range res.Instances {
			return &res.Instances[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, id)
}

// ---- store.TagClient ----

func (c *Client) GetTags(ctx context.Context, id string, keys []string) (map[string]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.api.DescribeTags(ctx, &awsec2.DescribeTagsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("resource-id"), Values: []string{id}},
			{Name: aws.String("key"), Values: keys},
		},
	})
	if err != nil {
		return nil, mapErr(err)
	}
	tags := make(map[string]string, len(out.Tags))
	for _, t := range out.Tags {
		if t.Key != nil && t.Value != nil {
			tags[*t.Key] = *t.Value
		}
	}
	return tags, nil
}

func (c *Client) SetTags(ctx context.Context, id string, tags map[string]string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	in := &awsec2.CreateTagsInput{Resources: []string{id}}
	for k, v := range tags {
		in.Tags = append(in.Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	if _, err := c.api.CreateTags(ctx, in); err != nil {
		return mapErr(err)
	}
	return nil
}

func (c *Client) DeleteTags(ctx context.Context, id string, keys []string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	in := &awsec2.DeleteTagsInput{Resources: []string{id}}
	for _, k := range keys {
		in.Tags = append(in.Tags, ec2types.Tag{Key: aws.String(k)})
	}
	if _, err := c.api.DeleteTags(ctx, in); err != nil {
		return mapErr(err)
	}
	return nil
}
