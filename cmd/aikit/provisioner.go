package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/aistackops/aikit/pkg/logging"
)

// stackTagKey is the tag every cleanable resource carries; cleanup
// discovery joins on it.
const stackTagKey = "Stack"

// canonicalUbuntuOwner is Canonical's AWS account, used for the
// simple-tier AMI lookup.
const canonicalUbuntuOwner = "099720109477"

// InstanceState mirrors the provider's instance lifecycle states.
type InstanceState string

const (
	InstancePending      InstanceState = "pending"
	InstanceRunning      InstanceState = "running"
	InstanceShuttingDown InstanceState = "shutting-down"
	InstanceTerminated   InstanceState = "terminated"
	InstanceStopping     InstanceState = "stopping"
	InstanceStopped      InstanceState = "stopped"
)

// InstanceRequest describes one compute launch. The provisioner
// submits it once; it never retries launches on provider errors.
type InstanceRequest struct {
	StackName       string
	InstanceType    string
	AMIID           string
	SecurityGroupID string
	SubnetID        string
	KeyName         string
	IAMProfile      string
	UserData        string
	VolumeSizeGB    int
	Tags            map[string]string
}

// InstanceRecord is the provider's view of a launched instance. Only
// the provider mutates it; the toolkit polls and reads.
type InstanceRecord struct {
	InstanceID       string
	State            InstanceState
	PublicAddress    string
	AvailabilityZone string
	SpotRequestID    string
}

// Provisioner launches EC2 instances for the three deployment tiers.
// Polling is bounded: PollAttempts tries at PollInterval spacing, then
// LaunchTimeoutError. The provisioner performs no implicit rollback;
// the caller decides whether a failed launch triggers cleanup.
type Provisioner struct {
	ec2    EC2API
	logger *logging.Logger

	PollAttempts int
	PollInterval time.Duration

	after func(time.Duration) <-chan time.Time
}

func NewProvisioner(api EC2API, logger *logging.Logger) *Provisioner {
	return &Provisioner{
		ec2:          api,
		logger:       logger,
		PollAttempts: 10,
		PollInterval: 15 * time.Second,
		after:        time.After,
	}
}

// LaunchSpotInstance requests a spot instance in the zone the analyzer
// selected, bidding the configured ceiling. It polls the spot request
// until fulfilled, tags the resulting instance, and then waits for the
// running state with a public address.
func (p *Provisioner) LaunchSpotInstance(ctx context.Context, req InstanceRequest, plan *SpotLaunchPlan) (*InstanceRecord, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, &MissingParameterError{Parameter: "spotLaunchPlan"}
	}

	spec := &ec2types.RequestSpotLaunchSpecification{
		ImageId:      aws.String(req.AMIID),
		InstanceType: ec2types.InstanceType(req.InstanceType),
		Placement: &ec2types.SpotPlacement{
			AvailabilityZone: aws.String(plan.AvailabilityZone),
		},
	}
	applyLaunchSpec(spec, req)

	p.logger.Info("requesting spot instance",
		"stack", req.StackName,
		"instance_type", req.InstanceType,
		"az", plan.AvailabilityZone,
		"bid", plan.MaxPrice,
	)

	out, err := p.ec2.RequestSpotInstances(ctx, &ec2.RequestSpotInstancesInput{
		SpotPrice:                    aws.String(fmt.Sprintf("%.4f", plan.MaxPrice)),
		InstanceCount:                aws.Int32(1),
		Type:                         ec2types.SpotInstanceTypePersistent,
		LaunchSpecification:          spec,
		TagSpecifications:            tagSpecifications(ec2types.ResourceTypeSpotInstancesRequest, req),
		InstanceInterruptionBehavior: ec2types.InstanceInterruptionBehaviorStop,
	})
	if err != nil {
		return nil, &ProviderAPIError{Op: "RequestSpotInstances", Err: err}
	}
	if len(out.SpotInstanceRequests) == 0 || out.SpotInstanceRequests[0].SpotInstanceRequestId == nil {
		return nil, &ProviderAPIError{Op: "RequestSpotInstances", Err: fmt.Errorf("empty response")}
	}
	requestID := *out.SpotInstanceRequests[0].SpotInstanceRequestId

	instanceID, err := p.waitForSpotFulfillment(ctx, req.StackName, requestID)
	if err != nil {
		return nil, err
	}

	// Spot-launched instances don't inherit the request tags.
	if _, err := p.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags:      buildTags(req),
	}); err != nil {
		p.logger.Warn("tagging spot instance failed", "instance_id", instanceID, "error", err)
	}

	record, err := p.waitForRunning(ctx, req.StackName, instanceID)
	if err != nil {
		return nil, err
	}
	record.SpotRequestID = requestID
	return record, nil
}

// LaunchOndemandInstance launches a standard instance and waits for
// the running state with a public address.
func (p *Provisioner) LaunchOndemandInstance(ctx context.Context, req InstanceRequest) (*InstanceRecord, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return p.runInstance(ctx, req)
}

// LaunchSimpleInstance is the on-demand variant for the simple tier:
// it resolves the latest Ubuntu LTS AMI when none is given and never
// attaches an IAM instance profile, since the simple tier needs no
// elevated permissions.
func (p *Provisioner) LaunchSimpleInstance(ctx context.Context, req InstanceRequest) (*InstanceRecord, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if req.AMIID == "" {
		ami, err := p.lookupUbuntuAMI(ctx)
		if err != nil {
			return nil, err
		}
		req.AMIID = ami
	}
	req.IAMProfile = ""

	return p.runInstance(ctx, req)
}

func (p *Provisioner) runInstance(ctx context.Context, req InstanceRequest) (*InstanceRecord, error) {
	input := &ec2.RunInstancesInput{
		ImageId:           aws.String(req.AMIID),
		InstanceType:      ec2types.InstanceType(req.InstanceType),
		MinCount:          aws.Int32(1),
		MaxCount:          aws.Int32(1),
		TagSpecifications: tagSpecifications(ec2types.ResourceTypeInstance, req),
	}
	if req.SecurityGroupID != "" {
		input.SecurityGroupIds = []string{req.SecurityGroupID}
	}
	if req.SubnetID != "" {
		input.SubnetId = aws.String(req.SubnetID)
	}
	if req.KeyName != "" {
		input.KeyName = aws.String(req.KeyName)
	}
	if req.IAMProfile != "" {
		input.IamInstanceProfile = &ec2types.IamInstanceProfileSpecification{
			Name: aws.String(req.IAMProfile),
		}
	}
	if req.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(req.UserData)))
	}
	if req.VolumeSizeGB > 0 {
		input.BlockDeviceMappings = []ec2types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/sda1"),
			Ebs: &ec2types.EbsBlockDevice{
				VolumeSize:          aws.Int32(int32(req.VolumeSizeGB)),
				VolumeType:          ec2types.VolumeTypeGp3,
				DeleteOnTermination: aws.Bool(true),
			},
		}}
	}

	p.logger.Info("launching instance",
		"stack", req.StackName,
		"instance_type", req.InstanceType,
		"ami", req.AMIID,
	)

	out, err := p.ec2.RunInstances(ctx, input)
	if err != nil {
		return nil, &ProviderAPIError{Op: "RunInstances", Err: err}
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return nil, &ProviderAPIError{Op: "RunInstances", Err: fmt.Errorf("empty response")}
	}

	return p.waitForRunning(ctx, req.StackName, *out.Instances[0].InstanceId)
}

// waitForSpotFulfillment polls the spot request until the provider
// assigns an instance.
func (p *Provisioner) waitForSpotFulfillment(ctx context.Context, stackName, requestID string) (string, error) {
	for attempt := 1; attempt <= p.PollAttempts; attempt++ {
		out, err := p.ec2.DescribeSpotInstanceRequests(ctx, &ec2.DescribeSpotInstanceRequestsInput{
			SpotInstanceRequestIds: []string{requestID},
		})
		if err == nil && len(out.SpotInstanceRequests) > 0 {
			sir := out.SpotInstanceRequests[0]
			if sir.InstanceId != nil && *sir.InstanceId != "" {
				p.logger.Info("spot request fulfilled",
					"request_id", requestID,
					"instance_id", *sir.InstanceId,
					"attempt", attempt,
				)
				return *sir.InstanceId, nil
			}
			if sir.State == ec2types.SpotInstanceStateFailed ||
				sir.State == ec2types.SpotInstanceStateCancelled {
				return "", &ProviderAPIError{
					Op:  "DescribeSpotInstanceRequests",
					Err: fmt.Errorf("spot request %s entered state %s", requestID, sir.State),
				}
			}
		}
		if err != nil {
			p.logger.Warn("spot request poll failed", "request_id", requestID, "attempt", attempt, "error", err)
		}
		if attempt < p.PollAttempts {
			if err := p.wait(ctx); err != nil {
				return "", err
			}
		}
	}
	return "", &LaunchTimeoutError{
		StackName: stackName,
		Phase:     "spot request fulfillment",
		Attempts:  p.PollAttempts,
		Interval:  p.PollInterval,
	}
}

// waitForRunning polls the instance until it is running with a public
// address.
func (p *Provisioner) waitForRunning(ctx context.Context, stackName, instanceID string) (*InstanceRecord, error) {
	record := &InstanceRecord{InstanceID: instanceID, State: InstancePending}

	for attempt := 1; attempt <= p.PollAttempts; attempt++ {
		out, err := p.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			p.logger.Warn("instance poll failed", "instance_id", instanceID, "attempt", attempt, "error", err)
		} else if inst := firstInstance(out); inst != nil {
			if inst.State != nil {
				record.State = InstanceState(inst.State.Name)
			}
			if inst.PublicIpAddress != nil {
				record.PublicAddress = *inst.PublicIpAddress
			}
			if inst.Placement != nil && inst.Placement.AvailabilityZone != nil {
				record.AvailabilityZone = *inst.Placement.AvailabilityZone
			}
			if record.State == InstanceRunning && record.PublicAddress != "" {
				p.logger.Info("instance running",
					"instance_id", instanceID,
					"public_address", record.PublicAddress,
					"az", record.AvailabilityZone,
				)
				return record, nil
			}
		}
		if attempt < p.PollAttempts {
			if err := p.wait(ctx); err != nil {
				return nil, err
			}
		}
	}
	return nil, &LaunchTimeoutError{
		StackName: stackName,
		Phase:     "instance running with public address",
		Attempts:  p.PollAttempts,
		Interval:  p.PollInterval,
	}
}

// lookupUbuntuAMI resolves the newest Ubuntu 22.04 LTS image.
func (p *Provisioner) lookupUbuntuAMI(ctx context.Context) (string, error) {
	var out *ec2.DescribeImagesOutput
	err := withReadRetry(ctx, "DescribeImages", func() error {
		var err error
		out, err = p.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
			Owners: []string{canonicalUbuntuOwner},
			Filters: []ec2types.Filter{
				{Name: aws.String("name"), Values: []string{"ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*"}},
				{Name: aws.String("state"), Values: []string{"available"}},
			},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	if len(out.Images) == 0 {
		return "", &ProviderAPIError{Op: "DescribeImages", Err: fmt.Errorf("no Ubuntu 22.04 images found")}
	}

	images := out.Images
	sort.Slice(images, func(i, j int) bool {
		return aws.ToString(images[i].CreationDate) > aws.ToString(images[j].CreationDate)
	})
	return aws.ToString(images[0].ImageId), nil
}

// wait blocks one poll interval, waking immediately on cancellation.
func (p *Provisioner) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.after(p.PollInterval):
		return nil
	}
}

// validateRequest enforces the two universally required fields before
// any provider call.
func validateRequest(req InstanceRequest) error {
	if req.StackName == "" {
		return &MissingParameterError{Parameter: "stackName"}
	}
	if req.InstanceType == "" {
		return &MissingParameterError{Parameter: "instanceType"}
	}
	return nil
}

func applyLaunchSpec(spec *ec2types.RequestSpotLaunchSpecification, req InstanceRequest) {
	if req.SecurityGroupID != "" {
		spec.SecurityGroupIds = []string{req.SecurityGroupID}
	}
	if req.SubnetID != "" {
		spec.SubnetId = aws.String(req.SubnetID)
	}
	if req.KeyName != "" {
		spec.KeyName = aws.String(req.KeyName)
	}
	if req.IAMProfile != "" {
		spec.IamInstanceProfile = &ec2types.IamInstanceProfileSpecification{
			Name: aws.String(req.IAMProfile),
		}
	}
	if req.UserData != "" {
		spec.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(req.UserData)))
	}
	if req.VolumeSizeGB > 0 {
		spec.BlockDeviceMappings = []ec2types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/sda1"),
			Ebs: &ec2types.EbsBlockDevice{
				VolumeSize:          aws.Int32(int32(req.VolumeSizeGB)),
				VolumeType:          ec2types.VolumeTypeGp3,
				DeleteOnTermination: aws.Bool(true),
			},
		}}
	}
}

func buildTags(req InstanceRequest) []ec2types.Tag {
	tags := []ec2types.Tag{
		{Key: aws.String(stackTagKey), Value: aws.String(req.StackName)},
		{Key: aws.String("Name"), Value: aws.String(req.StackName + "-node")},
	}
	for k, v := range req.Tags {
		tags = append(tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return tags
}

func tagSpecifications(resource ec2types.ResourceType, req InstanceRequest) []ec2types.TagSpecification {
	return []ec2types.TagSpecification{{
		ResourceType: resource,
		Tags:         buildTags(req),
	}}
}

func firstInstance(out *ec2.DescribeInstancesOutput) *ec2types.Instance {
	for _, res := range out.Reservations {
		for i := range res.Instances {
			return &res.Instances[i]
		}
	}
	return nil
}
