package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/pricing"

	"github.com/aistackops/aikit/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Service: "test", Quiet: true})
}

// fakeEC2 implements EC2API with per-method function fields. A nil
// field returns an empty success, so each test wires only the calls it
// cares about.
type fakeEC2 struct {
	describeAvailabilityZones    func(*ec2.DescribeAvailabilityZonesInput) (*ec2.DescribeAvailabilityZonesOutput, error)
	describeSpotPriceHistory     func(*ec2.DescribeSpotPriceHistoryInput) (*ec2.DescribeSpotPriceHistoryOutput, error)
	describeImages               func(*ec2.DescribeImagesInput) (*ec2.DescribeImagesOutput, error)
	runInstances                 func(*ec2.RunInstancesInput) (*ec2.RunInstancesOutput, error)
	requestSpotInstances         func(*ec2.RequestSpotInstancesInput) (*ec2.RequestSpotInstancesOutput, error)
	describeSpotInstanceRequests func(*ec2.DescribeSpotInstanceRequestsInput) (*ec2.DescribeSpotInstanceRequestsOutput, error)
	cancelSpotInstanceRequests   func(*ec2.CancelSpotInstanceRequestsInput) (*ec2.CancelSpotInstanceRequestsOutput, error)
	describeInstances            func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error)
	terminateInstances           func(*ec2.TerminateInstancesInput) (*ec2.TerminateInstancesOutput, error)
	createTags                   func(*ec2.CreateTagsInput) (*ec2.CreateTagsOutput, error)
	describeSecurityGroups       func(*ec2.DescribeSecurityGroupsInput) (*ec2.DescribeSecurityGroupsOutput, error)
	deleteSecurityGroup          func(*ec2.DeleteSecurityGroupInput) (*ec2.DeleteSecurityGroupOutput, error)
}

func (f *fakeEC2) DescribeAvailabilityZones(_ context.Context, params *ec2.DescribeAvailabilityZonesInput, _ ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error) {
	if f.describeAvailabilityZones == nil {
		return &ec2.DescribeAvailabilityZonesOutput{}, nil
	}
	return f.describeAvailabilityZones(params)
}

func (f *fakeEC2) DescribeSpotPriceHistory(_ context.Context, params *ec2.DescribeSpotPriceHistoryInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
	if f.describeSpotPriceHistory == nil {
		return &ec2.DescribeSpotPriceHistoryOutput{}, nil
	}
	return f.describeSpotPriceHistory(params)
}

func (f *fakeEC2) DescribeImages(_ context.Context, params *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	if f.describeImages == nil {
		return &ec2.DescribeImagesOutput{}, nil
	}
	return f.describeImages(params)
}

func (f *fakeEC2) RunInstances(_ context.Context, params *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	if f.runInstances == nil {
		return &ec2.RunInstancesOutput{}, nil
	}
	return f.runInstances(params)
}

func (f *fakeEC2) RequestSpotInstances(_ context.Context, params *ec2.RequestSpotInstancesInput, _ ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error) {
	if f.requestSpotInstances == nil {
		return &ec2.RequestSpotInstancesOutput{}, nil
	}
	return f.requestSpotInstances(params)
}

func (f *fakeEC2) DescribeSpotInstanceRequests(_ context.Context, params *ec2.DescribeSpotInstanceRequestsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotInstanceRequestsOutput, error) {
	if f.describeSpotInstanceRequests == nil {
		return &ec2.DescribeSpotInstanceRequestsOutput{}, nil
	}
	return f.describeSpotInstanceRequests(params)
}

func (f *fakeEC2) CancelSpotInstanceRequests(_ context.Context, params *ec2.CancelSpotInstanceRequestsInput, _ ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error) {
	if f.cancelSpotInstanceRequests == nil {
		return &ec2.CancelSpotInstanceRequestsOutput{}, nil
	}
	return f.cancelSpotInstanceRequests(params)
}

func (f *fakeEC2) DescribeInstances(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.describeInstances == nil {
		return &ec2.DescribeInstancesOutput{}, nil
	}
	return f.describeInstances(params)
}

func (f *fakeEC2) TerminateInstances(_ context.Context, params *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	if f.terminateInstances == nil {
		return &ec2.TerminateInstancesOutput{}, nil
	}
	return f.terminateInstances(params)
}

func (f *fakeEC2) CreateTags(_ context.Context, params *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	if f.createTags == nil {
		return &ec2.CreateTagsOutput{}, nil
	}
	return f.createTags(params)
}

func (f *fakeEC2) DescribeSecurityGroups(_ context.Context, params *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	if f.describeSecurityGroups == nil {
		return &ec2.DescribeSecurityGroupsOutput{}, nil
	}
	return f.describeSecurityGroups(params)
}

func (f *fakeEC2) DeleteSecurityGroup(_ context.Context, params *ec2.DeleteSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	if f.deleteSecurityGroup == nil {
		return &ec2.DeleteSecurityGroupOutput{}, nil
	}
	return f.deleteSecurityGroup(params)
}

type fakeEFS struct {
	describeFileSystems  func(*efs.DescribeFileSystemsInput) (*efs.DescribeFileSystemsOutput, error)
	describeMountTargets func(*efs.DescribeMountTargetsInput) (*efs.DescribeMountTargetsOutput, error)
	deleteMountTarget    func(*efs.DeleteMountTargetInput) (*efs.DeleteMountTargetOutput, error)
	deleteFileSystem     func(*efs.DeleteFileSystemInput) (*efs.DeleteFileSystemOutput, error)
}

func (f *fakeEFS) DescribeFileSystems(_ context.Context, params *efs.DescribeFileSystemsInput, _ ...func(*efs.Options)) (*efs.DescribeFileSystemsOutput, error) {
	if f.describeFileSystems == nil {
		return &efs.DescribeFileSystemsOutput{}, nil
	}
	return f.describeFileSystems(params)
}

func (f *fakeEFS) DescribeMountTargets(_ context.Context, params *efs.DescribeMountTargetsInput, _ ...func(*efs.Options)) (*efs.DescribeMountTargetsOutput, error) {
	if f.describeMountTargets == nil {
		return &efs.DescribeMountTargetsOutput{}, nil
	}
	return f.describeMountTargets(params)
}

func (f *fakeEFS) DeleteMountTarget(_ context.Context, params *efs.DeleteMountTargetInput, _ ...func(*efs.Options)) (*efs.DeleteMountTargetOutput, error) {
	if f.deleteMountTarget == nil {
		return &efs.DeleteMountTargetOutput{}, nil
	}
	return f.deleteMountTarget(params)
}

func (f *fakeEFS) DeleteFileSystem(_ context.Context, params *efs.DeleteFileSystemInput, _ ...func(*efs.Options)) (*efs.DeleteFileSystemOutput, error) {
	if f.deleteFileSystem == nil {
		return &efs.DeleteFileSystemOutput{}, nil
	}
	return f.deleteFileSystem(params)
}

type fakeIAM struct {
	listInstanceProfiles          func(*iam.ListInstanceProfilesInput) (*iam.ListInstanceProfilesOutput, error)
	removeRoleFromInstanceProfile func(*iam.RemoveRoleFromInstanceProfileInput) (*iam.RemoveRoleFromInstanceProfileOutput, error)
	deleteInstanceProfile         func(*iam.DeleteInstanceProfileInput) (*iam.DeleteInstanceProfileOutput, error)
	listRoles                     func(*iam.ListRolesInput) (*iam.ListRolesOutput, error)
	listRoleTags                  func(*iam.ListRoleTagsInput) (*iam.ListRoleTagsOutput, error)
	listAttachedRolePolicies      func(*iam.ListAttachedRolePoliciesInput) (*iam.ListAttachedRolePoliciesOutput, error)
	detachRolePolicy              func(*iam.DetachRolePolicyInput) (*iam.DetachRolePolicyOutput, error)
	listRolePolicies              func(*iam.ListRolePoliciesInput) (*iam.ListRolePoliciesOutput, error)
	deleteRolePolicy              func(*iam.DeleteRolePolicyInput) (*iam.DeleteRolePolicyOutput, error)
	deleteRole                    func(*iam.DeleteRoleInput) (*iam.DeleteRoleOutput, error)
}

func (f *fakeIAM) ListInstanceProfiles(_ context.Context, params *iam.ListInstanceProfilesInput, _ ...func(*iam.Options)) (*iam.ListInstanceProfilesOutput, error) {
	if f.listInstanceProfiles == nil {
		return &iam.ListInstanceProfilesOutput{}, nil
	}
	return f.listInstanceProfiles(params)
}

func (f *fakeIAM) RemoveRoleFromInstanceProfile(_ context.Context, params *iam.RemoveRoleFromInstanceProfileInput, _ ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error) {
	if f.removeRoleFromInstanceProfile == nil {
		return &iam.RemoveRoleFromInstanceProfileOutput{}, nil
	}
	return f.removeRoleFromInstanceProfile(params)
}

func (f *fakeIAM) DeleteInstanceProfile(_ context.Context, params *iam.DeleteInstanceProfileInput, _ ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error) {
	if f.deleteInstanceProfile == nil {
		return &iam.DeleteInstanceProfileOutput{}, nil
	}
	return f.deleteInstanceProfile(params)
}

func (f *fakeIAM) ListRoles(_ context.Context, params *iam.ListRolesInput, _ ...func(*iam.Options)) (*iam.ListRolesOutput, error) {
	if f.listRoles == nil {
		return &iam.ListRolesOutput{}, nil
	}
	return f.listRoles(params)
}

func (f *fakeIAM) ListRoleTags(_ context.Context, params *iam.ListRoleTagsInput, _ ...func(*iam.Options)) (*iam.ListRoleTagsOutput, error) {
	if f.listRoleTags == nil {
		return &iam.ListRoleTagsOutput{}, nil
	}
	return f.listRoleTags(params)
}

func (f *fakeIAM) ListAttachedRolePolicies(_ context.Context, params *iam.ListAttachedRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error) {
	if f.listAttachedRolePolicies == nil {
		return &iam.ListAttachedRolePoliciesOutput{}, nil
	}
	return f.listAttachedRolePolicies(params)
}

func (f *fakeIAM) DetachRolePolicy(_ context.Context, params *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	if f.detachRolePolicy == nil {
		return &iam.DetachRolePolicyOutput{}, nil
	}
	return f.detachRolePolicy(params)
}

func (f *fakeIAM) ListRolePolicies(_ context.Context, params *iam.ListRolePoliciesInput, _ ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error) {
	if f.listRolePolicies == nil {
		return &iam.ListRolePoliciesOutput{}, nil
	}
	return f.listRolePolicies(params)
}

func (f *fakeIAM) DeleteRolePolicy(_ context.Context, params *iam.DeleteRolePolicyInput, _ ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error) {
	if f.deleteRolePolicy == nil {
		return &iam.DeleteRolePolicyOutput{}, nil
	}
	return f.deleteRolePolicy(params)
}

func (f *fakeIAM) DeleteRole(_ context.Context, params *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	if f.deleteRole == nil {
		return &iam.DeleteRoleOutput{}, nil
	}
	return f.deleteRole(params)
}

type fakeCloudWatch struct {
	putMetricAlarm   func(*cloudwatch.PutMetricAlarmInput) (*cloudwatch.PutMetricAlarmOutput, error)
	putDashboard     func(*cloudwatch.PutDashboardInput) (*cloudwatch.PutDashboardOutput, error)
	describeAlarms   func(*cloudwatch.DescribeAlarmsInput) (*cloudwatch.DescribeAlarmsOutput, error)
	deleteAlarms     func(*cloudwatch.DeleteAlarmsInput) (*cloudwatch.DeleteAlarmsOutput, error)
	listDashboards   func(*cloudwatch.ListDashboardsInput) (*cloudwatch.ListDashboardsOutput, error)
	deleteDashboards func(*cloudwatch.DeleteDashboardsInput) (*cloudwatch.DeleteDashboardsOutput, error)
}

func (f *fakeCloudWatch) PutMetricAlarm(_ context.Context, params *cloudwatch.PutMetricAlarmInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error) {
	if f.putMetricAlarm == nil {
		return &cloudwatch.PutMetricAlarmOutput{}, nil
	}
	return f.putMetricAlarm(params)
}

func (f *fakeCloudWatch) PutDashboard(_ context.Context, params *cloudwatch.PutDashboardInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error) {
	if f.putDashboard == nil {
		return &cloudwatch.PutDashboardOutput{}, nil
	}
	return f.putDashboard(params)
}

func (f *fakeCloudWatch) DescribeAlarms(_ context.Context, params *cloudwatch.DescribeAlarmsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error) {
	if f.describeAlarms == nil {
		return &cloudwatch.DescribeAlarmsOutput{}, nil
	}
	return f.describeAlarms(params)
}

func (f *fakeCloudWatch) DeleteAlarms(_ context.Context, params *cloudwatch.DeleteAlarmsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DeleteAlarmsOutput, error) {
	if f.deleteAlarms == nil {
		return &cloudwatch.DeleteAlarmsOutput{}, nil
	}
	return f.deleteAlarms(params)
}

func (f *fakeCloudWatch) ListDashboards(_ context.Context, params *cloudwatch.ListDashboardsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.ListDashboardsOutput, error) {
	if f.listDashboards == nil {
		return &cloudwatch.ListDashboardsOutput{}, nil
	}
	return f.listDashboards(params)
}

func (f *fakeCloudWatch) DeleteDashboards(_ context.Context, params *cloudwatch.DeleteDashboardsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DeleteDashboardsOutput, error) {
	if f.deleteDashboards == nil {
		return &cloudwatch.DeleteDashboardsOutput{}, nil
	}
	return f.deleteDashboards(params)
}

type fakePricing struct {
	getProducts func(*pricing.GetProductsInput) (*pricing.GetProductsOutput, error)
}

func (f *fakePricing) GetProducts(_ context.Context, params *pricing.GetProductsInput, _ ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	if f.getProducts == nil {
		return &pricing.GetProductsOutput{}, nil
	}
	return f.getProducts(params)
}

var _ EC2API = (*fakeEC2)(nil)
var _ EFSAPI = (*fakeEFS)(nil)
var _ IAMAPI = (*fakeIAM)(nil)
var _ CloudWatchAPI = (*fakeCloudWatch)(nil)
var _ PricingAPI = (*fakePricing)(nil)
