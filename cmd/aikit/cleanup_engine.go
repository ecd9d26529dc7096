package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	efstypes "github.com/aws/aws-sdk-go-v2/service/efs/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/google/uuid"

	"github.com/aistackops/aikit/pkg/logging"
)

// ResourceType identifies one cleanable resource kind. The declared
// order below is also the teardown order: compute first, then the
// network and storage it depends on, IAM and monitoring last.
type ResourceType string

const (
	ResourceInstance            ResourceType = "instance"
	ResourceSpotRequest         ResourceType = "spot-request"
	ResourceSecurityGroup       ResourceType = "security-group"
	ResourceEFSMountTarget      ResourceType = "efs-mount-target"
	ResourceEFSFileSystem       ResourceType = "efs-filesystem"
	ResourceIAMRole             ResourceType = "iam-role"
	ResourceIAMInstanceProfile  ResourceType = "iam-instance-profile"
	ResourceCloudWatchAlarm     ResourceType = "cloudwatch-alarm"
	ResourceCloudWatchDashboard ResourceType = "cloudwatch-dashboard"
)

// DiscoveredResource is one resource attributed to a stack, either by
// its Stack tag or by the <stack>- name prefix.
type DiscoveredResource struct {
	Type ResourceType
	ID   string
	Name string
}

// CleanupCounts tallies the outcome per resource. Failed deletions
// never abort the run; the remaining resources are still attempted.
type CleanupCounts struct {
	Deleted int
	Skipped int
	Failed  int
}

// CleanupReport summarizes one cleanup run.
type CleanupReport struct {
	ID         string
	StackName  string
	DryRun     bool
	Counts     CleanupCounts
	Resources  []DiscoveredResource
	StartedAt  time.Time
	FinishedAt time.Time
}

// CleanupOptions controls one run. DryRun discovers and reports
// without a single deletion call. An empty ResourceTypes means all
// types.
type CleanupOptions struct {
	DryRun        bool
	Force         bool
	ResourceTypes []ResourceType
}

// CleanupEngine discovers and tears down everything a deployment
// created. Teardown is best-effort and dependency-ordered, so a
// half-deleted stack can be cleaned again; discovery of an already
// clean stack simply finds nothing.
type CleanupEngine struct {
	ec2Client EC2API
	efsClient EFSAPI
	iamClient IAMAPI
	cwClient  CloudWatchAPI
	logger    *logging.Logger

	PollAttempts int
	PollInterval time.Duration

	sleep   func(time.Duration)
	confirm func(prompt string) bool
}

func NewCleanupEngine(clients *AWSClients, logger *logging.Logger) *CleanupEngine {
	return &CleanupEngine{
		ec2Client:    clients.EC2,
		efsClient:    clients.EFS,
		iamClient:    clients.IAM,
		cwClient:     clients.CloudWatch,
		logger:       logger,
		PollAttempts: 10,
		PollInterval: 15 * time.Second,
		sleep:        time.Sleep,
		confirm:      func(string) bool { return true },
	}
}

// Discover lists every resource attributed to stackName. It performs
// only read calls and is safe to run repeatedly.
func (e *CleanupEngine) Discover(ctx context.Context, stackName string) ([]DiscoveredResource, error) {
	if stackName == "" {
		return nil, &MissingParameterError{Parameter: "stackName"}
	}

	var resources []DiscoveredResource
	seen := make(map[string]bool)
	add := func(r DiscoveredResource) {
		key := string(r.Type) + "/" + r.ID
		if !seen[key] {
			seen[key] = true
			resources = append(resources, r)
		}
	}

	if err := e.discoverCompute(ctx, stackName, add); err != nil {
		return nil, err
	}
	if err := e.discoverSecurityGroups(ctx, stackName, add); err != nil {
		return nil, err
	}
	if err := e.discoverEFS(ctx, stackName, add); err != nil {
		return nil, err
	}
	if err := e.discoverIAM(ctx, stackName, add); err != nil {
		return nil, err
	}
	if err := e.discoverCloudWatch(ctx, stackName, add); err != nil {
		return nil, err
	}

	e.logger.Info("discovery complete", "stack", stackName, "resources", len(resources))
	return resources, nil
}

// Execute runs discovery and then the ordered teardown. With DryRun
// set, no deletion call is made and every resource counts as skipped.
func (e *CleanupEngine) Execute(ctx context.Context, stackName string, opts CleanupOptions) (*CleanupReport, error) {
	report := &CleanupReport{
		ID:        uuid.NewString(),
		StackName: stackName,
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
	}

	resources, err := e.Discover(ctx, stackName)
	if err != nil {
		return nil, err
	}
	resources = filterTypes(resources, opts.ResourceTypes)
	report.Resources = resources

	if len(resources) == 0 {
		report.FinishedAt = time.Now()
		return report, nil
	}

	if opts.DryRun {
		for _, r := range resources {
			e.logger.Info("would delete", "type", r.Type, "id", r.ID, "name", r.Name)
			report.Counts.Skipped++
		}
		report.FinishedAt = time.Now()
		return report, nil
	}

	if !opts.Force {
		prompt := fmt.Sprintf("Delete %d resources of stack %q?", len(resources), stackName)
		if !e.confirm(prompt) {
			e.logger.Info("cleanup declined", "stack", stackName)
			report.Counts.Skipped = len(resources)
			report.FinishedAt = time.Now()
			return report, nil
		}
	}

	byType := make(map[ResourceType][]DiscoveredResource)
	for _, r := range resources {
		byType[r.Type] = append(byType[r.Type], r)
	}

	e.deleteCompute(ctx, byType, &report.Counts)
	e.deleteSecurityGroups(ctx, byType[ResourceSecurityGroup], &report.Counts)
	e.deleteEFS(ctx, byType, &report.Counts)
	e.deleteIAM(ctx, byType, &report.Counts)
	e.deleteCloudWatch(ctx, byType, &report.Counts)

	report.FinishedAt = time.Now()
	e.logger.Info("cleanup complete",
		"stack", stackName,
		"deleted", report.Counts.Deleted,
		"skipped", report.Counts.Skipped,
		"failed", report.Counts.Failed,
	)
	return report, nil
}

func (e *CleanupEngine) discoverCompute(ctx context.Context, stackName string, add func(DiscoveredResource)) error {
	// Tagged instances and name-pattern instances are both attributed,
	// matching the other resource types.
	stateFilter := ec2types.Filter{Name: aws.String("instance-state-name"), Values: []string{
		"pending", "running", "stopping", "stopped",
	}}
	attributions := []ec2types.Filter{
		{Name: aws.String("tag:" + stackTagKey), Values: []string{stackName}},
		{Name: aws.String("tag:Name"), Values: []string{stackName + "-*"}},
	}
	for _, attribution := range attributions {
		var out *ec2.DescribeInstancesOutput
		err := withReadRetry(ctx, "DescribeInstances", func() error {
			var err error
			out, err = e.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
				Filters: []ec2types.Filter{attribution, stateFilter},
			})
			return err
		})
		if err != nil {
			return err
		}

		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if inst.InstanceId == nil {
					continue
				}
				add(DiscoveredResource{
					Type: ResourceInstance,
					ID:   *inst.InstanceId,
					Name: tagValue(inst.Tags, "Name"),
				})
				if inst.SpotInstanceRequestId != nil {
					add(DiscoveredResource{
						Type: ResourceSpotRequest,
						ID:   *inst.SpotInstanceRequestId,
					})
				}
			}
		}
	}

	// Spot requests are also queried directly: a persistent request
	// whose instance timed out or was already terminated stays open
	// and keeps relaunching billable instances if left behind.
	var requests *ec2.DescribeSpotInstanceRequestsOutput
	err := withReadRetry(ctx, "DescribeSpotInstanceRequests", func() error {
		var err error
		requests, err = e.ec2Client.DescribeSpotInstanceRequests(ctx, &ec2.DescribeSpotInstanceRequestsInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("tag:" + stackTagKey), Values: []string{stackName}},
				{Name: aws.String("state"), Values: []string{"open", "active"}},
			},
		})
		return err
	})
	if err != nil {
		return err
	}
	for _, sir := range requests.SpotInstanceRequests {
		if sir.SpotInstanceRequestId == nil {
			continue
		}
		add(DiscoveredResource{
			Type: ResourceSpotRequest,
			ID:   *sir.SpotInstanceRequestId,
		})
	}
	return nil
}

func (e *CleanupEngine) discoverSecurityGroups(ctx context.Context, stackName string, add func(DiscoveredResource)) error {
	// Tagged groups and name-pattern groups are both attributed, since
	// older deployments predate tagging.
	var byTag, byName *ec2.DescribeSecurityGroupsOutput
	err := withReadRetry(ctx, "DescribeSecurityGroups", func() error {
		var err error
		byTag, err = e.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("tag:" + stackTagKey), Values: []string{stackName}},
			},
		})
		if err != nil {
			return err
		}
		byName, err = e.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("group-name"), Values: []string{stackName + "-*"}},
			},
		})
		return err
	})
	if err != nil {
		return err
	}

	for _, out := range []*ec2.DescribeSecurityGroupsOutput{byTag, byName} {
		for _, sg := range out.SecurityGroups {
			if sg.GroupId == nil {
				continue
			}
			add(DiscoveredResource{
				Type: ResourceSecurityGroup,
				ID:   *sg.GroupId,
				Name: aws.ToString(sg.GroupName),
			})
		}
	}
	return nil
}

func (e *CleanupEngine) discoverEFS(ctx context.Context, stackName string, add func(DiscoveredResource)) error {
	var out *efs.DescribeFileSystemsOutput
	err := withReadRetry(ctx, "DescribeFileSystems", func() error {
		var err error
		out, err = e.efsClient.DescribeFileSystems(ctx, &efs.DescribeFileSystemsInput{})
		return err
	})
	if err != nil {
		return err
	}

	for _, fs := range out.FileSystems {
		if fs.FileSystemId == nil {
			continue
		}
		name := aws.ToString(fs.Name)
		if !stackOwnsEFS(fs, stackName) {
			continue
		}
		fsID := *fs.FileSystemId
		add(DiscoveredResource{Type: ResourceEFSFileSystem, ID: fsID, Name: name})

		var mts *efs.DescribeMountTargetsOutput
		err := withReadRetry(ctx, "DescribeMountTargets", func() error {
			var err error
			mts, err = e.efsClient.DescribeMountTargets(ctx, &efs.DescribeMountTargetsInput{
				FileSystemId: aws.String(fsID),
			})
			return err
		})
		if err != nil {
			return err
		}
		for _, mt := range mts.MountTargets {
			if mt.MountTargetId == nil {
				continue
			}
			add(DiscoveredResource{
				Type: ResourceEFSMountTarget,
				ID:   *mt.MountTargetId,
				Name: fsID,
			})
		}
	}
	return nil
}

func (e *CleanupEngine) discoverIAM(ctx context.Context, stackName string, add func(DiscoveredResource)) error {
	var profiles *iam.ListInstanceProfilesOutput
	err := withReadRetry(ctx, "ListInstanceProfiles", func() error {
		var err error
		profiles, err = e.iamClient.ListInstanceProfiles(ctx, &iam.ListInstanceProfilesInput{})
		return err
	})
	if err != nil {
		return err
	}
	for _, profile := range profiles.InstanceProfiles {
		name := aws.ToString(profile.InstanceProfileName)
		if strings.HasPrefix(name, stackName+"-") {
			add(DiscoveredResource{Type: ResourceIAMInstanceProfile, ID: name, Name: name})
		}
	}

	var roles *iam.ListRolesOutput
	err = withReadRetry(ctx, "ListRoles", func() error {
		var err error
		roles, err = e.iamClient.ListRoles(ctx, &iam.ListRolesInput{})
		return err
	})
	if err != nil {
		return err
	}
	for _, role := range roles.Roles {
		name := aws.ToString(role.RoleName)
		owns := strings.HasPrefix(name, stackName+"-")
		if !owns {
			// Name-pattern miss; the Stack tag still attributes the role.
			tags, err := e.iamClient.ListRoleTags(ctx, &iam.ListRoleTagsInput{RoleName: role.RoleName})
			if err == nil {
				for _, tag := range tags.Tags {
					if aws.ToString(tag.Key) == stackTagKey && aws.ToString(tag.Value) == stackName {
						owns = true
						break
					}
				}
			}
		}
		if owns {
			add(DiscoveredResource{Type: ResourceIAMRole, ID: name, Name: name})
		}
	}
	return nil
}

func (e *CleanupEngine) discoverCloudWatch(ctx context.Context, stackName string, add func(DiscoveredResource)) error {
	var alarms *cloudwatch.DescribeAlarmsOutput
	err := withReadRetry(ctx, "DescribeAlarms", func() error {
		var err error
		alarms, err = e.cwClient.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{
			AlarmNamePrefix: aws.String(stackName + "-"),
		})
		return err
	})
	if err != nil {
		return err
	}
	for _, alarm := range alarms.MetricAlarms {
		name := aws.ToString(alarm.AlarmName)
		add(DiscoveredResource{Type: ResourceCloudWatchAlarm, ID: name, Name: name})
	}

	var dashboards *cloudwatch.ListDashboardsOutput
	err = withReadRetry(ctx, "ListDashboards", func() error {
		var err error
		dashboards, err = e.cwClient.ListDashboards(ctx, &cloudwatch.ListDashboardsInput{
			DashboardNamePrefix: aws.String(stackName + "-"),
		})
		return err
	})
	if err != nil {
		return err
	}
	for _, d := range dashboards.DashboardEntries {
		name := aws.ToString(d.DashboardName)
		add(DiscoveredResource{Type: ResourceCloudWatchDashboard, ID: name, Name: name})
	}
	return nil
}

// deleteCompute cancels spot requests, terminates instances, and waits
// for termination before the security group step runs.
func (e *CleanupEngine) deleteCompute(ctx context.Context, byType map[ResourceType][]DiscoveredResource, counts *CleanupCounts) {
	spotRequests := byType[ResourceSpotRequest]
	if len(spotRequests) > 0 {
		ids := resourceIDs(spotRequests)
		_, err := e.ec2Client.CancelSpotInstanceRequests(ctx, &ec2.CancelSpotInstanceRequestsInput{
			SpotInstanceRequestIds: ids,
		})
		e.tally(counts, err, len(spotRequests), "cancel spot requests", strings.Join(ids, ","))
	}

	instances := byType[ResourceInstance]
	if len(instances) == 0 {
		return
	}
	ids := resourceIDs(instances)
	_, err := e.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
	e.tally(counts, err, len(instances), "terminate instances", strings.Join(ids, ","))
	if err != nil {
		return
	}
	e.waitForTermination(ctx, ids)
}

func (e *CleanupEngine) waitForTermination(ctx context.Context, ids []string) {
	for attempt := 1; attempt <= e.PollAttempts; attempt++ {
		out, err := e.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
		if err == nil {
			remaining := 0
			for _, res := range out.Reservations {
				for _, inst := range res.Instances {
					if inst.State != nil && inst.State.Name != ec2types.InstanceStateNameTerminated {
						remaining++
					}
				}
			}
			if remaining == 0 {
				return
			}
			e.logger.Debug("waiting for termination", "remaining", remaining, "attempt", attempt)
		}
		if attempt < e.PollAttempts {
			e.sleep(e.PollInterval)
		}
	}
	e.logger.Warn("instances not yet terminated, continuing teardown", "instance_ids", ids)
}

func (e *CleanupEngine) deleteSecurityGroups(ctx context.Context, groups []DiscoveredResource, counts *CleanupCounts) {
	for _, sg := range groups {
		_, err := e.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
			GroupId: aws.String(sg.ID),
		})
		e.tally(counts, err, 1, "delete security group", sg.ID)
	}
}

// deleteEFS removes mount targets first and waits for them to detach;
// the provider rejects filesystem deletion while any remain.
func (e *CleanupEngine) deleteEFS(ctx context.Context, byType map[ResourceType][]DiscoveredResource, counts *CleanupCounts) {
	for _, mt := range byType[ResourceEFSMountTarget] {
		_, err := e.efsClient.DeleteMountTarget(ctx, &efs.DeleteMountTargetInput{
			MountTargetId: aws.String(mt.ID),
		})
		e.tally(counts, err, 1, "delete mount target", mt.ID)
	}

	for _, fs := range byType[ResourceEFSFileSystem] {
		e.waitForMountTargetsGone(ctx, fs.ID)
		_, err := e.efsClient.DeleteFileSystem(ctx, &efs.DeleteFileSystemInput{
			FileSystemId: aws.String(fs.ID),
		})
		e.tally(counts, err, 1, "delete filesystem", fs.ID)
	}
}

func (e *CleanupEngine) waitForMountTargetsGone(ctx context.Context, fsID string) {
	for attempt := 1; attempt <= e.PollAttempts; attempt++ {
		out, err := e.efsClient.DescribeMountTargets(ctx, &efs.DescribeMountTargetsInput{
			FileSystemId: aws.String(fsID),
		})
		if err == nil && len(out.MountTargets) == 0 {
			return
		}
		if attempt < e.PollAttempts {
			e.sleep(e.PollInterval)
		}
	}
	e.logger.Warn("mount targets still attached, attempting filesystem delete anyway", "filesystem_id", fsID)
}

// deleteIAM detaches and removes everything hanging off each role
// before deleting it, then deletes the instance profiles.
func (e *CleanupEngine) deleteIAM(ctx context.Context, byType map[ResourceType][]DiscoveredResource, counts *CleanupCounts) {
	for _, role := range byType[ResourceIAMRole] {
		err := e.teardownRole(ctx, role.ID, byType[ResourceIAMInstanceProfile])
		e.tally(counts, err, 1, "delete role", role.ID)
	}

	for _, profile := range byType[ResourceIAMInstanceProfile] {
		_, err := e.iamClient.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
			InstanceProfileName: aws.String(profile.ID),
		})
		e.tally(counts, err, 1, "delete instance profile", profile.ID)
	}
}

func (e *CleanupEngine) teardownRole(ctx context.Context, roleName string, profiles []DiscoveredResource) error {
	attached, err := e.iamClient.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return err
	}
	for _, policy := range attached.AttachedPolicies {
		if _, err := e.iamClient.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(roleName),
			PolicyArn: policy.PolicyArn,
		}); err != nil {
			return err
		}
	}

	inline, err := e.iamClient.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return err
	}
	for _, policyName := range inline.PolicyNames {
		if _, err := e.iamClient.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
			RoleName:   aws.String(roleName),
			PolicyName: aws.String(policyName),
		}); err != nil {
			return err
		}
	}

	for _, profile := range profiles {
		// Ignored when the role is not in this profile.
		if _, err := e.iamClient.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: aws.String(profile.ID),
			RoleName:            aws.String(roleName),
		}); err != nil {
			e.logger.Debug("role not in profile", "role", roleName, "profile", profile.ID, "error", err)
		}
	}

	_, err = e.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(roleName)})
	return err
}

func (e *CleanupEngine) deleteCloudWatch(ctx context.Context, byType map[ResourceType][]DiscoveredResource, counts *CleanupCounts) {
	alarms := byType[ResourceCloudWatchAlarm]
	if len(alarms) > 0 {
		names := resourceIDs(alarms)
		_, err := e.cwClient.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{AlarmNames: names})
		e.tally(counts, err, len(alarms), "delete alarms", strings.Join(names, ","))
	}

	dashboards := byType[ResourceCloudWatchDashboard]
	if len(dashboards) > 0 {
		names := resourceIDs(dashboards)
		_, err := e.cwClient.DeleteDashboards(ctx, &cloudwatch.DeleteDashboardsInput{DashboardNames: names})
		e.tally(counts, err, len(dashboards), "delete dashboards", strings.Join(names, ","))
	}
}

// tally records the outcome of one deletion step covering n resources.
func (e *CleanupEngine) tally(counts *CleanupCounts, err error, n int, op, target string) {
	if err != nil {
		e.logger.Warn("cleanup step failed", "op", op, "target", target, "error", err)
		counts.Failed += n
		return
	}
	e.logger.Info("cleanup step done", "op", op, "target", target)
	counts.Deleted += n
}

// stackOwnsEFS attributes a filesystem by its Stack tag or by the
// <stack>- name prefix.
func stackOwnsEFS(fs efstypes.FileSystemDescription, stackName string) bool {
	for _, tag := range fs.Tags {
		if aws.ToString(tag.Key) == stackTagKey && aws.ToString(tag.Value) == stackName {
			return true
		}
	}
	return strings.HasPrefix(aws.ToString(fs.Name), stackName+"-")
}

func tagValue(tags []ec2types.Tag, key string) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

func resourceIDs(resources []DiscoveredResource) []string {
	ids := make([]string, 0, len(resources))
	for _, r := range resources {
		ids = append(ids, r.ID)
	}
	return ids
}

func filterTypes(resources []DiscoveredResource, types []ResourceType) []DiscoveredResource {
	if len(types) == 0 {
		return resources
	}
	wanted := make(map[ResourceType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	filtered := resources[:0:0]
	for _, r := range resources {
		if wanted[r.Type] {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
