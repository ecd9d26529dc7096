// Copyright (C) 2025 AI Stack Ops (maintainers@aistackops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aistackops/aikit/cmd/aikit/config"
)

func runDeployCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stackName := args[0]

	lock := NewStackLock("", stackName)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	cfg, err := newResolver().Resolve(config.DeploymentType(deploymentType), environment, cliOverrides(cmd))
	if err != nil {
		return err
	}
	view, err := cfg.View()
	if err != nil {
		return err
	}

	clients, err := NewAWSClients(ctx, view.Region)
	if err != nil {
		return err
	}

	record, err := deployStack(ctx, clients, view, stackName)
	if err != nil {
		if view.CleanupOnFailure {
			appLogger.Warn("deploy failed, cleaning up partial stack", "stack", stackName, "error", err)
			engine := NewCleanupEngine(clients, appLogger)
			engine.PollAttempts = view.PollAttempts
			engine.PollInterval = view.PollInterval
			if report, cerr := engine.Execute(ctx, stackName, CleanupOptions{Force: true}); cerr != nil {
				appLogger.Error("cleanup after failure did not complete", "error", cerr)
			} else {
				appLogger.Info("partial stack cleaned up",
					"deleted", report.Counts.Deleted,
					"failed", report.Counts.Failed,
				)
			}
		}
		return err
	}

	printDeploySummary(cmd, view, stackName, record)

	checker := NewHealthChecker(appLogger)
	checker.ConfigureFromView(view)
	results, allHealthy := checker.CheckAll(ctx, Endpoints(view, record.PublicAddress))
	printHealthResults(cmd, results)
	if !allHealthy {
		// Advisory only: slow first-boot pulls are normal, so the
		// deploy still succeeds.
		fmt.Fprintln(cmd.OutOrStdout(), "Some services are not healthy yet; re-check with: aikit health --address", record.PublicAddress)
	}
	return nil
}

// deployStack runs the provisioning pipeline: optional spot analysis,
// artifact rendering, instance launch, monitoring.
func deployStack(ctx context.Context, clients *AWSClients, view *config.View, stackName string) (*InstanceRecord, error) {
	bootstrapper := NewBootstrapper()
	userData, err := bootstrapper.RenderUserData(view, stackName, efsIDFlag)
	if err != nil {
		return nil, err
	}

	provisioner := NewProvisioner(clients.EC2, appLogger)
	provisioner.PollAttempts = view.PollAttempts
	provisioner.PollInterval = view.PollInterval

	req := InstanceRequest{
		StackName:       stackName,
		InstanceType:    view.InstanceType,
		AMIID:           amiFlag,
		SecurityGroupID: securityGroup,
		SubnetID:        subnetFlag,
		KeyName:         keyNameFlag,
		IAMProfile:      view.IAMProfile,
		UserData:        userData,
		VolumeSizeGB:    view.VolumeSizeGB,
	}

	var record *InstanceRecord
	switch view.DeploymentType {
	case config.DeploymentSpot:
		analyzer := NewSpotPriceAnalyzer(clients.EC2, clients.Pricing, appLogger)
		plan, err := analyzer.OptimalSpotConfiguration(ctx, view.InstanceType, view.SpotMaxPrice, view.Region)
		if err != nil {
			return nil, err
		}
		record, err = provisioner.LaunchSpotInstance(ctx, req, plan)
		if err != nil {
			return nil, err
		}
	case config.DeploymentOndemand:
		record, err = provisioner.LaunchOndemandInstance(ctx, req)
		if err != nil {
			return nil, err
		}
	case config.DeploymentSimple:
		record, err = provisioner.LaunchSimpleInstance(ctx, req)
		if err != nil {
			return nil, err
		}
	default:
		return nil, &config.ConfigurationError{
			Key:    "deploy.type",
			Reason: fmt.Sprintf("unknown deployment type %q", view.DeploymentType),
		}
	}

	if view.SetupMonitoring {
		monitoring := NewMonitoringManager(clients.CloudWatch, appLogger)
		if err := monitoring.Provision(ctx, stackName, record.InstanceID, view.Region); err != nil {
			// The stack runs fine without its dashboard.
			appLogger.Warn("monitoring setup failed", "error", err)
		}
	}
	return record, nil
}

func printDeploySummary(cmd *cobra.Command, view *config.View, stackName string, record *InstanceRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nStack %s deployed (%s, %s)\n", stackName, view.DeploymentType, view.InstanceType)
	fmt.Fprintf(out, "  Instance:  %s (%s)\n", record.InstanceID, record.AvailabilityZone)
	fmt.Fprintf(out, "  Address:   %s\n", record.PublicAddress)
	if record.SpotRequestID != "" {
		fmt.Fprintf(out, "  Spot req:  %s\n", record.SpotRequestID)
	}
	if view.SetupALB {
		fmt.Fprintln(out, "  ALB:       enabled in configuration (provision separately)")
	}
	if view.SetupCloudFront {
		fmt.Fprintln(out, "  CDN:       enabled in configuration (provision separately)")
	}
	fmt.Fprintln(out, "  Services:")
	for _, svc := range view.Services {
		fmt.Fprintf(out, "    %-10s http://%s:%d\n", svc.Name, record.PublicAddress, svc.Port)
	}
}

func printHealthResults(cmd *cobra.Command, results []HealthCheckResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nHealth:")
	for _, r := range results {
		if r.Status == StatusHealthy {
			fmt.Fprintf(out, "  %-10s %s\n", r.ServiceName, r.Status)
			continue
		}
		fmt.Fprintf(out, "  %-10s %s (%s)\n", r.ServiceName, r.Status, r.LastError)
	}
}
