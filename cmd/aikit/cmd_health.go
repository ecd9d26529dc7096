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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/spf13/cobra"

	"github.com/aistackops/aikit/cmd/aikit/config"
)

func runHealthCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if addressFlag == "" && len(args) == 0 {
		return &MissingParameterError{Parameter: "address"}
	}

	cfg, err := newResolver().Resolve(config.DeploymentType(deploymentType), environment, cliOverrides(cmd))
	if err != nil {
		return err
	}
	view, err := cfg.View()
	if err != nil {
		return err
	}

	address := addressFlag
	if address == "" {
		clients, err := NewAWSClients(ctx, view.Region)
		if err != nil {
			return err
		}
		address, err = lookupStackAddress(ctx, clients.EC2, args[0])
		if err != nil {
			return err
		}
	}

	checker := NewHealthChecker(appLogger)
	checker.ConfigureFromView(view)

	results, allHealthy := checker.CheckAll(ctx, Endpoints(view, address))
	printHealthResults(cmd, results)

	if !allHealthy {
		return fmt.Errorf("not all services are healthy")
	}
	return nil
}

// lookupStackAddress finds the public address of the running instance
// tagged with the stack name.
func lookupStackAddress(ctx context.Context, api EC2API, stackName string) (string, error) {
	var out *ec2.DescribeInstancesOutput
	err := withReadRetry(ctx, "DescribeInstances", func() error {
		var err error
		out, err = api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("tag:" + stackTagKey), Values: []string{stackName}},
				{Name: aws.String("instance-state-name"), Values: []string{"running"}},
			},
		})
		return err
	})
	if err != nil {
		return "", err
	}

	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if addr := aws.ToString(inst.PublicIpAddress); addr != "" {
				return addr, nil
			}
			if addr := aws.ToString(inst.PublicDnsName); addr != "" {
				return addr, nil
			}
		}
	}
	return "", fmt.Errorf("no running instance with a public address found for stack %q", stackName)
}
