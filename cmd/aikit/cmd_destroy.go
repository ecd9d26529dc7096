// Copyright (C) 2025 AI Stack Ops (maintainers@aistackops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aistackops/aikit/cmd/aikit/config"
)

func runDestroyCommand(cmd *cobra.Command, args []string) error {
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

	clients, err := NewAWSClients(ctx, cfg.GetString("aws.region", ""))
	if err != nil {
		return err
	}

	engine := NewCleanupEngine(clients, appLogger)
	engine.PollAttempts = cfg.GetInt("deploy.poll_attempts", 10)
	engine.confirm = func(prompt string) bool {
		fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}

	report, err := engine.Execute(ctx, stackName, CleanupOptions{
		DryRun: dryRun,
		Force:  forceFlag,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if report.DryRun {
		fmt.Fprintf(out, "Dry run for stack %s: %d resources would be deleted\n", stackName, len(report.Resources))
	} else {
		fmt.Fprintf(out, "Cleanup of stack %s: %d deleted, %d skipped, %d failed\n",
			stackName, report.Counts.Deleted, report.Counts.Skipped, report.Counts.Failed)
	}
	for _, r := range report.Resources {
		if r.Name != "" && r.Name != r.ID {
			fmt.Fprintf(out, "  %-22s %s (%s)\n", r.Type, r.ID, r.Name)
			continue
		}
		fmt.Fprintf(out, "  %-22s %s\n", r.Type, r.ID)
	}

	if report.Counts.Failed > 0 {
		return fmt.Errorf("%d resources could not be deleted, re-run destroy to retry", report.Counts.Failed)
	}
	return nil
}
