// Copyright (C) 2025 AI Stack Ops (maintainers@aistackops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aistackops/aikit/cmd/aikit/config"
)

func runConfigShowCommand(cmd *cobra.Command, args []string) error {
	cfg, err := newResolver().Resolve(config.DeploymentType(deploymentType), environment, cliOverrides(cmd))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# type=%s environment=%s\n", cfg.DeploymentType(), cfg.Environment())
	for _, key := range cfg.Keys() {
		value, _ := cfg.Get(key)
		fmt.Fprintf(out, "%s = %s\n", key, value)
	}
	return nil
}

func runConfigRenderCommand(cmd *cobra.Command, args []string) error {
	cfg, err := newResolver().Resolve(config.DeploymentType(deploymentType), environment, cliOverrides(cmd))
	if err != nil {
		return err
	}
	view, err := cfg.View()
	if err != nil {
		return err
	}

	b := NewBootstrapper()
	compose, err := b.RenderComposeFile(view)
	if err != nil {
		return err
	}
	env, err := b.RenderEnvFile(view, "preview")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# docker-compose.yml")
	fmt.Fprint(out, compose)
	fmt.Fprintln(out, "\n# .env")
	fmt.Fprint(out, env)
	return nil
}
