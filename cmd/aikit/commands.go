// Copyright (C) 2025 AI Stack Ops (maintainers@aistackops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aistackops/aikit/cmd/aikit/config"
	"github.com/aistackops/aikit/pkg/logging"
)

// --- Global Command Variables ---
var (
	configDir        string
	deploymentType   string
	environment      string
	regionFlag       string
	instanceTypeFlag string
	spotPriceFlag    float64
	amiFlag          string
	securityGroup    string
	subnetFlag       string
	keyNameFlag      string
	efsIDFlag        string
	setupALB         bool
	setupCloudFront  bool
	usePinnedImages  bool
	cleanupOnFail    bool
	dryRun           bool
	forceFlag        bool
	verbose          bool
	addressFlag      string
	maxPriceFlag     float64
	windowHours      int

	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "aikit",
		Short: "Deploy and manage the AI starter stack on AWS",
		Long: `aikit provisions EC2 instances (spot, on-demand, or a minimal
simple tier) running n8n, Ollama, Qdrant, and Crawl4AI, and tears
them down again when you are done.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := logging.LevelInfo
			if verbose {
				level = logging.LevelDebug
			}
			appLogger = logging.New(logging.Config{Level: level, Service: "aikit"})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLogger != nil {
				appLogger.Close()
			}
		},
	}

	deployCmd = &cobra.Command{
		Use:   "deploy [stack-name]",
		Short: "Deploy the AI stack onto a new EC2 instance",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeployCommand, // Defined in cmd_deploy.go
	}

	destroyCmd = &cobra.Command{
		Use:     "destroy [stack-name]",
		Aliases: []string{"cleanup"},
		Short:   "Discover and delete every AWS resource of a stack",
		Args:    cobra.ExactArgs(1),
		RunE:    runDestroyCommand, // Defined in cmd_destroy.go
	}

	spotCmd = &cobra.Command{
		Use:   "spot [instance-type]",
		Short: "Report spot prices per availability zone",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSpotCommand, // Defined in cmd_spot.go
	}

	healthCmd = &cobra.Command{
		Use:   "health [stack-name]",
		Short: "Probe the service health endpoints of a running stack",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHealthCommand, // Defined in cmd_health.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved deployment configuration",
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print every resolved configuration key",
		RunE:  runConfigShowCommand, // Defined in cmd_config.go
	}
	configRenderCmd = &cobra.Command{
		Use:   "render",
		Short: "Render the compose file and env file for the configuration",
		RunE:  runConfigRenderCommand, // Defined in cmd_config.go
	}
)

// newResolver builds the config resolver backed by the process
// environment and the configured directory.
func newResolver() *config.Resolver {
	return &config.Resolver{Dir: configDir, Env: os.Getenv}
}

// cliOverrides maps the explicitly set flags onto configuration keys.
// Only changed flags are included, so flag defaults never mask the
// lower layers.
func cliOverrides(cmd *cobra.Command) map[string]string {
	overrides := make(map[string]string)
	if cmd.Flags().Changed("region") {
		overrides["aws.region"] = regionFlag
	}
	if cmd.Flags().Changed("instance-type") {
		overrides["ec2.instance_type"] = instanceTypeFlag
	}
	if cmd.Flags().Changed("spot-price") {
		overrides["ec2.spot.max_price"] = formatFloat(spotPriceFlag)
	}
	if cmd.Flags().Changed("setup-alb") {
		overrides["deploy.setup_alb"] = formatBool(setupALB)
	}
	if cmd.Flags().Changed("setup-cloudfront") {
		overrides["deploy.setup_cloudfront"] = formatBool(setupCloudFront)
	}
	if cmd.Flags().Changed("cleanup-on-failure") {
		overrides["deploy.cleanup_on_failure"] = formatBool(cleanupOnFail)
	}
	if usePinnedImages {
		overrides["images.mode"] = "pinned"
	}
	return overrides
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "Directory with defaults.yml, deployment-types.yml, environments/")
	rootCmd.PersistentFlags().StringVar(&deploymentType, "deployment-type", "spot", "Deployment type: 'spot', 'ondemand', or 'simple'")
	rootCmd.PersistentFlags().StringVar(&environment, "environment", "", "Named environment overlay (environments/<name>.yml)")
	rootCmd.PersistentFlags().StringVar(&regionFlag, "region", "", "AWS region override")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().StringVar(&instanceTypeFlag, "instance-type", "", "EC2 instance type override")
	deployCmd.Flags().Float64Var(&spotPriceFlag, "spot-price", 0, "Maximum spot price in USD/hour")
	deployCmd.Flags().StringVar(&amiFlag, "ami", "", "AMI ID (resolved automatically for the simple tier)")
	deployCmd.Flags().StringVar(&securityGroup, "security-group", "", "Security group ID to attach")
	deployCmd.Flags().StringVar(&subnetFlag, "subnet", "", "Subnet ID to launch into")
	deployCmd.Flags().StringVar(&keyNameFlag, "key-name", "", "EC2 key pair name for SSH access")
	deployCmd.Flags().StringVar(&efsIDFlag, "efs-id", "", "Existing EFS filesystem to mount for persistent data")
	deployCmd.Flags().BoolVar(&setupALB, "setup-alb", false, "Record that an ALB fronts this stack")
	deployCmd.Flags().BoolVar(&setupCloudFront, "setup-cloudfront", false, "Record that CloudFront fronts this stack")
	deployCmd.Flags().BoolVar(&usePinnedImages, "use-pinned-images", false, "Deploy digest-pinned service images")
	deployCmd.Flags().BoolVar(&cleanupOnFail, "cleanup-on-failure", false, "Tear down partially created resources when the deploy fails")

	rootCmd.AddCommand(destroyCmd)
	destroyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting anything")
	destroyCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(spotCmd)
	spotCmd.Flags().Float64Var(&maxPriceFlag, "max-price", 0, "Also evaluate the best zone against this price ceiling")
	spotCmd.Flags().IntVar(&windowHours, "window", 24, "Price history window in hours")

	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&addressFlag, "address", "", "Public address of the stack instance (skips the EC2 lookup)")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configRenderCmd)
}
