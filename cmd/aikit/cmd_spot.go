// Copyright (C) 2025 AI Stack Ops (maintainers@aistackops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aistackops/aikit/cmd/aikit/config"
)

func runSpotCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := newResolver().Resolve(config.DeploymentType(deploymentType), environment, cliOverrides(cmd))
	if err != nil {
		return err
	}
	instanceType := cfg.GetString("ec2.instance_type", "")
	if len(args) == 1 {
		instanceType = args[0]
	}
	region := cfg.GetString("aws.region", "")

	clients, err := NewAWSClients(ctx, region)
	if err != nil {
		return err
	}
	analyzer := NewSpotPriceAnalyzer(clients.EC2, clients.Pricing, appLogger)

	window := time.Duration(windowHours) * time.Hour
	stats, err := analyzer.PriceStatistics(ctx, instanceType, window)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		return &NoPricingDataError{InstanceType: instanceType, Region: region}
	}

	zones := make([]string, 0, len(stats))
	for az := range stats {
		zones = append(zones, az)
	}
	sort.Strings(zones)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Spot prices for %s in %s (last %dh)\n\n", instanceType, region, windowHours)
	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ZONE\tCURRENT\tAVG\tMIN\tMAX\tVOLATILITY\tSAMPLES")
	for _, az := range zones {
		s := stats[az]
		fmt.Fprintf(w, "%s\t$%.4f\t$%.4f\t$%.4f\t$%.4f\t%.1f%%\t%d\n",
			az, s.Current, s.Average, s.Min, s.Max, s.Volatility*100, s.Samples)
	}
	w.Flush()

	// The Pricing API needs separate permissions, so a failed lookup
	// only drops the comparison instead of failing the report.
	if ondemand, err := analyzer.OnDemandPrice(ctx, instanceType, region); err != nil {
		appLogger.Warn("on-demand price lookup failed", "instance_type", instanceType, "error", err)
	} else {
		best := stats[zones[0]]
		for _, az := range zones[1:] {
			if stats[az].Current < best.Current {
				best = stats[az]
			}
		}
		savings := 0.0
		if ondemand > 0 {
			savings = (1 - best.Current/ondemand) * 100
		}
		fmt.Fprintf(out, "\nOn-demand price: $%.4f/h (cheapest spot saves %.0f%%)\n", ondemand, savings)
	}

	ceiling := maxPriceFlag
	if ceiling == 0 {
		ceiling = cfg.GetFloat("ec2.spot.max_price", 0)
	}
	if ceiling > 0 {
		plan, err := analyzer.OptimalSpotConfiguration(ctx, instanceType, ceiling, region)
		var exceeds *PriceExceedsLimitError
		switch {
		case errors.As(err, &exceeds):
			fmt.Fprintf(out, "\nBest zone %s at $%.4f exceeds the $%.4f ceiling\n",
				exceeds.AvailabilityZone, exceeds.BestPrice, exceeds.MaxPrice)
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "\nBest zone: %s at $%.4f (ceiling $%.4f)\n",
				plan.AvailabilityZone, plan.BidPrice, plan.MaxPrice)
		}
	}
	return nil
}
