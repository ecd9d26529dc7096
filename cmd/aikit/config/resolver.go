// Copyright (C) 2025 AI Stack Ops (maintainers@aistackops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config resolves the layered deployment configuration.
//
// Configuration is a flat mapping from dotted keys to scalar values,
// built by layered override. Lowest to highest precedence:
//
//	built-in defaults
//	defaults.yml
//	deployment-type table (built-in, then deployment-types.yml)
//	environments/<env>.yml
//	process environment variables
//	CLI flags
//
// A key present in a higher layer always wins; absent keys fall
// through. Resolution happens once per invocation and the result is
// immutable. The resolver is the only place in the program that reads
// the process environment.
package config

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// envBindings maps the environment variables the toolkit honors to
// their configuration keys. The list is closed; components never read
// the environment themselves.
var envBindings = []struct {
	Name string
	Key  string
}{
	{"AWS_REGION", "aws.region"},
	{"INSTANCE_TYPE", "ec2.instance_type"},
	{"SPOT_PRICE", "ec2.spot.max_price"},
	{"SETUP_ALB", "deploy.setup_alb"},
	{"SETUP_CLOUDFRONT", "deploy.setup_cloudfront"},
	{"CLEANUP_ON_FAILURE", "deploy.cleanup_on_failure"},
}

// Resolver builds DeploymentConfig instances. The zero value reads no
// configuration files and no environment; callers normally set Dir to
// the configuration directory and Env to os.Getenv.
type Resolver struct {
	// Dir is the directory holding defaults.yml, deployment-types.yml
	// and environments/. Empty disables the file layers.
	Dir string

	// Env looks up process environment variables. Nil disables the
	// environment layer (used by tests).
	Env func(string) string
}

// DeploymentConfig is the resolved flat configuration. It is immutable
// after resolution and safe for concurrent reads.
type DeploymentConfig struct {
	values         map[string]string
	deploymentType DeploymentType
	environment    string
}

// Resolve merges all configuration layers for the given deployment
// type and environment. cliOverrides is the highest-precedence layer.
//
// An unknown or empty deploymentType keeps the behavior observed in
// the original tooling: only the global (non ec2.*) keys of the spot
// table apply, leaving deployment-specific keys unset. Missing
// required keys then fail here, before any cloud call.
func (r *Resolver) Resolve(deploymentType DeploymentType, environment string, cliOverrides map[string]string) (*DeploymentConfig, error) {
	if environment == "" && r.Env != nil {
		environment = r.Env("ENVIRONMENT")
	}

	values := make(map[string]string, len(builtinDefaults)+16)
	for k, v := range builtinDefaults {
		values[k] = v
	}

	// defaults.yml sits directly above the built-ins.
	if r.Dir != "" {
		layer, err := loadLayerFile(r.Dir + "/" + defaultsFileName)
		if err != nil {
			return nil, err
		}
		applyLayer(values, layer, nil)
	}

	typeFilter := deploymentKeyFilter(deploymentType)
	tableType := deploymentType
	if !KnownDeploymentType(deploymentType) {
		tableType = DeploymentSpot
	}

	applyLayer(values, deploymentDefaults[tableType], typeFilter)

	if r.Dir != "" {
		tables, err := loadDeploymentTypesFile(r.Dir + "/" + deploymentTypesFileName)
		if err != nil {
			return nil, err
		}
		applyLayer(values, tables[tableType], typeFilter)

		if environment != "" {
			layer, err := loadLayerFile(environmentFilePath(r.Dir, environment))
			if err != nil {
				return nil, err
			}
			applyLayer(values, layer, nil)
		}
	}

	if r.Env != nil {
		for _, binding := range envBindings {
			if v := r.Env(binding.Name); v != "" {
				values[binding.Key] = v
			}
		}
		// USE_LATEST_IMAGES flips the image selection mode rather than
		// mapping onto a key directly.
		if v := r.Env("USE_LATEST_IMAGES"); isTrue(v) {
			values["images.mode"] = "latest"
		}
	}

	applyLayer(values, cliOverrides, nil)

	values["deploy.type"] = string(deploymentType)
	if environment != "" {
		values["deploy.environment"] = environment
	}

	cfg := &DeploymentConfig{
		values:         values,
		deploymentType: deploymentType,
		environment:    environment,
	}
	if err := cfg.checkRequired(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// deploymentKeyFilter returns the layer filter for the given type.
// Known types take the full table; unknown types only its global keys.
func deploymentKeyFilter(t DeploymentType) func(string) bool {
	if KnownDeploymentType(t) {
		return nil
	}
	return func(key string) bool {
		return !strings.HasPrefix(key, "ec2.")
	}
}

func applyLayer(values map[string]string, layer map[string]string, keep func(string) bool) {
	for k, v := range layer {
		if keep != nil && !keep(k) {
			continue
		}
		values[k] = v
	}
}

// checkRequired rejects configurations that cannot launch anything.
// This is the short-circuit the CLI relies on: resolution failures
// surface before any side-effecting operation.
func (c *DeploymentConfig) checkRequired() error {
	required := []string{"aws.region", "ec2.instance_type"}
	if c.deploymentType == DeploymentSpot {
		required = append(required, "ec2.spot.max_price")
	}
	for _, key := range required {
		if v, ok := c.values[key]; !ok || v == "" {
			return &ConfigurationError{
				Key:    key,
				Reason: "required for deployment type " + string(c.deploymentType),
			}
		}
	}
	return nil
}

// DeploymentType returns the type the configuration was resolved for.
func (c *DeploymentConfig) DeploymentType() DeploymentType { return c.deploymentType }

// Environment returns the environment name, possibly empty.
func (c *DeploymentConfig) Environment() string { return c.environment }

// Get returns the value for key and whether it is present.
func (c *DeploymentConfig) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// GetString returns the value for key, or fallback when absent.
func (c *DeploymentConfig) GetString(key, fallback string) string {
	if v, ok := c.values[key]; ok && v != "" {
		return v
	}
	return fallback
}

// GetInt returns the integer value for key, or fallback when absent
// or unparseable.
func (c *DeploymentConfig) GetInt(key string, fallback int) int {
	if v, ok := c.values[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// GetFloat returns the float value for key, or fallback.
func (c *DeploymentConfig) GetFloat(key string, fallback float64) float64 {
	if v, ok := c.values[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetBool returns the boolean value for key, or fallback. Accepts the
// usual spellings ("true", "1", "yes").
func (c *DeploymentConfig) GetBool(key string, fallback bool) bool {
	if v, ok := c.values[key]; ok && v != "" {
		return isTrue(v)
	}
	return fallback
}

// Keys returns all configuration keys in sorted order.
func (c *DeploymentConfig) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// View builds and validates the typed snapshot handed to components.
func (c *DeploymentConfig) View() (*View, error) {
	v := &View{
		Region:         c.GetString("aws.region", ""),
		DeploymentType: c.deploymentType,
		Environment:    c.environment,

		InstanceType: c.GetString("ec2.instance_type", ""),
		SpotMaxPrice: c.GetFloat("ec2.spot.max_price", 0),
		VolumeSizeGB: c.GetInt("ec2.volume_size_gb", 30),
		IAMProfile:   c.GetString("ec2.iam_profile", ""),

		ComposeProfile: c.GetString("compose.profile", "cpu"),
		ImageMode:      c.GetString("images.mode", "default"),

		SetupALB:         c.GetBool("deploy.setup_alb", false),
		SetupCloudFront:  c.GetBool("deploy.setup_cloudfront", false),
		SetupMonitoring:  c.GetBool("deploy.setup_monitoring", true),
		CleanupOnFailure: c.GetBool("deploy.cleanup_on_failure", false),

		PollAttempts: c.GetInt("deploy.poll_attempts", 10),
		PollInterval: time.Duration(c.GetInt("deploy.poll_interval_seconds", 15)) * time.Second,

		HealthConnectTimeout: time.Duration(c.GetInt("health.connect_timeout_seconds", 10)) * time.Second,
		HealthTotalTimeout:   time.Duration(c.GetInt("health.total_timeout_seconds", 15)) * time.Second,
		HealthMaxAttempts:    c.GetInt("health.max_attempts", 5),
		HealthInitialBackoff: time.Duration(c.GetInt("health.initial_backoff_seconds", 2)) * time.Second,
	}

	for _, name := range ServiceNames {
		svc := ServiceView{
			Name:       name,
			Port:       c.GetInt("services."+name+".port", 0),
			HealthPath: c.GetString("services."+name+".health_path", ""),
			Image:      c.serviceImage(name, v.ImageMode),
		}
		v.Services = append(v.Services, svc)
	}

	if err := v.check(); err != nil {
		return nil, err
	}
	return v, nil
}

// serviceImage picks the image reference for the configured mode,
// falling back to the default tag when a mode-specific reference is
// not configured.
func (c *DeploymentConfig) serviceImage(name, mode string) string {
	base := c.GetString("services."+name+".image", "")
	switch mode {
	case "latest":
		return c.GetString("services."+name+".image_latest", base)
	case "pinned":
		return c.GetString("services."+name+".image_pinned", base)
	default:
		return base
	}
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
