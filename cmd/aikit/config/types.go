// Copyright (C) 2025 AI Stack Ops (maintainers@aistackops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DeploymentType selects the provisioning workflow.
type DeploymentType string

const (
	DeploymentSpot     DeploymentType = "spot"
	DeploymentOndemand DeploymentType = "ondemand"
	DeploymentSimple   DeploymentType = "simple"
)

// KnownDeploymentType reports whether t names one of the three
// provisioning workflows.
func KnownDeploymentType(t DeploymentType) bool {
	switch t {
	case DeploymentSpot, DeploymentOndemand, DeploymentSimple:
		return true
	}
	return false
}

// ServiceNames lists the stack services in display order.
var ServiceNames = []string{"n8n", "ollama", "qdrant", "crawl4ai"}

// builtinDefaults is the lowest-precedence configuration layer.
// Keys are flat and dotted; every other layer overrides them.
var builtinDefaults = map[string]string{
	"aws.region":        "us-east-1",
	"aws.stack_tag_key": "Stack",

	"deploy.poll_attempts":         "10",
	"deploy.poll_interval_seconds": "15",
	"deploy.cleanup_on_failure":    "false",
	"deploy.setup_alb":             "false",
	"deploy.setup_cloudfront":      "false",
	"deploy.setup_monitoring":      "true",

	"images.mode": "default",

	"health.connect_timeout_seconds": "10",
	"health.total_timeout_seconds":   "15",
	"health.max_attempts":            "5",
	"health.initial_backoff_seconds": "2",

	"services.n8n.port":         "5678",
	"services.n8n.health_path":  "/healthz",
	"services.n8n.image":        "n8nio/n8n:1.64.3",
	"services.n8n.image_latest": "n8nio/n8n:latest",
	"services.n8n.image_pinned": "n8nio/n8n@sha256:8d7327de2c0bfbdd7ac1c87d2ae65b91ffba4e94da8e64ba0464316b8c2b94c2",

	"services.ollama.port":         "11434",
	"services.ollama.health_path":  "/api/tags",
	"services.ollama.image":        "ollama/ollama:0.3.12",
	"services.ollama.image_latest": "ollama/ollama:latest",
	"services.ollama.image_pinned": "ollama/ollama@sha256:1e04fd6e13c07da1bd35c12fae1a1f4a1a1a4a8d35a07ad1e3a9e7fcf6e0b83a",

	"services.qdrant.port":         "6333",
	"services.qdrant.health_path":  "/healthz",
	"services.qdrant.image":        "qdrant/qdrant:v1.12.1",
	"services.qdrant.image_latest": "qdrant/qdrant:latest",
	"services.qdrant.image_pinned": "qdrant/qdrant@sha256:5bb6f14e1cd5e9f4f14e0c6d6e09cbaa6e4f2e0de11c42a8f9a53b27a0e29b7c",

	"services.crawl4ai.port":         "11235",
	"services.crawl4ai.health_path":  "/health",
	"services.crawl4ai.image":        "unclecode/crawl4ai:0.3.74",
	"services.crawl4ai.image_latest": "unclecode/crawl4ai:latest",
	"services.crawl4ai.image_pinned": "unclecode/crawl4ai@sha256:3c7f1f6b5a9d0e2b8a6f0d9e4c41e8a2d7b3f5c6a1e9d8b7c4f2a0e6d3b9a5c1",
}

// deploymentDefaults holds per-deployment-type overrides, applied on
// top of builtinDefaults and below the environment layer.
var deploymentDefaults = map[DeploymentType]map[string]string{
	DeploymentSpot: {
		"ec2.instance_type":  "g4dn.xlarge",
		"ec2.spot.max_price": "0.75",
		"ec2.volume_size_gb": "100",
		"compose.profile":    "gpu",
	},
	DeploymentOndemand: {
		"ec2.instance_type":  "g4dn.xlarge",
		"ec2.volume_size_gb": "100",
		"compose.profile":    "gpu",
	},
	DeploymentSimple: {
		"ec2.instance_type":  "t3.large",
		"ec2.volume_size_gb": "30",
		"compose.profile":    "cpu",
	},
}

// ConfigurationError reports a bad or missing setting. It is always
// raised before any cloud call is made.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// ServiceView is the typed configuration of one stack service.
type ServiceView struct {
	Name       string `validate:"required"`
	Port       int    `validate:"min=1,max=65535"`
	HealthPath string `validate:"required,startswith=/"`
	Image      string `validate:"required"`
}

// View is an immutable typed snapshot of the resolved configuration,
// validated once at construction. Components receive a View (or the
// flat DeploymentConfig) instead of reading the process environment.
type View struct {
	Region         string         `validate:"required"`
	DeploymentType DeploymentType `validate:"required"`
	Environment    string

	InstanceType string `validate:"required"`
	SpotMaxPrice float64
	VolumeSizeGB int `validate:"min=1"`
	IAMProfile   string

	ComposeProfile string
	ImageMode      string `validate:"oneof=default latest pinned"`

	SetupALB         bool
	SetupCloudFront  bool
	SetupMonitoring  bool
	CleanupOnFailure bool

	PollAttempts int           `validate:"min=1"`
	PollInterval time.Duration `validate:"min=1s"`

	HealthConnectTimeout time.Duration `validate:"min=1s"`
	HealthTotalTimeout   time.Duration `validate:"min=1s"`
	HealthMaxAttempts    int           `validate:"min=1"`
	HealthInitialBackoff time.Duration `validate:"min=1s"`

	Services []ServiceView `validate:"min=1,dive"`
}

var validate = validator.New()

// Service returns the configuration for the named service, or nil.
func (v *View) Service(name string) *ServiceView {
	for i := range v.Services {
		if v.Services[i].Name == name {
			return &v.Services[i]
		}
	}
	return nil
}

func (v *View) check() error {
	if err := validate.Struct(v); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace())
			}
			return &ConfigurationError{
				Key:    strings.Join(fields, ", "),
				Reason: "invalid or missing value",
			}
		}
		return &ConfigurationError{Reason: err.Error()}
	}
	return nil
}
