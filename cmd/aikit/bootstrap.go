// Copyright (C) 2025 AI Stack Ops (maintainers@aistackops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/aistackops/aikit/cmd/aikit/config"
)

// Bootstrapper renders the three instance artifacts: the cloud-init
// user data script, the compose file, and its env file. Everything is
// rendered locally before launch so a bad configuration fails here,
// not on a half-provisioned instance.
type Bootstrapper struct {
	userDataTmpl *template.Template
	composeTmpl  *template.Template
	envTmpl      *template.Template
}

func NewBootstrapper() *Bootstrapper {
	return &Bootstrapper{
		userDataTmpl: template.Must(template.New("userdata").Parse(userDataTemplate)),
		composeTmpl:  template.Must(template.New("compose").Parse(composeTemplate)),
		envTmpl: template.Must(template.New("env").
			Funcs(template.FuncMap{"upper": strings.ToUpper}).
			Parse(envTemplate)),
	}
}

// bootstrapContext is the render input shared by the three templates.
type bootstrapContext struct {
	StackName      string
	ComposeProfile string
	EFSID          string
	Region         string
	Services       []config.ServiceView
	GPU            bool
}

func newBootstrapContext(view *config.View, stackName, efsID string) (bootstrapContext, error) {
	if stackName == "" {
		return bootstrapContext{}, &MissingParameterError{Parameter: "stackName"}
	}
	return bootstrapContext{
		StackName:      stackName,
		ComposeProfile: view.ComposeProfile,
		EFSID:          efsID,
		Region:         view.Region,
		Services:       view.Services,
		GPU:            view.ComposeProfile == "gpu",
	}, nil
}

// RenderUserData produces the cloud-init script an instance runs on
// first boot. efsID is empty for the simple tier, which keeps its data
// on the root volume.
func (b *Bootstrapper) RenderUserData(view *config.View, stackName, efsID string) (string, error) {
	bctx, err := newBootstrapContext(view, stackName, efsID)
	if err != nil {
		return "", err
	}

	compose, err := b.RenderComposeFile(view)
	if err != nil {
		return "", err
	}
	env, err := b.RenderEnvFile(view, stackName)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := b.userDataTmpl.Execute(&sb, struct {
		bootstrapContext
		ComposeFile string
		EnvFile     string
	}{bctx, compose, env}); err != nil {
		return "", fmt.Errorf("rendering user data: %w", err)
	}
	return sb.String(), nil
}

// RenderComposeFile produces the compose definition for the enabled
// services, with image references already resolved for the configured
// image mode.
func (b *Bootstrapper) RenderComposeFile(view *config.View) (string, error) {
	bctx, err := newBootstrapContext(view, "render", "")
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := b.composeTmpl.Execute(&sb, bctx); err != nil {
		return "", fmt.Errorf("rendering compose file: %w", err)
	}
	return sb.String(), nil
}

// RenderEnvFile produces the .env consumed by the compose file.
func (b *Bootstrapper) RenderEnvFile(view *config.View, stackName string) (string, error) {
	bctx, err := newBootstrapContext(view, stackName, "")
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := b.envTmpl.Execute(&sb, bctx); err != nil {
		return "", fmt.Errorf("rendering env file: %w", err)
	}
	return sb.String(), nil
}

const userDataTemplate = `#!/bin/bash
set -euo pipefail

exec > >(tee /var/log/aikit-bootstrap.log) 2>&1
echo "bootstrap start: $(date -u +%FT%TZ)"

export DEBIAN_FRONTEND=noninteractive
apt-get update -y
apt-get install -y docker.io docker-compose-v2 curl
systemctl enable --now docker
{{- if .GPU}}

distribution=$(. /etc/os-release; echo $ID$VERSION_ID)
curl -fsSL https://nvidia.github.io/libnvidia-container/gpgkey | gpg --dearmor -o /usr/share/keyrings/nvidia-container-toolkit-keyring.gpg
curl -fsSL https://nvidia.github.io/libnvidia-container/$distribution/libnvidia-container.list | \
  sed 's#deb https://#deb [signed-by=/usr/share/keyrings/nvidia-container-toolkit-keyring.gpg] https://#g' | \
  tee /etc/apt/sources.list.d/nvidia-container-toolkit.list
apt-get update -y
apt-get install -y nvidia-container-toolkit
nvidia-ctk runtime configure --runtime=docker
systemctl restart docker
{{- end}}
{{- if .EFSID}}

apt-get install -y nfs-common
mkdir -p /mnt/efs
echo "{{.EFSID}}.efs.{{.Region}}.amazonaws.com:/ /mnt/efs nfs4 nfsvers=4.1,rsize=1048576,wsize=1048576,hard,timeo=600,retrans=2 0 0" >> /etc/fstab
mount -a
{{- end}}

mkdir -p /opt/{{.StackName}}
cat > /opt/{{.StackName}}/docker-compose.yml <<'COMPOSE_EOF'
{{.ComposeFile}}
COMPOSE_EOF
cat > /opt/{{.StackName}}/.env <<'ENV_EOF'
{{.EnvFile}}
ENV_EOF

cd /opt/{{.StackName}}
docker compose --profile {{.ComposeProfile}} up -d

echo "bootstrap done: $(date -u +%FT%TZ)"
`

const composeTemplate = `services:
{{- range .Services}}
  {{.Name}}:
    image: {{.Image}}
    restart: unless-stopped
    ports:
      - "{{.Port}}:{{.Port}}"
{{- if eq .Name "ollama"}}
    profiles: ["gpu", "cpu"]
{{- if $.GPU}}
    deploy:
      resources:
        reservations:
          devices:
            - driver: nvidia
              count: all
              capabilities: [gpu]
{{- end}}
{{- end}}
    healthcheck:
      test: ["CMD-SHELL", "curl -fsS http://localhost:{{.Port}}{{.HealthPath}} || exit 1"]
      interval: 30s
      timeout: 10s
      retries: 5
{{- end}}
`

const envTemplate = `STACK_NAME={{.StackName}}
COMPOSE_PROFILE={{.ComposeProfile}}
AWS_REGION={{.Region}}
{{- range .Services}}
{{upper .Name}}_PORT={{.Port}}
{{- end}}
`
