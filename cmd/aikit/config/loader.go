// Copyright (C) 2025 AI Stack Ops (maintainers@aistackops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// File names recognized under the resolver's configuration directory.
const (
	defaultsFileName        = "defaults.yml"
	deploymentTypesFileName = "deployment-types.yml"
	environmentsDirName     = "environments"
)

// loadLayerFile reads a hierarchical YAML file and flattens it into
// dotted keys. A missing file is not an error; absent layers simply
// fall through to lower-precedence ones.
func loadLayerFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("reading %s: %v", path, err)}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
	}

	out := make(map[string]string)
	if err := flattenInto(out, "", raw); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("%s: %v", path, err)}
	}
	return out, nil
}

// loadDeploymentTypesFile reads deployment-types.yml, whose top-level
// keys name deployment types and whose values are per-type overrides.
func loadDeploymentTypesFile(path string) (map[DeploymentType]map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("reading %s: %v", path, err)}
	}

	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
	}

	out := make(map[DeploymentType]map[string]string, len(raw))
	for typeName, table := range raw {
		flat := make(map[string]string)
		if err := flattenInto(flat, "", table); err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("%s: type %q: %v", path, typeName, err)}
		}
		out[DeploymentType(typeName)] = flat
	}
	return out, nil
}

func environmentFilePath(dir, environment string) string {
	return filepath.Join(dir, environmentsDirName, environment+".yml")
}

// flattenInto walks nested maps, joining key segments with dots.
// Only scalar leaves are allowed; lists have no flat representation.
func flattenInto(out map[string]string, prefix string, value any) error {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			childPrefix := key
			if prefix != "" {
				childPrefix = prefix + "." + key
			}
			if err := flattenInto(out, childPrefix, child); err != nil {
				return err
			}
		}
		return nil
	case nil:
		out[prefix] = ""
		return nil
	case string:
		out[prefix] = v
		return nil
	case bool:
		out[prefix] = strconv.FormatBool(v)
		return nil
	case int:
		out[prefix] = strconv.Itoa(v)
		return nil
	case int64:
		out[prefix] = strconv.FormatInt(v, 10)
		return nil
	case float64:
		out[prefix] = strconv.FormatFloat(v, 'f', -1, 64)
		return nil
	default:
		return fmt.Errorf("key %q: unsupported value type %T (configuration values must be scalars)", prefix, value)
	}
}
