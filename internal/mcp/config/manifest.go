// Package config loads the JSON manifest that lists extra MCP tool servers.
//
// Manifests are looked up in ./.live-voice-lab/mcp.json and then
// $XDG_CONFIG_HOME/live-voice-lab/mcp.json; entries in the user manifest
// override workspace entries of the same name. An explicit path replaces
// both.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const appDir = "live-voice-lab"

// Manifest represents the top-level structure of an MCP manifest file.
type Manifest struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig describes how to reach a single MCP server: either a
// websocket transport or a command speaking stdio.
type ServerConfig struct {
	Transport *TransportConfig  `json:"transport,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
}

// TransportConfig captures remote connection information for an MCP server.
type TransportConfig struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Result holds the merged configuration after loading all manifest sources.
type Result struct {
	Servers map[string]ServerConfig
	Order   []string
	Sources []string
}

// EnabledValue reports whether the server should be used.
func (s ServerConfig) EnabledValue() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// Enabled returns enabled server names in load order.
func (r Result) Enabled() []string {
	var out []string
	for _, name := range r.Order {
		if r.Servers[name].EnabledValue() {
			out = append(out, name)
		}
	}
	return out
}

// Load reads path when set, otherwise merges the workspace and user
// manifests. Missing default manifests are not an error.
func Load(path string) (Result, error) {
	result := Result{Servers: make(map[string]ServerConfig)}
	if path != "" {
		p, err := expandPath(path)
		if err != nil {
			return result, err
		}
		if err := result.merge(p); err != nil {
			return result, err
		}
		result.finalize()
		return result, nil
	}

	candidates := []func() (string, error){workspaceManifestPath, userManifestPath}
	for _, locate := range candidates {
		p, err := locate()
		if err != nil {
			return result, err
		}
		if err := result.merge(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return result, err
		}
	}
	result.finalize()
	return result, nil
}

func (r *Result) merge(path string) error {
	m, err := readManifest(path)
	if err != nil {
		return err
	}
	for name, cfg := range m.Servers {
		r.Servers[name] = normalizeConfig(cfg)
	}
	r.Sources = append(r.Sources, path)
	return nil
}

func (r *Result) finalize() {
	names := make([]string, 0, len(r.Servers))
	for name := range r.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	r.Order = names
}

// normalizeConfig expands ~ and $VARS in paths, args, env values and URLs.
func normalizeConfig(cfg ServerConfig) ServerConfig {
	expand := func(v string) string {
		v = os.ExpandEnv(v)
		if p, err := expandPath(v); err == nil {
			return p
		}
		return v
	}
	if cfg.Args != nil {
		out := make([]string, len(cfg.Args))
		for i, arg := range cfg.Args {
			out[i] = expand(arg)
		}
		cfg.Args = out
	}
	cfg.Command = expand(cfg.Command)
	if len(cfg.Env) > 0 {
		env := make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			env[k] = expand(v)
		}
		cfg.Env = env
	}
	if cfg.Transport != nil {
		t := *cfg.Transport
		t.URL = expand(t.URL)
		cfg.Transport = &t
	}
	return cfg
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if manifest.Servers == nil {
		manifest.Servers = make(map[string]ServerConfig)
	}
	return manifest, nil
}

func workspaceManifestPath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, "."+appDir, "mcp.json"), nil
}

func userManifestPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDir, "mcp.json"), nil
}

func expandPath(value string) (string, error) {
	if !strings.HasPrefix(value, "~") {
		return value, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return value, err
	}
	if value == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(value[1:], "/")), nil
}
