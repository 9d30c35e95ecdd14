// Package config provides YAML/JSON configuration loading for telegate.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ResponseMode selects how the gateway delivers streamed Agent output.
type ResponseMode string

// ProcessMode selects whether a channel's Agent is spawned per-message or
// kept alive across turns.
type ProcessMode string

const (
	ResponseModeBatch        ResponseMode = "batch"
	ResponseModeStreamUpdate ResponseMode = "stream-update"
	ResponseModeStreamNative ResponseMode = "stream-native"

	ProcessModeOneshot    ProcessMode = "oneshot"
	ProcessModePersistent ProcessMode = "persistent"
)

// Defaults holds fallback values applied to channels that omit a field.
type Defaults struct {
	Model        string       `yaml:"model" json:"model"`
	SystemPrompt string       `yaml:"systemPrompt" json:"systemPrompt"`
	TimeoutMs    int          `yaml:"timeoutMs" json:"timeoutMs"`
	ResponseMode ResponseMode `yaml:"responseMode" json:"responseMode"`
	ProcessMode  ProcessMode  `yaml:"processMode" json:"processMode"`
}

// ChannelConfig is the raw, possibly-partial per-channel configuration as
// read from disk. Resolve() overlays Defaults to produce a ResolvedChannelConfig.
type ChannelConfig struct {
	Name         string       `yaml:"name" json:"name"`
	Folder       string       `yaml:"folder" json:"folder"`
	Model        string       `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string       `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
	TimeoutMs    int          `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	ResponseMode ResponseMode `yaml:"responseMode,omitempty" json:"responseMode,omitempty"`
	ProcessMode  ProcessMode  `yaml:"processMode,omitempty" json:"processMode,omitempty"`
}

// Config is the top-level telegate configuration, loaded from config.yaml
// (preferred) or config.json.
type Config struct {
	Channels      map[string]ChannelConfig `yaml:"channels" json:"channels"`
	Defaults      Defaults                 `yaml:"defaults" json:"defaults"`
	SystemChannel string                   `yaml:"systemChannel,omitempty" json:"systemChannel,omitempty"`

	// path records where this Config was loaded from, for Save() and for
	// CONFIG_PATH expansion in systemPrompt.
	path string
}

// ResolvedChannelConfig is the effective runtime configuration for one
// channel: per-channel overrides applied on top of workspace defaults.
type ResolvedChannelConfig struct {
	Name         string
	Folder       string
	Model        string
	SystemPrompt string
	TimeoutMs    int
	ResponseMode ResponseMode
	ProcessMode  ProcessMode
}

// defaultTimeoutMs is used when neither the channel nor the defaults block
// specify a timeout.
const defaultTimeoutMs = 10 * 60 * 1000

// Load reads config.yaml from dir, falling back to config.json if the YAML
// file does not exist.
func Load(dir string) (*Config, error) {
	yamlPath := filepath.Join(dir, "config.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil {
		cfg, perr := parseYAML(data)
		if perr != nil {
			return nil, fmt.Errorf("config: parse %s: %w", yamlPath, perr)
		}
		cfg.path = yamlPath
		return cfg, nil
	}

	jsonPath := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s or %s: %w", yamlPath, jsonPath, err)
	}
	cfg, perr := parseJSON(data)
	if perr != nil {
		return nil, fmt.Errorf("config: parse %s: %w", jsonPath, perr)
	}
	cfg.path = jsonPath
	return cfg, nil
}

func parseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseJSON(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived default values.
func (c *Config) applyDefaults() {
	if c.Defaults.TimeoutMs == 0 {
		c.Defaults.TimeoutMs = defaultTimeoutMs
	}
	if c.Defaults.ResponseMode == "" {
		c.Defaults.ResponseMode = ResponseModeBatch
	}
	if c.Defaults.ProcessMode == "" {
		c.Defaults.ProcessMode = ProcessModeOneshot
	}
}

// validate checks that all channels reference a usable folder and that
// enum fields hold recognized values.
func (c *Config) validate() error {
	var errs []string
	for id, ch := range c.Channels {
		if ch.Folder == "" {
			errs = append(errs, fmt.Sprintf("channels[%s].folder is required", id))
		}
		if ch.ResponseMode != "" && !validResponseMode(ch.ResponseMode) {
			errs = append(errs, fmt.Sprintf("channels[%s].responseMode %q is invalid", id, ch.ResponseMode))
		}
		if ch.ProcessMode != "" && !validProcessMode(ch.ProcessMode) {
			errs = append(errs, fmt.Sprintf("channels[%s].processMode %q is invalid", id, ch.ProcessMode))
		}
	}
	if c.Defaults.ResponseMode != "" && !validResponseMode(c.Defaults.ResponseMode) {
		errs = append(errs, fmt.Sprintf("defaults.responseMode %q is invalid", c.Defaults.ResponseMode))
	}
	if c.Defaults.ProcessMode != "" && !validProcessMode(c.Defaults.ProcessMode) {
		errs = append(errs, fmt.Sprintf("defaults.processMode %q is invalid", c.Defaults.ProcessMode))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validResponseMode(m ResponseMode) bool {
	switch m {
	case ResponseModeBatch, ResponseModeStreamUpdate, ResponseModeStreamNative:
		return true
	}
	return false
}

func validProcessMode(m ProcessMode) bool {
	switch m {
	case ProcessModeOneshot, ProcessModePersistent:
		return true
	}
	return false
}

// Resolve overlays defaults onto a channel's raw config, expanding the
// CONFIG_PATH token in systemPrompt to this Config's on-disk path.
func (c *Config) Resolve(channelID string) (ResolvedChannelConfig, bool) {
	ch, ok := c.Channels[channelID]
	if !ok {
		return ResolvedChannelConfig{}, false
	}

	r := ResolvedChannelConfig{
		Name:         ch.Name,
		Folder:       ch.Folder,
		Model:        firstNonEmpty(ch.Model, c.Defaults.Model),
		SystemPrompt: firstNonEmpty(ch.SystemPrompt, c.Defaults.SystemPrompt),
		TimeoutMs:    firstNonZero(ch.TimeoutMs, c.Defaults.TimeoutMs),
		ResponseMode: firstNonEmptyMode(ch.ResponseMode, c.Defaults.ResponseMode),
		ProcessMode:  firstNonEmptyProcMode(ch.ProcessMode, c.Defaults.ProcessMode),
	}
	r.SystemPrompt = strings.ReplaceAll(r.SystemPrompt, "CONFIG_PATH", c.path)
	return r, true
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func firstNonEmptyMode(a, b ResponseMode) ResponseMode {
	if a != "" {
		return a
	}
	return b
}

func firstNonEmptyProcMode(a, b ProcessMode) ProcessMode {
	if a != "" {
		return a
	}
	return b
}

// Path returns the on-disk location this Config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// SetPath sets the on-disk location used by Save.
func (c *Config) SetPath(path string) {
	c.path = path
}

// Save writes the config atomically: marshal to <path>.tmp, parse it back
// to validate, then rename into place. This is the only mutation path the
// Agent's own filesystem tools are expected to use when self-reconfiguring.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config: save: no path set")
	}

	var data []byte
	var err error
	if strings.HasSuffix(c.path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", tmpPath, err)
	}

	if strings.HasSuffix(c.path, ".json") {
		if _, err := parseJSON(data); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("config: validate written config: %w", err)
		}
	} else {
		if _, err := parseYAML(data); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("config: validate written config: %w", err)
		}
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("config: rename %s to %s: %w", tmpPath, c.path, err)
	}
	return nil
}
