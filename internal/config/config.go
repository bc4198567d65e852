package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/scriptbox/internal/logging"
	"github.com/michaelbrown/scriptbox/internal/sandbox"
)

type SandboxConfig struct {
	Image         string        `mapstructure:"image"`
	CacheVolume   string        `mapstructure:"cache_volume"`
	CachePath     string        `mapstructure:"cache_path"`
	CacheEnv      string        `mapstructure:"cache_env"`
	WorkspacePath string        `mapstructure:"workspace_path"`
	Memory        string        `mapstructure:"memory"` // e.g. "2GiB"
	CPUs          float64       `mapstructure:"cpus"`
	PidsLimit     int64         `mapstructure:"pids_limit"`
	Network       string        `mapstructure:"network"`
	Command       []string      `mapstructure:"command"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CleanupGrace  time.Duration `mapstructure:"cleanup_grace"`
	RemoveTimeout time.Duration `mapstructure:"remove_timeout"`
	MaxOutput     string        `mapstructure:"max_output"` // per stream, e.g. "4MiB"
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	WorkspaceRoot  string        `mapstructure:"workspace_root"`
	PassthroughEnv []string      `mapstructure:"passthrough_env"` // host vars forwarded to scripts
}

type Config struct {
	Sandbox SandboxConfig  `mapstructure:"sandbox"`
	Server  ServerConfig   `mapstructure:"server"`
	Log     logging.Config `mapstructure:"log"`
}

// Load reads scriptbox.yaml from path, or from . and $HOME/.scriptbox when
// path is empty. A missing default config file is not an error. Every key
// can be overridden with SCRIPTBOX_<SECTION>_<KEY>.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scriptbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.scriptbox")
	}

	v.SetEnvPrefix("scriptbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	p := sandbox.DefaultPolicy()

	v.SetDefault("sandbox.image", p.Image)
	v.SetDefault("sandbox.cache_volume", p.CacheVolume)
	v.SetDefault("sandbox.cache_path", p.CachePath)
	v.SetDefault("sandbox.cache_env", p.CacheEnv)
	v.SetDefault("sandbox.workspace_path", p.WorkspacePath)
	v.SetDefault("sandbox.memory", humanize.IBytes(uint64(p.Memory)))
	v.SetDefault("sandbox.cpus", p.CPUs)
	v.SetDefault("sandbox.pids_limit", p.PidsLimit)
	v.SetDefault("sandbox.network", p.NetworkMode)
	v.SetDefault("sandbox.command", p.Command)
	v.SetDefault("sandbox.timeout", p.Timeout)
	v.SetDefault("sandbox.cleanup_grace", p.CleanupGrace)
	v.SetDefault("sandbox.remove_timeout", p.RemoveTimeout)
	v.SetDefault("sandbox.max_output", humanize.IBytes(uint64(p.MaxOutputBytes)))

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout", 180*time.Second)
	v.SetDefault("server.workspace_root", filepath.Join(os.TempDir(), "scriptbox"))
	v.SetDefault("server.passthrough_env", []string{"OPENAI_API_KEY", "GOOGLE_API_KEY", "HUGGINGFACEHUB_API_TOKEN"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
}

// Policy converts the sandbox section into a validated sandbox.Policy.
func (c *Config) Policy() (sandbox.Policy, error) {
	s := c.Sandbox
	p := sandbox.DefaultPolicy()

	memory, err := humanize.ParseBytes(s.Memory)
	if err != nil {
		return p, fmt.Errorf("sandbox.memory: %w", err)
	}
	maxOutput, err := humanize.ParseBytes(s.MaxOutput)
	if err != nil {
		return p, fmt.Errorf("sandbox.max_output: %w", err)
	}

	p.Image = s.Image
	p.CacheVolume = s.CacheVolume
	p.CachePath = s.CachePath
	p.CacheEnv = s.CacheEnv
	p.WorkspacePath = s.WorkspacePath
	p.Memory = int64(memory)
	p.CPUs = s.CPUs
	p.PidsLimit = s.PidsLimit
	p.NetworkMode = s.Network
	p.Command = s.Command
	p.Timeout = s.Timeout
	p.CleanupGrace = s.CleanupGrace
	p.RemoveTimeout = s.RemoveTimeout
	p.MaxOutputBytes = int(maxOutput)

	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("sandbox config: %w", err)
	}
	return p, nil
}

// Passthrough returns the configured host variables that are set.
func (s ServerConfig) Passthrough() map[string]string {
	env := make(map[string]string, len(s.PassthroughEnv))
	for _, key := range s.PassthroughEnv {
		if val, ok := os.LookupEnv(key); ok {
			env[key] = val
		}
	}
	return env
}

// YAML renders the effective configuration with durations in human form.
func (c *Config) YAML() ([]byte, error) {
	view := map[string]any{
		"sandbox": map[string]any{
			"image":          c.Sandbox.Image,
			"cache_volume":   c.Sandbox.CacheVolume,
			"cache_path":     c.Sandbox.CachePath,
			"cache_env":      c.Sandbox.CacheEnv,
			"workspace_path": c.Sandbox.WorkspacePath,
			"memory":         c.Sandbox.Memory,
			"cpus":           c.Sandbox.CPUs,
			"pids_limit":     c.Sandbox.PidsLimit,
			"network":        c.Sandbox.Network,
			"command":        c.Sandbox.Command,
			"timeout":        c.Sandbox.Timeout.String(),
			"cleanup_grace":  c.Sandbox.CleanupGrace.String(),
			"remove_timeout": c.Sandbox.RemoveTimeout.String(),
			"max_output":     c.Sandbox.MaxOutput,
		},
		"server": map[string]any{
			"port":            c.Server.Port,
			"request_timeout": c.Server.RequestTimeout.String(),
			"workspace_root":  c.Server.WorkspaceRoot,
			"passthrough_env": c.Server.PassthroughEnv,
		},
		"log": c.Log,
	}
	return yaml.Marshal(view)
}
