package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// LabelManaged marks containers and volumes created by scriptbox.
const LabelManaged = "scriptbox.managed"

// Policy is the fixed sandbox environment shared by every execution.
type Policy struct {
	Image         string // Pre-built runtime image, never pulled or built
	CacheVolume   string // Named volume shared across executions
	CachePath     string // Mount point of the cache volume inside the container
	CacheEnv      string // Env var pointing the script at CachePath
	WorkspacePath string // Mount point and working directory of the workspace

	Memory    int64   // Hard memory ceiling in bytes
	CPUs      float64 // CPU quota as a fraction of CPUPeriod
	CPUPeriod int64   // Scheduling period in microseconds
	PidsLimit int64

	NetworkMode string // "bridge": outbound NAT, no host network

	Command      []string // Interpreter prefix; the script name is appended
	ScriptPrefix string
	ScriptExt    string

	Timeout       time.Duration // Execution deadline for the container wait
	CleanupGrace  time.Duration // Reserved before a caller deadline for removal
	RemoveTimeout time.Duration

	MaxOutputBytes int // Per stream

	Labels map[string]string
}

// DefaultPolicy returns the caps used for untrusted analysis scripts.
func DefaultPolicy() Policy {
	return Policy{
		Image:          "data-analyst-sandbox:latest",
		CacheVolume:    "huggingface_model_cache",
		CachePath:      "/huggingface_cache",
		CacheEnv:       "SENTENCE_TRANSFORMERS_HOME",
		WorkspacePath:  "/workspace",
		Memory:         2 << 30,
		CPUs:           1.0,
		CPUPeriod:      100000,
		PidsLimit:      256,
		NetworkMode:    "bridge",
		Command:        []string{"python"},
		ScriptPrefix:   "script_",
		ScriptExt:      ".py",
		Timeout:        150 * time.Second,
		CleanupGrace:   10 * time.Second,
		RemoveTimeout:  30 * time.Second,
		MaxOutputBytes: 4 << 20,
		Labels:         map[string]string{LabelManaged: "true"},
	}
}

// CPUQuota converts the CPU fraction into a quota per CPUPeriod.
func (p Policy) CPUQuota() int64 {
	return int64(p.CPUs * float64(p.CPUPeriod))
}

// Validate checks that the policy can be applied to every execution.
func (p Policy) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Image) == "" {
		errs = append(errs, errors.New("image is required"))
	}
	if strings.TrimSpace(p.CacheVolume) == "" {
		errs = append(errs, errors.New("cache volume is required"))
	}
	if !strings.HasPrefix(p.CachePath, "/") {
		errs = append(errs, fmt.Errorf("cache path %q must be absolute", p.CachePath))
	}
	if !strings.HasPrefix(p.WorkspacePath, "/") {
		errs = append(errs, fmt.Errorf("workspace path %q must be absolute", p.WorkspacePath))
	}
	if p.CacheEnv == "" {
		errs = append(errs, errors.New("cache env var is required"))
	}
	if p.Memory <= 0 {
		errs = append(errs, errors.New("memory limit must be positive"))
	}
	if p.CPUs <= 0 || p.CPUPeriod <= 0 || p.CPUQuota() < 1000 {
		errs = append(errs, fmt.Errorf("cpu quota %.2f of %dus is too small", p.CPUs, p.CPUPeriod))
	}
	switch p.NetworkMode {
	case "bridge", "none":
	default:
		errs = append(errs, fmt.Errorf("network mode %q not allowed", p.NetworkMode))
	}
	if len(p.Command) == 0 {
		errs = append(errs, errors.New("command is required"))
	}
	if p.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if p.CleanupGrace < 0 || p.RemoveTimeout <= 0 {
		errs = append(errs, errors.New("cleanup grace and remove timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateDeadline checks that the execution timeout plus cleanup grace fits
// inside an outer deadline imposed by the caller.
func (p Policy) ValidateDeadline(outer time.Duration) error {
	if outer <= 0 {
		return nil
	}
	if p.Timeout+p.CleanupGrace >= outer {
		return fmt.Errorf("execution timeout %s plus cleanup grace %s must be shorter than the %s request deadline",
			p.Timeout, p.CleanupGrace, outer)
	}
	return nil
}

// Environment merges the caller overrides over the defaults and returns a
// sorted KEY=VALUE list. The cache env var always has a value unless the
// caller supplies one. Keys are used as given; a key that is empty, padded
// with whitespace or contains "=" is dropped.
func (p Policy) Environment(overrides map[string]string) []string {
	merged := map[string]string{p.CacheEnv: p.CachePath}
	for k, v := range overrides {
		if !validEnvKey(k) {
			continue
		}
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

func validEnvKey(k string) bool {
	return k != "" && k == strings.TrimSpace(k) && !strings.Contains(k, "=")
}
