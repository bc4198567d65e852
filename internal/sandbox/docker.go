package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DockerSandbox runs scripts in resource-capped containers.
type DockerSandbox struct {
	Policy Policy

	rt   Runtime
	prov *Provisioner
	log  *zap.Logger
}

// Option configures a DockerSandbox.
type Option func(*DockerSandbox)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(d *DockerSandbox) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDockerSandbox creates a sandbox with the given policy. Provisioning is
// deferred to the first execution.
func NewDockerSandbox(rt Runtime, policy Policy, opts ...Option) (*DockerSandbox, error) {
	if rt == nil {
		return nil, errors.New("runtime is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox policy: %w", err)
	}
	d := &DockerSandbox{Policy: policy, rt: rt, log: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	d.prov = NewProvisioner(rt, policy, d.log)
	return d, nil
}

// Provision ensures the cache volume and runtime image exist.
func (d *DockerSandbox) Provision(ctx context.Context) error {
	return d.prov.Ensure(ctx)
}

func (d *DockerSandbox) Exec(ctx context.Context, req Request) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("execution panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = nil
			err = &Error{Kind: KindUnclassifiedFault, Op: "exec", Message: fmt.Sprintf("unexpected fault: %v", r)}
		}
	}()

	if err := d.prov.Ensure(ctx); err != nil {
		return nil, err
	}

	dir, name, err := Stage(req.Workspace, req.Script, d.Policy)
	if err != nil {
		return nil, err
	}

	return d.execute(ctx, dir, name, req.Env)
}

func (d *DockerSandbox) Run(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	res, err := d.Exec(ctx, req)
	if err == nil {
		var out string
		out, err = Classify(res)
		if err == nil {
			d.log.Info("script executed successfully",
				zap.String("workspace", req.Workspace),
				zap.Duration("duration", time.Since(start)))
			return out, nil
		}
	}
	d.log.Warn("script execution failed",
		zap.String("workspace", req.Workspace),
		zap.String("kind", KindOf(err).String()),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return "", err
}

// execute launches the container, waits for it under the policy deadline and
// collects its output. The container is removed before returning on every
// path once it has been created.
func (d *DockerSandbox) execute(ctx context.Context, dir, script string, env map[string]string) (*Result, error) {
	log := d.log.With(zap.String("workspace", dir), zap.String("script", script))

	timeout, err := d.effectiveTimeout(ctx)
	if err != nil {
		return nil, err
	}

	spec := ContainerSpec{
		Name:       containerName(),
		Image:      d.Policy.Image,
		Command:    scriptCommand(d.Policy, script),
		Env:        d.Policy.Environment(env),
		WorkingDir: d.Policy.WorkspacePath,
		Mounts: []Mount{
			{Source: dir, Target: d.Policy.WorkspacePath},
			{Volume: true, Source: d.Policy.CacheVolume, Target: d.Policy.CachePath},
		},
		Labels:      d.Policy.Labels,
		Memory:      d.Policy.Memory,
		CPUPeriod:   d.Policy.CPUPeriod,
		CPUQuota:    d.Policy.CPUQuota(),
		PidsLimit:   d.Policy.PidsLimit,
		NetworkMode: d.Policy.NetworkMode,
	}

	id, err := d.rt.CreateContainer(ctx, spec)
	if err != nil {
		return nil, launchError(err, "creating container")
	}
	log = log.With(zap.String("container_id", shortID(id)))
	handle := newHandle(d.rt, id, d.Policy.RemoveTimeout, log)
	defer handle.release(ctx)

	if err := d.rt.StartContainer(ctx, id); err != nil {
		return nil, launchError(err, "starting container")
	}
	log.Debug("container launched", zap.Duration("timeout", timeout))

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	code, exited, err := d.rt.WaitContainer(waitCtx, id)
	waitErr := waitCtx.Err()
	cancel()
	if err != nil {
		return nil, d.waitError(ctx, waitErr, err, timeout)
	}
	log.Debug("container completed", zap.Int("exit_code", code), zap.Bool("exited", exited))

	stdout := newCappedBuffer(d.Policy.MaxOutputBytes)
	stderr := newCappedBuffer(d.Policy.MaxOutputBytes)
	if err := d.rt.ContainerLogs(ctx, id, stdout, stderr); err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindUnclassifiedFault, "logs", err, "execution cancelled")
		}
		return nil, newError(KindInfrastructureUnavailable, "logs", err, "collecting output")
	}
	if stdout.truncated || stderr.truncated {
		log.Warn("output truncated", zap.Int("limit_bytes", d.Policy.MaxOutputBytes))
	}

	return &Result{
		Stdout:          strings.TrimSpace(stdout.String()),
		Stderr:          strings.TrimSpace(stderr.String()),
		ExitCode:        code,
		Exited:          exited,
		StdoutTruncated: stdout.truncated,
		StderrTruncated: stderr.truncated,
	}, nil
}

// effectiveTimeout shortens the policy timeout so it expires at least
// CleanupGrace before any caller deadline.
func (d *DockerSandbox) effectiveTimeout(ctx context.Context) (time.Duration, error) {
	timeout := d.Policy.Timeout
	deadline, ok := ctx.Deadline()
	if !ok {
		return timeout, nil
	}
	remaining := time.Until(deadline) - d.Policy.CleanupGrace
	if remaining <= 0 {
		return 0, newError(KindExecutionTimeout, "launch", nil,
			"caller deadline leaves no time to run the script")
	}
	if remaining < timeout {
		d.log.Debug("execution timeout clamped to caller deadline",
			zap.Duration("policy_timeout", timeout), zap.Duration("timeout", remaining))
		timeout = remaining
	}
	return timeout, nil
}

func (d *DockerSandbox) waitError(ctx context.Context, waitErr, err error, timeout time.Duration) error {
	switch {
	case ctx.Err() != nil:
		return newError(KindUnclassifiedFault, "wait", ctx.Err(), "execution cancelled")
	case errors.Is(waitErr, context.DeadlineExceeded):
		return newError(KindExecutionTimeout, "wait", nil,
			"script execution timed out after %s", timeout.Round(time.Millisecond))
	case errors.Is(err, ErrUnavailable):
		return newError(KindInfrastructureUnavailable, "wait", err, "waiting for container")
	default:
		return newError(KindUnclassifiedFault, "wait", err, "waiting for container")
	}
}

func launchError(err error, action string) error {
	if errors.Is(err, ErrUnavailable) {
		return newError(KindInfrastructureUnavailable, "launch", err, "%s", action)
	}
	return newError(KindLaunchFailure, "launch", err, "%s", action)
}
