package sandbox

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// provisionTimeout bounds one shared provisioning attempt.
const provisionTimeout = time.Minute

// Provisioner makes sure the cache volume and runtime image exist before the
// first execution. Once it succeeds it is never consulted again.
type Provisioner struct {
	rt     Runtime
	policy Policy
	log    *zap.Logger

	timeout time.Duration
	group   singleflight.Group
	ready   atomic.Bool
}

// NewProvisioner creates a provisioner for the policy's image and volume.
func NewProvisioner(rt Runtime, policy Policy, log *zap.Logger) *Provisioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provisioner{rt: rt, policy: policy, log: log, timeout: provisionTimeout}
}

// Ensure provisions the environment. Concurrent first callers share a single
// attempt that runs detached from any one caller, so a caller that gives up
// does not fail the others. Failures are not cached.
func (p *Provisioner) Ensure(ctx context.Context) error {
	if p.ready.Load() {
		return nil
	}
	ch := p.group.DoChan("ensure", func() (any, error) {
		if p.ready.Load() {
			return nil, nil
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()

		if err := p.ensureVolume(pctx); err != nil {
			return nil, err
		}
		if err := p.ensureImage(pctx); err != nil {
			return nil, err
		}
		p.ready.Store(true)
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return newError(KindUnclassifiedFault, "provision", ctx.Err(), "execution cancelled")
	}
}

// Ready reports whether provisioning has completed.
func (p *Provisioner) Ready() bool {
	return p.ready.Load()
}

func (p *Provisioner) ensureVolume(ctx context.Context) error {
	name := p.policy.CacheVolume
	err := p.rt.InspectVolume(ctx, name)
	if err == nil {
		p.log.Debug("cache volume exists", zap.String("volume", name))
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return newError(KindInfrastructureUnavailable, "provision", err, "inspecting volume %q", name)
	}

	err = p.rt.CreateVolume(ctx, name, p.policy.Labels)
	switch {
	case err == nil:
		p.log.Info("created cache volume", zap.String("volume", name))
		return nil
	case errors.Is(err, ErrConflict):
		// Another process created it between inspect and create.
		p.log.Debug("cache volume created concurrently", zap.String("volume", name))
		return nil
	default:
		return newError(KindInfrastructureUnavailable, "provision", err, "creating volume %q", name)
	}
}

func (p *Provisioner) ensureImage(ctx context.Context) error {
	ref := p.policy.Image
	err := p.rt.InspectImage(ctx, ref)
	switch {
	case err == nil:
		p.log.Debug("runtime image found", zap.String("image", ref))
		return nil
	case errors.Is(err, ErrNotFound):
		return newError(KindConfigurationMissing, "provision", nil,
			"runtime image %q not found; build it before running scripts", ref)
	default:
		return newError(KindInfrastructureUnavailable, "provision", err, "inspecting image %q", ref)
	}
}
