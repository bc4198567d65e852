package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// containerHandle owns one started container. release removes it exactly
// once, whatever path the execution took.
type containerHandle struct {
	rt      Runtime
	id      string
	timeout time.Duration
	log     *zap.Logger

	once sync.Once
}

func newHandle(rt Runtime, id string, timeout time.Duration, log *zap.Logger) *containerHandle {
	return &containerHandle{rt: rt, id: id, timeout: timeout, log: log}
}

// release force-removes the container. It runs on a context detached from
// the caller so a cancelled request still cleans up. Failures are logged and
// never returned.
func (h *containerHandle) release(ctx context.Context) {
	h.once.Do(func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()

		err := h.rt.RemoveContainer(rctx, h.id)
		switch {
		case err == nil:
			h.log.Debug("container removed")
		case errors.Is(err, ErrNotFound):
			h.log.Debug("container already removed")
		default:
			rerr := newError(KindRemovalFailure, "remove", err, "removing container %s", shortID(h.id))
			h.log.Error("container removal failed", zap.String("kind", rerr.Kind.String()), zap.Error(rerr))
		}
	})
}

// Sweeper removes managed containers left behind by a process that died
// while an execution was in flight.
type Sweeper struct {
	rt     Runtime
	policy Policy
	log    *zap.Logger
	now    func() time.Time
}

func NewSweeper(rt Runtime, policy Policy, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{rt: rt, policy: policy, log: log, now: time.Now}
}

// Sweep force-removes managed containers created more than olderThan ago and
// returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	if len(s.policy.Labels) == 0 {
		return 0, newError(KindUnclassifiedFault, "sweep", nil, "refusing to sweep without a managed label")
	}

	list, err := s.rt.ListContainers(ctx, s.policy.Labels)
	if err != nil {
		return 0, newError(KindInfrastructureUnavailable, "sweep", err, "listing containers")
	}

	cutoff := s.now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, c := range list {
		if c.Created.After(cutoff) {
			continue
		}
		err := s.rt.RemoveContainer(ctx, c.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, newError(KindRemovalFailure, "sweep", err, "removing container %s", shortID(c.ID)))
			continue
		}
		removed++
		s.log.Info("removed orphaned container",
			zap.String("container_id", shortID(c.ID)),
			zap.String("name", c.Name),
			zap.String("state", c.State),
			zap.Time("created", c.Created))
	}
	return removed, errors.Join(errs...)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
