package sandbox

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// scriptRun is what a simulated container does once started.
type scriptRun struct {
	code   int
	exited bool
	stdout string
	stderr string
	delay  time.Duration
}

type fakeContainer struct {
	spec    ContainerSpec
	run     scriptRun
	running bool
	created time.Time
}

// fakeRuntime is an in-memory Runtime that counts container lifecycle calls.
type fakeRuntime struct {
	mu sync.Mutex

	images     map[string]bool
	volumes    map[string]bool
	containers map[string]*fakeContainer
	nextID     int

	creates        int
	starts         int
	removes        int
	volumeCreates  int
	volumeInspects int
	specs          []ContainerSpec

	imageErr        error
	volumeErr       error
	volumeCreateErr func(n int) error
	createErr       error
	startErr        error
	removeErr       error
	logsErr         error
	waitPanic       bool

	// When volumeGate is set, InspectVolume signals inspecting and then blocks
	// until the gate closes or its context ends.
	volumeGate chan struct{}
	inspecting chan struct{}

	// script simulates the container process. Defaults to a clean exit.
	script func(ctx context.Context, spec ContainerSpec) scriptRun
}

func newFakeRuntime(policy Policy) *fakeRuntime {
	return &fakeRuntime{
		images:     map[string]bool{policy.Image: true},
		volumes:    map[string]bool{},
		containers: map[string]*fakeContainer{},
	}
}

func (f *fakeRuntime) InspectImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.imageErr != nil {
		return f.imageErr
	}
	if !f.images[ref] {
		return fmt.Errorf("%w: image %s", ErrNotFound, ref)
	}
	return nil
}

func (f *fakeRuntime) InspectVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	f.volumeInspects++
	gate, inspecting := f.volumeGate, f.inspecting
	f.mu.Unlock()
	if gate != nil {
		if inspecting != nil {
			inspecting <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volumeErr != nil {
		return f.volumeErr
	}
	if !f.volumes[name] {
		return fmt.Errorf("%w: volume %s", ErrNotFound, name)
	}
	return nil
}

func (f *fakeRuntime) CreateVolume(_ context.Context, name string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumeCreates++
	if f.volumeCreateErr != nil {
		if err := f.volumeCreateErr(f.volumeCreates); err != nil {
			return err
		}
	}
	if f.volumes[name] {
		return fmt.Errorf("%w: volume %s", ErrConflict, name)
	}
	f.volumes[name] = true
	return nil
}

func (f *fakeRuntime) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.creates++
	f.nextID++
	id := fmt.Sprintf("%064d", f.nextID)
	f.containers[id] = &fakeContainer{spec: spec, created: time.Now()}
	f.specs = append(f.specs, spec)
	return id, nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	c, ok := f.containers[id]
	if !ok {
		return ErrNotFound
	}
	f.starts++
	c.running = true
	return nil
}

func (f *fakeRuntime) WaitContainer(ctx context.Context, id string) (int, bool, error) {
	f.mu.Lock()
	c, ok := f.containers[id]
	script := f.script
	panicking := f.waitPanic
	f.mu.Unlock()
	if !ok {
		return 0, false, ErrNotFound
	}
	if panicking {
		panic("runtime exploded")
	}

	run := scriptRun{exited: true}
	if script != nil {
		run = script(ctx, c.spec)
	}
	if run.delay > 0 {
		timer := time.NewTimer(run.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return 0, false, ctx.Err()
		}
	}

	f.mu.Lock()
	c.run = run
	c.running = false
	f.mu.Unlock()
	return run.code, run.exited, nil
}

func (f *fakeRuntime) ContainerLogs(_ context.Context, id string, stdout, stderr io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return f.logsErr
	}
	c, ok := f.containers[id]
	if !ok {
		return ErrNotFound
	}
	io.WriteString(stdout, c.run.stdout)
	io.WriteString(stderr, c.run.stderr)
	return nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("%w: container %s", ErrNotFound, id)
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeRuntime) ListContainers(_ context.Context, labels map[string]string) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerInfo
	for id, c := range f.containers {
		match := true
		for k, v := range labels {
			if c.spec.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, ContainerInfo{ID: id, Name: c.spec.Name, Created: c.created})
		}
	}
	return out, nil
}

func (f *fakeRuntime) Close() error { return nil }

func (f *fakeRuntime) counts() (creates, removes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.removes
}

func (f *fakeRuntime) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}
