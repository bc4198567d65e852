package sandbox

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRuntime implements Runtime on the Docker Engine API.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects using the standard DOCKER_* environment and
// negotiates the API version with the daemon.
func NewDockerRuntime(opts ...client.Opt) (*DockerRuntime, error) {
	opts = append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// mapError folds daemon errors onto the package sentinels, keeping the
// original error in the chain.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case cerrdefs.IsNotFound(err):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case cerrdefs.IsConflict(err), cerrdefs.IsAlreadyExists(err):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case client.IsErrConnectionFailed(err), cerrdefs.IsUnavailable(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}

func (d *DockerRuntime) InspectImage(ctx context.Context, ref string) error {
	_, err := d.cli.ImageInspect(ctx, ref)
	return mapError(err)
}

func (d *DockerRuntime) InspectVolume(ctx context.Context, name string) error {
	_, err := d.cli.VolumeInspect(ctx, name)
	return mapError(err)
}

func (d *DockerRuntime) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name, Labels: labels})
	return mapError(err)
}

func (d *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		Labels:     spec.Labels,
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		typ := mount.TypeBind
		if m.Volume {
			typ = mount.TypeVolume
		}
		mounts = append(mounts, mount.Mount{
			Type:     typ,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	pids := spec.PidsLimit
	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(spec.NetworkMode),
		Privileged:  false,
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     spec.Memory,
			MemorySwap: spec.Memory, // no swap beyond the memory ceiling
			CPUPeriod:  spec.CPUPeriod,
			CPUQuota:   spec.CPUQuota,
			PidsLimit:  &pids,
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", mapError(err)
	}
	return resp.ID, nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	return mapError(d.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

func (d *DockerRuntime) WaitContainer(ctx context.Context, id string) (int, bool, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	return waitResult(ctx, statusCh, errCh)
}

// waitResult reads the first outcome of a container wait. A status carrying
// a daemon error has no usable exit code.
func waitResult(ctx context.Context, statusCh <-chan container.WaitResponse, errCh <-chan error) (int, bool, error) {
	select {
	case err := <-errCh:
		return 0, false, mapError(err)
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return 0, false, nil
		}
		return int(st.StatusCode), true, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

func (d *DockerRuntime) ContainerLogs(ctx context.Context, id string, stdout, stderr io.Writer) error {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return mapError(err)
	}
	defer rc.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return fmt.Errorf("demultiplexing logs: %w", err)
	}
	return nil
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	return mapError(d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
}

func (d *DockerRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	args := filters.NewArgs()
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args.Add("label", k+"="+labels[k])
	}

	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]ContainerInfo, 0, len(list))
	for _, c := range list {
		var name string
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, ContainerInfo{
			ID:      c.ID,
			Name:    name,
			State:   string(c.State),
			Created: time.Unix(c.Created, 0),
		})
	}
	return out, nil
}

func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}
