package sandbox

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when an image, volume or container does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the object already exists.
	ErrConflict = errors.New("already exists")
	// ErrUnavailable is returned when the daemon cannot be reached.
	ErrUnavailable = errors.New("container daemon unavailable")
)

// Mount binds a host path or named volume into the container.
type Mount struct {
	Volume   bool   // Source is a named volume rather than a host path
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerSpec is everything needed to create one sandbox container.
type ContainerSpec struct {
	Name       string
	Image      string
	Command    []string
	Env        []string
	WorkingDir string
	Mounts     []Mount
	Labels     map[string]string

	Memory      int64
	CPUPeriod   int64
	CPUQuota    int64
	PidsLimit   int64
	NetworkMode string
}

// ContainerInfo summarizes a container found by ListContainers.
type ContainerInfo struct {
	ID      string
	Name    string
	State   string
	Created time.Time
}

// Runtime is the subset of a container daemon used by the sandbox.
type Runtime interface {
	InspectImage(ctx context.Context, ref string) error
	InspectVolume(ctx context.Context, name string) error
	CreateVolume(ctx context.Context, name string, labels map[string]string) error

	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	// WaitContainer blocks until the container stops or ctx is done. exited is
	// false when the daemon reported no status code.
	WaitContainer(ctx context.Context, id string) (code int, exited bool, err error)
	// ContainerLogs copies the demultiplexed output of a stopped container.
	ContainerLogs(ctx context.Context, id string, stdout, stderr io.Writer) error
	// RemoveContainer stops the container if running and deletes it.
	RemoveContainer(ctx context.Context, id string) error
	ListContainers(ctx context.Context, labels map[string]string) ([]ContainerInfo, error)

	Close() error
}
