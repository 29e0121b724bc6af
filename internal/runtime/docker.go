package runtime

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRuntime implements the Runtime interface using the Docker SDK.
// Each process is a container created with stdin open and attached through
// a hijacked connection.
type DockerRuntime struct {
	client       *client.Client
	defaultImage string
	lineBuffer   int
}

// dockerBackend controls one attached container.
type dockerBackend struct {
	client      *client.Client
	containerID string
	conn        net.Conn
}

// NewDockerRuntime creates a new Docker-based runtime. Processes started
// without an image use defaultImage.
func NewDockerRuntime(defaultImage string) (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{client: cli, defaultImage: defaultImage, lineBuffer: DefaultLineBuffer}, nil
}

// Name implements Runtime.
func (d *DockerRuntime) Name() string { return "docker" }

// Start implements Runtime.Start using Docker containers.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (*Process, error) {
	cfg, err := containerConfig(opts, d.defaultImage)
	if err != nil {
		return nil, &SpawnError{Executable: opts.Executable, Err: err}
	}

	// Check if the image exists locally first to save time.
	if _, err := d.client.ImageInspect(ctx, cfg.Image); err != nil {
		reader, err := d.client.ImagePull(ctx, cfg.Image, image.PullOptions{})
		if err != nil {
			return nil, &SpawnError{Executable: opts.Executable, Err: fmt.Errorf("failed to pull image %s: %w", cfg.Image, err)}
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	created, err := d.client.ContainerCreate(ctx, cfg, nil, nil, nil, "")
	if err != nil {
		return nil, &SpawnError{Executable: opts.Executable, Err: fmt.Errorf("failed to create container: %w", err)}
	}

	// Attach before start so no early output is lost.
	hijacked, err := d.client.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		d.remove(created.ID)
		return nil, &SpawnError{Executable: opts.Executable, Err: fmt.Errorf("failed to attach container: %w", err)}
	}

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		hijacked.Close()
		d.remove(created.ID)
		return nil, &SpawnError{Executable: opts.Executable, Err: fmt.Errorf("failed to start container: %w", err)}
	}

	// Split the multiplexed attach stream into stdout and stderr.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderrW, hijacked.Reader)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
	}()

	backend := &dockerBackend{
		client:      d.client,
		containerID: created.ID,
		conn:        hijacked.Conn,
	}
	info := Info{
		ID:        created.ID,
		Name:      opts.Name,
		Runtime:   d.Name(),
		StartedAt: time.Now().UTC(),
	}
	pipes := Pipes{
		Stdin:  halfCloser{conn: hijacked.Conn, closeWrite: hijacked.CloseWrite},
		Stdout: stdoutR,
		Stderr: stderrR,
	}
	return NewProcess(info, pipes, backend, d.lineBuffer), nil
}

func (d *DockerRuntime) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// containerConfig builds the container definition for opts.
func containerConfig(opts StartOptions, defaultImage string) (*container.Config, error) {
	img := opts.Image
	if img == "" {
		img = defaultImage
	}
	if img == "" {
		return nil, fmt.Errorf("image is required for the docker runtime")
	}

	cfg := &container.Config{
		Image:        img,
		Env:          mapToEnvList(opts.Env),
		WorkingDir:   opts.Dir,
		OpenStdin:    true,
		StdinOnce:    false,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Labels: map[string]string{
			"app.kubernetes.io/managed-by": "procplane",
			"procplane.name":               opts.Name,
		},
	}
	if opts.Executable != "" {
		cfg.Entrypoint = []string{opts.Executable}
		cfg.Cmd = opts.Args
	}
	return cfg, nil
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}

func (b *dockerBackend) Wait() (ExitStatus, error) {
	statusCh, errCh := b.client.ContainerWait(context.Background(), b.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return ExitStatus{Code: -1}, err
	case status := <-statusCh:
		if status.Error != nil {
			return ExitStatus{Code: int(status.StatusCode), Description: status.Error.Message}, nil
		}
		return ExitStatus{Code: int(status.StatusCode)}, nil
	}
}

func (b *dockerBackend) Kill() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return b.client.ContainerKill(ctx, b.containerID, "KILL")
}

// Close drops the attach connection and removes the container.
func (b *dockerBackend) Close() error {
	b.conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return b.client.ContainerRemove(ctx, b.containerID, container.RemoveOptions{Force: true})
}

// halfCloser closes only the write side of the attach connection so the
// container sees EOF on stdin while output keeps flowing.
type halfCloser struct {
	conn       net.Conn
	closeWrite func() error
}

func (h halfCloser) Write(p []byte) (int, error) { return h.conn.Write(p) }

func (h halfCloser) Close() error { return h.closeWrite() }
