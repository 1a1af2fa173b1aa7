// Package docker wraps the Docker SDK with the container lifecycle
// operations the agent adapters need: create/start/attach a sandboxed
// agent process, stop or kill it, wait for exit, and reap stale
// containers left over from a previous gateway run.
package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/config"
	"github.com/kandev/kandev/internal/common/logger"
)

// ContainerConfig describes a container to create.
type ContainerConfig struct {
	Name        string
	Image       string
	Cmd         []string
	Env         []string
	WorkingDir  string
	Mounts      []MountConfig
	NetworkMode string
	Memory      int64 // bytes
	CPUQuota    int64 // microseconds of CPU time per 100ms period
	Labels      map[string]string
	AutoRemove  bool

	// Interactive attaches stdin/stdout/stderr pipes, for agents driven
	// over a line protocol rather than fire-and-forget.
	Interactive bool
}

// MountConfig is a bind mount.
type MountConfig struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Client wraps the Docker SDK client.
type Client struct {
	cli    *client.Client
	logger *logger.Logger
}

// NewClient connects to the Docker daemon named by cfg (or the
// environment default when cfg.Host is empty).
func NewClient(cfg config.DockerConfig, log *logger.Logger) (*Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	log.Info("docker client created", zap.String("host", cfg.Host))
	return &Client{cli: cli, logger: log}, nil
}

// Close closes the Docker client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping reports whether the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

func buildMounts(cfg ContainerConfig) []mount.Mount {
	mounts := make([]mount.Mount, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return mounts
}

// CreateContainer creates a container per cfg and returns its id.
func (c *Client) CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	containerCfg := &container.Config{
		Image:      cfg.Image,
		Cmd:        cfg.Cmd,
		Env:        cfg.Env,
		WorkingDir: cfg.WorkingDir,
		Labels:     cfg.Labels,
	}
	if cfg.Interactive {
		containerCfg.OpenStdin = true
		containerCfg.AttachStdin = true
		containerCfg.AttachStdout = true
		containerCfg.AttachStderr = true
		// No TTY: the line protocol needs clean, unmangled streams.
		containerCfg.Tty = false
	}

	hostCfg := &container.HostConfig{
		Mounts:      buildMounts(cfg),
		NetworkMode: container.NetworkMode(cfg.NetworkMode),
		AutoRemove:  cfg.AutoRemove,
		Resources: container.Resources{
			Memory:   cfg.Memory,
			CPUQuota: cfg.CPUQuota,
		},
	}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", cfg.Name, err)
	}

	c.logger.Info("container created", zap.String("id", resp.ID), zap.String("name", cfg.Name), zap.String("image", cfg.Image))
	return resp.ID, nil
}

// CreateContainerInteractive creates a container with stdin attached.
func (c *Client) CreateContainerInteractive(ctx context.Context, cfg ContainerConfig) (string, error) {
	cfg.Interactive = true
	return c.CreateContainer(ctx, cfg)
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", containerID, err)
	}
	return nil
}

// StopContainer stops a container, allowing it timeout to exit cleanly.
func (c *Client) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	timeoutSeconds := int(timeout.Seconds())
	if err := c.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	return nil
}

// KillContainer sends signal to a container.
func (c *Client) KillContainer(ctx context.Context, containerID string, signal string) error {
	if err := c.cli.ContainerKill(ctx, containerID, signal); err != nil {
		return fmt.Errorf("kill container %s: %w", containerID, err)
	}
	return nil
}

// RemoveContainer removes a container and its volumes, forcibly (even
// while running) when force is set.
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	return nil
}

// WaitContainer blocks until a container exits and returns its exit code.
func (c *Client) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := c.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return -1, fmt.Errorf("wait for container %s: %w", containerID, err)
		}
		return -1, nil
	case status := <-statusCh:
		c.logger.Info("container exited",
			zap.String("container_id", containerID),
			zap.Int64("exit_code", status.StatusCode))
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// ReapStale force-removes every container carrying the given labels,
// regardless of state. Run at gateway startup: agent containers from a
// previous process are orphans by definition, since in-flight runs are
// marked failed on recovery rather than resumed.
func (c *Client) ReapStale(ctx context.Context, labels map[string]string) (int, error) {
	filterArgs := filters.NewArgs()
	for key, value := range labels {
		filterArgs.Add("label", fmt.Sprintf("%s=%s", key, value))
	}

	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return 0, fmt.Errorf("list containers: %w", err)
	}

	reaped := 0
	for _, ctr := range containers {
		if err := c.RemoveContainer(ctx, ctr.ID, true); err != nil {
			c.logger.Warn("failed to reap stale agent container", zap.String("container_id", ctr.ID), zap.Error(err))
			continue
		}
		reaped++
	}
	if reaped > 0 {
		c.logger.Info("reaped stale agent containers", zap.Int("count", reaped))
	}
	return reaped, nil
}

// AttachResult bundles the stream ends of an attached container.
type AttachResult struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Conn   net.Conn
}

// AttachContainer attaches to a container's stdin/stdout/stderr. The
// returned Stdout is Docker's multiplexed stream (stdout + stderr
// interleaved), which is what the line-scanning adapters want anyway.
func (c *Client) AttachContainer(ctx context.Context, containerID string) (*AttachResult, error) {
	resp, err := c.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach to container %s: %w", containerID, err)
	}

	stdinReader, stdinWriter := io.Pipe()
	go func() {
		io.Copy(resp.Conn, stdinReader)
	}()

	return &AttachResult{
		Stdin:  stdinWriter,
		Stdout: resp.Reader,
		Conn:   resp.Conn,
	}, nil
}

// Close closes the attach streams.
func (a *AttachResult) Close() error {
	if a.Stdin != nil {
		a.Stdin.Close()
	}
	if a.Conn != nil {
		a.Conn.Close()
	}
	return nil
}
