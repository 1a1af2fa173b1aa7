package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/kandev/internal/agent/docker"
	"github.com/kandev/kandev/internal/agent/registry"
)

// process is the minimal surface a Launcher hands back: a stdout reader to
// line-scan, and a way to stop the underlying process.
type process interface {
	Stdout() io.Reader
	Stdin() io.WriteCloser
	Stop(ctx context.Context, graceful bool) error
	Wait() error
}

// Launcher starts a CLI agent's process, either as a bare subprocess on
// the host or inside a Docker container. The adapter factory picks the
// path from the Execution.Sandbox config, so both the "runs as a CLI
// subprocess" and the sandboxed path are real, exercised code paths
// rather than a single hardcoded choice.
type Launcher interface {
	Launch(ctx context.Context, spec ProcessSpec) (process, error)
}

// ProcessSpec describes the command to run.
type ProcessSpec struct {
	Command    []string
	WorkingDir string
	Env        map[string]string
}

const gracefulStopTimeout = 5 * time.Second

// localProcess wraps os/exec.Cmd.
type localProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stdin  io.WriteCloser
}

func (p *localProcess) Stdout() io.Reader     { return p.stdout }
func (p *localProcess) Stdin() io.WriteCloser { return p.stdin }

func (p *localProcess) Stop(ctx context.Context, graceful bool) error {
	if p.cmd.Process == nil {
		return nil
	}
	if graceful {
		return p.cmd.Process.Signal(syscall.SIGTERM)
	}
	return p.cmd.Process.Kill()
}

func (p *localProcess) Wait() error { return p.cmd.Wait() }

// LocalLauncher runs the agent as a bare host subprocess. Used when no
// docker sandbox is configured or available for the host.
type LocalLauncher struct{}

func NewLocalLauncher() *LocalLauncher { return &LocalLauncher{} }

func (l *LocalLauncher) Launch(ctx context.Context, spec ProcessSpec) (process, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDir
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	return &localProcess{cmd: cmd, stdout: stdout, stdin: stdin}, nil
}

// dockerProcess wraps an attached container.
type dockerProcess struct {
	client      *docker.Client
	containerID string
	attach      *docker.AttachResult
}

func (p *dockerProcess) Stdout() io.Reader     { return p.attach.Stdout }
func (p *dockerProcess) Stdin() io.WriteCloser { return p.attach.Stdin }

func (p *dockerProcess) Stop(ctx context.Context, graceful bool) error {
	if graceful {
		return p.client.StopContainer(ctx, p.containerID, gracefulStopTimeout)
	}
	return p.client.KillContainer(ctx, p.containerID, "SIGKILL")
}

func (p *dockerProcess) Wait() error {
	_, err := p.client.WaitContainer(context.Background(), p.containerID)
	return err
}

// DockerLauncher runs the agent inside a sandboxed container image looked
// up from the agent registry by agent type ID.
type DockerLauncher struct {
	client   *docker.Client
	registry *registry.Registry
	labels   map[string]string
}

func NewDockerLauncher(client *docker.Client, reg *registry.Registry) *DockerLauncher {
	return &DockerLauncher{client: client, registry: reg, labels: map[string]string{"kandev.component": "agent-adapter"}}
}

// Launch satisfies Launcher for callers that don't need a specific agent
// type's sandbox image; most callers should use LaunchForAgent instead.
func (l *DockerLauncher) Launch(ctx context.Context, spec ProcessSpec) (process, error) {
	return nil, fmt.Errorf("DockerLauncher.Launch requires an agent type; use LaunchForAgent")
}

// LaunchForAgent creates, starts, and attaches a container for the given
// agent type's sandbox image, bind-mounting workingDir as the container's
// working directory.
func (l *DockerLauncher) LaunchForAgent(ctx context.Context, agentTypeID string, spec ProcessSpec) (process, error) {
	cfg, ok := l.registry.Get(agentTypeID)
	if !ok {
		return nil, fmt.Errorf("no sandbox image registered for agent type %q", agentTypeID)
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	mounts := []docker.MountConfig{
		{Source: spec.WorkingDir, Target: cfg.WorkingDir, ReadOnly: false},
	}

	containerID, err := l.client.CreateContainerInteractive(ctx, docker.ContainerConfig{
		Name:       "kandev-agent-" + uuid.NewString()[:8],
		Image:      cfg.ImageRef(),
		Cmd:        spec.Command,
		Env:        env,
		WorkingDir: cfg.WorkingDir,
		Mounts:     mounts,
		Memory:     int64(cfg.ResourceLimits.MemoryMB) * 1024 * 1024,
		CPUQuota:   int64(cfg.ResourceLimits.CPUCores * 100000),
		Labels:     l.labels,
		AutoRemove: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := l.client.StartContainer(ctx, containerID); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}
	attach, err := l.client.AttachContainer(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("attach container: %w", err)
	}
	return &dockerProcess{client: l.client, containerID: containerID, attach: attach}, nil
}
