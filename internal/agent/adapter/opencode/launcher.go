package opencode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/kandev/internal/agent/docker"
	"github.com/kandev/kandev/internal/agent/registry"
)

const gracefulStopTimeout = 5 * time.Second

// serverProcess is the lifecycle handle for a spawned OpenCode server,
// local or sandboxed.
type serverProcess interface {
	Stop(ctx context.Context, graceful bool) error
	Wait() error
}

type localServerProcess struct {
	cmd *exec.Cmd
}

func (p *localServerProcess) Stop(ctx context.Context, graceful bool) error {
	if p.cmd.Process == nil {
		return nil
	}
	if graceful {
		return p.cmd.Process.Signal(syscall.SIGTERM)
	}
	return p.cmd.Process.Kill()
}

func (p *localServerProcess) Wait() error { return p.cmd.Wait() }

func launchLocal(ctx context.Context, binary string, port int, password, workingDir string, env map[string]string) (serverProcess, error) {
	cmd := exec.CommandContext(ctx, binary, "serve", "--port", strconv.Itoa(port), "--password", password)
	cmd.Dir = workingDir
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start opencode: %w", err)
	}
	return &localServerProcess{cmd: cmd}, nil
}

type dockerServerProcess struct {
	client      *docker.Client
	containerID string
}

func (p *dockerServerProcess) Stop(ctx context.Context, graceful bool) error {
	if graceful {
		return p.client.StopContainer(ctx, p.containerID, gracefulStopTimeout)
	}
	return p.client.KillContainer(ctx, p.containerID, "SIGKILL")
}

func (p *dockerServerProcess) Wait() error {
	_, err := p.client.WaitContainer(context.Background(), p.containerID)
	return err
}

// launchSandboxed runs the OpenCode server inside the sandbox image
// registered for v1.AgentTypeOpenCode, in host network mode so the
// random port it binds is reachable from the gateway at 127.0.0.1:port
// the same way a local subprocess would be.
func launchSandboxed(ctx context.Context, client *docker.Client, reg *registry.Registry, port int, password, workingDir string, env map[string]string) (serverProcess, error) {
	cfg, ok := reg.Get("opencode")
	if !ok {
		return nil, fmt.Errorf("no sandbox image registered for opencode")
	}

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	containerID, err := client.CreateContainer(ctx, docker.ContainerConfig{
		Name:        "kandev-opencode-" + uuid.NewString()[:8],
		Image:       cfg.ImageRef(),
		Cmd:         []string{"serve", "--port", strconv.Itoa(port), "--password", password},
		Env:         envList,
		WorkingDir:  cfg.WorkingDir,
		NetworkMode: "host",
		Mounts: []docker.MountConfig{
			{Source: workingDir, Target: cfg.WorkingDir, ReadOnly: false},
		},
		Memory:     int64(cfg.ResourceLimits.MemoryMB) * 1024 * 1024,
		CPUQuota:   int64(cfg.ResourceLimits.CPUCores * 100000),
		Labels:     map[string]string{"kandev.component": "agent-adapter", "kandev.agent_type": "opencode"},
		AutoRemove: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create opencode container: %w", err)
	}
	if err := client.StartContainer(ctx, containerID); err != nil {
		return nil, fmt.Errorf("start opencode container: %w", err)
	}
	return &dockerServerProcess{client: client, containerID: containerID}, nil
}
