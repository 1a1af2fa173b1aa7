package cli

import (
	"context"
	"testing"
)

func TestLocalLauncher_EmptyCommandRejected(t *testing.T) {
	l := NewLocalLauncher()
	if _, err := l.Launch(context.Background(), ProcessSpec{}); err == nil {
		t.Fatal("expected an error for an empty command")
	}
}

func TestLocalLauncher_LaunchesAndStreamsStdout(t *testing.T) {
	l := NewLocalLauncher()
	proc, err := l.Launch(context.Background(), ProcessSpec{Command: []string{"echo", "hello"}})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	buf := make([]byte, 64)
	n, _ := proc.Stdout().Read(buf)
	if n == 0 {
		t.Fatal("expected some stdout output")
	}
	if err := proc.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
}

func TestDockerLauncher_Launch_RequiresAgentType(t *testing.T) {
	l := NewDockerLauncher(nil, nil)
	if _, err := l.Launch(context.Background(), ProcessSpec{}); err == nil {
		t.Fatal("expected Launch to reject the agent-type-less entrypoint")
	}
}
