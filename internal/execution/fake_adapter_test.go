package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/kandev/kandev/internal/agent/adapter"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// fakeHandle is a hand-rolled adapter.Handle whose event channel the test
// drives directly, standing in for a real agent subprocess/HTTP session.
type fakeHandle struct {
	events chan adapter.RawAgentEvent
	err    error
	alive  bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan adapter.RawAgentEvent, 16), alive: true}
}

func (h *fakeHandle) Events() <-chan adapter.RawAgentEvent { return h.events }
func (h *fakeHandle) Err() error                           { return h.err }
func (h *fakeHandle) Alive() bool                          { return h.alive }

// fakeAdapter is a hand-rolled adapter.Adapter satisfying the narrow
// interface the Execution Engine depends on, following this codebase's
// test convention of small hand-rolled stubs over network/process fakes.
type fakeAdapter struct {
	mu        sync.Mutex
	handle    *fakeHandle
	startErr  error
	submitErr error
	started   int
	submitted int
	aborted   int
}

func (a *fakeAdapter) Start(_ context.Context, _ string, _ map[string]string) (adapter.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started++
	if a.startErr != nil {
		return nil, a.startErr
	}
	a.handle = newFakeHandle()
	return a.handle, nil
}

func (a *fakeAdapter) SubmitPrompt(_ context.Context, _ adapter.Handle, _ string, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitted++
	return a.submitErr
}

func (a *fakeAdapter) Abort(_ context.Context, h adapter.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aborted++
	if fh, ok := h.(*fakeHandle); ok {
		fh.alive = false
	}
	return nil
}

// fakeInputAdapter extends fakeAdapter with the optional mid-run input
// channel the engine probes for (adapter.InputSender).
type fakeInputAdapter struct {
	*fakeAdapter
	inputs []string
}

func (a *fakeInputAdapter) SendInput(_ context.Context, _ adapter.Handle, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inputs = append(a.inputs, text)
	return nil
}

// fakeFactory dispatches to a pre-registered fake adapter per agent type.
type fakeFactory struct {
	adapters map[v1.AgentType]adapter.Adapter
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{adapters: make(map[v1.AgentType]adapter.Adapter)}
}

func (f *fakeFactory) with(agentType v1.AgentType, ad adapter.Adapter) *fakeFactory {
	f.adapters[agentType] = ad
	return f
}

func (f *fakeFactory) New(agentType v1.AgentType) (adapter.Adapter, error) {
	ad, ok := f.adapters[agentType]
	if !ok {
		return nil, fmt.Errorf("no fake adapter registered for %s", agentType)
	}
	return ad, nil
}

var (
	_ adapter.Adapter     = (*fakeAdapter)(nil)
	_ adapter.InputSender = (*fakeInputAdapter)(nil)
)
