package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type transitionCall struct {
	TaskID  int64
	State   TaskState
	Payload VariableSet
}

// Mock engine client for testing.
// Unless listFn is set, every instance exposes exactly one pending task whose
// id is instanceID*100 plus the number of tasks already completed plus one.
type mockEngineClient struct {
	mu sync.Mutex

	nextID      int64
	createDelay time.Duration
	createErr   func(vars VariableSet) error
	listFn      func(filter TaskFilter, call int) ([]TaskHandle, error)
	stateErr    map[TaskState]error
	triggerErr  error

	creates     []VariableSet
	listCalls   map[int64]int
	transitions []transitionCall
	triggers    []string
	completed   map[int64]int
	inFlight    int
	maxInFlight int
}

func newMockEngineClient() *mockEngineClient {
	return &mockEngineClient{
		nextID:    100,
		stateErr:  make(map[TaskState]error),
		listCalls: make(map[int64]int),
		completed: make(map[int64]int),
	}
}

func (m *mockEngineClient) CreateInstance(ctx context.Context, vars VariableSet) (int64, error) {
	m.mu.Lock()
	m.creates = append(m.creates, vars)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.createDelay
	createErr := m.createErr
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	if createErr != nil {
		if err := createErr(vars); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID, nil
}

func (m *mockEngineClient) ListCandidateTasks(ctx context.Context, filter TaskFilter) ([]TaskHandle, error) {
	m.mu.Lock()
	m.listCalls[filter.ProcessInstanceID]++
	call := m.listCalls[filter.ProcessInstanceID]
	done := m.completed[filter.ProcessInstanceID]
	fn := m.listFn
	m.mu.Unlock()

	if fn != nil {
		return fn(filter, call)
	}

	id := filter.ProcessInstanceID
	return []TaskHandle{{
		ID:                id*100 + int64(done) + 1,
		ProcessInstanceID: id,
		ActualOwner:       "wbadmin",
	}}, nil
}

func (m *mockEngineClient) SetTaskState(ctx context.Context, taskID int64, state TaskState, payload VariableSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transitions = append(m.transitions, transitionCall{TaskID: taskID, State: state, Payload: payload})
	if err := m.stateErr[state]; err != nil {
		return err
	}
	if state == TaskStateCompleted {
		m.completed[taskID/100]++
	}
	return nil
}

func (m *mockEngineClient) TriggerNode(ctx context.Context, instanceID int64, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.triggers = append(m.triggers, nodeID)
	return m.triggerErr
}

func (m *mockEngineClient) totalLists() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, n := range m.listCalls {
		total += n
	}
	return total
}

func (m *mockEngineClient) transitionStates() []TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]TaskState, len(m.transitions))
	for i, t := range m.transitions {
		states[i] = t.State
	}
	return states
}

// Mock observer for testing
type mockObserver struct {
	NopObserver

	mu       sync.Mutex
	attempts int
	units    int
	stages   int
	batches  int
}

func (o *mockObserver) BatchStarted(ctx context.Context, _ string, _ int) (context.Context, func(*BatchReport)) {
	return ctx, func(*BatchReport) {
		o.mu.Lock()
		o.batches++
		o.mu.Unlock()
	}
}

func (o *mockObserver) UnitStarted(ctx context.Context, _ *WorkUnit) (context.Context, func(*WorkUnitResult)) {
	return ctx, func(*WorkUnitResult) {
		o.mu.Lock()
		o.units++
		o.mu.Unlock()
	}
}

func (o *mockObserver) StageStarted(ctx context.Context, _ int64, _ *Stage) (context.Context, func(*StageResult)) {
	return ctx, func(*StageResult) {
		o.mu.Lock()
		o.stages++
		o.mu.Unlock()
	}
}

func (o *mockObserver) DiscoveryAttempt(context.Context, int64, int, int, error) {
	o.mu.Lock()
	o.attempts++
	o.mu.Unlock()
}

func testPolling(attempts int) PollingConfig {
	return PollingConfig{MaxAttempts: attempts, Interval: time.Millisecond}
}

func newTestSequencer(client EngineClient, polling PollingConfig) *Sequencer {
	logger := zerolog.Nop()
	return NewSequencer(
		client,
		NewPoller(client, polling, nil, logger),
		NewLifecycle(client, logger),
		nil,
		logger,
	)
}
