package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-fstack/api"
	"github.com/momentics/hioload-fstack/control"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

// recorder collects what fake stacks and pinners observed, in call order.
type recorder struct {
	mu      sync.Mutex
	created []api.WorkerDescriptor
	inits   []api.WorkerDescriptor
	pins    []int
	closed  []int
}

func (r *recorder) snapshot() (created, inits []api.WorkerDescriptor, pins, closed []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(created, r.created...), append(inits, r.inits...),
		append(pins, r.pins...), append(closed, r.closed...)
}

func (r *recorder) pin(core int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins = append(r.pins, core)
	return nil
}

type fakeStack struct {
	rec     *recorder
	desc    api.WorkerDescriptor
	initErr error
	block   <-chan struct{}
	events  atomic.Int32
	handled atomic.Int64
}

func (s *fakeStack) Init(desc api.WorkerDescriptor) error {
	if s.block != nil {
		<-s.block
	}
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.rec.inits = append(s.rec.inits, desc)
	return s.initErr
}

func (s *fakeStack) Poll(int) (int, error) {
	return int(s.events.Load()), nil
}

func (s *fakeStack) ProcessReady(n int) error {
	s.handled.Add(int64(n))
	return nil
}

func (s *fakeStack) Close() error {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.rec.closed = append(s.rec.closed, s.desc.Index)
	return nil
}

// fakeStacks returns a factory whose stacks fail init for the listed indexes.
func fakeStacks(rec *recorder, failAt map[int]error) api.StackFactory {
	return func(desc api.WorkerDescriptor) (api.Stack, error) {
		rec.mu.Lock()
		rec.created = append(rec.created, desc)
		rec.mu.Unlock()
		return &fakeStack{rec: rec, desc: desc, initErr: failAt[desc.Index]}, nil
	}
}

type countingMetrics struct {
	mu       sync.Mutex
	created  map[string]int
	inits    map[string]int
	tasks    map[int]int
	pinFails map[int]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		created:  map[string]int{},
		inits:    map[string]int{},
		tasks:    map[int]int{},
		pinFails: map[int]int{},
	}
}

func (m *countingMetrics) IncWorkerCreated(role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created[role]++
}

func (m *countingMetrics) IncStackInit(role, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits[role+"/"+status]++
}

func (m *countingMetrics) AddTasksExecuted(core, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[core] += n
}

func (m *countingMetrics) IncPinFailure(core int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinFails[core]++
}

func newTestGroup(t *testing.T, cfg api.PoolConfig, rec *recorder, failAt map[int]error, opts ...Option) *EventLoopGroup {
	t.Helper()
	opts = append([]Option{WithStackFactory(fakeStacks(rec, failAt)), WithPinner(rec.pin)}, opts...)
	g, err := NewEventLoopGroup(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(g.Stop)
	return g
}

func TestGroupDescriptors(t *testing.T) {
	rec := &recorder{}
	m := newCountingMetrics()
	cfg := api.PoolConfig{ThreadCount: 5, ConfigPath: "/etc/f-stack.conf", Primary: true, CoreIDs: []int{2, 5}}
	g := newTestGroup(t, cfg, rec, nil, WithMetrics(m))

	descs := g.Descriptors()
	require.Len(t, descs, 5)
	wantCores := []int{2, 5, 2, 5, 2}
	for i, d := range descs {
		require.Equal(t, i, d.Index)
		require.Equal(t, wantCores[i], d.CoreID)
		require.Equal(t, "/etc/f-stack.conf", d.ConfigPath)
		if i == 0 {
			require.Equal(t, api.RolePrimary, d.Role)
		} else {
			require.Equal(t, api.RoleSecondary, d.Role)
		}
	}
	require.Equal(t, 5, g.NumWorkers())
	require.Equal(t, map[string]int{"primary": 1, "secondary": 4}, m.created)

	// Building the group does not touch any stack.
	created, inits, pins, _ := rec.snapshot()
	require.Empty(t, created)
	require.Empty(t, inits)
	require.Empty(t, pins)
}

func TestGroupKeepsPrivateConfigCopy(t *testing.T) {
	cores := []int{1, 2}
	g := newTestGroup(t, api.PoolConfig{ThreadCount: 2, CoreIDs: cores}, &recorder{}, nil)
	cores[0] = 99
	require.Equal(t, 1, g.Descriptors()[0].CoreID)
	require.Equal(t, 1, g.Loops()[0].Descriptor().CoreID)
}

func TestGroupEmptyCoreListFails(t *testing.T) {
	rec := &recorder{}
	g, err := NewEventLoopGroup(api.PoolConfig{ThreadCount: 3, Primary: true},
		WithStackFactory(fakeStacks(rec, nil)), WithPinner(rec.pin))
	require.Nil(t, g)
	require.Error(t, err)
	require.Equal(t, api.ErrEmptyCoreList, errors.Cause(err))
	require.Equal(t, api.ErrCodeConfig, api.CodeOf(err))

	created, _, _, _ := rec.snapshot()
	require.Empty(t, created)
}

func TestGroupInvalidOptions(t *testing.T) {
	cfg := api.PoolConfig{ThreadCount: 1, CoreIDs: []int{0}}
	for _, ratio := range []int{-1, 0, 101} {
		_, err := NewEventLoopGroup(cfg, WithIORatio(ratio))
		require.Equal(t, api.ErrInvalidIORatio, errors.Cause(err), "ratio %d", ratio)
	}
	_, err := NewEventLoopGroup(api.PoolConfig{ThreadCount: 0, CoreIDs: []int{0}})
	require.Equal(t, api.ErrInvalidThreadCount, errors.Cause(err))
}

func TestGroupStartsPrimaryFirst(t *testing.T) {
	rec := &recorder{}
	m := newCountingMetrics()
	cfg := api.PoolConfig{ThreadCount: 4, ConfigPath: "conf", Primary: true, CoreIDs: []int{3, 1, 2}}
	g := newTestGroup(t, cfg, rec, nil, WithMetrics(m))

	require.NoError(t, g.Start(context.Background()))
	_, inits, pins, _ := rec.snapshot()
	require.Len(t, inits, 4)
	require.Equal(t, api.RolePrimary, inits[0].Role)
	require.Equal(t, 3, inits[0].CoreID)
	for i, d := range inits {
		require.Equal(t, i, d.Index, "stacks must init in creation order")
	}
	require.ElementsMatch(t, []int{3, 1, 2, 3}, pins)

	g.Stop()
	_, _, _, closed := rec.snapshot()
	require.ElementsMatch(t, []int{0, 1, 2, 3}, closed)
	require.Equal(t, map[string]int{"primary/ok": 1, "secondary/ok": 3}, m.inits)

	// Stop is idempotent.
	g.Stop()
}

func TestGroupStartTwice(t *testing.T) {
	g := newTestGroup(t, api.PoolConfig{ThreadCount: 1, CoreIDs: []int{0}}, &recorder{}, nil)
	require.NoError(t, g.Start(context.Background()))
	require.Equal(t, api.ErrGroupStarted, errors.Cause(g.Start(context.Background())))
}

func TestGroupStartAfterStop(t *testing.T) {
	rec := &recorder{}
	g := newTestGroup(t, api.PoolConfig{ThreadCount: 2, CoreIDs: []int{0, 1}}, rec, nil)
	g.Stop()

	err := g.Start(context.Background())
	require.Equal(t, api.ErrLoopClosed, errors.Cause(err))
	require.Equal(t, api.ErrLoopClosed, errors.Cause(g.Submit(func() {})))

	created, inits, _, _ := rec.snapshot()
	require.Empty(t, created, "no stack is built for a stopped group")
	require.Empty(t, inits)
}

func TestGroupStartFailureStopsEverything(t *testing.T) {
	rec := &recorder{}
	m := newCountingMetrics()
	boom := errors.New("ff_init failed")
	cfg := api.PoolConfig{ThreadCount: 4, Primary: true, CoreIDs: []int{0, 1}}
	g := newTestGroup(t, cfg, rec, map[int]error{2: boom}, WithMetrics(m))

	err := g.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, boom, errors.Cause(err))
	require.Equal(t, api.ErrCodeStackInit, api.CodeOf(err))

	created, inits, _, closed := rec.snapshot()
	require.Len(t, created, 3, "worker after the failed one must not be started")
	require.Len(t, inits, 3)
	require.ElementsMatch(t, []int{0, 1, 2}, closed)
	require.Equal(t, 1, m.inits["secondary/error"])

	for _, el := range g.Loops() {
		require.Equal(t, api.ErrLoopClosed, errors.Cause(el.Submit(func() {})))
	}
}

func TestGroupPrimaryFailureStopsBeforeSecondaries(t *testing.T) {
	rec := &recorder{}
	cfg := api.PoolConfig{ThreadCount: 3, Primary: true, CoreIDs: []int{4}}
	g := newTestGroup(t, cfg, rec, map[int]error{0: errors.New("no hugepages")})

	require.Error(t, g.Start(context.Background()))
	created, _, _, _ := rec.snapshot()
	require.Len(t, created, 1)
	require.Equal(t, api.RolePrimary, created[0].Role)
}

func TestGroupStartHonoursContext(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	factory := func(desc api.WorkerDescriptor) (api.Stack, error) {
		return &fakeStack{rec: rec, desc: desc, block: release}, nil
	}
	g, err := NewEventLoopGroup(api.PoolConfig{ThreadCount: 2, CoreIDs: []int{0}},
		WithStackFactory(factory), WithPinner(rec.pin))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	time.AfterFunc(20*time.Millisecond, func() { close(release) })

	err = g.Start(ctx)
	require.Equal(t, context.Canceled, errors.Cause(err))
	_, inits, _, closed := rec.snapshot()
	require.Len(t, inits, 1)
	require.Equal(t, []int{0}, closed)
}

func TestGroupNilStackFactoryResult(t *testing.T) {
	factory := func(api.WorkerDescriptor) (api.Stack, error) { return nil, nil }
	g, err := NewEventLoopGroup(api.PoolConfig{ThreadCount: 1, CoreIDs: []int{0}},
		WithStackFactory(factory), WithPinner(func(int) error { return nil }))
	require.NoError(t, err)
	err = g.Start(context.Background())
	require.Equal(t, api.ErrStackInit, errors.Cause(err))
}

func TestGroupSubmitRoundRobin(t *testing.T) {
	rec := &recorder{}
	m := newCountingMetrics()
	cfg := api.PoolConfig{ThreadCount: 3, CoreIDs: []int{0, 1, 2}}
	g := newTestGroup(t, cfg, rec, nil, WithMetrics(m))
	require.NoError(t, g.Start(context.Background()))

	var ran atomic.Int32
	for i := 0; i < 6; i++ {
		require.NoError(t, g.Submit(func() { ran.Add(1) }))
	}
	require.Eventually(t, func() bool {
		for _, el := range g.Loops() {
			if el.Executed() != 2 {
				return false
			}
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.tasks[0] == 2 && m.tasks[1] == 2 && m.tasks[2] == 2
	}, 2*time.Second, time.Millisecond)
	require.EqualValues(t, 6, ran.Load())
}

func TestGroupPinFailureIsNotFatal(t *testing.T) {
	rec := &recorder{}
	m := newCountingMetrics()
	cfg := api.PoolConfig{ThreadCount: 2, CoreIDs: []int{7}}
	g, err := NewEventLoopGroup(cfg,
		WithStackFactory(fakeStacks(rec, nil)),
		WithPinner(func(int) error { return errors.New("no such cpu") }),
		WithMetrics(m))
	require.NoError(t, err)
	defer g.Stop()

	require.NoError(t, g.Start(context.Background()))
	m.mu.Lock()
	require.Equal(t, 2, m.pinFails[7])
	m.mu.Unlock()
}

func TestGroupProbes(t *testing.T) {
	cfg := api.PoolConfig{ThreadCount: 2, Primary: true, CoreIDs: []int{5}}
	g := newTestGroup(t, cfg, &recorder{}, nil)

	dp := control.NewDebugProbes()
	g.RegisterProbes(dp)
	state := dp.DumpState()

	descs, ok := state["group.workers"].([]api.WorkerDescriptor)
	require.True(t, ok)
	require.Len(t, descs, 2)
	loops, ok := state["group.loops"].(map[string]map[string]int64)
	require.True(t, ok)
	require.Contains(t, loops, "fstack-1/core-5")
}
