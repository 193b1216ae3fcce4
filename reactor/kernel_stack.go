// File: reactor/kernel_stack.go
// Author: momentics <momentics@gmail.com>
//
// KernelStack implements api.Stack on top of the kernel's own network stack.

package reactor

import (
	"github.com/momentics/hioload-fstack/api"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// DefaultMaxEvents bounds how many events one Poll call can report.
const DefaultMaxEvents = 128

// Handler is called on the worker thread for every ready descriptor.
type Handler func(fd uintptr, events FDEventType)

var _ api.Stack = (*KernelStack)(nil)

// KernelStack polls kernel sockets through an EventReactor. Every worker gets
// its own instance, so roles only matter for logging: there is no shared
// context for a primary to set up. Not safe for concurrent use; register
// descriptors from a task submitted to the owning loop.
type KernelStack struct {
	reactor  EventReactor
	handlers map[uintptr]Handler
	events   []Event
	ready    int
}

// NewKernelStack is an api.StackFactory.
func NewKernelStack(desc api.WorkerDescriptor) (api.Stack, error) {
	log.Debug("kernel stack created", zap.String("worker", desc.Name()))
	return &KernelStack{
		handlers: make(map[uintptr]Handler),
		events:   make([]Event, DefaultMaxEvents),
	}, nil
}

// Init opens the reactor.
func (s *KernelStack) Init(desc api.WorkerDescriptor) error {
	r, err := NewReactor()
	if err != nil {
		return errors.Annotatef(err, "kernel stack for %s", desc.Name())
	}
	s.reactor = r
	log.Debug("kernel stack ready, user-space stack args unused",
		zap.String("worker", desc.Name()),
		zap.Strings("args", api.StackArgs(desc)))
	return nil
}

// Register watches fd and routes its readiness to h.
func (s *KernelStack) Register(fd uintptr, events FDEventType, h Handler) error {
	if s.reactor == nil {
		return errors.Annotate(api.ErrInvalidArgument, "kernel stack not initialized")
	}
	if h == nil {
		return errors.Annotate(api.ErrInvalidArgument, "nil handler")
	}
	if err := s.reactor.Register(fd, events); err != nil {
		return err
	}
	s.handlers[fd] = h
	return nil
}

// Unregister stops watching fd.
func (s *KernelStack) Unregister(fd uintptr) error {
	if s.reactor == nil {
		return errors.Annotate(api.ErrInvalidArgument, "kernel stack not initialized")
	}
	delete(s.handlers, fd)
	return s.reactor.Unregister(fd)
}

// Poll collects ready descriptors without dispatching them.
func (s *KernelStack) Poll(timeoutMs int) (int, error) {
	if s.reactor == nil {
		return 0, errors.Annotate(api.ErrInvalidArgument, "kernel stack not initialized")
	}
	n, err := s.reactor.Wait(s.events, timeoutMs)
	if err != nil {
		return 0, err
	}
	s.ready = n
	return n, nil
}

// ProcessReady hands the first n events of the last Poll to their handlers.
func (s *KernelStack) ProcessReady(n int) error {
	if n > s.ready {
		return errors.Annotatef(api.ErrInvalidArgument, "process %d events, %d ready", n, s.ready)
	}
	for i := 0; i < n; i++ {
		ev := s.events[i]
		if h, ok := s.handlers[ev.Fd]; ok {
			s.dispatch(h, ev)
		}
	}
	s.ready = 0
	return nil
}

func (s *KernelStack) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("fd handler panicked", zap.Uintptr("fd", ev.Fd), zap.Any("panic", r))
		}
	}()
	h(ev.Fd, ev.Events)
}

// Close releases the reactor. Registered descriptors are not closed.
func (s *KernelStack) Close() error {
	if s.reactor == nil {
		return nil
	}
	err := s.reactor.Close()
	s.reactor = nil
	s.ready = 0
	s.handlers = make(map[uintptr]Handler)
	return err
}
