package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type fakeHandle struct {
	lock          sync.Mutex
	runId         string
	done          chan struct{}
	err           error
	stopRequested bool
	stops         int
}

func newFakeHandle(runId string) *fakeHandle {
	return &fakeHandle{runId: runId, done: make(chan struct{})}
}

func (h *fakeHandle) RunId() string         { return h.runId }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Err() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.err
}

func (h *fakeHandle) StopRequested() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.stopRequested
}

func (h *fakeHandle) Stop() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	select {
	case <-h.done:
		return nil
	default:
	}
	h.stops++
	h.stopRequested = true
	close(h.done)
	return nil
}

// exit simulates a renderer dying on its own.
func (h *fakeHandle) exit(err error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.err = err
	close(h.done)
}

func (h *fakeHandle) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

type fakeDriver struct {
	lock     sync.Mutex
	requests []OutputRequest
	handles  []*fakeHandle
	failWith error
}

func (d *fakeDriver) Start(req OutputRequest) (OutputHandle, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.failWith != nil {
		return nil, d.failWith
	}
	handle := newFakeHandle(fmt.Sprintf("run-%d", len(d.handles)+1))
	d.requests = append(d.requests, req)
	d.handles = append(d.handles, handle)
	return handle, nil
}

func (d *fakeDriver) starts() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.handles)
}

func (d *fakeDriver) stops() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	count := 0
	for _, h := range d.handles {
		h.lock.Lock()
		count += h.stops
		h.lock.Unlock()
	}
	return count
}

func (d *fakeDriver) last() *fakeHandle {
	d.lock.Lock()
	defer d.lock.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

type fakeService struct {
	lock     sync.Mutex
	actions  []string
	failStop bool

	// block, when set, holds every call until closed or until the context ends
	block   chan struct{}
	entered chan string
}

func (s *fakeService) wait(ctx context.Context, action string) error {
	if s.block == nil {
		return nil
	}
	if s.entered != nil {
		s.entered <- action
	}
	select {
	case <-s.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeService) StartService(ctx context.Context, name string) error {
	if err := s.wait(ctx, "start"); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.actions = append(s.actions, "start "+name)
	return nil
}

func (s *fakeService) StopService(ctx context.Context, name string) error {
	if err := s.wait(ctx, "stop"); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failStop {
		return errors.New("unit not loaded")
	}
	s.actions = append(s.actions, "stop "+name)
	return nil
}

func (s *fakeService) history() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.actions...)
}
