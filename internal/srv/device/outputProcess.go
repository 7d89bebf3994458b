package device

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type ProcessState int64

const (
	PROCESS_NOT_RUNNING ProcessState = iota
	PROCESS_STARTING
	PROCESS_RUNNING
	PROCESS_STOPPING
)

func (s ProcessState) String() string {
	switch s {
	case PROCESS_STARTING:
		return "starting"
	case PROCESS_RUNNING:
		return "running"
	case PROCESS_STOPPING:
		return "stopping"
	}
	return "not_running"
}

var ErrProcessStarted = errors.New("process already started")

// OutputProcess is a renderer child process. It runs in its own process
// group so that stopping it also stops whatever it spawned.
type OutputProcess struct {
	lock          sync.RWMutex
	argv          []string
	stopTimeout   time.Duration
	state         ProcessState
	cmd           *exec.Cmd
	runId         string
	err           error
	stopRequested bool
	done          chan struct{}
}

func NewOutputProcess(argv []string, stopTimeout time.Duration) *OutputProcess {
	return &OutputProcess{
		argv:        argv,
		stopTimeout: stopTimeout,
		state:       PROCESS_NOT_RUNNING,
		done:        make(chan struct{}),
	}
}

func (p *OutputProcess) Start() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.cmd != nil {
		return ErrProcessStarted
	}
	if len(p.argv) == 0 {
		return errors.New("empty renderer command")
	}

	p.state = PROCESS_STARTING
	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		p.state = PROCESS_NOT_RUNNING
		return fmt.Errorf("unable to start %s: %w", p.argv[0], err)
	}
	p.cmd = cmd
	p.runId = uuid.NewString()
	p.state = PROCESS_RUNNING
	logrus.Infof("Renderer %s started (pid %d, run %s)", p.argv[0], cmd.Process.Pid, p.runId)

	go func() {
		err := cmd.Wait()
		p.lock.Lock()
		p.err = err
		p.state = PROCESS_NOT_RUNNING
		p.lock.Unlock()
		close(p.done)
	}()

	return nil
}

func (p *OutputProcess) RunId() string {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.runId
}

func (p *OutputProcess) State() ProcessState {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.state
}

func (p *OutputProcess) Done() <-chan struct{} {
	return p.done
}

func (p *OutputProcess) Err() error {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.err
}

func (p *OutputProcess) StopRequested() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.stopRequested
}

// Stop sends SIGTERM to the process group, waits up to the stop timeout and
// then sends SIGKILL. It returns once the process is reaped.
func (p *OutputProcess) Stop() error {
	p.lock.Lock()
	if p.cmd == nil {
		p.lock.Unlock()
		return nil
	}
	if p.state == PROCESS_NOT_RUNNING {
		p.lock.Unlock()
		return nil
	}
	p.stopRequested = true
	p.state = PROCESS_STOPPING
	pgid := p.cmd.Process.Pid
	p.lock.Unlock()

	logrus.Debugf("Terminate renderer group %d", pgid)
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		logrus.Warnf("Unable to terminate renderer group %d: %v", pgid, err)
	}

	timer := time.NewTimer(p.stopTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	logrus.Warnf("Renderer group %d still alive after %v, killing it", pgid, p.stopTimeout)
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logrus.Errorf("Unable to kill renderer group %d: %v", pgid, err)
	}

	killTimer := time.NewTimer(p.stopTimeout)
	defer killTimer.Stop()
	select {
	case <-p.done:
		return nil
	case <-killTimer.C:
		return fmt.Errorf("renderer group %d did not exit after SIGKILL", pgid)
	}
}
