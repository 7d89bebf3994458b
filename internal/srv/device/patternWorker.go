package device

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jypelle/kioskdisplay/internal/srv/config"
	"github.com/jypelle/kioskdisplay/internal/srv/event"
	"github.com/sirupsen/logrus"
)

// OutputGuard is the part of ConnectorGuard the worker drives.
type OutputGuard interface {
	StartOutput(req OutputRequest) (OutputHandle, error)
	StopOutput(connector string) error
}

type appliedOutput struct {
	request   OutputRequest
	handle    OutputHandle
	startedAt time.Time
}

type failedOutput struct {
	request OutputRequest
	at      time.Time
}

// AppliedOutput describes the renderer the worker keeps running.
type AppliedOutput struct {
	Connector string      `json:"connector"`
	Mode      config.Mode `json:"mode"`
	Value     string      `json:"value"`
	RunId     string      `json:"run_id"`
	StartedAt time.Time   `json:"started_at"`
}

type WorkerStatus struct {
	// Applied is nil while idle.
	Applied   *AppliedOutput `json:"applied"`
	LastError string         `json:"last_error,omitempty"`
}

// PatternWorker polls the display state and reconciles the running renderer
// with it. Identical states never restart the renderer.
type PatternWorker struct {
	lock         sync.RWMutex
	displayState *config.DisplayState
	guard        OutputGuard
	pollInterval time.Duration
	retryDelay   time.Duration

	applied   *appliedOutput
	failed    *failedOutput
	lastError error

	eventChannel chan event.WorkerEvent
	askDone      chan bool
	done         chan bool
}

func NewPatternWorker(displayState *config.DisplayState, guard OutputGuard, workerParam config.WorkerParam) *PatternWorker {
	return &PatternWorker{
		displayState: displayState,
		guard:        guard,
		pollInterval: workerParam.PollInterval(),
		retryDelay:   workerParam.RetryDelay(),
		eventChannel: make(chan event.WorkerEvent, 16),
		askDone:      make(chan bool),
		done:         make(chan bool),
	}
}

func (w *PatternWorker) Start() {
	logrus.Infof("Start pattern worker (poll every %v)", w.pollInterval)

	go func() {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for loop := true; loop; {
			select {
			case <-w.askDone:
				loop = false
			case now := <-ticker.C:
				w.safeReconcile(now)
			}
		}
		w.idle()
		w.done <- true
	}()
}

// Stop ends the polling loop and stops the running renderer.
func (w *PatternWorker) Stop() {
	logrus.Infof("Stop pattern worker")
	w.askDone <- true
	<-w.done
}

func (w *PatternWorker) EventChannel() chan event.WorkerEvent {
	return w.eventChannel
}

func (w *PatternWorker) Status() WorkerStatus {
	w.lock.RLock()
	defer w.lock.RUnlock()

	status := WorkerStatus{}
	if w.applied != nil {
		status.Applied = &AppliedOutput{
			Connector: w.applied.request.Connector,
			Mode:      w.applied.request.Mode,
			Value:     w.applied.request.Value,
			RunId:     w.applied.handle.RunId(),
			StartedAt: w.applied.startedAt,
		}
	}
	if w.lastError != nil {
		status.LastError = w.lastError.Error()
	}
	return status
}

func (w *PatternWorker) sendEvent(e event.WorkerEvent) {
	select {
	case w.eventChannel <- e:
	default:
		logrus.Debugf("Worker event dropped: %T", e.Data)
	}
}

func (w *PatternWorker) safeReconcile(now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.Warningf("recovered from panic : [%v] - stack trace : \n [%s]", rec, debug.Stack())
			w.setError(fmt.Errorf("worker panic: %v", rec))
			w.idle()
		}
	}()
	w.reconcile(now)
}

// reconcile runs one poll tick. Only the polling goroutine calls it.
func (w *PatternWorker) reconcile(now time.Time) {
	w.collectExited(now)

	desired := w.displayState.Get()
	if !desired.Active || !desired.Mode.IsOutput() || desired.Output == "" {
		if desired.Active && desired.Mode != config.OFF_MODE && !desired.Mode.IsOutput() {
			w.setError(fmt.Errorf("%w %q", ErrUnknownMode, desired.Mode))
		}
		w.idle()
		w.lock.Lock()
		w.failed = nil
		w.lock.Unlock()
		return
	}

	req := OutputRequest{
		Connector: desired.Output,
		Mode:      desired.Mode,
		Value:     desired.ValueOrEmpty(),
	}

	w.lock.RLock()
	applied := w.applied
	failed := w.failed
	w.lock.RUnlock()

	if applied != nil && applied.request == req {
		return
	}
	if failed != nil && failed.request == req && now.Before(failed.at.Add(w.retryDelay)) {
		return
	}

	w.idle()

	logrus.Infof("Start output %s", req)
	handle, err := w.guard.StartOutput(req)
	if err != nil {
		logrus.Warnf("Unable to start output %s: %v", req, err)
		w.lock.Lock()
		w.failed = &failedOutput{request: req, at: now}
		w.lastError = err
		w.lock.Unlock()
		w.sendEvent(event.WorkerEvent{Data: event.WorkerEventOutputFailedData{Connector: req.Connector, Mode: req.Mode, Err: err}})
		return
	}

	w.lock.Lock()
	w.applied = &appliedOutput{request: req, handle: handle, startedAt: now}
	w.failed = nil
	w.lastError = nil
	w.lock.Unlock()
	w.sendEvent(event.WorkerEvent{Data: event.WorkerEventOutputStartedData{Connector: req.Connector, Mode: req.Mode, Value: req.Value, RunId: handle.RunId()}})
}

// collectExited forgets a renderer that is gone. One that exited on its own
// is retried after the retry delay.
func (w *PatternWorker) collectExited(now time.Time) {
	w.lock.Lock()
	applied := w.applied
	if applied == nil {
		w.lock.Unlock()
		return
	}
	select {
	case <-applied.handle.Done():
	default:
		w.lock.Unlock()
		return
	}
	w.applied = nil

	if applied.handle.StopRequested() {
		w.lock.Unlock()
		logrus.Infof("Output %s was stopped", applied.request)
		w.sendEvent(event.WorkerEvent{Data: event.WorkerEventOutputStoppedData{Connector: applied.request.Connector, RunId: applied.handle.RunId()}})
		return
	}

	err := applied.handle.Err()
	if err == nil {
		err = fmt.Errorf("renderer of %s exited", applied.request)
	} else {
		err = fmt.Errorf("renderer of %s exited: %w", applied.request, err)
	}
	w.lastError = err
	w.failed = &failedOutput{request: applied.request, at: now}
	w.lock.Unlock()

	logrus.Warnf("%v", err)
	w.sendEvent(event.WorkerEvent{Data: event.WorkerEventOutputExitedData{Connector: applied.request.Connector, RunId: applied.handle.RunId(), Err: err}})
}

// idle stops the applied renderer, if any.
func (w *PatternWorker) idle() {
	w.lock.Lock()
	applied := w.applied
	w.applied = nil
	w.lock.Unlock()

	if applied == nil {
		return
	}
	logrus.Infof("Stop output %s", applied.request)
	if err := w.guard.StopOutput(applied.request.Connector); err != nil {
		logrus.Errorf("Unable to stop output %s: %v", applied.request, err)
		w.setError(err)
	}
	w.sendEvent(event.WorkerEvent{Data: event.WorkerEventOutputStoppedData{Connector: applied.request.Connector, RunId: applied.handle.RunId()}})
}

func (w *PatternWorker) setError(err error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.lastError = err
}
