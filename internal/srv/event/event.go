package event

import (
	"github.com/jypelle/kioskdisplay/internal/srv/config"
)

// Worker
type WorkerEvent struct {
	Data interface{}
}

type WorkerEventOutputStartedData struct {
	Connector string
	Mode      config.Mode
	Value     string
	RunId     string
}

type WorkerEventOutputStoppedData struct {
	Connector string
	RunId     string
}

type WorkerEventOutputFailedData struct {
	Connector string
	Mode      config.Mode
	Err       error
}

// The renderer exited without being asked to
type WorkerEventOutputExitedData struct {
	Connector string
	RunId     string
	Err       error
}

// Guard
type GuardEvent struct {
	Data interface{}
}

type GuardEventTakenData struct {
	Connector string
	Handover  bool
}

type GuardEventReleasedData struct {
	Connector string
}
