package srv

import (
	"fmt"

	"github.com/jypelle/kioskdisplay/internal/srv/event"
	"github.com/sirupsen/logrus"
)

func (s *ServerApp) eventLoop() {
	for loop := true; loop; {
		select {
		case ev := <-s.workerDevice.EventChannel():
			s.handleWorkerEvent(ev)
			s.refreshPanel()
		case ev := <-s.guardDevice.EventChannel():
			s.handleGuardEvent(ev)
			s.refreshPanel()
		case <-s.eventLoopAskDone:
			loop = false
		}
	}
	s.eventLoopDone <- true
}

func (s *ServerApp) handleWorkerEvent(ev event.WorkerEvent) {
	switch data := ev.Data.(type) {
	case event.WorkerEventOutputStartedData:
		logrus.Debugf("Receive output started event: %s run %s", data.Connector, data.RunId)
		s.lastMessage = fmt.Sprintf("%s %s", data.Mode, data.Value)
	case event.WorkerEventOutputStoppedData:
		logrus.Debugf("Receive output stopped event: %s run %s", data.Connector, data.RunId)
		s.lastMessage = "Output stopped"
	case event.WorkerEventOutputFailedData:
		logrus.Debugf("Receive output failed event: %s: %v", data.Connector, data.Err)
		s.lastMessage = "Start failed"
	case event.WorkerEventOutputExitedData:
		logrus.Debugf("Receive output exited event: %s run %s", data.Connector, data.RunId)
		s.lastMessage = "Renderer exited"
	}
}

func (s *ServerApp) handleGuardEvent(ev event.GuardEvent) {
	switch data := ev.Data.(type) {
	case event.GuardEventTakenData:
		logrus.Debugf("Receive connector taken event: %s", data.Connector)
		s.lastMessage = "Took " + data.Connector
	case event.GuardEventReleasedData:
		logrus.Debugf("Receive connector released event: %s", data.Connector)
		s.lastMessage = "Released " + data.Connector
	}
}
