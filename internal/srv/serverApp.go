package srv

import (
	"context"
	"fmt"
	"time"

	"github.com/jypelle/kioskdisplay/internal/edid"
	"github.com/jypelle/kioskdisplay/internal/edid/ddc"
	"github.com/jypelle/kioskdisplay/internal/edid/drm"
	"github.com/jypelle/kioskdisplay/internal/edid/manager"
	"github.com/jypelle/kioskdisplay/internal/edid/store"
	"github.com/jypelle/kioskdisplay/internal/srv/config"
	"github.com/jypelle/kioskdisplay/internal/srv/device"
	"github.com/jypelle/kioskdisplay/internal/version"
	"github.com/sirupsen/logrus"
)

// ServerApp owns the display state, the connector guard and the worker, and
// hands the same instances to the control API.
type ServerApp struct {
	*config.ServerConfig

	displayState *config.DisplayState
	drmTransport *drm.Transport
	edidManager  *manager.Manager

	guardDevice  *device.ConnectorGuard
	workerDevice *device.PatternWorker
	panelDevice  *device.StatusPanel
	apiDevice    *device.Api

	lastMessage string

	eventLoopAskDone chan bool
	eventLoopDone    chan bool
}

func NewServerApp(configDir string, debugMode bool, simulationMode bool) *ServerApp {
	logrus.Debugf("Creation of kioskdisplay server %s ...", version.AppVersion.String())

	app, err := NewServerAppFromConfig(config.NewServerConfig(configDir, debugMode, simulationMode))
	if err != nil {
		logrus.Fatalf("%v\n", err)
	}

	logrus.Debugln("Server created")
	return app
}

func NewServerAppFromConfig(serverConfig *config.ServerConfig) (*ServerApp, error) {
	app := &ServerApp{
		ServerConfig:     serverConfig,
		displayState:     config.NewDisplayState(),
		eventLoopAskDone: make(chan bool),
		eventLoopDone:    make(chan bool),
	}

	app.drmTransport = drm.NewTransport(serverConfig.DrmRoot, serverConfig.OverrideAttribute)
	app.edidManager = NewEdidManager(serverConfig, app.drmTransport)

	driver, err := device.NewCommandDriver(serverConfig.OutputParam, serverConfig.WorkerParam.StopTimeout())
	if err != nil {
		return nil, err
	}

	var service device.ServiceController
	if serverConfig.SimulationMode {
		service = device.SimulatedServiceController{}
	} else {
		service = device.NewSystemctlController(serverConfig.DisplayManagerParam.UseSudo)
	}

	app.guardDevice = device.NewConnectorGuard(driver, service, app.drmTransport, device.GuardParam{
		Protected:       serverConfig.OutputParam.Protected,
		Service:         serverConfig.DisplayManagerParam.Service,
		HandoverAllowed: serverConfig.DisplayManagerParam.Handover,
		ServiceTimeout:  serverConfig.DisplayManagerParam.Timeout(),
	})
	app.workerDevice = device.NewPatternWorker(app.displayState, app.guardDevice, serverConfig.WorkerParam)

	if serverConfig.PanelParam.Enabled {
		app.panelDevice = device.NewStatusPanel(serverConfig.PanelParam.Bus, serverConfig.SimulationMode)
	}
	if serverConfig.ApiParam.Enabled {
		app.apiDevice = device.NewApi(serverConfig, app.edidManager, app.drmTransport, app.displayState, app.guardDevice, app.workerDevice)
	}

	return app, nil
}

// NewEdidManager registers the DRM transport and, when the host exposes I2C
// buses, the DDC transport.
func NewEdidManager(serverConfig *config.ServerConfig, drmTransport *drm.Transport) *manager.Manager {
	transports := []edid.Transport{drmTransport}

	buses, err := ddc.NewPeriphBuses()
	if err != nil {
		logrus.Warnf("DDC transport disabled: %v", err)
	} else {
		transports = append(transports, ddc.NewTransport(buses, drmTransport, serverConfig.DdcParam.Pacing()))
	}

	return manager.New(store.New(serverConfig.GetCompleteEdidFolder()), serverConfig.DdcParam.Verify, transports...)
}

func (s *ServerApp) DisplayState() *config.DisplayState {
	return s.displayState
}

func (s *ServerApp) EdidManager() *manager.Manager {
	return s.edidManager
}

func (s *ServerApp) Start() {
	logrus.Printf("Starting kioskdisplay server ...")

	logrus.Printf("Starting devices ...")

	// Start status panel device
	if s.panelDevice != nil {
		if err := s.panelDevice.Start(); err != nil {
			logrus.Warnf("Status panel disabled: %v", err)
			s.panelDevice = nil
		}
	}

	s.lastMessage = "Ready"
	s.refreshPanel()

	// Start event loop
	go s.eventLoop()

	// Start pattern worker
	s.workerDevice.Start()

	// Start api device
	if s.apiDevice != nil {
		s.apiDevice.Start()
	}
}

func (s *ServerApp) Stop() {
	logrus.Printf("Stopping kioskdisplay server ...")

	// Stop api
	if s.apiDevice != nil {
		s.apiDevice.Stop()
	}

	// Stop pattern worker, it stops its renderer
	s.workerDevice.Stop()

	// Give back connectors and display manager
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.guardDevice.ReleaseAll(ctx); err != nil {
		logrus.Errorf("Unable to release connectors: %v", err)
	}

	// Stop event loop
	logrus.Infof("Stop event loop")
	s.eventLoopAskDone <- true
	<-s.eventLoopDone

	// Stop status panel device
	if s.panelDevice != nil {
		s.panelDevice.Stop()
	}

	logrus.Printf("Server stopped")
}

func (s *ServerApp) String() string {
	return fmt.Sprintf("kioskdisplay %s (%s)", version.AppVersion.String(), s.ConfigDir)
}
