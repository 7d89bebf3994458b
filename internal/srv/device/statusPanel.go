package device

import (
	"fmt"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/host/v3"
)

// StatusPanel is the optional front-panel SSD1306 OLED showing the output
// state. In simulation mode images are only kept in memory.
type StatusPanel struct {
	oledLock    sync.Mutex
	oledDisplay *ssd1306.Dev
	i2cBus      i2c.BusCloser

	lock           sync.RWMutex
	busName        string
	simulationMode bool
	started        bool
	lastImg        image.Image

	askDone chan bool
	askImg  chan image.Image
	done    chan bool
}

func NewStatusPanel(busName string, simulationMode bool) *StatusPanel {
	return &StatusPanel{
		busName:        busName,
		simulationMode: simulationMode,
		askDone:        make(chan bool),
		askImg:         make(chan image.Image),
		done:           make(chan bool),
	}
}

func (d *StatusPanel) Start() error {
	logrus.Infof("Start status panel device")

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.simulationMode {
		d.started = true
		return nil
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("unable to initialize host drivers: %w", err)
	}

	var err error
	// An empty bus name opens the first available I²C bus
	d.i2cBus, err = i2creg.Open(d.busName)
	if err != nil {
		return fmt.Errorf("unable to open i2c bus %q: %w", d.busName, err)
	}

	d.oledDisplay, err = ssd1306.NewI2C(d.i2cBus, &ssd1306.DefaultOpts)
	if err != nil {
		d.i2cBus.Close()
		return fmt.Errorf("unable to initialize oled display: %w", err)
	}

	d.oledDisplay.SetContrast(1)
	d.started = true

	go func() {
		for loop := true; loop; {
			select {
			case <-d.askDone:
				loop = false
			case newImg := <-d.askImg:
				d.oledLock.Lock()
				if err := d.oledDisplay.Draw(d.oledDisplay.Bounds(), newImg, image.Point{}); err != nil {
					logrus.Warnf("Unable to draw on status panel: %v", err)
				}
				d.oledLock.Unlock()
			}
		}
		d.oledLock.Lock()
		if err := d.oledDisplay.Halt(); err != nil {
			logrus.Debugf("Unable to halt status panel: %v", err)
		}
		d.i2cBus.Close()
		d.oledLock.Unlock()
		d.done <- true
	}()

	return nil
}

func (d *StatusPanel) Stop() {
	logrus.Infof("Stop status panel device")

	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.started {
		return
	}
	d.started = false
	if !d.simulationMode {
		d.askDone <- true
		<-d.done
	}
}

func (d *StatusPanel) ShowImage(img image.Image) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.lastImg = img
	if d.started && !d.simulationMode {
		d.askImg <- img
	}
}

func (d *StatusPanel) LastImage() image.Image {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.lastImg
}
