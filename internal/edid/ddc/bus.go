package ddc

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// BusOpener enumerates and opens I2C buses by number.
type BusOpener interface {
	Buses() []int
	Open(bus int) (i2c.BusCloser, error)
}

// PeriphBuses exposes the buses registered by the periph.io host drivers
// (/dev/i2c-N on Linux).
type PeriphBuses struct{}

var hostInit sync.Once

func NewPeriphBuses() (*PeriphBuses, error) {
	var err error
	hostInit.Do(func() {
		_, err = host.Init()
	})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize periph host drivers: %w", err)
	}
	return &PeriphBuses{}, nil
}

func (PeriphBuses) Buses() []int {
	var buses []int
	for _, ref := range i2creg.All() {
		if ref.Number < 0 {
			logrus.Debugf("Skip unnumbered I2C bus %s", ref.Name)
			continue
		}
		buses = append(buses, ref.Number)
	}
	sort.Ints(buses)
	return buses
}

func (PeriphBuses) Open(bus int) (i2c.BusCloser, error) {
	return i2creg.Open(strconv.Itoa(bus))
}
