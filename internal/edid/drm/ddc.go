package drm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jypelle/kioskdisplay/internal/edid"
)

// ResolveConnectorBus maps a connector to its DDC I2C bus number, following
// the "ddc" link of the connector or an i2c-N child entry.
func (t *Transport) ResolveConnectorBus(name string) (int, error) {
	connector, err := t.Lookup(name)
	if err != nil {
		return 0, err
	}

	buses := map[int]bool{}
	if target, err := filepath.EvalSymlinks(filepath.Join(connector.SysfsPath, "ddc")); err == nil {
		if bus, ok := parseBusName(filepath.Base(target)); ok {
			buses[bus] = true
		}
	}
	if len(buses) == 0 {
		entries, err := os.ReadDir(connector.SysfsPath)
		if err == nil {
			for _, entry := range entries {
				if bus, ok := parseBusName(entry.Name()); ok {
					buses[bus] = true
				}
			}
		}
	}

	switch len(buses) {
	case 0:
		return 0, fmt.Errorf("%w for connector %s", edid.ErrNoBus, connector.Name)
	case 1:
		for bus := range buses {
			return bus, nil
		}
	}
	numbers := make([]string, 0, len(buses))
	for bus := range buses {
		numbers = append(numbers, "i2c-"+strconv.Itoa(bus))
	}
	sort.Strings(numbers)
	return 0, fmt.Errorf("%w: %s links to %s", edid.ErrAmbiguousConnector, connector.Name, strings.Join(numbers, ", "))
}

func parseBusName(name string) (int, bool) {
	if !strings.HasPrefix(name, "i2c-") {
		return 0, false
	}
	bus, err := strconv.Atoi(strings.TrimPrefix(name, "i2c-"))
	if err != nil || bus < 0 {
		return 0, false
	}
	return bus, true
}
