package srv

import (
	"fmt"
	"image"
	"strings"

	"github.com/jypelle/kioskdisplay/internal/srv/config"
	"github.com/jypelle/kioskdisplay/internal/srv/device"
)

func (s *ServerApp) refreshPanel() {
	if s.panelDevice == nil {
		return
	}
	s.panelDevice.ShowImage(renderStatusImage(s.displayState.Get(), s.workerDevice.Status(), s.guardDevice.Owned(), s.lastMessage))
}

// statusLines lists what the panel shows, top to bottom.
func statusLines(desired config.DesiredState, status device.WorkerStatus, owned []string) []string {
	lines := make([]string, 0, 4)

	if status.Applied != nil {
		lines = append(lines, status.Applied.Connector)
		output := string(status.Applied.Mode)
		if status.Applied.Value != "" {
			output += " " + status.Applied.Value
		}
		lines = append(lines, output)
	} else if desired.Active {
		lines = append(lines, desired.Output, "Idle (pending)")
	} else {
		lines = append(lines, "Idle", "")
	}

	if len(owned) == 0 {
		lines = append(lines, "Owned: none")
	} else {
		lines = append(lines, fmt.Sprintf("Owned: %s", strings.Join(owned, ",")))
	}

	if status.LastError != "" {
		lines = append(lines, "! "+status.LastError)
	} else {
		lines = append(lines, "")
	}
	return lines
}

func renderStatusImage(desired config.DesiredState, status device.WorkerStatus, owned []string, message string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, panelWidth, panelHeight))
	AddFrame(img)
	AddCenteredLabel(img, 12, message)
	for i, line := range statusLines(desired, status, owned) {
		AddLabel(img, 0, 24+i*11, line)
	}
	return img
}
