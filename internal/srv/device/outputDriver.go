package device

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/jypelle/kioskdisplay/internal/srv/config"
	"github.com/sirupsen/logrus"
)

var ErrUnknownMode = errors.New("no renderer for mode")

// OutputRequest is what a renderer draws on a connector.
type OutputRequest struct {
	Connector string
	Mode      config.Mode
	Value     string
}

func (r OutputRequest) String() string {
	if r.Value == "" {
		return fmt.Sprintf("%s on %s", r.Mode, r.Connector)
	}
	return fmt.Sprintf("%s(%s) on %s", r.Mode, r.Value, r.Connector)
}

// OutputHandle is a started renderer.
type OutputHandle interface {
	RunId() string
	// Done is closed once the renderer is gone.
	Done() <-chan struct{}
	// Err is the exit status, meaningful after Done.
	Err() error
	// StopRequested reports whether Stop was called.
	StopRequested() bool
	Stop() error
}

type OutputDriver interface {
	Start(req OutputRequest) (OutputHandle, error)
}

// CommandDriver runs the configured argv template of the requested mode.
type CommandDriver struct {
	commands    map[config.Mode][]*template.Template
	stopTimeout time.Duration
}

func NewCommandDriver(outputParam config.OutputParam, stopTimeout time.Duration) (*CommandDriver, error) {
	driver := &CommandDriver{
		commands:    make(map[config.Mode][]*template.Template),
		stopTimeout: stopTimeout,
	}
	for mode, argv := range outputParam.Commands {
		templates := make([]*template.Template, 0, len(argv))
		for i, arg := range argv {
			tmpl, err := template.New(fmt.Sprintf("%s-%d", mode, i)).Option("missingkey=error").Parse(arg)
			if err != nil {
				return nil, fmt.Errorf("invalid %s command argument %q: %w", mode, arg, err)
			}
			templates = append(templates, tmpl)
		}
		driver.commands[mode] = templates
	}
	return driver, nil
}

// Command renders the argv of a request.
func (d *CommandDriver) Command(req OutputRequest) ([]string, error) {
	templates, ok := d.commands[req.Mode]
	if !ok || len(templates) == 0 {
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, req.Mode)
	}
	argv := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, req); err != nil {
			return nil, fmt.Errorf("unable to render %s command: %w", req.Mode, err)
		}
		argv = append(argv, buf.String())
	}
	return argv, nil
}

func (d *CommandDriver) Start(req OutputRequest) (OutputHandle, error) {
	argv, err := d.Command(req)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Renderer command for %s: %v", req, argv)
	process := NewOutputProcess(argv, d.stopTimeout)
	if err := process.Start(); err != nil {
		return nil, err
	}
	return process, nil
}
